// Copyright 2025 The strex Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package tool registers caller-supplied tools and executes validated
// invocations against them.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/strexlabs/strex/exchange"
	"github.com/strexlabs/strex/exchange/schema"
)

// Func is a caller-supplied tool implementation. It receives arguments
// already validated against the tool's parameter schema and returns a
// JSON-serializable payload synchronously.
type Func func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	spec   exchange.ToolSpec
	params *schema.Params
	fn     Func
}

// Registry maps tool names to specs and implementations. Register tools
// before starting exchanges; the registry is read-only afterwards and safe
// for concurrent lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

var _ exchange.ToolResolver = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. The parameter schema is compiled once here so every
// later invocation validates against the same resolved schema.
func (r *Registry) Register(spec exchange.ToolSpec, fn Func) error {
	if spec.Name == "" {
		return fmt.Errorf("tool: spec name required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s: nil func", spec.Name)
	}

	params, err := schema.CompileParams(spec.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("tool %s: already registered", spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, params: params, fn: fn}
	r.order = append(r.order, spec.Name)

	return nil
}

// Spec implements [exchange.ToolResolver].
func (r *Registry) Spec(name string) (exchange.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entries[name]
	if !ok {
		return exchange.ToolSpec{}, false
	}
	return ent.spec, true
}

// Specs implements [exchange.ToolResolver], returning specs in registration
// order.
func (r *Registry) Specs() []exchange.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]exchange.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// ValidateArgs implements [exchange.ToolResolver].
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	ent, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tool %s: not registered", name)
	}
	return ent.params.Validate(args)
}

// Execute validates the invocation's arguments and runs the tool, wrapping
// the payload in a [exchange.ToolResult] correlated to the invocation id.
func (r *Registry) Execute(ctx context.Context, inv exchange.ToolInvocation) (exchange.ToolResult, error) {
	r.mu.RLock()
	ent, ok := r.entries[inv.Name]
	r.mu.RUnlock()
	if !ok {
		return exchange.ToolResult{}, fmt.Errorf("tool %s: not registered", inv.Name)
	}
	if err := ent.params.Validate(inv.Arguments); err != nil {
		return exchange.ToolResult{}, fmt.Errorf("tool %s: %w", inv.Name, err)
	}

	payload, err := ent.fn(ctx, inv.Arguments)
	if err != nil {
		return exchange.ToolResult{}, fmt.Errorf("tool %s: %w", inv.Name, err)
	}

	return exchange.ToolResult{ID: inv.ID, Name: inv.Name, Payload: payload}, nil
}

// NewSpec reflects a tool spec from the argument struct type T.
func NewSpec[T any](name, description string) (exchange.ToolSpec, error) {
	params, err := schema.ParamsFor[T]()
	if err != nil {
		return exchange.ToolSpec{}, fmt.Errorf("tool %s: %w", name, err)
	}
	return exchange.ToolSpec{Name: name, Description: description, Parameters: params}, nil
}

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

// Package schema declares output and tool-parameter schemas and validates
// parsed JSON objects against them.
//
// Schemas are reflected from Go structs with invopop/jsonschema, carried on
// the wire as plain JSON-Schema objects, and validated locally with
// google/jsonschema-go. Validation is exact: extra, missing, and mistyped
// fields are rejected, never coerced.
package schema

import (
	json "encoding/json/v2"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	invopop "github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// Output is a named record schema a structured answer must conform to.
type Output struct {
	name     string
	raw      map[string]any
	resolved *jsonschema.Resolved
}

// For reflects an Output schema from the struct type T. Field names follow
// json tags; fields without omitempty are required, and additional
// properties are disallowed.
func For[T any](name string) (*Output, error) {
	reflector := &invopop.Reflector{DoNotReference: true}
	data, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	return FromJSON(name, data)
}

// FromMap builds an Output from a literal JSON-Schema object.
func FromMap(name string, m map[string]any) (*Output, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return FromJSON(name, data)
}

// FromJSON builds an Output from JSON-Schema bytes.
func FromJSON(name string, data []byte) (*Output, error) {
	if name == "" {
		return nil, errors.New("schema: output name required")
	}

	resolved, raw, err := compile(data)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}

	return &Output{name: name, raw: raw, resolved: resolved}, nil
}

// Name returns the schema name sent to strict-mode backends.
func (o *Output) Name() string { return o.name }

// Schema returns the JSON-Schema object for the wire.
func (o *Output) Schema() map[string]any { return o.raw }

// Validate checks a parsed object against the schema, returning a
// [*ValidationError] on any mismatch.
func (o *Output) Validate(obj map[string]any) error {
	if err := o.resolved.Validate(obj); err != nil {
		return &ValidationError{Schema: o.name, Err: err}
	}
	return nil
}

// Params is a compiled tool parameter schema.
type Params struct {
	raw      map[string]any
	resolved *jsonschema.Resolved
}

// CompileParams compiles a JSON-Schema parameters object for repeated
// argument validation.
func CompileParams(m map[string]any) (*Params, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	resolved, raw, err := compile(data)
	if err != nil {
		return nil, err
	}
	return &Params{raw: raw, resolved: resolved}, nil
}

// ParamsFor reflects a tool parameter schema from the struct type T.
func ParamsFor[T any]() (map[string]any, error) {
	reflector := &invopop.Reflector{DoNotReference: true}
	data, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	return raw, nil
}

// Validate checks tool arguments against the parameter schema.
func (p *Params) Validate(args map[string]any) error {
	if err := p.resolved.Validate(args); err != nil {
		return &ValidationError{Schema: "parameters", Err: err}
	}
	return nil
}

// Schema returns the parameters object for the wire.
func (p *Params) Schema() map[string]any { return p.raw }

// ValidationError is the typed mismatch raised when an object fails its
// schema.
type ValidationError struct {
	Schema string
	Err    error
}

var _ error = (*ValidationError)(nil)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %q: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DecodeInto fills a caller struct from a validated object, matching fields
// by json tag name.
func DecodeInto(obj map[string]any, v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  v,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(obj); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	return nil
}

func compile(data []byte) (*jsonschema.Resolved, map[string]any, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve schema: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode schema: %w", err)
	}
	// The reflector's $schema marker is for humans, not provider APIs.
	delete(raw, "$schema")

	return resolved, raw, nil
}

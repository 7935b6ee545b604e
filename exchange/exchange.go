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

// Package exchange normalizes structured request/response cycles against
// hosted LLM backends.
//
// A [Normalizer] hides whether the underlying transport replays the full
// conversation every turn or sends only the incremental delta, and resolves
// each backend reply once at the boundary into a tagged [Result]: a tool
// invocation, a free-text answer, or a schema-validated object. Backends that
// cannot enforce an output schema server-side are backstopped by mandatory
// local validation.
package exchange

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Turn is one immutable conversation entry. Histories are append-only slices
// owned by the caller; the normalizer never mutates them.
//
// Exactly one of Text, Call, or Result carries the payload. Assistant turns
// that requested a tool carry Call; tool turns carry Result.
type Turn struct {
	Role   Role
	Text   string
	Call   *ToolInvocation
	Result *ToolResult
}

// UserTurn returns a user turn with the given text.
func UserTurn(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// SystemTurn returns a system turn with the given text.
func SystemTurn(text string) Turn { return Turn{Role: RoleSystem, Text: text} }

// AssistantTurn returns an assistant turn with the given text.
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }

// ToolTurn returns a tool turn carrying res.
func ToolTurn(res ToolResult) Turn { return Turn{Role: RoleTool, Result: &res} }

// ToolSpec declares a tool the backend may request. Parameters is a
// JSON-Schema object describing the tool arguments. Specs are registered
// before a request and never mutated.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolInvocation is a normalized tool-call request emitted by a backend.
//
// Arguments is always a native mapping: providers that encode arguments as a
// JSON string are decoded at the adapter boundary. ID is the opaque
// correlation id a [ToolResult] must carry back; adapters synthesize one when
// the provider omits it.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult carries a tool execution result back into the exchange.
type ToolResult struct {
	// ID correlates the result to its originating invocation.
	ID string
	// Name is the tool name; filled from the pending invocation when empty.
	Name string
	// Payload is any JSON-serializable value.
	Payload any
}

// ToolResolver looks up and validates registered tool specs. Implemented by
// [github.com/strexlabs/strex/tool.Registry]; read-only once an exchange is
// in flight.
type ToolResolver interface {
	// Spec returns the registered spec for name.
	Spec(name string) (ToolSpec, bool)
	// Specs returns all registered specs in registration order.
	Specs() []ToolSpec
	// ValidateArgs checks args against the named spec's parameter schema.
	ValidateArgs(name string, args map[string]any) error
}

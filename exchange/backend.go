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

package exchange

import (
	"context"

	"github.com/strexlabs/strex/exchange/schema"
)

// SchemaMode is the schema-enforcement strength a backend guarantees.
type SchemaMode int

const (
	// ModeNone provides no output-format guarantee.
	ModeNone SchemaMode = iota
	// ModeWeak guarantees syntactically valid JSON, not schema adherence.
	ModeWeak
	// ModeStrict guarantees JSON structurally matching the declared schema.
	ModeStrict
)

func (m SchemaMode) String() string {
	switch m {
	case ModeWeak:
		return "weak"
	case ModeStrict:
		return "strict"
	default:
		return "none"
	}
}

// ContextMode is the transport's conversation-context strategy.
type ContextMode int

const (
	// FullHistory transports require the entire history replayed every turn.
	FullHistory ContextMode = iota
	// Incremental transports resume from a continuation token and accept
	// only the turns added since the last call.
	Incremental
)

func (m ContextMode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "full_history"
}

// Request is the normalized payload handed to a backend.
type Request struct {
	// Turns holds the full history or the incremental delta, per the
	// backend's [ContextMode].
	Turns []Turn
	// Tools are the registered tool declarations, if any.
	Tools []ToolSpec
	// Output, when set, asks the backend for JSON output; strict backends
	// enforce the schema server-side, weak backends only guarantee JSON.
	Output *schema.Output
	// PriorState is the continuation token returned by the previous Reply
	// for incremental transports; empty on the first call.
	PriorState string
}

// Usage reports token accounting for one backend call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// FinishReason is the normalized reason a backend stopped generating.
type FinishReason string

const (
	FinishUnspecified FinishReason = ""
	FinishStop        FinishReason = "stop"
	FinishToolCall    FinishReason = "tool_call"
	FinishMaxTokens   FinishReason = "max_tokens"
	FinishFiltered    FinishReason = "filtered"
	FinishOther       FinishReason = "other"
)

// Reply is a backend response resolved once at the boundary into a tagged
// shape: tool calls when Calls is non-empty, text otherwise. It is never
// probed ad hoc downstream.
type Reply struct {
	Text         string
	Calls        []ToolInvocation
	State        string
	Usage        Usage
	FinishReason FinishReason
}

// Backend is one transport strategy against a hosted model API. The Send
// round trip is a blocking suspension point: implementations must honor ctx
// cancellation and must not retry internally.
type Backend interface {
	Name() string
	SchemaMode() SchemaMode
	ContextMode() ContextMode
	Send(ctx context.Context, req *Request) (*Reply, error)
}

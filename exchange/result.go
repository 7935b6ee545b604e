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
	"github.com/strexlabs/strex/exchange/schema"
)

// ResultKind tags the outcome variant of a Submit or Resume call.
type ResultKind string

const (
	// ResultAnswer is a free-text answer.
	ResultAnswer ResultKind = "answer"
	// ResultToolCall is a validated tool-invocation request awaiting
	// execution by the caller.
	ResultToolCall ResultKind = "tool_call"
	// ResultStructured is a schema-conforming object.
	ResultStructured ResultKind = "structured"
)

// Result is the tagged outcome of one normalized exchange step. Exactly one
// of Answer, Call, or Object is populated, per Kind.
type Result struct {
	Kind ResultKind

	// Answer holds the text for ResultAnswer.
	Answer string
	// Call holds the pending invocation for ResultToolCall.
	Call *ToolInvocation
	// Object holds the validated mapping for ResultStructured, RawJSON the
	// body it was parsed from.
	Object  map[string]any
	RawJSON string

	Usage        Usage
	FinishReason FinishReason
}

// Decode fills a caller struct from a structured result, matching fields by
// json tag name.
func (r *Result) Decode(v any) error {
	if r.Kind != ResultStructured {
		return Errorf(KindInvalidExchange, "decode on %s result", r.Kind)
	}
	return schema.DecodeInto(r.Object, v)
}

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
	json "encoding/json/v2"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strexlabs/strex/exchange/schema"
	"github.com/strexlabs/strex/log"
	"github.com/strexlabs/strex/telemetry"
)

var tracer = otel.Tracer("github.com/strexlabs/strex/exchange")

// Normalizer drives structured exchanges against one backend. It holds no
// per-conversation state and is safe for concurrent use; each conversation
// runs in its own [Exchange] obtained from [Normalizer.Begin].
type Normalizer struct {
	backend Backend
	tools   ToolResolver
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithTools attaches a tool registry whose specs are declared to the backend
// and whose parameter schemas gate every tool invocation.
func WithTools(r ToolResolver) Option {
	return func(n *Normalizer) { n.tools = r }
}

// New creates a Normalizer over the given backend.
func New(backend Backend, opts ...Option) *Normalizer {
	n := &Normalizer{backend: backend}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Backend returns the transport strategy this normalizer drives.
func (n *Normalizer) Backend() Backend { return n.backend }

// Phase is a state of the per-exchange machine.
type Phase string

const (
	PhaseAwaitingModel Phase = "awaiting_model"
	PhaseToolRequested Phase = "tool_requested"
	PhaseToolExecuted  Phase = "tool_executed"
	PhaseAnswered      Phase = "answered"
	PhaseFailed        Phase = "failed"
)

// Exchange is one logical request/response cycle, possibly spanning a tool
// call and a follow-up. Turns within an exchange are strictly sequential;
// run concurrent conversations in separate exchanges.
type Exchange struct {
	n       *Normalizer
	id      string
	turns   []Turn
	sent    int
	state   string
	pending *ToolInvocation
	phase   Phase
}

// Begin starts a fresh exchange.
func (n *Normalizer) Begin() *Exchange {
	return &Exchange{
		n:     n,
		id:    uuid.NewString(),
		phase: PhaseAwaitingModel,
	}
}

// ID returns the exchange identifier used for logging and transcripts.
func (e *Exchange) ID() string { return e.id }

// Phase returns the current state of the exchange machine.
func (e *Exchange) Phase() Phase { return e.phase }

// History returns a copy of the accumulated turns, including assistant and
// tool turns appended by the normalizer.
func (e *Exchange) History() []Turn { return slices.Clone(e.turns) }

// Pending returns the invocation awaiting a tool result, if any.
func (e *Exchange) Pending() *ToolInvocation { return e.pending }

// Submit sends the conversation to the backend and resolves the reply into a
// tagged [Result].
//
// When out is non-nil and the backend cannot enforce the schema server-side,
// the parsed object is validated locally and a mismatch fails with
// [KindSchemaMismatch] carrying the offending payload. The call blocks for
// the full network round trip; cancel ctx to abandon it. Nothing is retried.
func (e *Exchange) Submit(ctx context.Context, history []Turn, out *schema.Output) (*Result, error) {
	if e.phase != PhaseAwaitingModel {
		return nil, Errorf(KindInvalidExchange, "submit on %s exchange", e.phase)
	}
	if len(history) == 0 {
		return nil, Errorf(KindInvalidExchange, "empty history")
	}

	e.turns = append(e.turns, history...)
	return e.roundTrip(ctx, "exchange.submit", out)
}

// Resume feeds a tool result and the caller's next turn back into the
// exchange and re-invokes submission with out enforced.
//
// The result must correlate to the pending invocation: an empty ID adopts
// the pending one, a different ID fails with [KindInvalidExchange].
func (e *Exchange) Resume(ctx context.Context, res ToolResult, next Turn, out *schema.Output) (*Result, error) {
	if e.phase != PhaseToolRequested {
		return nil, Errorf(KindInvalidExchange, "resume on %s exchange", e.phase)
	}

	pending := e.pending
	if res.ID == "" {
		res.ID = pending.ID
	}
	if res.ID != pending.ID {
		return nil, Errorf(KindInvalidExchange, "tool result id %q does not correlate to pending invocation %q", res.ID, pending.ID)
	}
	if res.Name == "" {
		res.Name = pending.Name
	}

	e.pending = nil
	e.turns = append(e.turns, ToolTurn(res), next)
	e.phase = PhaseToolExecuted

	return e.roundTrip(ctx, "exchange.resume", out)
}

func (e *Exchange) roundTrip(ctx context.Context, op string, out *schema.Output) (_ *Result, err error) {
	n := e.n
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("strex.exchange.id", e.id),
		attribute.String("strex.backend", n.backend.Name()),
		attribute.String("strex.schema_mode", n.backend.SchemaMode().String()),
		attribute.String("strex.context_mode", n.backend.ContextMode().String()),
	))
	defer func() {
		if err != nil {
			e.phase = PhaseFailed
		}
		telemetry.End(span, err)
	}()

	delta := e.turns
	if n.backend.ContextMode() == Incremental {
		delta = e.turns[e.sent:]
	}

	req := &Request{
		Turns:      slices.Clone(delta),
		Output:     out,
		PriorState: e.state,
	}
	if n.tools != nil {
		req.Tools = n.tools.Specs()
	}

	log.Debug(ctx, "sending exchange request",
		"exchange_id", e.id,
		"backend", n.backend.Name(),
		"turns", len(req.Turns),
		"tools", len(req.Tools),
		"structured", out != nil,
	)

	reply, sendErr := n.backend.Send(ctx, req)
	if sendErr != nil {
		return nil, coerceBackendError(sendErr)
	}
	if reply.State != "" {
		e.state = reply.State
	}

	if len(reply.Calls) > 0 {
		return e.resolveToolCall(ctx, reply)
	}
	if out != nil {
		return e.resolveStructured(reply, out)
	}

	e.turns = append(e.turns, AssistantTurn(reply.Text))
	e.sent = len(e.turns)
	e.phase = PhaseAnswered

	return &Result{
		Kind:         ResultAnswer,
		Answer:       reply.Text,
		Usage:        reply.Usage,
		FinishReason: reply.FinishReason,
	}, nil
}

// resolveToolCall validates the backend's invocation against the registered
// spec before handing it to the caller.
func (e *Exchange) resolveToolCall(ctx context.Context, reply *Reply) (*Result, error) {
	inv := reply.Calls[0]

	tools := e.n.tools
	if tools == nil {
		return nil, Errorf(KindSchemaMismatch, "backend requested tool %q but no tools are registered", inv.Name)
	}
	if _, ok := tools.Spec(inv.Name); !ok {
		return nil, Errorf(KindSchemaMismatch, "backend requested unregistered tool %q", inv.Name)
	}
	if err := tools.ValidateArgs(inv.Name, inv.Arguments); err != nil {
		payload, _ := json.Marshal(inv.Arguments)
		return nil, &Error{
			Kind:    KindSchemaMismatch,
			Message: "tool " + inv.Name + " arguments rejected",
			Payload: string(payload),
			Err:     err,
		}
	}

	log.Debug(ctx, "backend requested tool",
		"exchange_id", e.id,
		"tool", inv.Name,
		"invocation_id", inv.ID,
	)

	e.turns = append(e.turns, Turn{Role: RoleAssistant, Call: &inv})
	e.sent = len(e.turns)
	e.pending = &inv
	e.phase = PhaseToolRequested

	return &Result{
		Kind:         ResultToolCall,
		Call:         &inv,
		Usage:        reply.Usage,
		FinishReason: reply.FinishReason,
	}, nil
}

// resolveStructured parses the reply body and, when the backend cannot
// guarantee schema adherence, validates it locally. Nothing is coerced: a
// body that is valid JSON but not an object, or an object with drifting
// keys/types, is surfaced with its payload.
func (e *Exchange) resolveStructured(reply *Reply, out *schema.Output) (*Result, error) {
	raw := stripFences(reply.Text)

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &Error{
			Kind:    KindJSONDecode,
			Message: "structured answer is not valid JSON",
			Payload: raw,
			Err:     err,
		}
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, &Error{
			Kind:    KindSchemaMismatch,
			Message: "structured answer is not a JSON object",
			Payload: raw,
		}
	}

	if e.n.backend.SchemaMode() != ModeStrict {
		if err := out.Validate(obj); err != nil {
			return nil, &Error{
				Kind:    KindSchemaMismatch,
				Message: "structured answer does not match schema " + out.Name(),
				Payload: raw,
				Err:     err,
			}
		}
	}

	e.turns = append(e.turns, AssistantTurn(raw))
	e.sent = len(e.turns)
	e.phase = PhaseAnswered

	return &Result{
		Kind:         ResultStructured,
		Object:       obj,
		RawJSON:      raw,
		Usage:        reply.Usage,
		FinishReason: reply.FinishReason,
	}, nil
}

// stripFences unwraps a markdown code fence around a structured answer.
// Weak-mode models emit them despite instructions not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func coerceBackendError(err error) error {
	if IsKind(err, KindUnknown) {
		return &Error{Kind: KindTransport, Message: "backend call failed", Err: err}
	}
	return err
}

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

package exchange_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/strexlabs/strex/exchange"
	"github.com/strexlabs/strex/exchange/schema"
	"github.com/strexlabs/strex/tool"
)

type advice struct {
	Umbrella  bool   `json:"umbrella"`
	Rationale string `json:"rationale"`
}

type weatherArgs struct {
	City string `json:"city"`
}

// fakeBackend replays canned replies and records every request it receives.
type fakeBackend struct {
	mode    exchange.SchemaMode
	ctxMode exchange.ContextMode
	replies []*exchange.Reply
	err     error
	reqs    []*exchange.Request
}

func (f *fakeBackend) Name() string                      { return "fake" }
func (f *fakeBackend) SchemaMode() exchange.SchemaMode   { return f.mode }
func (f *fakeBackend) ContextMode() exchange.ContextMode { return f.ctxMode }

func (f *fakeBackend) Send(_ context.Context, req *exchange.Request) (*exchange.Reply, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, errors.New("fake: no replies left")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func adviceOutput(t *testing.T) *schema.Output {
	t.Helper()
	out, err := schema.For[advice]("advice")
	if err != nil {
		t.Fatalf("schema.For: %v", err)
	}
	return out
}

func weatherRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	spec, err := tool.NewSpec[weatherArgs]("get_weather", "Get current weather for a city.")
	if err != nil {
		t.Fatalf("tool.NewSpec: %v", err)
	}
	if err := reg.Register(spec, func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"city": args["city"], "temp_c": 17, "condition": "rain"}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestSubmitDirectAnswer(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		mode:    exchange.ModeStrict,
		ctxMode: exchange.FullHistory,
		replies: []*exchange.Reply{{
			Text:         "It rains a lot in November.",
			Usage:        exchange.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: exchange.FinishStop,
		}},
	}
	ex := exchange.New(fb).Begin()

	res, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("Tell me about Paris.")}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Kind != exchange.ResultAnswer {
		t.Fatalf("Kind = %s, want %s", res.Kind, exchange.ResultAnswer)
	}
	if res.Answer != "It rains a lot in November." {
		t.Errorf("Answer = %q", res.Answer)
	}
	if res.FinishReason != exchange.FinishStop {
		t.Errorf("FinishReason = %q", res.FinishReason)
	}
	if got := ex.Phase(); got != exchange.PhaseAnswered {
		t.Errorf("Phase = %s, want %s", got, exchange.PhaseAnswered)
	}
	hist := ex.History()
	if len(hist) != 2 || hist[1].Role != exchange.RoleAssistant {
		t.Errorf("History = %+v, want user then assistant", hist)
	}
}

func TestToolCallRoundTripStrict(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		mode:    exchange.ModeStrict,
		ctxMode: exchange.FullHistory,
		replies: []*exchange.Reply{
			{
				Calls: []exchange.ToolInvocation{{
					ID:        "call_1",
					Name:      "get_weather",
					Arguments: map[string]any{"city": "Paris"},
				}},
				FinishReason: exchange.FinishToolCall,
			},
			{
				Text:         `{"umbrella": true, "rationale": "rain expected"}`,
				FinishReason: exchange.FinishStop,
			},
		},
	}
	reg := weatherRegistry(t)
	ex := exchange.New(fb, exchange.WithTools(reg)).Begin()
	ctx := context.Background()

	res, err := ex.Submit(ctx, []exchange.Turn{exchange.UserTurn("Weather in Paris?")}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Kind != exchange.ResultToolCall {
		t.Fatalf("Kind = %s, want %s", res.Kind, exchange.ResultToolCall)
	}
	if ex.Phase() != exchange.PhaseToolRequested {
		t.Fatalf("Phase = %s", ex.Phase())
	}
	if ex.Pending() == nil || ex.Pending().ID != "call_1" {
		t.Fatalf("Pending = %+v", ex.Pending())
	}

	toolRes, err := reg.Execute(ctx, *res.Call)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if toolRes.ID != "call_1" {
		t.Errorf("tool result ID = %q", toolRes.ID)
	}

	res, err = ex.Resume(ctx, toolRes, exchange.UserTurn("Should I pack an umbrella?"), adviceOutput(t))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Kind != exchange.ResultStructured {
		t.Fatalf("Kind = %s, want %s", res.Kind, exchange.ResultStructured)
	}

	var got advice
	if err := res.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := advice{Umbrella: true, Rationale: "rain expected"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("advice mismatch (-want +got):\n%s", diff)
	}

	// Second request replays the whole history for a full-history backend.
	if len(fb.reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(fb.reqs))
	}
	roles := make([]exchange.Role, 0, len(fb.reqs[1].Turns))
	for _, turn := range fb.reqs[1].Turns {
		roles = append(roles, turn.Role)
	}
	wantRoles := []exchange.Role{exchange.RoleUser, exchange.RoleAssistant, exchange.RoleTool, exchange.RoleUser}
	if diff := cmp.Diff(wantRoles, roles); diff != "" {
		t.Errorf("replayed roles mismatch (-want +got):\n%s", diff)
	}
}

func TestIncrementalDelta(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		mode:    exchange.ModeStrict,
		ctxMode: exchange.Incremental,
		replies: []*exchange.Reply{
			{
				Calls: []exchange.ToolInvocation{{
					ID:        "call_9",
					Name:      "get_weather",
					Arguments: map[string]any{"city": "Osaka"},
				}},
				State:        "resp_1",
				FinishReason: exchange.FinishToolCall,
			},
			{
				Text:         `{"umbrella": false, "rationale": "clear skies"}`,
				State:        "resp_2",
				FinishReason: exchange.FinishStop,
			},
		},
	}
	reg := weatherRegistry(t)
	ex := exchange.New(fb, exchange.WithTools(reg)).Begin()
	ctx := context.Background()

	res, err := ex.Submit(ctx, []exchange.Turn{exchange.UserTurn("Weather in Osaka?")}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	toolRes, err := reg.Execute(ctx, *res.Call)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := ex.Resume(ctx, toolRes, exchange.UserTurn("Umbrella?"), adviceOutput(t)); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if fb.reqs[0].PriorState != "" {
		t.Errorf("first PriorState = %q, want empty", fb.reqs[0].PriorState)
	}
	if fb.reqs[1].PriorState != "resp_1" {
		t.Errorf("second PriorState = %q, want resp_1", fb.reqs[1].PriorState)
	}
	// Incremental backends receive only the turns after the continuation
	// point: the tool result and the next user turn.
	roles := make([]exchange.Role, 0, len(fb.reqs[1].Turns))
	for _, turn := range fb.reqs[1].Turns {
		roles = append(roles, turn.Role)
	}
	wantRoles := []exchange.Role{exchange.RoleTool, exchange.RoleUser}
	if diff := cmp.Diff(wantRoles, roles); diff != "" {
		t.Errorf("delta roles mismatch (-want +got):\n%s", diff)
	}
}

func TestWeakModeValidatesLocally(t *testing.T) {
	t.Parallel()

	for name, tt := range map[string]struct {
		text     string
		wantKind exchange.ErrorKind
	}{
		"missing key": {
			text:     `{"umbrella": true}`,
			wantKind: exchange.KindSchemaMismatch,
		},
		"wrong type": {
			text:     `{"umbrella": "yes", "rationale": "rain"}`,
			wantKind: exchange.KindSchemaMismatch,
		},
		"extra key": {
			text:     `{"umbrella": true, "rationale": "rain", "mood": "damp"}`,
			wantKind: exchange.KindSchemaMismatch,
		},
		"not an object": {
			text:     `[1, 2, 3]`,
			wantKind: exchange.KindSchemaMismatch,
		},
		"malformed": {
			text:     `{"umbrella": tru`,
			wantKind: exchange.KindJSONDecode,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fb := &fakeBackend{
				mode:    exchange.ModeWeak,
				ctxMode: exchange.FullHistory,
				replies: []*exchange.Reply{{Text: tt.text}},
			}
			ex := exchange.New(fb).Begin()

			_, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("go")}, adviceOutput(t))
			if err == nil {
				t.Fatal("Submit succeeded, want error")
			}
			if got := exchange.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf = %s, want %s", got, tt.wantKind)
			}
			var xerr *exchange.Error
			if !errors.As(err, &xerr) {
				t.Fatalf("error type = %T", err)
			}
			if xerr.Payload == "" {
				t.Error("Payload is empty, want offending body")
			}
			if ex.Phase() != exchange.PhaseFailed {
				t.Errorf("Phase = %s, want %s", ex.Phase(), exchange.PhaseFailed)
			}
		})
	}
}

func TestWeakModeAcceptsFencedJSON(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		mode:    exchange.ModeWeak,
		ctxMode: exchange.FullHistory,
		replies: []*exchange.Reply{{
			Text: "```json\n{\"umbrella\": true, \"rationale\": \"rain\"}\n```",
		}},
	}
	ex := exchange.New(fb).Begin()

	res, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("go")}, adviceOutput(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var got advice
	if err := res.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Umbrella {
		t.Error("Umbrella = false, want true")
	}
}

func TestStrictModeTrustsBackend(t *testing.T) {
	t.Parallel()

	// A strict backend enforces the schema server-side; the normalizer does
	// not re-validate, so a drifting body passes through as parsed.
	fb := &fakeBackend{
		mode:    exchange.ModeStrict,
		ctxMode: exchange.FullHistory,
		replies: []*exchange.Reply{{Text: `{"umbrella": true, "unexpected": 1}`}},
	}
	ex := exchange.New(fb).Begin()

	res, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("go")}, adviceOutput(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Kind != exchange.ResultStructured {
		t.Fatalf("Kind = %s", res.Kind)
	}
	if _, ok := res.Object["unexpected"]; !ok {
		t.Error("Object dropped a key; parsing must not coerce")
	}
}

func TestToolCallRejections(t *testing.T) {
	t.Parallel()

	for name, tt := range map[string]struct {
		withTools bool
		call      exchange.ToolInvocation
	}{
		"no registry": {
			withTools: false,
			call:      exchange.ToolInvocation{ID: "c1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}},
		},
		"unregistered tool": {
			withTools: true,
			call:      exchange.ToolInvocation{ID: "c1", Name: "get_tides", Arguments: map[string]any{"city": "Paris"}},
		},
		"bad arguments": {
			withTools: true,
			call:      exchange.ToolInvocation{ID: "c1", Name: "get_weather", Arguments: map[string]any{"town": "Paris"}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fb := &fakeBackend{
				mode:    exchange.ModeStrict,
				ctxMode: exchange.FullHistory,
				replies: []*exchange.Reply{{Calls: []exchange.ToolInvocation{tt.call}}},
			}
			var opts []exchange.Option
			if tt.withTools {
				opts = append(opts, exchange.WithTools(weatherRegistry(t)))
			}
			ex := exchange.New(fb, opts...).Begin()

			_, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("go")}, nil)
			if err == nil {
				t.Fatal("Submit succeeded, want error")
			}
			if got := exchange.KindOf(err); got != exchange.KindSchemaMismatch {
				t.Errorf("KindOf = %s, want %s", got, exchange.KindSchemaMismatch)
			}
		})
	}
}

func TestResumeCorrelation(t *testing.T) {
	t.Parallel()

	newPending := func(t *testing.T) (*exchange.Exchange, *exchange.Result) {
		t.Helper()
		fb := &fakeBackend{
			mode:    exchange.ModeStrict,
			ctxMode: exchange.FullHistory,
			replies: []*exchange.Reply{
				{Calls: []exchange.ToolInvocation{{ID: "call_7", Name: "get_weather", Arguments: map[string]any{"city": "Oslo"}}}},
				{Text: "fine"},
			},
		}
		ex := exchange.New(fb, exchange.WithTools(weatherRegistry(t))).Begin()
		res, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("go")}, nil)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		return ex, res
	}

	t.Run("mismatched id", func(t *testing.T) {
		t.Parallel()
		ex, _ := newPending(t)
		_, err := ex.Resume(context.Background(), exchange.ToolResult{ID: "call_other", Payload: "x"}, exchange.UserTurn("next"), nil)
		if got := exchange.KindOf(err); got != exchange.KindInvalidExchange {
			t.Errorf("KindOf = %s, want %s", got, exchange.KindInvalidExchange)
		}
	})

	t.Run("empty id adopts pending", func(t *testing.T) {
		t.Parallel()
		ex, _ := newPending(t)
		res, err := ex.Resume(context.Background(), exchange.ToolResult{Payload: "x"}, exchange.UserTurn("next"), nil)
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if res.Kind != exchange.ResultAnswer {
			t.Errorf("Kind = %s", res.Kind)
		}
		hist := ex.History()
		var toolTurn *exchange.Turn
		for i := range hist {
			if hist[i].Role == exchange.RoleTool {
				toolTurn = &hist[i]
			}
		}
		if toolTurn == nil || toolTurn.Result.ID != "call_7" {
			t.Errorf("tool turn = %+v, want adopted id call_7", toolTurn)
		}
	})
}

func TestExchangeGuards(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		mode:    exchange.ModeStrict,
		ctxMode: exchange.FullHistory,
		replies: []*exchange.Reply{{Text: "done"}},
	}
	ex := exchange.New(fb).Begin()
	ctx := context.Background()

	if _, err := ex.Submit(ctx, nil, nil); exchange.KindOf(err) != exchange.KindInvalidExchange {
		t.Errorf("empty history: KindOf = %s", exchange.KindOf(err))
	}
	if _, err := ex.Resume(ctx, exchange.ToolResult{}, exchange.UserTurn("x"), nil); exchange.KindOf(err) != exchange.KindInvalidExchange {
		t.Errorf("resume without pending: KindOf = %s", exchange.KindOf(err))
	}

	if _, err := ex.Submit(ctx, []exchange.Turn{exchange.UserTurn("go")}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := ex.Submit(ctx, []exchange.Turn{exchange.UserTurn("again")}, nil); exchange.KindOf(err) != exchange.KindInvalidExchange {
		t.Errorf("submit on answered: KindOf = %s", exchange.KindOf(err))
	}
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	fb := &fakeBackend{
		mode:    exchange.ModeStrict,
		ctxMode: exchange.FullHistory,
		err:     cause,
	}
	ex := exchange.New(fb).Begin()

	_, err := ex.Submit(context.Background(), []exchange.Turn{exchange.UserTurn("go")}, nil)
	if got := exchange.KindOf(err); got != exchange.KindTransport {
		t.Fatalf("KindOf = %s, want %s", got, exchange.KindTransport)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if ex.Phase() != exchange.PhaseFailed {
		t.Errorf("Phase = %s, want %s", ex.Phase(), exchange.PhaseFailed)
	}
}

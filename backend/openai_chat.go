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

// Package backend implements the transport strategies of the exchange
// normalizer against hosted model APIs.
//
// Three interchangeable strategies exist: OpenAI Chat Completions (full
// history replay), OpenAI Responses (incremental context through
// previous_response_id), and Anthropic Messages (full replay, weak schema
// mode only). All set SDK retries to zero: retry and timeout policy belongs
// to the caller.
package backend

import (
	"context"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/openai/openai-go/v3/shared/constant"
	"go.opentelemetry.io/otel"

	"github.com/strexlabs/strex/backend/internal/adapter"
	"github.com/strexlabs/strex/backend/internal/httputil"
	"github.com/strexlabs/strex/exchange"
	"github.com/strexlabs/strex/internal/version"
	"github.com/strexlabs/strex/telemetry"
)

const defaultTimeout = 3 * time.Minute

var openaiChatTracer = otel.Tracer("github.com/strexlabs/strex/backend/openai-chat")

// OpenAIChatConfig configures the Chat Completions backend.
type OpenAIChatConfig struct {
	// APIKey overrides the SDK's OPENAI_API_KEY fallback when non-empty.
	APIKey string
	Model  string
	// WeakJSON requests json_object mode instead of json_schema,
	// downgrading the backend to weak schema mode; the normalizer then
	// validates structured answers locally.
	WeakJSON bool
	// RequestOptions are appended last and may override the defaults.
	RequestOptions []option.RequestOption
}

type openAIChat struct {
	client openai.Client
	model  string
	weak   bool
}

var _ exchange.Backend = (*openAIChat)(nil)

// NewOpenAIChat creates a Chat Completions backed transport strategy.
func NewOpenAIChat(cfg OpenAIChatConfig) exchange.Backend {
	ropts := []option.RequestOption{
		option.WithHTTPClient(httputil.NewClient(defaultTimeout)),
		option.WithHeader("User-Agent", version.UserAgent("openai-chat")),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		ropts = append(ropts, option.WithAPIKey(cfg.APIKey))
	}
	ropts = append(ropts, cfg.RequestOptions...)

	return &openAIChat{
		client: openai.NewClient(ropts...),
		model:  cfg.Model,
		weak:   cfg.WeakJSON,
	}
}

// Name implements [exchange.Backend].
func (b *openAIChat) Name() string { return "openai-chat" }

// SchemaMode implements [exchange.Backend].
func (b *openAIChat) SchemaMode() exchange.SchemaMode {
	if b.weak {
		return exchange.ModeWeak
	}
	return exchange.ModeStrict
}

// ContextMode implements [exchange.Backend]. Chat Completions has no
// server-side continuation; the ever-growing history is replayed each turn.
func (b *openAIChat) ContextMode() exchange.ContextMode { return exchange.FullHistory }

// Send implements [exchange.Backend].
func (b *openAIChat) Send(ctx context.Context, req *exchange.Request) (_ *exchange.Reply, err error) {
	ctx, span := openaiChatTracer.Start(ctx, "backend.openai-chat.Send")
	defer func() { telemetry.End(span, err) }()

	msgs, err := adapter.TurnsToChatMessages(req.Turns)
	if err != nil {
		return nil, &exchange.Error{Kind: exchange.KindInvalidExchange, Message: "convert turns", Err: err}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.model),
		Messages: msgs,
	}
	if tools := adapter.ToolsToChat(req.Tools); tools != nil {
		params.Tools = tools
	}
	if req.Output != nil {
		params.ResponseFormat = b.responseFormat(req.Output.Name(), req.Output.Schema())
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	return adapter.ChatReply(resp)
}

func (b *openAIChat) responseFormat(name string, schemaObj map[string]any) openai.ChatCompletionNewParamsResponseFormatUnion {
	if b.weak {
		// json_object guarantees valid JSON only, never the schema.
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: constant.ValueOf[constant.JSONObject](),
			},
		}
	}

	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			Type: constant.ValueOf[constant.JSONSchema](),
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: schemaObj,
				Strict: param.NewOpt(true),
			},
		},
	}
}

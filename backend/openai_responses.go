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

package backend

import (
	"context"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"github.com/openai/openai-go/v3/shared/constant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strexlabs/strex/backend/internal/adapter"
	"github.com/strexlabs/strex/backend/internal/httputil"
	"github.com/strexlabs/strex/exchange"
	"github.com/strexlabs/strex/internal/version"
	"github.com/strexlabs/strex/telemetry"
)

var openaiResponsesTracer = otel.Tracer("github.com/strexlabs/strex/backend/openai-responses")

// OpenAIResponsesConfig configures the Responses API backend.
type OpenAIResponsesConfig struct {
	// APIKey overrides the SDK's OPENAI_API_KEY fallback when non-empty.
	APIKey string
	Model  string
	// RequestOptions are appended last and may override the defaults.
	RequestOptions []option.RequestOption
}

type openAIResponses struct {
	client openai.Client
	model  string
}

var _ exchange.Backend = (*openAIResponses)(nil)

// NewOpenAIResponses creates a Responses API backed transport strategy.
// The server retains conversation state between calls; each request carries
// only the turns produced since the previous response.
func NewOpenAIResponses(cfg OpenAIResponsesConfig) exchange.Backend {
	ropts := []option.RequestOption{
		option.WithHTTPClient(httputil.NewClient(defaultTimeout)),
		option.WithHeader("User-Agent", version.UserAgent("openai-responses")),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		ropts = append(ropts, option.WithAPIKey(cfg.APIKey))
	}
	ropts = append(ropts, cfg.RequestOptions...)

	return &openAIResponses{
		client: openai.NewClient(ropts...),
		model:  cfg.Model,
	}
}

// Name implements [exchange.Backend].
func (b *openAIResponses) Name() string { return "openai-responses" }

// SchemaMode implements [exchange.Backend]. The Responses API enforces the
// submitted json_schema server-side.
func (b *openAIResponses) SchemaMode() exchange.SchemaMode { return exchange.ModeStrict }

// ContextMode implements [exchange.Backend].
func (b *openAIResponses) ContextMode() exchange.ContextMode { return exchange.Incremental }

// Send implements [exchange.Backend].
func (b *openAIResponses) Send(ctx context.Context, req *exchange.Request) (_ *exchange.Reply, err error) {
	ctx, span := openaiResponsesTracer.Start(ctx, "backend.openai-responses.Send", trace.WithAttributes(
		attribute.Bool("strex.continuation", req.PriorState != ""),
	))
	defer func() { telemetry.End(span, err) }()

	items, err := adapter.TurnsToResponsesInput(req.Turns)
	if err != nil {
		return nil, &exchange.Error{Kind: exchange.KindInvalidExchange, Message: "convert turns", Err: err}
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(b.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if req.PriorState != "" {
		params.PreviousResponseID = param.NewOpt(req.PriorState)
	}
	if tools := adapter.ToolsToResponses(req.Tools); tools != nil {
		params.Tools = tools
	}
	if req.Output != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:   constant.ValueOf[constant.JSONSchema](),
					Name:   req.Output.Name(),
					Schema: req.Output.Schema(),
					Strict: param.NewOpt(true),
				},
			},
		}
	}

	resp, err := b.client.Responses.New(ctx, params)
	if err != nil {
		return nil, err
	}

	return adapter.ResponsesReply(resp)
}

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
	json "encoding/json/v2"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"go.opentelemetry.io/otel"

	"github.com/strexlabs/strex/backend/internal/adapter"
	"github.com/strexlabs/strex/backend/internal/httputil"
	"github.com/strexlabs/strex/exchange"
	"github.com/strexlabs/strex/internal/version"
	"github.com/strexlabs/strex/telemetry"
)

const defaultMaxTokens = 1024

var anthropicTracer = otel.Tracer("github.com/strexlabs/strex/backend/anthropic")

// AnthropicConfig configures the Messages API backend.
type AnthropicConfig struct {
	// APIKey overrides the SDK's ANTHROPIC_API_KEY fallback when non-empty.
	APIKey string
	Model  string
	// MaxTokens bounds the sampled output; zero means 1024.
	MaxTokens int64
	// RequestOptions are appended last and may override the defaults.
	RequestOptions []option.RequestOption
}

type anthropicBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ exchange.Backend = (*anthropicBackend)(nil)

// NewAnthropic creates a Messages API backed transport strategy. The
// Messages API has no schema-constrained output mode, so structured answers
// are requested through a system instruction and validated by the
// normalizer.
func NewAnthropic(cfg AnthropicConfig) exchange.Backend {
	ropts := []option.RequestOption{
		option.WithHTTPClient(httputil.NewClient(defaultTimeout)),
		option.WithHeader("User-Agent", version.UserAgent("anthropic")),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		ropts = append(ropts, option.WithAPIKey(cfg.APIKey))
	}
	ropts = append(ropts, cfg.RequestOptions...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &anthropicBackend{
		client:    anthropic.NewClient(ropts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Name implements [exchange.Backend].
func (b *anthropicBackend) Name() string { return "anthropic" }

// SchemaMode implements [exchange.Backend].
func (b *anthropicBackend) SchemaMode() exchange.SchemaMode { return exchange.ModeWeak }

// ContextMode implements [exchange.Backend].
func (b *anthropicBackend) ContextMode() exchange.ContextMode { return exchange.FullHistory }

// Send implements [exchange.Backend].
func (b *anthropicBackend) Send(ctx context.Context, req *exchange.Request) (_ *exchange.Reply, err error) {
	ctx, span := anthropicTracer.Start(ctx, "backend.anthropic.Send")
	defer func() { telemetry.End(span, err) }()

	system, msgs, err := adapter.TurnsToAnthropicMessages(req.Turns)
	if err != nil {
		return nil, &exchange.Error{Kind: exchange.KindInvalidExchange, Message: "convert turns", Err: err}
	}
	if req.Output != nil {
		block, err := jsonInstruction(req.Output.Schema())
		if err != nil {
			return nil, &exchange.Error{Kind: exchange.KindInvalidExchange, Message: "encode output schema", Err: err}
		}
		system = append(system, block)
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: b.maxTokens,
		System:    system,
		Messages:  msgs,
	}
	if tools := adapter.ToolsToAnthropic(req.Tools); tools != nil {
		params.Tools = tools
	}

	resp, err := b.client.Beta.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	return adapter.AnthropicReply(resp)
}

func jsonInstruction(schemaObj map[string]any) (anthropic.BetaTextBlockParam, error) {
	data, err := json.Marshal(schemaObj)
	if err != nil {
		return anthropic.BetaTextBlockParam{}, err
	}

	text := fmt.Sprintf("Respond with a single JSON object conforming to this JSON Schema. Output only the JSON object, with no prose and no code fences.\n\n%s", data)

	return anthropic.BetaTextBlockParam{Type: constant.ValueOf[constant.Text](), Text: text}, nil
}

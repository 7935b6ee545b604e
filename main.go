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

// Command strex exercises the structured exchange normalizer against a
// hosted model API: a tool-call round trip followed by a schema-constrained
// answer, or a one-shot structured extraction.
package main

import (
	"context"
	json "encoding/json/v2"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/strexlabs/strex/backend"
	"github.com/strexlabs/strex/exchange"
	"github.com/strexlabs/strex/exchange/schema"
	"github.com/strexlabs/strex/log"
	"github.com/strexlabs/strex/tool"
	"github.com/strexlabs/strex/transcript"
)

type config struct {
	Backend        string
	ModelName      string
	Task           string
	City           string
	Weak           bool
	MaxTokens      int64
	TranscriptPath string
	OutputJSON     bool
	LogJSON        bool
	Verbose        bool
	OTLPEndpoint   string
	DryRun         bool
}

var (
	meter            metric.Meter
	requestCounter   metric.Int64Counter
	inputTokCounter  metric.Int64Counter
	outputTokCounter metric.Int64Counter
)

// packAdvice is the structured verdict of the weather task.
type packAdvice struct {
	Umbrella  bool   `json:"umbrella"`
	Rationale string `json:"rationale"`
}

// repoSummary is the structured extraction of the extract task.
type repoSummary struct {
	Name      string   `json:"name"`
	Topics    []string `json:"topics"`
	RiskLevel string   `json:"risk_level"`
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	ctx, stop := signal.NotifyContext(log.WithLogger(context.Background(), logger), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTrace, err := initTracing(ctx, cfg)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer shutdownTrace()
	initMetrics()

	if cfg.DryRun {
		printConfig(cfg)
		return
	}

	b, err := buildBackend(cfg)
	if err != nil {
		logger.Error("failed to create backend", "error", err)
		os.Exit(1)
	}

	var store *transcript.Store
	if cfg.TranscriptPath != "" {
		store, err = transcript.Open(cfg.TranscriptPath)
		if err != nil {
			logger.Error("failed to open transcript store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	switch cfg.Task {
	case "weather":
		err = runWeather(ctx, cfg, b, store)
	case "extract":
		err = runExtract(ctx, cfg, b, store)
	default:
		err = fmt.Errorf("unknown task %q", cfg.Task)
	}
	if err != nil {
		logger.Error("run failed", "error", err, "kind", exchange.KindOf(err))
		os.Exit(1)
	}
}

func parseConfig() (config, error) {
	cfg := config{
		Backend:        envOrDefault("STREX_BACKEND", "openai-chat"),
		ModelName:      os.Getenv("STREX_MODEL"),
		Task:           "weather",
		City:           "Paris",
		Weak:           parseBoolEnv("STREX_WEAK"),
		MaxTokens:      1024,
		TranscriptPath: os.Getenv("STREX_TRANSCRIPT"),
		OTLPEndpoint:   os.Getenv("STREX_OTLP_ENDPOINT"),
	}

	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "Transport strategy: openai-chat, openai-responses, or anthropic (STREX_BACKEND)")
	flag.StringVar(&cfg.ModelName, "model", cfg.ModelName, "Model name (default per backend; STREX_MODEL)")
	flag.StringVar(&cfg.Task, "task", cfg.Task, "Scenario to run: weather (tool call then structured advice) or extract (one-shot extraction)")
	flag.StringVar(&cfg.City, "city", cfg.City, "City for the weather task")
	flag.BoolVar(&cfg.Weak, "weak", cfg.Weak, "Force weak schema mode where the backend supports a choice (STREX_WEAK)")
	flag.Int64Var(&cfg.MaxTokens, "max_tokens", cfg.MaxTokens, "Max output tokens for backends that require a bound")
	flag.StringVar(&cfg.TranscriptPath, "transcript", cfg.TranscriptPath, "Sqlite file to persist exchange transcripts (empty to disable; STREX_TRANSCRIPT)")
	flag.BoolVar(&cfg.OutputJSON, "json", false, "Emit the final result as JSON to stdout")
	flag.BoolVar(&cfg.LogJSON, "log_json", false, "Use JSON logging format")
	flag.BoolVar(&cfg.Verbose, "v", false, "Enable debug logging")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp_endpoint", cfg.OTLPEndpoint, "OTLP endpoint for tracing (empty to disable; STREX_OTLP_ENDPOINT)")
	flag.BoolVar(&cfg.DryRun, "dry_run", false, "Print resolved config and exit without calling the model")
	flag.Parse()

	switch cfg.Backend {
	case "openai-chat", "openai-responses", "anthropic":
	default:
		return cfg, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModel(cfg.Backend)
	}
	if cfg.MaxTokens <= 0 {
		return cfg, errors.New("max_tokens must be positive")
	}
	if cfg.Backend == "anthropic" && !cfg.DryRun && os.Getenv("ANTHROPIC_API_KEY") == "" {
		return cfg, errors.New("ANTHROPIC_API_KEY must be set")
	}
	if cfg.Backend != "anthropic" && !cfg.DryRun && os.Getenv("OPENAI_API_KEY") == "" {
		return cfg, errors.New("OPENAI_API_KEY must be set")
	}

	return cfg, nil
}

func defaultModel(backendName string) string {
	if backendName == "anthropic" {
		return "claude-sonnet-4-5"
	}
	return "gpt-4.1-mini"
}

func buildBackend(cfg config) (exchange.Backend, error) {
	switch cfg.Backend {
	case "openai-chat":
		return backend.NewOpenAIChat(backend.OpenAIChatConfig{
			Model:    cfg.ModelName,
			WeakJSON: cfg.Weak,
		}), nil
	case "openai-responses":
		return backend.NewOpenAIResponses(backend.OpenAIResponsesConfig{
			Model: cfg.ModelName,
		}), nil
	case "anthropic":
		return backend.NewAnthropic(backend.AnthropicConfig{
			Model:     cfg.ModelName,
			MaxTokens: cfg.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildWeatherTools() (*tool.Registry, error) {
	type weatherArgs struct {
		City string `json:"city"`
	}

	reg := tool.NewRegistry()
	spec, err := tool.NewSpec[weatherArgs]("get_weather", "Get current weather for a city.")
	if err != nil {
		return nil, err
	}
	if err := reg.Register(spec, func(_ context.Context, args map[string]any) (any, error) {
		var wa weatherArgs
		if err := schema.DecodeInto(args, &wa); err != nil {
			return nil, err
		}
		// Canned observation; a real deployment would call a weather API.
		return map[string]any{"city": wa.City, "temp_c": 17, "condition": "rain"}, nil
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

func runWeather(ctx context.Context, cfg config, b exchange.Backend, store *transcript.Store) error {
	reg, err := buildWeatherTools()
	if err != nil {
		return fmt.Errorf("build tools: %w", err)
	}
	out, err := schema.For[packAdvice]("pack_advice")
	if err != nil {
		return fmt.Errorf("build output schema: %w", err)
	}

	n := exchange.New(b, exchange.WithTools(reg))
	ex := n.Begin()

	res, err := ex.Submit(ctx, []exchange.Turn{
		exchange.SystemTurn("You are a terse travel assistant. Use the get_weather tool before giving advice."),
		exchange.UserTurn(fmt.Sprintf("What is the weather in %s right now?", cfg.City)),
	}, nil)
	if err != nil {
		return err
	}
	recordUsage(ctx, res)

	if res.Kind == exchange.ResultToolCall {
		log.Info(ctx, "executing tool", "tool", res.Call.Name, "invocation_id", res.Call.ID)
		toolRes, err := reg.Execute(ctx, *res.Call)
		if err != nil {
			return fmt.Errorf("execute %s: %w", res.Call.Name, err)
		}
		res, err = ex.Resume(ctx, toolRes,
			exchange.UserTurn("Given that weather, should I pack an umbrella today?"), out)
		if err != nil {
			return err
		}
		recordUsage(ctx, res)
	}

	if store != nil {
		if err := store.Append(ctx, ex.ID(), b.Name(), ex.History(), res); err != nil {
			log.Warn(ctx, "transcript append failed", "error", err)
		}
	}

	if res.Kind != exchange.ResultStructured {
		return fmt.Errorf("expected structured answer, got %s: %s", res.Kind, res.Answer)
	}
	var advice packAdvice
	if err := res.Decode(&advice); err != nil {
		return fmt.Errorf("decode advice: %w", err)
	}

	return emit(cfg, ex.ID(), res, map[string]any{
		"umbrella":  advice.Umbrella,
		"rationale": advice.Rationale,
	})
}

func runExtract(ctx context.Context, cfg config, b exchange.Backend, store *transcript.Store) error {
	out, err := schema.For[repoSummary]("repo_summary")
	if err != nil {
		return fmt.Errorf("build output schema: %w", err)
	}

	const blurb = "strex is a Go library for normalizing structured-output " +
		"exchanges across hosted model APIs. Topics: llm, structured-output, " +
		"tool-calling. It is pre-1.0 and the API may still change."

	n := exchange.New(b)
	ex := n.Begin()

	res, err := ex.Submit(ctx, []exchange.Turn{
		exchange.SystemTurn("Extract the requested fields from the text. Answer with the JSON object only."),
		exchange.UserTurn("Summarize this repository description:\n\n" + blurb),
	}, out)
	if err != nil {
		return err
	}
	recordUsage(ctx, res)

	if store != nil {
		if err := store.Append(ctx, ex.ID(), b.Name(), ex.History(), res); err != nil {
			log.Warn(ctx, "transcript append failed", "error", err)
		}
	}

	var summary repoSummary
	if err := res.Decode(&summary); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	return emit(cfg, ex.ID(), res, map[string]any{
		"name":       summary.Name,
		"topics":     summary.Topics,
		"risk_level": summary.RiskLevel,
	})
}

func emit(cfg config, exchangeID string, res *exchange.Result, fields map[string]any) error {
	if cfg.OutputJSON {
		out := map[string]any{
			"exchange_id":   exchangeID,
			"backend":       cfg.Backend,
			"model":         cfg.ModelName,
			"result":        fields,
			"finish_reason": string(res.FinishReason),
			"input_tokens":  res.Usage.InputTokens,
			"output_tokens": res.Usage.OutputTokens,
		}
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}

	for k, v := range fields {
		fmt.Fprintf(os.Stdout, "%s: %v\n", k, v)
	}
	return nil
}

func recordUsage(ctx context.Context, res *exchange.Result) {
	requestCounter.Add(ctx, 1)
	inputTokCounter.Add(ctx, res.Usage.InputTokens)
	outputTokCounter.Add(ctx, res.Usage.OutputTokens)
	log.Debug(ctx, "usage", "input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
}

func initTracing(ctx context.Context, cfg config) (func(), error) {
	if cfg.OTLPEndpoint == "" {
		return func() {}, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return func() {}, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceNameKey.String("strex")))
	if err != nil {
		return func() {}, fmt.Errorf("resource: %w", err)
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	return func() { _ = tp.Shutdown(context.Background()) }, nil
}

func initMetrics() {
	meter = otel.GetMeterProvider().Meter("strex")
	requestCounter, _ = meter.Int64Counter("strex.requests")
	inputTokCounter, _ = meter.Int64Counter("strex.input_tokens")
	outputTokCounter, _ = meter.Int64Counter("strex.output_tokens")
}

func printConfig(cfg config) {
	out := map[string]any{
		"backend":       cfg.Backend,
		"model":         cfg.ModelName,
		"task":          cfg.Task,
		"city":          cfg.City,
		"weak":          cfg.Weak,
		"max_tokens":    cfg.MaxTokens,
		"transcript":    cfg.TranscriptPath,
		"log_json":      cfg.LogJSON,
		"otlp_endpoint": cfg.OTLPEndpoint,
	}
	data, _ := json.Marshal(out)
	fmt.Fprintln(os.Stdout, string(data))
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return b
}

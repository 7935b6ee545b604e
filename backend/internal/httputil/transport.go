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

// Package httputil provides the pooled, optionally traced HTTP client shared
// by all backends.
package httputil

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// Transport implements [http.RoundTripper] with optional OpenTelemetry
// instrumentation around the base transport.
type Transport struct {
	Base http.RoundTripper
	rt   http.RoundTripper
}

// NewTransport wraps base with tracing. A nil base clones
// [http.DefaultTransport].
func NewTransport(base http.RoundTripper, traceEnabled bool) *Transport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	rt := base
	if traceEnabled {
		rt = otelhttp.NewTransport(base,
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithMeterProvider(otel.GetMeterProvider()),
			otelhttp.WithServerName("strex"),
		)
	}

	return &Transport{Base: base, rt: rt}
}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.rt.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

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

package httputil

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	pooledOnce sync.Once
	pooled     http.RoundTripper
)

// pooledBase reuses one connection pool across every backend client; the
// stateless provider connections are the only shared resource.
func pooledBase() http.RoundTripper {
	pooledOnce.Do(func() {
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			clone := dt.Clone()
			clone.MaxIdleConns = 128
			clone.MaxIdleConnsPerHost = 32
			clone.IdleConnTimeout = 90 * time.Second
			pooled = clone
			return
		}
		pooled = http.DefaultTransport
	})
	return pooled
}

// NewClient returns a pooled HTTP client. The timeout bounds the whole
// request; callers cancel earlier through their context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(pooledBase(), TraceEnabled()),
	}
}

// TraceEnabled reads STREX_HTTP_TRACE ("1", "true") to decide whether HTTP
// round trips are traced. Unset or invalid means disabled.
func TraceEnabled() bool {
	val, err := strconv.ParseBool(os.Getenv("STREX_HTTP_TRACE"))
	return err == nil && val
}

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

// Package adapter converts between the exchange turn model and per-provider
// wire shapes. Provider variance (JSON-string versus native-object tool
// arguments, call_id versus id correlation) is resolved here, once, at the
// boundary.
package adapter

import (
	"encoding/json/jsontext"
	json "encoding/json/v2"
	"fmt"
	"strings"
	"sync"
)

// DecodeArgs normalizes tool-call arguments into a native mapping. Providers
// emit either a JSON-encoded string or a native object; anything that fails
// to parse as an object lands under a "raw" key and is rejected downstream
// by parameter-schema validation.
func DecodeArgs(v any) map[string]any {
	switch a := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return a
	case string:
		return parseArgs(a)
	case []byte:
		return parseArgs(string(a))
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	return parseArgs(string(raw))
}

func parseArgs(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	dec := argsDecoderPool.Get().(*jsontext.Decoder)
	defer argsDecoderPool.Put(dec)
	dec.Reset(strings.NewReader(trimmed))

	var out map[string]any
	if err := json.UnmarshalDecode(dec, &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

var argsDecoderPool = sync.Pool{
	New: func() any {
		return jsontext.NewDecoder(strings.NewReader(""))
	},
}

// ToolID returns the invocation correlation id, synthesizing one from the
// turn index when the provider omitted it.
func ToolID(id string, idx int) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return fmt.Sprintf("tool_%d", idx)
}

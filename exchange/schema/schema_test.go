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

package schema

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type summary struct {
	Name      string   `json:"name"`
	Topics    []string `json:"topics"`
	RiskLevel string   `json:"risk_level"`
}

func TestForReflectsStruct(t *testing.T) {
	t.Parallel()

	out, err := For[summary]("repo_summary")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if out.Name() != "repo_summary" {
		t.Errorf("Name = %q", out.Name())
	}

	raw := out.Schema()
	if _, ok := raw["$schema"]; ok {
		t.Error("Schema still carries $schema marker")
	}
	props, ok := raw["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", raw)
	}
	for _, want := range []string{"name", "topics", "risk_level"} {
		if _, ok := props[want]; !ok {
			t.Errorf("properties missing %q", want)
		}
	}
	if ap, ok := raw["additionalProperties"].(bool); !ok || ap {
		t.Errorf("additionalProperties = %v, want false", raw["additionalProperties"])
	}
}

func TestOutputValidate(t *testing.T) {
	t.Parallel()

	out, err := For[summary]("repo_summary")
	if err != nil {
		t.Fatalf("For: %v", err)
	}

	for name, tt := range map[string]struct {
		obj     map[string]any
		wantErr bool
	}{
		"valid": {
			obj: map[string]any{"name": "strex", "topics": []any{"llm"}, "risk_level": "low"},
		},
		"missing field": {
			obj:     map[string]any{"name": "strex", "topics": []any{"llm"}},
			wantErr: true,
		},
		"wrong type": {
			obj:     map[string]any{"name": "strex", "topics": "llm", "risk_level": "low"},
			wantErr: true,
		},
		"extra field": {
			obj:     map[string]any{"name": "strex", "topics": []any{}, "risk_level": "low", "stars": 1},
			wantErr: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := out.Validate(tt.obj)
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Validate = %v, want *ValidationError", err)
				}
				if verr.Schema != "repo_summary" {
					t.Errorf("ValidationError.Schema = %q", verr.Schema)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestFromMapAndParams(t *testing.T) {
	t.Parallel()

	m := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
		"required":             []any{"city"},
		"additionalProperties": false,
	}

	out, err := FromMap("where", m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if err := out.Validate(map[string]any{"city": "Paris"}); err != nil {
		t.Errorf("Validate valid: %v", err)
	}
	if err := out.Validate(map[string]any{"city": 3}); err == nil {
		t.Error("Validate accepted mistyped city")
	}

	params, err := CompileParams(m)
	if err != nil {
		t.Fatalf("CompileParams: %v", err)
	}
	if err := params.Validate(map[string]any{"city": "Kyoto"}); err != nil {
		t.Errorf("params Validate valid: %v", err)
	}
	if err := params.Validate(map[string]any{"town": "Kyoto"}); err == nil {
		t.Error("params Validate accepted unknown key")
	}
}

func TestFromJSONErrors(t *testing.T) {
	t.Parallel()

	if _, err := FromJSON("", []byte(`{"type":"object"}`)); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := FromJSON("x", []byte(`{"type":`)); err == nil {
		t.Error("malformed schema accepted")
	}
}

func TestDecodeInto(t *testing.T) {
	t.Parallel()

	obj := map[string]any{"name": "strex", "topics": []any{"llm", "go"}, "risk_level": "low"}
	var got summary
	if err := DecodeInto(obj, &got); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	want := summary{Name: "strex", Topics: []string{"llm", "go"}, RiskLevel: "low"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded mismatch (-want +got):\n%s", diff)
	}
}

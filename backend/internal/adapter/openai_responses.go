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

package adapter

import (
	json "encoding/json/v2"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/strexlabs/strex/exchange"
)

// TurnsToResponsesInput converts exchange turns into Responses input items.
// With a previous_response_id continuation only the delta is converted: the
// tool result plus any new turns.
func TurnsToResponsesInput(turns []exchange.Turn) ([]responses.ResponseInputItemUnionParam, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(turns))

	for i, t := range turns {
		switch t.Role {
		case exchange.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(t.Text, responses.EasyInputMessageRoleSystem))

		case exchange.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(t.Text, responses.EasyInputMessageRoleUser))

		case exchange.RoleAssistant:
			if t.Call == nil {
				items = append(items, responses.ResponseInputItemParamOfMessage(t.Text, responses.EasyInputMessageRoleAssistant))
				continue
			}
			if t.Call.Name == "" {
				return nil, fmt.Errorf("turn[%d]: tool call missing name", i)
			}
			argsJSON, err := json.Marshal(t.Call.Arguments)
			if err != nil {
				return nil, fmt.Errorf("turn[%d]: marshal tool call args: %w", i, err)
			}
			items = append(items,
				responses.ResponseInputItemParamOfFunctionCall(string(argsJSON), ToolID(t.Call.ID, i), t.Call.Name),
			)

		case exchange.RoleTool:
			if t.Result == nil {
				return nil, fmt.Errorf("turn[%d]: tool turn missing result", i)
			}
			data, err := json.Marshal(t.Result.Payload)
			if err != nil {
				return nil, fmt.Errorf("turn[%d]: marshal tool result: %w", i, err)
			}
			items = append(items,
				responses.ResponseInputItemParamOfFunctionCallOutput(ToolID(t.Result.ID, i), string(data)),
			)

		default:
			return nil, fmt.Errorf("turn[%d]: unsupported role %q", i, t.Role)
		}
	}

	return items, nil
}

// ToolsToResponses maps tool specs into Responses tool parameters.
func ToolsToResponses(tools []exchange.ToolSpec) []responses.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	params := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn := responses.ToolParamOfFunction(t.Name, nil, false)
		if desc := strings.TrimSpace(t.Description); desc != "" {
			fn.OfFunction.Description = param.NewOpt(desc)
		}
		if t.Parameters != nil {
			fn.OfFunction.Parameters = shared.FunctionParameters(t.Parameters)
		}
		params = append(params, fn)
	}

	return params
}

// ResponsesReply resolves a Responses payload into a normalized Reply. The
// response id becomes the continuation state; tool calls correlate through
// call_id falling back to id.
func ResponsesReply(resp *responses.Response) (*exchange.Reply, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	if len(resp.Output) == 0 {
		return nil, errors.New("empty response output")
	}

	reply := &exchange.Reply{
		State: resp.ID,
		Usage: exchange.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}

	var text strings.Builder
	for i := range resp.Output {
		item := &resp.Output[i]
		switch strings.ToLower(strings.TrimSpace(item.Type)) {
		case "message":
			for ci := range item.Content {
				c := &item.Content[ci]
				switch strings.ToLower(strings.TrimSpace(c.Type)) {
				case "output_text":
					text.WriteString(c.Text)
				case "refusal":
					text.WriteString(c.Refusal)
				}
			}

		case "function_call":
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			reply.Calls = append(reply.Calls, exchange.ToolInvocation{
				ID:        ToolID(id, i),
				Name:      item.Name,
				Arguments: DecodeArgs(item.Arguments),
			})
		}
	}
	reply.Text = text.String()

	if len(reply.Calls) > 0 {
		reply.FinishReason = exchange.FinishToolCall
	} else {
		reply.FinishReason = responsesFinishReason(resp.Status, resp.IncompleteDetails)
	}

	return reply, nil
}

func responsesFinishReason(status responses.ResponseStatus, details responses.ResponseIncompleteDetails) exchange.FinishReason {
	switch status {
	case responses.ResponseStatusCompleted:
		return exchange.FinishStop
	case responses.ResponseStatusIncomplete:
		switch strings.ToLower(details.Reason) {
		case "max_output_tokens":
			return exchange.FinishMaxTokens
		case "content_filter":
			return exchange.FinishFiltered
		default:
			return exchange.FinishOther
		}
	case responses.ResponseStatusFailed:
		return exchange.FinishOther
	default:
		return exchange.FinishUnspecified
	}
}

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

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/strexlabs/strex/exchange"
)

// TurnsToChatMessages converts exchange turns into Chat Completions message
// parameters. Tool results correlate through tool_call_id.
func TurnsToChatMessages(turns []exchange.Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))

	for i, t := range turns {
		switch t.Role {
		case exchange.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Text))

		case exchange.RoleUser:
			msgs = append(msgs, openai.UserMessage(t.Text))

		case exchange.RoleAssistant:
			if t.Call == nil {
				msgs = append(msgs, openai.AssistantMessage(t.Text))
				continue
			}
			if t.Call.Name == "" {
				return nil, fmt.Errorf("turn[%d]: tool call missing name", i)
			}
			argsJSON, err := json.Marshal(t.Call.Arguments)
			if err != nil {
				return nil, fmt.Errorf("turn[%d]: marshal tool call args: %w", i, err)
			}

			assistant := openai.ChatCompletionAssistantMessageParam{
				Role: constant.ValueOf[constant.Assistant](),
				ToolCalls: []openai.ChatCompletionMessageToolCallUnionParam{
					{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID:   ToolID(t.Call.ID, i),
							Type: constant.ValueOf[constant.Function](),
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      t.Call.Name,
								Arguments: string(argsJSON),
							},
						},
					},
				},
			}
			if t.Text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(t.Text),
				}
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case exchange.RoleTool:
			if t.Result == nil {
				return nil, fmt.Errorf("turn[%d]: tool turn missing result", i)
			}
			data, err := json.Marshal(t.Result.Payload)
			if err != nil {
				return nil, fmt.Errorf("turn[%d]: marshal tool result: %w", i, err)
			}
			msgs = append(msgs, openai.ToolMessage(string(data), ToolID(t.Result.ID, i)))

		default:
			return nil, fmt.Errorf("turn[%d]: unsupported role %q", i, t.Role)
		}
	}

	return msgs, nil
}

// ToolsToChat maps tool specs into Chat Completions tool parameters.
func ToolsToChat(tools []exchange.ToolSpec) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	params := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{Name: t.Name}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		if t.Parameters != nil {
			fn.Parameters = shared.FunctionParameters(t.Parameters)
		}
		params = append(params, openai.ChatCompletionFunctionTool(fn))
	}

	return params
}

// ChatReply resolves a Chat Completions response into a normalized Reply.
// Tool-call arguments arrive as JSON-encoded strings here.
func ChatReply(resp *openai.ChatCompletion) (*exchange.Reply, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty chat completion")
	}

	choice := resp.Choices[0]
	msg := choice.Message

	reply := &exchange.Reply{
		Text: msg.Content,
		Usage: exchange.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		FinishReason: chatFinishReason(choice.FinishReason),
	}
	if reply.Text == "" && msg.Refusal != "" {
		reply.Text = msg.Refusal
	}

	for i, tc := range msg.ToolCalls {
		reply.Calls = append(reply.Calls, exchange.ToolInvocation{
			ID:        ToolID(tc.ID, i),
			Name:      tc.Function.Name,
			Arguments: DecodeArgs(tc.Function.Arguments),
		})
	}

	return reply, nil
}

func chatFinishReason(reason string) exchange.FinishReason {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "stop":
		return exchange.FinishStop
	case "length":
		return exchange.FinishMaxTokens
	case "tool_calls", "function_call":
		return exchange.FinishToolCall
	case "content_filter":
		return exchange.FinishFiltered
	case "":
		return exchange.FinishUnspecified
	default:
		return exchange.FinishOther
	}
}

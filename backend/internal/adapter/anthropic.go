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
	"slices"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/strexlabs/strex/exchange"
)

// TurnsToAnthropicMessages converts exchange turns into Anthropic message
// parameters. System turns are lifted into the system blocks; tool results
// ride in user messages as tool_result blocks correlated by tool_use_id.
func TurnsToAnthropicMessages(turns []exchange.Turn) ([]anthropic.BetaTextBlockParam, []anthropic.BetaMessageParam, error) {
	var system []anthropic.BetaTextBlockParam
	msgs := make([]anthropic.BetaMessageParam, 0, len(turns))

	for i, t := range turns {
		switch t.Role {
		case exchange.RoleSystem:
			system = append(system, anthropic.BetaTextBlockParam{
				Type: constant.ValueOf[constant.Text](),
				Text: t.Text,
			})

		case exchange.RoleUser:
			msgs = append(msgs, anthropic.BetaMessageParam{
				Role:    anthropic.BetaMessageParamRoleUser,
				Content: []anthropic.BetaContentBlockParamUnion{anthropic.NewBetaTextBlock(t.Text)},
			})

		case exchange.RoleAssistant:
			if t.Call == nil {
				msgs = append(msgs, anthropic.BetaMessageParam{
					Role:    anthropic.BetaMessageParamRoleAssistant,
					Content: []anthropic.BetaContentBlockParamUnion{anthropic.NewBetaTextBlock(t.Text)},
				})
				continue
			}
			if t.Call.Name == "" {
				return nil, nil, fmt.Errorf("turn[%d]: tool call missing name", i)
			}
			args := t.Call.Arguments
			if args == nil {
				args = map[string]any{}
			}
			msgs = append(msgs, anthropic.BetaMessageParam{
				Role: anthropic.BetaMessageParamRoleAssistant,
				Content: []anthropic.BetaContentBlockParamUnion{
					{
						OfToolUse: &anthropic.BetaToolUseBlockParam{
							ID:    ToolID(t.Call.ID, i),
							Name:  t.Call.Name,
							Input: args,
							Type:  constant.ValueOf[constant.ToolUse](),
						},
					},
				},
			})

		case exchange.RoleTool:
			if t.Result == nil {
				return nil, nil, fmt.Errorf("turn[%d]: tool turn missing result", i)
			}
			data, err := json.Marshal(t.Result.Payload)
			if err != nil {
				return nil, nil, fmt.Errorf("turn[%d]: marshal tool result: %w", i, err)
			}
			msgs = append(msgs, anthropic.BetaMessageParam{
				Role: anthropic.BetaMessageParamRoleUser,
				Content: []anthropic.BetaContentBlockParamUnion{
					{
						OfToolResult: &anthropic.BetaToolResultBlockParam{
							ToolUseID: ToolID(t.Result.ID, i),
							Content: []anthropic.BetaToolResultBlockParamContentUnion{
								{OfText: &anthropic.BetaTextBlockParam{
									Type: constant.ValueOf[constant.Text](),
									Text: string(data),
								}},
							},
							Type: constant.ValueOf[constant.ToolResult](),
						},
					},
				},
			})

		default:
			return nil, nil, fmt.Errorf("turn[%d]: unsupported role %q", i, t.Role)
		}
	}

	return system, msgs, nil
}

// ToolsToAnthropic maps tool specs into Anthropic tool parameters. The
// parameter schema's properties are passed through; argument validation
// against the full schema stays local.
func ToolsToAnthropic(tools []exchange.ToolSpec) []anthropic.BetaToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	params := make([]anthropic.BetaToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tp := &anthropic.BetaToolParam{
			Name: t.Name,
			InputSchema: anthropic.BetaToolInputSchemaParam{
				Type: constant.ValueOf[constant.Object](),
			},
		}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			tp.Description = param.NewOpt(desc)
		}
		if t.Parameters != nil {
			tp.InputSchema.Properties = t.Parameters["properties"]
		}
		params = append(params, anthropic.BetaToolUnionParam{OfTool: tp})
	}

	return params
}

// AnthropicReply resolves an Anthropic message into a normalized Reply.
// Tool input arrives as a native object here; correlation is the tool_use
// block id.
func AnthropicReply(msg *anthropic.BetaMessage) (*exchange.Reply, error) {
	if msg == nil {
		return nil, errors.New("nil anthropic message")
	}

	reply := &exchange.Reply{
		Usage: exchange.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	idx := 0
	for block := range slices.Values(msg.Content) {
		switch v := block.AsAny().(type) {
		case anthropic.BetaTextBlock:
			text.WriteString(v.Text)
		case anthropic.BetaToolUseBlock:
			reply.Calls = append(reply.Calls, exchange.ToolInvocation{
				ID:        ToolID(v.ID, idx),
				Name:      v.Name,
				Arguments: DecodeArgs(v.Input),
			})
		}
		idx++
	}
	reply.Text = text.String()
	reply.FinishReason = anthropicFinishReason(msg.StopReason)

	return reply, nil
}

func anthropicFinishReason(reason anthropic.BetaStopReason) exchange.FinishReason {
	switch reason {
	case anthropic.BetaStopReasonEndTurn, anthropic.BetaStopReasonStopSequence:
		return exchange.FinishStop
	case anthropic.BetaStopReasonMaxTokens:
		return exchange.FinishMaxTokens
	case anthropic.BetaStopReasonToolUse:
		return exchange.FinishToolCall
	case anthropic.BetaStopReasonRefusal:
		return exchange.FinishFiltered
	default:
		return exchange.FinishUnspecified
	}
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// runOpenAITurn executes one chat completion against an OpenAI-compatible
// endpoint. Everything except Google speaks this dialect: OpenAI itself,
// DashScope/Qwen, Ark/Doubao, Zhipu, MiniMax and local Ollama servers.
func (c *Client) runOpenAITurn(ctx context.Context, messages []TurnMessage, tools []ToolSchema) (*TurnResult, error) {
	payload := map[string]any{
		"model":    c.inv.ModelID,
		"messages": toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		payload["tools"] = toOpenAITools(tools)
	}
	for _, key := range passthroughParamKeys {
		if v, ok := c.inv.Params[key]; ok {
			payload[key] = v
		}
	}

	resp, err := c.postJSON(ctx, c.inv.BaseURL+"/chat/completions", payload, c.inv.APIKey)
	if err != nil {
		return nil, err
	}

	choices, ok := asSlice(resp["choices"])
	if !ok || len(choices) == 0 {
		return nil, newAdapterError(ErrCodeModelEmptyResponse, "OpenAI-compatible response has no choices")
	}
	first, ok := asMap(choices[0])
	if !ok {
		return nil, newAdapterError(ErrCodeModelInvalidResponse, "OpenAI-compatible choice must be an object")
	}

	message, _ := asMap(first["message"])
	return &TurnResult{
		Text:      extractOpenAIText(message["content"]),
		ToolCalls: extractOpenAIToolCalls(message["tool_calls"]),
		Usage:     extractOpenAIUsage(resp["usage"]),
		Raw:       resp,
	}, nil
}

// toOpenAIMessages converts the transcript to the chat completions wire
// format. Unknown roles are dropped; assistant content is omitted when empty
// so tool-call-only turns round-trip cleanly.
func toOpenAIMessages(messages []TurnMessage) []map[string]any {
	wire := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system", "user":
			wire = append(wire, map[string]any{"role": m.Role, "content": m.Content})

		case "assistant":
			msg := map[string]any{"role": "assistant"}
			if m.Content != "" {
				msg["content"] = m.Content
			}
			if len(m.ToolCalls) > 0 {
				msg["tool_calls"] = toOpenAIAssistantToolCalls(m.ToolCalls)
			}
			wire = append(wire, msg)

		case "tool":
			wire = append(wire, map[string]any{
				"role":         "tool",
				"tool_call_id": m.ToolCallID,
				"name":         m.Name,
				"content":      m.Content,
			})
		}
	}
	return wire
}

// toOpenAIAssistantToolCalls echoes previous tool calls back in wire format:
// arguments become a JSON string inside a function block.
func toOpenAIAssistantToolCalls(calls []ToolCall) []map[string]any {
	wire := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		if call.Name == "" {
			continue
		}
		id := call.ID
		if id == "" {
			id = "call_auto"
		}
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		argsJSON, _ := json.Marshal(args)
		wire = append(wire, map[string]any{
			"id":   id,
			"type": "function",
			"function": map[string]any{
				"name":      call.Name,
				"arguments": string(argsJSON),
			},
		})
	}
	return wire
}

func toOpenAITools(tools []ToolSchema) []map[string]any {
	wire := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}
		params := tool.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  params,
			},
		})
	}
	return wire
}

// extractOpenAIText handles both content shapes vendors emit: a plain string
// or a list of typed parts.
func extractOpenAIText(raw any) string {
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	parts, ok := asSlice(raw)
	if !ok {
		return ""
	}
	var fragments []string
	for _, part := range parts {
		m, ok := asMap(part)
		if !ok || asString(m["type"]) != "text" {
			continue
		}
		if text := asString(m["text"]); text != "" {
			fragments = append(fragments, text)
		}
	}
	return strings.TrimSpace(strings.Join(fragments, "\n"))
}

func extractOpenAIToolCalls(raw any) []ToolCall {
	items, ok := asSlice(raw)
	if !ok {
		return nil
	}
	var calls []ToolCall
	for idx, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		fn, ok := asMap(m["function"])
		if !ok {
			continue
		}
		name := asString(fn["name"])
		if name == "" {
			continue
		}
		id := asString(m["id"])
		if id == "" {
			id = fmt.Sprintf("openai_call_%d", idx+1)
		}
		calls = append(calls, ToolCall{
			ID:        id,
			Name:      name,
			Arguments: parseJSONArguments(fn["arguments"]),
		})
	}
	return calls
}

// parseJSONArguments accepts arguments as either an object or an embedded
// JSON string; anything else resolves to an empty map.
func parseJSONArguments(raw any) map[string]any {
	if m, ok := asMap(raw); ok {
		return m
	}
	s, ok := raw.(string)
	if !ok {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil || parsed == nil {
		return map[string]any{}
	}
	return parsed
}

func extractOpenAIUsage(raw any) Usage {
	m, _ := asMap(raw)
	usage := Usage{
		InputTokens:  asInt(m["prompt_tokens"]),
		OutputTokens: asInt(m["completion_tokens"]),
		TotalTokens:  asInt(m["total_tokens"]),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

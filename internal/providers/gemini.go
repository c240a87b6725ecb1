package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// runGoogleTurn executes one generateContent call against the Gemini API.
// Google's protocol differs enough from chat completions to warrant its own
// payload builder: system prompts ride a dedicated field, assistant turns
// become "model" contents, and tool results become functionResponse parts.
func (c *Client) runGoogleTurn(ctx context.Context, messages []TurnMessage, tools []ToolSchema) (*TurnResult, error) {
	endpoint := buildGoogleGenerateURL(c.inv.BaseURL, c.inv.ModelID, c.inv.APIKey)
	payload := toGooglePayload(messages, tools, c.inv.Params)

	resp, err := c.postJSON(ctx, endpoint, payload, "")
	if err != nil {
		return nil, err
	}

	candidates, ok := asSlice(resp["candidates"])
	if !ok || len(candidates) == 0 {
		return nil, &AdapterError{
			Code:    ErrCodeModelEmptyResponse,
			Message: "Google response has no candidates",
			Details: resp,
		}
	}
	first, ok := asMap(candidates[0])
	if !ok {
		return nil, newAdapterError(ErrCodeModelInvalidResponse, "Google candidate must be an object")
	}

	content, _ := asMap(first["content"])
	parts, ok := asSlice(content["parts"])
	if !ok {
		return nil, newAdapterError(ErrCodeModelInvalidResponse, "Google candidate content.parts must be a list")
	}

	var fragments []string
	var calls []ToolCall
	for idx, rawPart := range parts {
		part, ok := asMap(rawPart)
		if !ok {
			continue
		}
		if text := asString(part["text"]); text != "" {
			fragments = append(fragments, text)
		}

		fnCall, ok := asMap(part["functionCall"])
		if !ok {
			fnCall, ok = asMap(part["function_call"])
		}
		if !ok {
			continue
		}
		name := asString(fnCall["name"])
		if name == "" {
			continue
		}
		args, ok := asMap(fnCall["args"])
		if !ok {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{
			ID:        fmt.Sprintf("google_call_%d", idx+1),
			Name:      name,
			Arguments: args,
		})
	}

	return &TurnResult{
		Text:      strings.TrimSpace(strings.Join(fragments, "\n")),
		ToolCalls: calls,
		Usage:     extractGoogleUsage(resp["usageMetadata"]),
		Raw:       resp,
	}, nil
}

// buildGoogleGenerateURL appends the generateContent action and the API key
// query parameter. The key joins with & when the base already carries a
// query string.
func buildGoogleGenerateURL(baseURL, modelID, apiKey string) string {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(baseURL, "/"), modelID)
	if apiKey == "" {
		return endpoint
	}
	separator := "?"
	if u, err := url.Parse(endpoint); err == nil && u.RawQuery != "" {
		separator = "&"
	}
	return endpoint + separator + "key=" + url.QueryEscape(apiKey)
}

func toGooglePayload(messages []TurnMessage, tools []ToolSchema, params map[string]any) map[string]any {
	payload := map[string]any{"contents": toGoogleContents(messages)}

	if system := collectSystemInstruction(messages); system != "" {
		payload["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": system}},
		}
	}
	if len(tools) > 0 {
		payload["tools"] = []map[string]any{
			{"functionDeclarations": toGoogleFunctionDeclarations(tools)},
		}
	}

	generationConfig := map[string]any{}
	for _, key := range []string{"temperature", "top_p", "max_output_tokens"} {
		if v, ok := params[key]; ok {
			generationConfig[key] = v
		}
	}
	if len(generationConfig) > 0 {
		payload["generationConfig"] = generationConfig
	}
	return payload
}

func toGoogleContents(messages []TurnMessage) []map[string]any {
	contents := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue

		case "assistant":
			var parts []map[string]any
			if content := strings.TrimSpace(m.Content); content != "" {
				parts = append(parts, map[string]any{"text": content})
			}
			for _, call := range m.ToolCalls {
				if call.Name == "" {
					continue
				}
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{"name": call.Name, "args": args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "model", "parts": parts})
			}

		case "tool":
			if m.Name == "" {
				continue
			}
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     m.Name,
						"response": map[string]any{"content": m.Content},
					},
				}},
			})

		default:
			if text := strings.TrimSpace(m.Content); text != "" {
				contents = append(contents, map[string]any{
					"role":  "user",
					"parts": []map[string]any{{"text": text}},
				})
			}
		}
	}
	return contents
}

func toGoogleFunctionDeclarations(tools []ToolSchema) []map[string]any {
	decls := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}
		params := tool.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		decls = append(decls, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  params,
		})
	}
	return decls
}

// collectSystemInstruction folds all system messages into one block.
func collectSystemInstruction(messages []TurnMessage) string {
	var chunks []string
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		if text := strings.TrimSpace(m.Content); text != "" {
			chunks = append(chunks, text)
		}
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

func extractGoogleUsage(raw any) Usage {
	m, _ := asMap(raw)
	usage := Usage{
		InputTokens:  asInt(m["promptTokenCount"]),
		OutputTokens: asInt(m["candidatesTokenCount"]),
		TotalTokens:  asInt(m["totalTokenCount"]),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

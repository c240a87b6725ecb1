package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildGoogleGenerateURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		modelID string
		apiKey  string
		want    string
	}{
		{
			name:    "no key",
			baseURL: "https://generativelanguage.googleapis.com/v1beta",
			modelID: "gemini-2.0-flash",
			apiKey:  "",
			want:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		},
		{
			name:    "key appended",
			baseURL: "https://generativelanguage.googleapis.com/v1beta/",
			modelID: "gemini-2.0-flash",
			apiKey:  "abc123",
			want:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent?key=abc123",
		},
		{
			name:    "key escaped",
			baseURL: "https://g.example/v1beta",
			modelID: "gemini-2.0-flash",
			apiKey:  "a&b c",
			want:    "https://g.example/v1beta/models/gemini-2.0-flash:generateContent?key=a%26b+c",
		},
		{
			name:    "base with query joins with ampersand",
			baseURL: "https://g.example/v1beta?alt=json",
			modelID: "gemini-2.0-flash",
			apiKey:  "k",
			want:    "https://g.example/v1beta?alt=json/models/gemini-2.0-flash:generateContent&key=k",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildGoogleGenerateURL(tt.baseURL, tt.modelID, tt.apiKey); got != tt.want {
				t.Errorf("buildGoogleGenerateURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToGooglePayload(t *testing.T) {
	messages := []TurnMessage{
		{Role: "system", Content: "first rule"},
		{Role: "system", Content: "second rule"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "thinking", ToolCalls: []ToolCall{
			{ID: "google_call_1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}},
		}},
		{Role: "tool", Name: "read_file", ToolCallID: "google_call_1", Content: `{"ok":true}`},
		{Role: "user", Content: ""}, // empty user text dropped
	}
	tools := []ToolSchema{{Name: "read_file", Description: "Read", InputSchema: map[string]any{"type": "object"}}}
	params := map[string]any{"temperature": 0.5, "max_output_tokens": 1024, "presence_penalty": 0.1}

	payload := toGooglePayload(messages, tools, params)

	system := payload["system_instruction"].(map[string]any)
	parts := system["parts"].([]map[string]any)
	if parts[0]["text"] != "first rule\nsecond rule" {
		t.Errorf("system_instruction = %v", parts[0]["text"])
	}

	contents := payload["contents"].([]map[string]any)
	if len(contents) != 3 {
		t.Fatalf("contents len = %d, want 3", len(contents))
	}
	if contents[0]["role"] != "user" {
		t.Errorf("contents[0] role = %v", contents[0]["role"])
	}
	model := contents[1]
	if model["role"] != "model" {
		t.Errorf("contents[1] role = %v, want model", model["role"])
	}
	modelParts := model["parts"].([]map[string]any)
	if len(modelParts) != 2 {
		t.Fatalf("model parts = %v", modelParts)
	}
	if modelParts[0]["text"] != "thinking" {
		t.Errorf("model text part = %v", modelParts[0])
	}
	fnCall := modelParts[1]["functionCall"].(map[string]any)
	if fnCall["name"] != "read_file" {
		t.Errorf("functionCall = %v", fnCall)
	}

	toolContent := contents[2]
	if toolContent["role"] != "user" {
		t.Errorf("tool response role = %v, want user", toolContent["role"])
	}
	fnResp := toolContent["parts"].([]map[string]any)[0]["functionResponse"].(map[string]any)
	if fnResp["name"] != "read_file" {
		t.Errorf("functionResponse = %v", fnResp)
	}
	if fnResp["response"].(map[string]any)["content"] != `{"ok":true}` {
		t.Errorf("functionResponse content = %v", fnResp["response"])
	}

	decls := payload["tools"].([]map[string]any)[0]["functionDeclarations"].([]map[string]any)
	if len(decls) != 1 || decls[0]["name"] != "read_file" {
		t.Errorf("functionDeclarations = %v", decls)
	}

	genCfg := payload["generationConfig"].(map[string]any)
	if genCfg["temperature"] != 0.5 || genCfg["max_output_tokens"] != 1024 {
		t.Errorf("generationConfig = %v", genCfg)
	}
	if _, ok := genCfg["presence_penalty"]; ok {
		t.Error("presence_penalty must not reach generationConfig")
	}
}

func TestToGooglePayload_OmitsEmptySections(t *testing.T) {
	payload := toGooglePayload([]TurnMessage{{Role: "user", Content: "hi"}}, nil, map[string]any{})
	if _, ok := payload["system_instruction"]; ok {
		t.Error("system_instruction present without system messages")
	}
	if _, ok := payload["tools"]; ok {
		t.Error("tools present without declarations")
	}
	if _, ok := payload["generationConfig"]; ok {
		t.Error("generationConfig present without tuning params")
	}
}

func TestRunGoogleTurn_ParsesPartsAndUsage(t *testing.T) {
	var gotPath string
	var gotQuery string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [
				{"text": "analysis"},
				{"functionCall": {"name": "read_file", "args": {"path": "a.go"}}},
				{"function_call": {"name": "ls_dir", "args": {}}}
			]}}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 3}
		}`))
	}))
	defer srv.Close()

	inv := &Invocation{
		Vendor:    "google",
		ModelID:   "gemini-2.0-flash",
		BaseURL:   srv.URL,
		APIKey:    "gk",
		TimeoutMS: 5000,
		Params:    map[string]any{},
	}
	client := newTestClient(t, inv)

	result, err := client.RunTurn(context.Background(), []TurnMessage{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(gotPath, "/models/gemini-2.0-flash:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "key=gk" {
		t.Errorf("query = %q, want key in query string", gotQuery)
	}
	if _, ok := gotBody["contents"]; !ok {
		t.Error("request body missing contents")
	}
	if result.Text != "analysis" {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %v, want both spellings parsed", result.ToolCalls)
	}
	if result.ToolCalls[0].ID != "google_call_2" {
		t.Errorf("first id = %q, want part-positional google_call_2", result.ToolCalls[0].ID)
	}
	if result.ToolCalls[1].ID != "google_call_3" {
		t.Errorf("second id = %q, want google_call_3", result.ToolCalls[1].ID)
	}
	if result.Usage.TotalTokens != 10 {
		t.Errorf("Usage = %+v, want derived total 10", result.Usage)
	}
}

func TestRunGoogleTurn_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	inv := &Invocation{Vendor: "google", ModelID: "gemini-2.0-flash", BaseURL: srv.URL, APIKey: "gk", TimeoutMS: 5000}
	client := newTestClient(t, inv)
	_, err := client.RunTurn(context.Background(), []TurnMessage{{Role: "user", Content: "hi"}}, nil)
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.Code != ErrCodeModelEmptyResponse {
		t.Fatalf("error = %v, want MODEL_EMPTY_RESPONSE", err)
	}
}

func TestRunGoogleTurn_MissingParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [{"content": {}}]}`))
	}))
	defer srv.Close()

	inv := &Invocation{Vendor: "google", ModelID: "gemini-2.0-flash", BaseURL: srv.URL, APIKey: "gk", TimeoutMS: 5000}
	client := newTestClient(t, inv)
	_, err := client.RunTurn(context.Background(), []TurnMessage{{Role: "user", Content: "hi"}}, nil)
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.Code != ErrCodeModelInvalidResponse {
		t.Fatalf("error = %v, want MODEL_INVALID_RESPONSE", err)
	}
}

package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockLLMServer mimics the OpenAI chat completions API, answering from a
// Scenario. Point the gateway's model at it with provider "openai" and
// baseUrl set to URL().
type MockLLMServer struct {
	server   *httptest.Server
	scenario *Scenario
	ids      atomic.Int64

	mu       sync.Mutex
	requests []MockRequest
}

// MockRequest records an incoming request.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Body      map[string]any
}

type mockResponse struct {
	content   string
	toolCalls []toolCall
}

type toolCall struct {
	id        string
	name      string
	arguments string
}

// NewMockLLMServer starts a server playing s, or DefaultScenario when s is nil.
func NewMockLLMServer(s *Scenario) *MockLLMServer {
	if s == nil {
		s = DefaultScenario()
	}
	m := &MockLLMServer{scenario: s}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server's base URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Timestamp: time.Now(), Path: r.URL.Path, Body: req})
	m.mu.Unlock()

	resp := m.generateResponse(req)
	if stream, _ := req["stream"].(bool); stream {
		m.writeStreamingResponse(w, resp)
		return
	}
	m.writeResponse(w, resp)
}

// generateResponse answers a tool result with the after_tool rules and a
// user prompt with a tool rule or a text response.
func (m *MockLLMServer) generateResponse(req map[string]any) *mockResponse {
	messages, _ := req["messages"].([]any)
	if n := len(messages); n > 0 {
		if last, ok := messages[n-1].(map[string]any); ok && last["role"] == "tool" {
			output, _ := last["content"].(string)
			return &mockResponse{content: m.scenario.FindAfterTool(output)}
		}
	}

	prompt := lastUserPrompt(messages)
	if rule := m.scenario.FindToolRule(prompt, offeredTools(req)); rule != nil {
		id := rule.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", m.ids.Add(1))
		}
		return &mockResponse{
			content:   rule.Response,
			toolCalls: []toolCall{{id: id, name: rule.Tool, arguments: rule.ArgumentsJSON()}},
		}
	}

	content, _ := m.scenario.FindResponse(prompt)
	return &mockResponse{content: content}
}

func lastUserPrompt(messages []any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			return content
		}
	}
	return ""
}

func offeredTools(req map[string]any) []string {
	var names []string
	tools, _ := req["tools"].([]any)
	for _, t := range tools {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func (m *MockLLMServer) completionID() string {
	return fmt.Sprintf("chatcmpl-mock-%d", m.ids.Add(1))
}

func (m *MockLLMServer) writeResponse(w http.ResponseWriter, resp *mockResponse) {
	message := map[string]any{"role": "assistant", "content": resp.content}
	finish := "stop"
	if len(resp.toolCalls) > 0 {
		message["tool_calls"] = toolCallsJSON(resp.toolCalls, false)
		finish = "tool_calls"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      m.completionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
		"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
}

func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, resp *mockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	id := m.completionID()
	chunk := func(delta map[string]any, finish any) {
		data, _ := json.Marshal(map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt-4",
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		})
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	chunk(map[string]any{"role": "assistant"}, nil)

	delay := time.Duration(m.scenario.Settings.ChunkDelayMS) * time.Millisecond
	words := strings.Fields(resp.content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		chunk(map[string]any{"content": word}, nil)
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	finish := "stop"
	if len(resp.toolCalls) > 0 {
		chunk(map[string]any{"tool_calls": toolCallsJSON(resp.toolCalls, true)}, nil)
		finish = "tool_calls"
	}
	chunk(map[string]any{}, finish)
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func toolCallsJSON(calls []toolCall, indexed bool) []map[string]any {
	out := make([]map[string]any, len(calls))
	for i, tc := range calls {
		out[i] = map[string]any{
			"id":       tc.id,
			"type":     "function",
			"function": map[string]any{"name": tc.name, "arguments": tc.arguments},
		}
		if indexed {
			out[i]["index"] = i
		}
	}
	return out
}

package provider_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse is the scripted reply for prompts containing a keyword.
type MockResponse struct {
	Content   string
	ToolCalls []MockToolCall
}

// MockToolCall is a function call the mock model asks for.
type MockToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// MockRequest records an incoming request.
type MockRequest struct {
	Path    string
	Body    map[string]any
	Headers http.Header
}

// MockLLMServer mimics the OpenAI chat completions API with deterministic
// replies.
type MockLLMServer struct {
	server *httptest.Server

	// Responses are matched by keyword against the last user message.
	Responses map[string]MockResponse
	// AfterTool answers a request whose last message is a tool result.
	AfterTool MockResponse
	Fallback  string

	mu       sync.Mutex
	requests []MockRequest
}

// NewMockLLMServer starts the server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{
		Responses: map[string]MockResponse{},
		Fallback:  "I understand your request.",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockLLMServer) URL() string { return m.server.URL }

func (m *MockLLMServer) Close() { m.server.Close() }

// Requests returns a copy of everything received so far.
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
	m.requests = append(m.requests, MockRequest{Path: r.URL.Path, Body: req, Headers: r.Header})
	m.mu.Unlock()

	resp := m.respond(req)
	if stream, _ := req["stream"].(bool); stream {
		m.writeStreaming(w, resp)
		return
	}
	m.writeJSON(w, resp)
}

func (m *MockLLMServer) respond(req map[string]any) MockResponse {
	messages, _ := req["messages"].([]any)
	if len(messages) > 0 {
		if last, ok := messages[len(messages)-1].(map[string]any); ok && last["role"] == "tool" {
			return m.AfterTool
		}
	}

	prompt := ""
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		prompt, _ = msg["content"].(string)
		break
	}
	prompt = strings.ToLower(prompt)
	for key, resp := range m.Responses {
		if strings.Contains(prompt, strings.ToLower(key)) {
			return resp
		}
	}
	return MockResponse{Content: m.Fallback}
}

func (m *MockLLMServer) writeJSON(w http.ResponseWriter, resp MockResponse) {
	message := map[string]any{"role": "assistant", "content": resp.Content}
	finish := "stop"
	if len(resp.ToolCalls) > 0 {
		message["tool_calls"] = toolCallsJSON(resp.ToolCalls, false)
		finish = "tool_calls"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
		"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
}

func (m *MockLLMServer) writeStreaming(w http.ResponseWriter, resp MockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	chunk := func(delta map[string]any, finish any) {
		data, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt",
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		})
		_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	chunk(map[string]any{"role": "assistant"}, nil)
	words := strings.Fields(resp.Content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		chunk(map[string]any{"content": word}, nil)
	}
	finish := "stop"
	if len(resp.ToolCalls) > 0 {
		chunk(map[string]any{"tool_calls": toolCallsJSON(resp.ToolCalls, true)}, nil)
		finish = "tool_calls"
	}
	chunk(map[string]any{}, finish)
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func toolCallsJSON(calls []MockToolCall, indexed bool) []map[string]any {
	out := make([]map[string]any, len(calls))
	for i, tc := range calls {
		out[i] = map[string]any{
			"id":       tc.ID,
			"type":     "function",
			"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments},
		}
		if indexed {
			out[i]["index"] = i
		}
	}
	return out
}

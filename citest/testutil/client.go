package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestClient talks to a running gateway.
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a client for baseURL.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

// Response is a buffered HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs a GET request.
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// Session mirrors the gateway's session info.
type Session struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Sandbox   string `json:"sandbox"`
	Attempt   uint64 `json:"attempt"`
	LastError string `json:"lastError"`
	ErrorKind string `json:"errorKind"`
}

// CreateSession creates id and waits for it to be built.
func (c *TestClient) CreateSession(ctx context.Context, id string) (*Session, error) {
	resp, err := c.Post(ctx, "/session?wait=true", map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("create session: %d %s", resp.StatusCode, resp)
	}
	var s Session
	return &s, resp.JSON(&s)
}

// GetSession fetches a session's state.
func (c *TestClient) GetSession(ctx context.Context, id string) (*Session, error) {
	resp, err := c.Get(ctx, "/session/"+id)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("get session: %d %s", resp.StatusCode, resp)
	}
	var s Session
	return &s, resp.JSON(&s)
}

// DeleteSession closes a session.
func (c *TestClient) DeleteSession(ctx context.Context, id string) error {
	resp, err := c.Delete(ctx, "/session/"+id)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("delete session: %d %s", resp.StatusCode, resp)
	}
	return nil
}

// Op is one chat operation from a message stream.
type Op struct {
	Op      string `json:"op"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Answer is the outcome of one message.
type Answer struct {
	Ops   []Op
	Error string
	Kind  string
}

// Messages replays the ops into the final text of each message.
func (a *Answer) Messages() []string {
	var order []string
	content := map[string]*strings.Builder{}
	for _, op := range a.Ops {
		switch op.Op {
		case "send":
			order = append(order, op.ID)
			b := &strings.Builder{}
			b.WriteString(op.Content)
			content[op.ID] = b
		case "token":
			if b, ok := content[op.ID]; ok {
				b.WriteString(op.Content)
			}
		case "update":
			if b, ok := content[op.ID]; ok {
				b.Reset()
				b.WriteString(op.Content)
			}
		}
	}
	out := make([]string, len(order))
	for i, id := range order {
		out[i] = content[id].String()
	}
	return out
}

// Text joins every message of the answer.
func (a *Answer) Text() string {
	return strings.Join(a.Messages(), "\n")
}

// Ask sends text to a session and collects the streamed answer.
func (c *TestClient) Ask(ctx context.Context, id, text string) (*Answer, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/session/"+id+"/message", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ask: %d %s", resp.StatusCode, data)
	}

	var a Answer
	for evt, err := range ReadSSE(resp.Body) {
		if err != nil {
			return &a, err
		}
		switch evt.Event {
		case "op":
			var op Op
			if err := json.Unmarshal(evt.Data, &op); err != nil {
				return &a, err
			}
			a.Ops = append(a.Ops, op)
		case "done":
			var done struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			if err := json.Unmarshal(evt.Data, &done); err != nil {
				return &a, err
			}
			a.Error, a.Kind = done.Error, done.Kind
			return &a, nil
		}
	}
	return &a, fmt.Errorf("stream ended without a done event")
}

// Turn is one stored transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript fetches a session's stored conversation.
func (c *TestClient) Transcript(ctx context.Context, id string) ([]Turn, error) {
	resp, err := c.Get(ctx, "/session/"+id+"/message")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("transcript: %d %s", resp.StatusCode, resp)
	}
	var tr struct {
		Turns []Turn `json:"turns"`
	}
	return tr.Turns, resp.JSON(&tr)
}

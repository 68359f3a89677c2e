// Package agenttest provides a scripted chat model for tests.
package agenttest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model is a model.ToolCallingChatModel that replays scripted responses,
// one per Stream or Generate call. When the script runs out it answers
// Fallback.
type Model struct {
	mu       sync.Mutex
	script   []Response
	calls    int
	inputs   [][]*schema.Message
	tools    []*schema.ToolInfo
	Fallback string
}

// Response is one scripted model call. Err fails the call itself; Chunks
// are streamed otherwise.
type Response struct {
	Chunks []*schema.Message
	Err    error
}

// NewModel creates a Model that plays responses in order.
func NewModel(responses ...Response) *Model {
	return &Model{script: responses, Fallback: "Done."}
}

// Text streams parts as separate content chunks.
func Text(parts ...string) Response {
	chunks := make([]*schema.Message, len(parts))
	for i, p := range parts {
		chunks[i] = &schema.Message{Role: schema.Assistant, Content: p}
	}
	return Response{Chunks: chunks}
}

// ToolCall asks for one tool, optionally preceded by text.
func ToolCall(id, name, args string, text ...string) Response {
	r := Text(text...)
	idx := 0
	r.Chunks = append(r.Chunks, &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index:    &idx,
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	})
	return r
}

// Fail makes the call return err.
func Fail(err error) Response {
	return Response{Err: err}
}

func (m *Model) next(input []*schema.Message) Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	i := m.calls
	m.calls++
	if i < len(m.script) {
		return m.script[i]
	}
	return Text(m.Fallback)
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	r := m.next(input)
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Chunks) == 0 {
		return nil, errors.New("agenttest: empty response")
	}
	return schema.ConcatMessages(r.Chunks)
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	r := m.next(input)
	if r.Err != nil {
		return nil, r.Err
	}
	return schema.StreamReaderFromArray(r.Chunks), nil
}

// WithTools records the bound tools and returns the same scripted model.
func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append([]*schema.ToolInfo(nil), tools...)
	return m, nil
}

// Calls reports how many model calls were made.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns the messages each call received.
func (m *Model) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

// BoundTools returns the names of the tools last bound.
func (m *Model) BoundTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.tools))
	for i, t := range m.tools {
		names[i] = t.Name
	}
	return names
}

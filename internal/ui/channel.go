// Package ui defines the outbound side of a chat connection.
package ui

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Handle identifies a message already sent to the user so later operations
// can extend or replace it.
type Handle string

// Channel sends messages to one user's chat view.
type Channel interface {
	// Send posts a new message and returns its handle.
	Send(ctx context.Context, content string) (Handle, error)
	// StreamToken appends token to the message.
	StreamToken(ctx context.Context, h Handle, token string) error
	// Update replaces the message content, finalizing it.
	Update(ctx context.Context, h Handle, content string) error
}

// OpKind names a Channel operation.
type OpKind string

const (
	OpSend   OpKind = "send"
	OpToken  OpKind = "token"
	OpUpdate OpKind = "update"
)

// Op is one Channel operation in wire form.
type Op struct {
	Kind    OpKind `json:"op"`
	Handle  Handle `json:"id"`
	Content string `json:"content"`
}

// ErrClosed is returned by operations on a closed OpChannel.
var ErrClosed = errors.New("ui: channel closed")

// OpChannel turns Channel calls into Ops handed to emit, in call order. It is
// the basis of the SSE and WebSocket transports.
type OpChannel struct {
	mu     sync.Mutex
	emit   func(Op) error
	closed bool
}

// NewOpChannel creates a channel that passes every operation to emit.
func NewOpChannel(emit func(Op) error) *OpChannel {
	return &OpChannel{emit: emit}
}

func (c *OpChannel) Send(ctx context.Context, content string) (Handle, error) {
	h := Handle(ulid.Make().String())
	return h, c.do(ctx, Op{Kind: OpSend, Handle: h, Content: content})
}

func (c *OpChannel) StreamToken(ctx context.Context, h Handle, token string) error {
	return c.do(ctx, Op{Kind: OpToken, Handle: h, Content: token})
}

func (c *OpChannel) Update(ctx context.Context, h Handle, content string) error {
	return c.do(ctx, Op{Kind: OpUpdate, Handle: h, Content: content})
}

// Close makes later operations fail with ErrClosed.
func (c *OpChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *OpChannel) do(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.emit(op)
}

// Recorder is a Channel that keeps every operation. Tests use it to inspect
// what a user would have seen.
type Recorder struct {
	*OpChannel
	mu  sync.Mutex
	ops []Op
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.OpChannel = NewOpChannel(func(op Op) error {
		r.mu.Lock()
		r.ops = append(r.ops, op)
		r.mu.Unlock()
		return nil
	})
	return r
}

// Ops returns a copy of the recorded operations.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Messages replays the operations and returns the final content of each
// message in the order it was first sent.
func (r *Recorder) Messages() []string {
	var order []Handle
	content := map[Handle]string{}
	for _, op := range r.Ops() {
		switch op.Kind {
		case OpSend:
			order = append(order, op.Handle)
			content[op.Handle] = op.Content
		case OpToken:
			content[op.Handle] += op.Content
		case OpUpdate:
			content[op.Handle] = op.Content
		}
	}
	out := make([]string, len(order))
	for i, h := range order {
		out[i] = content[h]
	}
	return out
}

// Tokens returns the concatenation of every streamed token.
func (r *Recorder) Tokens() string {
	var s string
	for _, op := range r.Ops() {
		if op.Kind == OpToken {
			s += op.Content
		}
	}
	return s
}

// Count returns how many operations of kind were recorded.
func (r *Recorder) Count(kind OpKind) int {
	n := 0
	for _, op := range r.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

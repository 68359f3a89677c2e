package session

import (
	"context"
	"errors"

	"github.com/sergioferragut/data-chat/internal/agent"
	"github.com/sergioferragut/data-chat/internal/mcp"
	"github.com/sergioferragut/data-chat/internal/sandbox"
	"github.com/sergioferragut/data-chat/internal/tool"
)

var (
	// ErrInitializationTimeout is the cause of an InitializationTimeout
	// failure: another caller's initialization did not finish in time.
	ErrInitializationTimeout = errors.New("session initialization timed out")

	// ErrClosed is returned once the manager has shut down or the session
	// was closed while it was being initialized.
	ErrClosed = errors.New("session: closed")
)

// State is a session's position in its lifecycle.
//
//	Empty -> Initializing -> Ready
//	Initializing -> Failed -> Empty
//	Ready -> Empty (Invalidate)
type State int

const (
	Empty State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Provisioner names and removes per-session sandboxes.
type Provisioner interface {
	Provision(ctx context.Context, sessionID, previous string) sandbox.Assignment
	Teardown(ctx context.Context, name string) error
}

// Conn is a live connection to a session's sandbox.
type Conn interface {
	Tools(ctx context.Context) ([]tool.Tool, error)
	Close() error
	Alive() bool
}

// Dialer brings up the connection for a sandbox assignment.
type Dialer interface {
	Dial(ctx context.Context, a sandbox.Assignment) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, a sandbox.Assignment) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, a sandbox.Assignment) (Conn, error) {
	return f(ctx, a)
}

// MCPDialer adapts an mcp.SandboxDialer.
func MCPDialer(d *mcp.SandboxDialer) Dialer {
	return DialerFunc(func(ctx context.Context, a sandbox.Assignment) (Conn, error) {
		conn, err := d.Dial(ctx, a)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// AgentBuilder creates the agent for a session from its tools.
type AgentBuilder interface {
	Build(ctx context.Context, sessionID string, tools *tool.Set) (*agent.Agent, error)
}

// ToolSource contributes a tool group after the sandbox tools. A failing
// source is skipped.
type ToolSource interface {
	Name() string
	Tools(ctx context.Context, sessionID string) ([]tool.Tool, error)
}

// Info is a snapshot of a session for status reporting.
type Info struct {
	ID        string `json:"id"`
	State     State  `json:"state"`
	Sandbox   string `json:"sandbox,omitempty"`
	Attempt   uint64 `json:"attempt"`
	LastError string `json:"lastError,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Created   int64  `json:"created"`
}

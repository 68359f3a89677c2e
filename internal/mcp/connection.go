package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sergioferragut/data-chat/internal/logging"
)

// Connection is a transport and the MCP control session on top of it. Dial
// brings both up together and Close tears both down together; the layers are
// never exposed separately.
type Connection struct {
	name    string
	session *sdkmcp.ClientSession
	info    *ServerInfo

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

type dialOptions struct {
	name          string
	clientName    string
	clientVersion string
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithName labels the connection in logs, usually with the sandbox name.
func WithName(name string) DialOption {
	return func(o *dialOptions) { o.name = name }
}

// WithClientInfo sets the implementation name sent in the handshake.
func WithClientInfo(name, version string) DialOption {
	return func(o *dialOptions) {
		o.clientName = name
		o.clientVersion = version
	}
}

// Dial connects transport and performs the initialize handshake. On failure
// nothing is left open.
func Dial(ctx context.Context, transport sdkmcp.Transport, opts ...DialOption) (*Connection, error) {
	o := dialOptions{clientName: "datachat", clientVersion: "1.0.0"}
	for _, opt := range opts {
		opt(&o)
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    o.clientName,
		Version: o.clientVersion,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp handshake: %w", err)
	}

	c := &Connection{
		name:    o.name,
		session: session,
		done:    make(chan struct{}),
	}
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		c.info = &ServerInfo{Name: res.ServerInfo.Name, Version: res.ServerInfo.Version}
	}

	go c.watch()
	return c, nil
}

// DialCommand starts cmd and connects to it over stdio. If the handshake
// fails the process is killed.
func DialCommand(ctx context.Context, cmd *exec.Cmd, opts ...DialOption) (*Connection, error) {
	conn, err := Dial(ctx, &sdkmcp.CommandTransport{Command: cmd}, opts...)
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			// Reap the process so its stderr is fully copied before the
			// caller reads it. Errors only mean Wait already ran.
			_ = cmd.Wait()
		}
		return nil, err
	}
	return conn, nil
}

// watch marks the connection closed when the session ends on its own, for
// example when the sandbox process exits.
func (c *Connection) watch() {
	err := c.session.Wait()
	if c.closed.CompareAndSwap(false, true) {
		logging.Warn().Err(err).Str("sandbox", c.name).Msg("mcp session ended")
	}
	close(c.done)
}

// Name returns the connection label.
func (c *Connection) Name() string {
	return c.name
}

// ServerInfo returns what the server reported in the handshake, or nil.
func (c *Connection) ServerInfo() *ServerInfo {
	return c.info
}

// Alive reports whether the connection can still carry calls.
func (c *Connection) Alive() bool {
	return !c.closed.Load()
}

// Done is closed once the underlying session has ended.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Connection) ListTools(ctx context.Context) ([]Tool, error) {
	if !c.Alive() {
		return nil, ErrConnectionClosed
	}

	var tools []Tool
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, c.wrap("list tools", err)
		}
		for _, t := range res.Tools {
			tools = append(tools, fromSDKTool(t))
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &sdkmcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// CallTool invokes a tool. A protocol or transport failure is an error; a
// tool that reports failure yields a CallResult with IsError set.
func (c *Connection) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	if !c.Alive() {
		return nil, ErrConnectionClosed
	}

	var argsMap map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return &CallResult{Text: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}

	res, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, c.wrap("call "+name, err)
	}

	var out strings.Builder
	for _, content := range res.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(text.Text)
		}
	}
	result := &CallResult{Text: out.String(), IsError: res.IsError}
	if result.IsError && result.Text == "" {
		result.Text = "tool execution failed"
	}
	return result, nil
}

// Close ends the control session and the transport. It is safe to call more
// than once; later calls return the first result.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *Connection) wrap(op string, err error) error {
	if !c.Alive() || errors.Is(err, ErrConnectionClosed) {
		return fmt.Errorf("%s: %w: %v", op, ErrConnectionClosed, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func fromSDKTool(t *sdkmcp.Tool) Tool {
	out := Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			out.InputSchema = raw
		}
	}
	if len(out.InputSchema) == 0 || string(out.InputSchema) == "null" {
		out.InputSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

package mcp

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/sergioferragut/data-chat/internal/tool"
)

// caller is the part of Connection a wrapped tool needs.
type caller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error)
}

// ToolWrapper exposes a sandbox tool as a tool.Tool so it can join a tool
// set next to local tools.
type ToolWrapper struct {
	mcpTool Tool
	conn    caller
}

// NewToolWrapper wraps mcpTool, executing it through conn.
func NewToolWrapper(mcpTool Tool, conn caller) *ToolWrapper {
	return &ToolWrapper{mcpTool: mcpTool, conn: conn}
}

func (w *ToolWrapper) ID() string                  { return w.mcpTool.Name }
func (w *ToolWrapper) Description() string         { return w.mcpTool.Description }
func (w *ToolWrapper) Parameters() json.RawMessage { return w.mcpTool.InputSchema }

// Execute calls the tool in the sandbox. Tool-reported failures come back as
// output so the model can react to them; only transport failures are errors.
func (w *ToolWrapper) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	res, err := w.conn.CallTool(ctx, w.mcpTool.Name, input)
	if err != nil {
		return nil, err
	}

	output := res.Text
	if res.IsError {
		output = "Error: " + res.Text
	}
	return &tool.Result{
		Title:    w.mcpTool.Name,
		Output:   output,
		IsError:  res.IsError,
		Metadata: map[string]any{"type": "mcp"},
	}, nil
}

func (w *ToolWrapper) EinoTool() einotool.InvokableTool {
	return tool.NewEinoTool(w)
}

// Tools lists the sandbox's tools wrapped for a tool set, in server order.
func (c *Connection) Tools(ctx context.Context) ([]tool.Tool, error) {
	listed, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]tool.Tool, len(listed))
	for i, t := range listed {
		tools[i] = NewToolWrapper(t, c)
	}
	return tools, nil
}

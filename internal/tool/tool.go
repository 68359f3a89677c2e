// Package tool provides the tool framework for LLM tool execution.
package tool

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier the model calls it by.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute executes the tool with the given input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)

	// EinoTool returns an Eino-compatible tool implementation.
	EinoTool() einotool.InvokableTool
}

// Context provides execution context to tools.
type Context struct {
	SessionID string
	CallID    string
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// IsError marks output the tool produced for a failed call. The model
	// still sees it so it can correct itself.
	IsError bool `json:"isError,omitempty"`
}

// BaseTool provides a base implementation for tools.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                  { return t.id }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}

// EinoTool returns an Eino-compatible tool implementation.
func (t *BaseTool) EinoTool() einotool.InvokableTool {
	return NewEinoTool(t)
}

// NewEinoTool adapts any Tool to Eino's InvokableTool interface.
func NewEinoTool(t Tool) einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

type einoToolWrapper struct {
	tool Tool
}

func (w *einoToolWrapper) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return Info(w.tool), nil
}

func (w *einoToolWrapper) InvokableRun(ctx context.Context, argsJSON string, opts ...einotool.Option) (string, error) {
	result, err := w.tool.Execute(ctx, json.RawMessage(argsJSON), &Context{})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// Info builds the Eino tool description for t.
func Info(t Tool) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.ID(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(ParseParams(t.Parameters())),
	}
}

type jsonSchemaNode struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description"`
	Enum        []any                      `json:"enum"`
	Items       *jsonSchemaNode            `json:"items"`
	Properties  map[string]*jsonSchemaNode `json:"properties"`
	Required    []string                   `json:"required"`
}

// ParseParams converts a JSON Schema object into Eino parameter infos,
// following nested objects and array items. Returns nil for invalid input.
func ParseParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	if len(schemaJSON) == 0 {
		return nil
	}
	var root jsonSchemaNode
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil
	}
	return convertProperties(&root)
}

func convertProperties(node *jsonSchemaNode) map[string]*schema.ParameterInfo {
	if len(node.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(node.Required))
	for _, r := range node.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(node.Properties))
	for name, prop := range node.Properties {
		if prop == nil {
			continue
		}
		info := convertNode(prop)
		info.Required = required[name]
		params[name] = info
	}
	return params
}

func convertNode(node *jsonSchemaNode) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: dataType(node.Type),
		Desc: node.Description,
	}
	for _, v := range node.Enum {
		if s, ok := v.(string); ok {
			info.Enum = append(info.Enum, s)
		}
	}
	switch info.Type {
	case schema.Array:
		if node.Items != nil {
			info.ElemInfo = convertNode(node.Items)
		}
	case schema.Object:
		info.SubParams = convertProperties(node)
	}
	return info
}

func dataType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	case "null":
		return schema.Null
	default:
		return schema.String
	}
}

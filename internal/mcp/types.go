package mcp

import (
	"encoding/json"
	"errors"
)

// ErrConnectionClosed is returned for calls on a connection whose transport
// or control session has ended.
var ErrConnectionClosed = errors.New("mcp: connection closed")

// Tool describes a tool advertised by the sandbox.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerInfo identifies the server at the other end of a connection.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CallResult is the text output of one tool call. IsError is set when the
// tool itself reported failure; the call still succeeded at the protocol level.
type CallResult struct {
	Text    string
	IsError bool
}

// Package mcp connects to the MCP server running inside a session's sandbox
// using the official MCP Go SDK.
//
// A Connection owns both the stdio transport and the control session layered
// on it. Dial starts the transport and performs the initialize handshake in
// one step, and Close reverses both. Callers never see the layers apart, so
// there is no state where a session exists without its transport or the
// other way round.
//
// # Usage
//
//	dialer := &mcp.SandboxDialer{
//		Runtime: sandbox.NewDocker("docker", 10*time.Second),
//		Image:   "ghcr.io/firebolt-db/mcp-server:0.4.0",
//		Env:     env,
//	}
//	conn, err := dialer.Dial(ctx, assignment)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	tools, err := conn.Tools(ctx)
//
// Tools returns tool.Tool values that call back into the connection, ready
// to be placed in a tool.Set.
//
// # Failures
//
// Calls on a connection whose session has ended return ErrConnectionClosed,
// wrapped with the operation. A tool that reports an error is not a Go error:
// its text is returned as output so the model can adjust its next call.
package mcp

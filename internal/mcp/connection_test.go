package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergioferragut/data-chat/pkg/mcpserver/fixture"
)

// pipeServer runs the fixture server in-process and returns a connected
// Connection plus a func that kills the server side.
func pipeServer(t *testing.T) (*Connection, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	stdio := server.NewStdioServer(fixture.NewServer(fixture.DefaultCatalogue()))
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	serverCtx, stopServer := context.WithCancel(context.Background())
	go func() {
		_ = stdio.Listen(serverCtx, serverReader, serverWriter)
	}()

	conn, err := Dial(ctx, &sdkmcp.IOTransport{Reader: clientReader, Writer: clientWriter}, WithName("firebolt-mcp-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	kill := func() {
		stopServer()
		_ = serverWriter.Close()
		_ = serverReader.Close()
	}
	t.Cleanup(kill)
	return conn, kill
}

func TestDial_Handshake(t *testing.T) {
	conn, _ := pipeServer(t)

	assert.True(t, conn.Alive())
	assert.Equal(t, "firebolt-mcp-test", conn.Name())
	require.NotNil(t, conn.ServerInfo())
	assert.Equal(t, "warehouse-fixture", conn.ServerInfo().Name)
}

func TestConnection_Tools(t *testing.T) {
	conn, _ := pipeServer(t)
	ctx := context.Background()

	tools, err := conn.Tools(ctx)
	require.NoError(t, err)

	ids := make([]string, len(tools))
	for i, tl := range tools {
		ids[i] = tl.ID()
	}
	assert.ElementsMatch(t, []string{"list_tables", "describe_table", "run_query"}, ids)

	for _, tl := range tools {
		if tl.ID() != "run_query" {
			continue
		}
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tl.Parameters(), &schema))
		assert.Equal(t, "object", schema["type"])

		res, err := tl.Execute(ctx, json.RawMessage(`{"sql":"SELECT COUNT(*) FROM customers"}`), nil)
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.JSONEq(t, `[{"count":3}]`, res.Output)

		res, err = tl.Execute(ctx, json.RawMessage(`{"sql":"SELECT * FROM missing_table"}`), nil)
		require.NoError(t, err, "tool-level failures are output, not errors")
		assert.True(t, res.IsError)
		assert.Equal(t, `Error: relation "missing_table" does not exist`, res.Output)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn, _ := pipeServer(t)

	first := conn.Close()
	assert.Equal(t, first, conn.Close())
	assert.False(t, conn.Alive())

	_, err := conn.CallTool(context.Background(), "list_tables", nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = conn.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_DetectsServerExit(t *testing.T) {
	conn, kill := pipeServer(t)
	kill()

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session end not observed")
	}
	assert.False(t, conn.Alive())

	_, err := conn.CallTool(context.Background(), "list_tables", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestConnection_InvalidArguments(t *testing.T) {
	conn, _ := pipeServer(t)

	res, err := conn.CallTool(context.Background(), "run_query", json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "invalid arguments")
}

func TestFromSDKTool_DefaultSchema(t *testing.T) {
	got := fromSDKTool(&sdkmcp.Tool{Name: "ping", Description: "pong"})
	assert.Equal(t, "ping", got.Name)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(got.InputSchema))
}

type fakeCaller struct {
	result *CallResult
	err    error
	name   string
	args   string
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	f.name, f.args = name, string(args)
	return f.result, f.err
}

func TestToolWrapper(t *testing.T) {
	fc := &fakeCaller{result: &CallResult{Text: "ok"}}
	w := NewToolWrapper(Tool{
		Name:        "describe_table",
		Description: "Returns the columns of a table",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`),
	}, fc)

	out, err := w.EinoTool().InvokableRun(context.Background(), `{"table":"orders"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "describe_table", fc.name)
	assert.Equal(t, `{"table":"orders"}`, fc.args)

	info, err := w.EinoTool().Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "describe_table", info.Name)

	fc.err = errors.New("call describe_table: mcp: connection closed")
	_, err = w.Execute(context.Background(), json.RawMessage(`{}`), nil)
	assert.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 8}
	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", b.String())
	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
}

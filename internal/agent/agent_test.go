package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergioferragut/data-chat/internal/agent/agenttest"
	"github.com/sergioferragut/data-chat/internal/tool"
)

func noWait(ctx context.Context) backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func collect(t *testing.T, sr *schema.StreamReader[Event]) ([]Event, error) {
	t.Helper()
	defer sr.Close()
	var events []Event
	for {
		ev, err := sr.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func queryTool(calls *int, result *tool.Result, err error) tool.Tool {
	return tool.NewBaseTool("run_query", "Run SQL",
		json.RawMessage(`{"type":"object","properties":{"sql":{"type":"string"}},"required":["sql"]}`),
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			*calls++
			return result, err
		})
}

func TestAgent_TextOnly(t *testing.T) {
	m := agenttest.NewModel(agenttest.Text("Hello ", "World"))
	a, err := New(m, nil, "be brief", WithBackoff(noWait))
	require.NoError(t, err)

	events, err := collect(t, a.Stream(context.Background(), nil, "hi"))
	require.NoError(t, err)
	assert.Equal(t, []Event{TextEvent{Text: "Hello "}, TextEvent{Text: "World"}}, events)

	inputs := m.Inputs()
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0], 2)
	assert.Equal(t, schema.System, inputs[0][0].Role)
	assert.Equal(t, "be brief", inputs[0][0].Content)
	assert.Equal(t, "hi", inputs[0][1].Content)
}

func TestAgent_HistoryPrecedesInput(t *testing.T) {
	m := agenttest.NewModel(agenttest.Text("ok"))
	a, err := New(m, nil, "", WithBackoff(noWait))
	require.NoError(t, err)

	history := []*schema.Message{schema.UserMessage("first"), schema.AssistantMessage("reply", nil)}
	_, err = collect(t, a.Stream(context.Background(), history, "second"))
	require.NoError(t, err)

	in := m.Inputs()[0]
	require.Len(t, in, 3)
	assert.Equal(t, "first", in[0].Content)
	assert.Equal(t, "second", in[2].Content)
}

func TestAgent_ToolLoop(t *testing.T) {
	var calls int
	tools := tool.NewSet([]tool.Tool{queryTool(&calls, &tool.Result{Output: `[{"count":3}]`}, nil)})
	m := agenttest.NewModel(
		agenttest.ToolCall("call_1", "run_query", `{"sql":"SELECT COUNT(*) FROM customers"}`),
		agenttest.Text("There are 3 customers."),
	)
	a, err := New(m, tools, "", WithBackoff(noWait), WithSessionID("s1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"run_query"}, m.BoundTools())

	events, err := collect(t, a.Stream(context.Background(), nil, "how many customers?"))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ToolCallEvent{CallID: "call_1", Name: "run_query", Arguments: `{"sql":"SELECT COUNT(*) FROM customers"}`}, events[0])
	assert.Equal(t, ToolResultEvent{CallID: "call_1", Name: "run_query", Output: `[{"count":3}]`}, events[1])
	assert.Equal(t, TextEvent{Text: "There are 3 customers."}, events[2])
	assert.Equal(t, 1, calls)

	inputs := m.Inputs()
	require.Len(t, inputs, 2)
	last := inputs[1][len(inputs[1])-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, `[{"count":3}]`, last.Content)
}

func TestAgent_ToolErrorOutputContinuesTurn(t *testing.T) {
	var calls int
	tools := tool.NewSet([]tool.Tool{queryTool(&calls, &tool.Result{Output: `Error: relation "x" does not exist`, IsError: true}, nil)})
	m := agenttest.NewModel(
		agenttest.ToolCall("call_1", "run_query", `{"sql":"SELECT * FROM x"}`),
		agenttest.Text("That table does not exist."),
	)
	a, err := New(m, tools, "", WithBackoff(noWait))
	require.NoError(t, err)

	events, err := collect(t, a.Stream(context.Background(), nil, "query x"))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[1].(ToolResultEvent).IsError)
	assert.Equal(t, 2, m.Calls())
}

func TestAgent_ToolTransportErrorEndsTurn(t *testing.T) {
	var calls int
	tools := tool.NewSet([]tool.Tool{queryTool(&calls, nil, errors.New("call run_query: mcp: connection closed"))})
	m := agenttest.NewModel(agenttest.ToolCall("call_1", "run_query", `{}`))
	a, err := New(m, tools, "", WithBackoff(noWait))
	require.NoError(t, err)

	events, err := collect(t, a.Stream(context.Background(), nil, "q"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
	assert.Len(t, events, 1, "only the tool call event precedes the failure")
}

func TestAgent_UnknownToolIsReportedToModel(t *testing.T) {
	m := agenttest.NewModel(
		agenttest.ToolCall("call_1", "drop_everything", `{}`),
		agenttest.Text("Sorry."),
	)
	a, err := New(m, nil, "", WithBackoff(noWait))
	require.NoError(t, err)

	events, err := collect(t, a.Stream(context.Background(), nil, "q"))
	require.NoError(t, err)
	res := events[1].(ToolResultEvent)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "unknown tool")
}

func TestAgent_RetriesStreamCreation(t *testing.T) {
	m := agenttest.NewModel(
		agenttest.Fail(errors.New("ThrottlingException: rate exceeded")),
		agenttest.Text("ok"),
	)
	a, err := New(m, nil, "", WithBackoff(noWait))
	require.NoError(t, err)

	events, err := collect(t, a.Stream(context.Background(), nil, "q"))
	require.NoError(t, err)
	assert.Equal(t, []Event{TextEvent{Text: "ok"}}, events)
	assert.Equal(t, 2, m.Calls())
}

func TestAgent_GivesUpAfterRetries(t *testing.T) {
	boom := errors.New("ExpiredTokenException: The security token included in the request is expired")
	m := agenttest.NewModel(agenttest.Fail(boom), agenttest.Fail(boom), agenttest.Fail(boom))
	a, err := New(m, nil, "", WithBackoff(noWait))
	require.NoError(t, err)

	_, err = collect(t, a.Stream(context.Background(), nil, "q"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, m.Calls())
}

func TestAgent_MaxSteps(t *testing.T) {
	var calls int
	tools := tool.NewSet([]tool.Tool{queryTool(&calls, &tool.Result{Output: "[]"}, nil)})
	m := agenttest.NewModel(
		agenttest.ToolCall("c1", "run_query", `{}`),
		agenttest.ToolCall("c2", "run_query", `{}`),
		agenttest.ToolCall("c3", "run_query", `{}`),
	)
	a, err := New(m, tools, "", WithBackoff(noWait), WithMaxSteps(2))
	require.NoError(t, err)

	_, err = collect(t, a.Stream(context.Background(), nil, "loop"))
	assert.ErrorIs(t, err, ErrMaxSteps)
	assert.Equal(t, 2, calls)
}

func TestAgent_ReaderCloseStopsTurn(t *testing.T) {
	m := agenttest.NewModel(agenttest.Text("a", "b", "c"))
	a, err := New(m, nil, "", WithBackoff(noWait))
	require.NoError(t, err)

	sr := a.Stream(context.Background(), nil, "q")
	ev, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, TextEvent{Text: "a"}, ev)
	sr.Close()
}

func TestNew_NilModel(t *testing.T) {
	_, err := New(nil, nil, "")
	assert.Error(t, err)
}

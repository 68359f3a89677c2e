package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/tool"
)

const (
	// MaxSteps is the maximum number of model calls in one turn.
	MaxSteps = 25
	// MaxRetries is the maximum number of retries when opening a model stream.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 15 * time.Second
)

// ErrMaxSteps is returned through the event stream when a turn keeps asking
// for tools past the step limit.
var ErrMaxSteps = errors.New("agent: maximum steps reached")

// Agent is a chat model bound to a fixed tool set and instruction. It is
// immutable; a session that needs different tools gets a new Agent.
type Agent struct {
	model       model.ToolCallingChatModel
	tools       *tool.Set
	instruction string
	sessionID   string
	maxSteps    int
	newBackoff  func(ctx context.Context) backoff.BackOff
}

// Option configures New.
type Option func(*Agent)

// WithSessionID tags logs and tool calls with the owning session.
func WithSessionID(id string) Option {
	return func(a *Agent) { a.sessionID = id }
}

// WithMaxSteps overrides MaxSteps.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithBackoff replaces the retry policy used when opening model streams.
func WithBackoff(f func(ctx context.Context) backoff.BackOff) Option {
	return func(a *Agent) { a.newBackoff = f }
}

// New binds tools to chatModel. The model passed in is not modified.
func New(chatModel model.ToolCallingChatModel, tools *tool.Set, instruction string, opts ...Option) (*Agent, error) {
	if chatModel == nil {
		return nil, errors.New("agent: nil chat model")
	}
	if tools == nil {
		tools = tool.NewSet()
	}

	a := &Agent{
		tools:       tools,
		instruction: instruction,
		maxSteps:    MaxSteps,
		newBackoff:  newRetryBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.model = chatModel
	if tools.Len() > 0 {
		bound, err := chatModel.WithTools(tools.ToolInfos())
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		a.model = bound
	}
	return a, nil
}

// Tools returns the tool set the agent was built with.
func (a *Agent) Tools() *tool.Set { return a.tools }

// Instruction returns the system instruction.
func (a *Agent) Instruction() string { return a.instruction }

// Stream runs one turn for input on top of history and returns its events.
// Model and tool failures end the stream with an error from Recv. Tool
// output flagged as an error is not a failure; the model sees it and the
// turn continues. The caller must Close the reader.
func (a *Agent) Stream(ctx context.Context, history []*schema.Message, input string) *schema.StreamReader[Event] {
	messages := make([]*schema.Message, 0, len(history)+2)
	if a.instruction != "" {
		messages = append(messages, schema.SystemMessage(a.instruction))
	}
	messages = append(messages, history...)
	messages = append(messages, schema.UserMessage(input))

	sr, sw := schema.Pipe[Event](16)
	go func() {
		defer sw.Close()
		if err := a.run(ctx, messages, sw); err != nil {
			sw.Send(nil, err)
		}
	}()
	return sr
}

// errReaderClosed stops the loop once nobody is reading.
var errReaderClosed = errors.New("agent: reader closed")

func (a *Agent) run(ctx context.Context, messages []*schema.Message, sw *schema.StreamWriter[Event]) error {
	log := logging.ForSession(a.sessionID)

	for step := 0; step < a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := a.step(ctx, messages, sw)
		if err != nil {
			if errors.Is(err, errReaderClosed) {
				return nil
			}
			return err
		}
		if len(msg.ToolCalls) == 0 {
			return nil
		}
		messages = append(messages, msg)

		for _, call := range msg.ToolCalls {
			if sw.Send(ToolCallEvent{CallID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments}, nil) {
				return nil
			}

			result, err := a.execute(ctx, call)
			if err != nil {
				log.Error().Err(err).Str("tool", call.Function.Name).Msg("tool call failed")
				return fmt.Errorf("tool %s: %w", call.Function.Name, err)
			}

			if sw.Send(ToolResultEvent{
				CallID:  call.ID,
				Name:    call.Function.Name,
				Output:  result.Output,
				IsError: result.IsError,
			}, nil) {
				return nil
			}
			messages = append(messages, schema.ToolMessage(result.Output, call.ID))
		}
	}

	log.Warn().Int("steps", a.maxSteps).Msg("turn stopped at step limit")
	return ErrMaxSteps
}

// step streams one model response, forwarding text as it arrives, and
// returns the assembled message.
func (a *Agent) step(ctx context.Context, messages []*schema.Message, sw *schema.StreamWriter[Event]) (*schema.Message, error) {
	stream, err := a.openStream(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if sw.Send(TextEvent{Text: chunk.Content}, nil) {
				return nil, errReaderClosed
			}
		}
	}

	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("assemble model response: %w", err)
	}
	return msg, nil
}

func (a *Agent) openStream(ctx context.Context, messages []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	log := logging.ForSession(a.sessionID)
	var stream *schema.StreamReader[*schema.Message]
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		stream, err = a.model.Stream(ctx, messages)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("model stream failed")
		}
		return err
	}, a.newBackoff(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return stream, nil
}

func (a *Agent) execute(ctx context.Context, call schema.ToolCall) (*tool.Result, error) {
	t, ok := a.tools.Get(call.Function.Name)
	if !ok {
		return &tool.Result{Output: fmt.Sprintf("Error: unknown tool %q", call.Function.Name), IsError: true}, nil
	}

	args := json.RawMessage(call.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return t.Execute(ctx, args, &tool.Context{SessionID: a.sessionID, CallID: call.ID})
}

// newRetryBackoff creates a new exponential backoff with jitter for API retries.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/sergioferragut/data-chat/internal/agent"
	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/ui"
)

// Placeholder is sent when a turn produced no visible text.
const Placeholder = "I'm processing your request. If you don't see a response, the agent may be waiting for tool execution."

// ErrDelivery marks failures of the UI channel, as opposed to the agent.
var ErrDelivery = errors.New("delivery failed")

// ToolErrorKeywords flag tool output worth an error-level log line.
var ToolErrorKeywords = []string{"error", "failed", "does not exist"}

const (
	toolLogLimit      = 500
	toolErrorLogLimit = 1000
)

// Result describes what a run showed the user.
type Result struct {
	// Text is every visible fragment, concatenated.
	Text string
	// Handle is the streamed message, empty if nothing was streamed.
	Handle ui.Handle
	// Placeholder is set when the placeholder message was sent instead.
	Placeholder bool
	// Events counts every event received, shown or not.
	Events int
}

// Pipeline moves agent events to a UI channel.
type Pipeline struct {
	Filter      Filter
	Placeholder string
}

// NewPipeline returns a pipeline with the default filter and placeholder.
func NewPipeline() *Pipeline {
	return &Pipeline{Filter: DefaultFilter(), Placeholder: Placeholder}
}

// Run drains sr into ch. Visible text is streamed as it arrives into a
// single message that is finalized when the stream ends. Tool events are
// only logged. When the agent fails mid-turn, any text already shown is
// finalized and the agent's error is returned with the partial Result.
func (p *Pipeline) Run(ctx context.Context, sessionID string, sr *schema.StreamReader[agent.Event], ch ui.Channel) (Result, error) {
	defer sr.Close()
	log := logging.ForSession(sessionID)

	var (
		res  Result
		text strings.Builder
	)

	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Text = text.String()
			if res.Handle != "" {
				if uerr := ch.Update(ctx, res.Handle, res.Text); uerr != nil {
					log.Warn().Err(uerr).Msg("failed to finalize partial response")
				}
			}
			return res, err
		}
		res.Events++

		switch ev := ev.(type) {
		case agent.TextEvent:
			if !p.Filter.Visible(ev.Text) {
				log.Debug().Str("fragment", ev.Text).Msg("suppressed internal fragment")
				continue
			}
			if res.Handle == "" {
				h, err := ch.Send(ctx, "")
				if err != nil {
					return res, fmt.Errorf("open response message: %w: %w", ErrDelivery, err)
				}
				res.Handle = h
			}
			if err := ch.StreamToken(ctx, res.Handle, ev.Text); err != nil {
				res.Text = text.String()
				return res, fmt.Errorf("stream token: %w: %w", ErrDelivery, err)
			}
			text.WriteString(ev.Text)

		case agent.ToolCallEvent:
			log.Info().Str("tool", ev.Name).Str("call", ev.CallID).Str("args", truncate(ev.Arguments, toolLogLimit)).Msg("tool call")

		case agent.ToolResultEvent:
			log.Info().Str("tool", ev.Name).Bool("isError", ev.IsError).Str("output", truncate(ev.Output, toolLogLimit)).Msg("tool result")
			if ev.IsError || looksFailed(ev.Output) {
				log.Error().Str("tool", ev.Name).Str("output", truncate(ev.Output, toolErrorLogLimit)).Msg("tool error detected")
			}
		}
	}

	res.Text = text.String()
	if res.Text != "" {
		if err := ch.Update(ctx, res.Handle, res.Text); err != nil {
			return res, fmt.Errorf("finalize response: %w: %w", ErrDelivery, err)
		}
		return res, nil
	}

	log.Warn().Int("events", res.Events).Msg("no response content was generated by the agent")
	placeholder := p.Placeholder
	if placeholder == "" {
		placeholder = Placeholder
	}
	if _, err := ch.Send(ctx, placeholder); err != nil {
		return res, fmt.Errorf("send placeholder: %w: %w", ErrDelivery, err)
	}
	res.Placeholder = true
	return res, nil
}

func looksFailed(output string) bool {
	lower := strings.ToLower(output)
	for _, k := range ToolErrorKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/tool"
)

// ModelFactory creates the chat model for a new agent.
type ModelFactory func(ctx context.Context) (model.ToolCallingChatModel, error)

// Builder constructs session agents from a tool set.
type Builder struct {
	NewModel    ModelFactory
	Instruction Instruction
	// Schema fills Instruction.Schema at build time when set. A failing
	// source is logged and the agent is built without schema text.
	Schema   SchemaSource
	MaxSteps int
}

// Build creates the chat model, resolves the instruction and binds tools.
func (b *Builder) Build(ctx context.Context, sessionID string, tools *tool.Set) (*Agent, error) {
	if b.NewModel == nil {
		return nil, errors.New("agent: no model factory configured")
	}
	log := logging.ForSession(sessionID)

	chatModel, err := b.NewModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	instruction := b.Instruction
	if b.Schema != nil {
		schemaText, err := b.Schema.Schema(ctx, tools)
		if err != nil {
			log.Warn().Err(err).Msg("schema unavailable, building agent without it")
		} else {
			instruction.Schema = schemaText
		}
	}
	text := instruction.Build()
	log.Debug().Int("tools", tools.Len()).Str("instruction", text).Msg("building agent")

	return New(chatModel, tools, text, WithSessionID(sessionID), WithMaxSteps(b.MaxSteps))
}

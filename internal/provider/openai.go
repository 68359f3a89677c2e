package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

const DefaultOpenAIModel = "gpt-4o"

// newOpenAIModel creates a model on the OpenAI API or any compatible
// endpoint named by BaseURL.
func newOpenAIModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	apiKey := firstNonEmpty(cfg.APIKey, env("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := cfg.MaxTokens
	openaiCfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               firstNonEmpty(cfg.Model, env("OPENAI_MODEL_ID"), DefaultOpenAIModel),
		MaxCompletionTokens: &maxTokens,
	}
	if baseURL := firstNonEmpty(cfg.BaseURL, env("OPENAI_BASE_URL")); baseURL != "" {
		openaiCfg.BaseURL = baseURL
	}

	chatModel, err := openai.NewChatModel(ctx, openaiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return chatModel, nil
}

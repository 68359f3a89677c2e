package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// newArkModel creates a model on Volcengine ARK. Model is the endpoint ID.
func newArkModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	apiKey := firstNonEmpty(cfg.APIKey, env("ARK_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}
	modelID := firstNonEmpty(cfg.Model, env("ARK_MODEL_ID"))
	if modelID == "" {
		return nil, fmt.Errorf("ARK_MODEL_ID not set")
	}

	maxTokens := cfg.MaxTokens
	arkCfg := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: &maxTokens,
	}
	if baseURL := firstNonEmpty(cfg.BaseURL, env("ARK_BASE_URL")); baseURL != "" {
		arkCfg.BaseURL = baseURL
	}

	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}
	return chatModel, nil
}

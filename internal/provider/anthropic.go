package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
)

const (
	// DefaultBedrockModel is a cross-region inference profile, passed to
	// Bedrock unchanged.
	DefaultBedrockModel = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	// DefaultBedrockRegion is used when neither the config nor AWS_REGION
	// names one.
	DefaultBedrockRegion = "us-east-1"

	DefaultAnthropicModel = "claude-sonnet-4-20250514"
)

// newBedrockModel creates a Claude model served through AWS Bedrock. Static
// credentials win over a named profile; with neither, the AWS default chain
// applies.
func newBedrockModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	region := firstNonEmpty(cfg.Region, env("AWS_REGION", "AWS_DEFAULT_REGION"), DefaultBedrockRegion)
	modelID := firstNonEmpty(cfg.Model, env("BEDROCK_MODEL_ID"), DefaultBedrockModel)

	chatModel, err := claude.NewChatModel(ctx, &claude.Config{
		ByBedrock:       true,
		Region:          region,
		Profile:         firstNonEmpty(cfg.Profile, env("AWS_PROFILE")),
		AccessKey:       firstNonEmpty(cfg.AccessKeyID, env("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: firstNonEmpty(cfg.SecretAccessKey, env("AWS_SECRET_ACCESS_KEY")),
		SessionToken:    firstNonEmpty(cfg.SessionToken, env("AWS_SESSION_TOKEN")),
		Model:           modelID,
		MaxTokens:       cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Bedrock model %s: %w", modelID, err)
	}
	return chatModel, nil
}

// newAnthropicModel creates a Claude model on the Anthropic API.
func newAnthropicModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	apiKey := firstNonEmpty(cfg.APIKey, env("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	claudeCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     firstNonEmpty(cfg.Model, DefaultAnthropicModel),
		MaxTokens: cfg.MaxTokens,
	}
	if baseURL := firstNonEmpty(cfg.BaseURL, env("ANTHROPIC_BASE_URL")); baseURL != "" {
		claudeCfg.BaseURL = &baseURL
	}

	chatModel, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}
	return chatModel, nil
}

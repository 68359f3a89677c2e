package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Names of the supported backends.
const (
	Bedrock   = "bedrock"
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Ark       = "ark"
)

// DefaultMaxTokens is used when Config.MaxTokens is zero.
const DefaultMaxTokens = 4096

// Config selects and configures a chat model backend. Empty fields fall back
// to the backend's usual environment variables.
type Config struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`

	// Bedrock
	Region          string `json:"region,omitempty"`
	Profile         string `json:"profile,omitempty"`
	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`
	SessionToken    string `json:"-"`

	// Anthropic, OpenAI and Ark
	APIKey  string `json:"-"`
	BaseURL string `json:"baseURL,omitempty"`
}

// NewChatModel builds the tool-calling chat model named by cfg.Provider. An
// empty provider means Bedrock.
func NewChatModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", Bedrock:
		return newBedrockModel(ctx, cfg)
	case Anthropic:
		return newAnthropicModel(ctx, cfg)
	case OpenAI:
		return newOpenAIModel(ctx, cfg)
	case Ark:
		return newArkModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func env(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

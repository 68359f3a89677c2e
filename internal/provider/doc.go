// Package provider builds the chat model the agent drives, using the Eino
// model components.
//
// The gateway normally talks to Claude on AWS Bedrock. The Anthropic API,
// OpenAI (or any OpenAI-compatible endpoint) and Volcengine ARK are
// available for development and testing:
//
//	chatModel, err := provider.NewChatModel(ctx, provider.Config{
//		Provider: provider.Bedrock,
//		Region:   "us-east-1",
//		Model:    "us.anthropic.claude-sonnet-4-20250514-v1:0",
//	})
//
// Empty fields are filled from the environment: BEDROCK_MODEL_ID,
// AWS_REGION and the standard AWS credential variables for Bedrock,
// ANTHROPIC_API_KEY, OPENAI_API_KEY and OPENAI_BASE_URL, and ARK_API_KEY,
// ARK_MODEL_ID and ARK_BASE_URL for the others.
package provider

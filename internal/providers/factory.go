// Package providers contains completion-service adapters for the chat
// core, one per SDK, plus a factory that picks one from configuration.
package providers

import (
	"fmt"
	"os"

	"epicdesk/internal/chat"
	"epicdesk/internal/config"
)

// NewCompletionClient creates a chat.CompletionClient from the saved
// configuration, with environment variables filling any gaps. Returns
// the resolved model name alongside the client.
func NewCompletionClient(cfg *config.Config) (chat.CompletionClient, string, error) {
	provider := cfg.LLMProvider
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}

	apiKey := cfg.APIKey
	model := cfg.Model
	baseURL := cfg.BaseURL

	switch provider {
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("OPENAI_MODEL")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}

		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, model, nil

	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("ANTHROPIC_MODEL")
		}
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}

		client, err := NewAnthropicClient(apiKey, model)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, model, nil

	case "deepseek":
		// DeepSeek is OpenAI-compatible.
		if apiKey == "" {
			apiKey = os.Getenv("DEEPSEEK_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("DEEPSEEK_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("DEEPSEEK_MODEL")
		}
		if model == "" {
			model = "deepseek-chat"
		}
		if baseURL == "" {
			baseURL = "https://api.deepseek.com/v1"
		}

		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create DeepSeek client: %w", err)
		}
		return client, model, nil

	case "groq":
		// Groq is OpenAI-compatible.
		if apiKey == "" {
			apiKey = os.Getenv("GROQ_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("GROQ_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("GROQ_MODEL")
		}
		if model == "" {
			model = "llama-3.1-70b-versatile"
		}
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}

		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Groq client: %w", err)
		}
		return client, model, nil

	default:
		return nil, "", fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, deepseek, groq)", provider)
	}
}

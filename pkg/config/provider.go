package config

import (
	"fmt"
	"os"

	"github.com/entrhq/formforge/pkg/llm/openai"
)

// BuildProvider creates the oracle's chat model from configuration.
// Precedence: CLI flags > environment variables > config file > defaults.
func BuildProvider(cfg OracleConfig, cliModel, cliBaseURL, cliAPIKey string) (*openai.Provider, error) {
	model := cliModel
	if model == "" {
		model = cfg.Model
	}

	baseURL := cliBaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}

	apiKey := cliAPIKey
	if apiKey == "" {
		apiKey = cfg.APIKey()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required. Set %s, use -api-key, or disable the oracle with oracle.enabled: false", cfg.APIKeyEnv)
	}

	opts := []openai.ProviderOption{
		openai.WithModel(model),
		openai.WithTemperature(cfg.Temperature),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	provider, err := openai.NewProvider(apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}

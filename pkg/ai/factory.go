package ai

import (
	"fmt"
	"strings"
	"time"
)

// ProviderConfig selects and configures one text generation backend.
type ProviderConfig struct {
	Provider string // gemini | ollama | openai-compat
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewTextGenerator builds the generator named by cfg.Provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("llm model required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "gemini":
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(client, model), nil
	case "ollama":
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL, cfg.Timeout), model), nil
	case "openai-compat", "openai":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Package agent holds the text-generation and transcription backends.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"treatment-journey/internal/consultation"
)

const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

// Config selects and configures a generation backend.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
}

// NewGenerator builds the backend named by cfg.Provider.
func NewGenerator(ctx context.Context, cfg Config, log zerolog.Logger) (consultation.Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", cfg.Provider)
	}
	log = log.With().Str("component", "agent").Str("provider", cfg.Provider).Logger()
	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiGenerator(ctx, cfg, log)
	case ProviderOpenAI, ProviderDeepSeek:
		return NewOpenAIGenerator(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

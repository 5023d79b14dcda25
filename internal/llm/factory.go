package llm

import (
	"context"
	"fmt"

	"github.com/ent0n29/aili/internal/config"
)

// NewDriverFromConfig builds the dispatch table from configuration. A backend
// is registered only when its credentials or endpoint are configured; the
// mock backend is always present. Callers still need Driver.Require for the
// backends they intend to use.
func NewDriverFromConfig(ctx context.Context, cfg config.Config, opts Options) (*Driver, error) {
	backends := map[BackendType]Backend{
		BackendMock: NewMock(),
	}

	if cfg.ZhipuAIAPIKey != "" {
		backends[BackendZhipuAI] = NewZhipuAI(CompatConfig{
			BaseURL:   cfg.ZhipuAIBaseURL,
			APIKey:    cfg.ZhipuAIAPIKey,
			Model:     cfg.ZhipuAIModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMRequestTimeout,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		backends[BackendOpenAI] = NewOpenAI(CompatConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMRequestTimeout,
		})
	}
	if cfg.TextGenerationAPIURL != "" {
		backends[BackendTextGeneration] = NewTextGeneration(TextGenerationConfig{
			APIURL:       cfg.TextGenerationAPIURL,
			WebSocketURL: cfg.TextGenerationWebSocketURL,
			MaxTokens:    cfg.LLMMaxTokens,
			Timeout:      cfg.LLMRequestTimeout,
		})
	}
	if cfg.AnthropicAPIKey != "" {
		backends[BackendAnthropic] = NewAnthropic(AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMRequestTimeout,
		})
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := NewGemini(ctx, GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMRequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini backend: %w", err)
		}
		backends[BackendGemini] = gemini
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = cfg.LLMMaxAttempts
	}
	return NewDriver(backends, opts)
}

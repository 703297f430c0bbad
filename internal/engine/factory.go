package engine

import (
	"context"
	"fmt"
	"time"
)

// Provider names accepted by the factories.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// EmbedderConfig selects and configures an embedding provider.
type EmbedderConfig struct {
	Provider          string
	Model             string
	Dimensions        int
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

// NewEmbedder builds the Embedder named by cfg.Provider.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			EmbeddingModel:    cfg.Model,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model, CompletionOptions{}), nil
	case ProviderGemini:
		return NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, EmbeddingModel: cfg.Model, Dimensions: cfg.Dimensions})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// CompleterConfig selects and configures a chat completion provider.
type CompleterConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	APIKey      string
	BaseURL     string
	// MaxAttempts > 1 wraps the provider in WithRetry.
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewCompleter builds the Completer named by cfg.Provider.
func NewCompleter(ctx context.Context, cfg CompleterConfig) (Completer, error) {
	opts := CompletionOptions{Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}

	var c Completer
	switch cfg.Provider {
	case ProviderOpenAI, "":
		c = NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Completion: opts})
	case ProviderAnthropic:
		c = NewAnthropic(AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Completion: opts})
	case ProviderGemini:
		g, err := NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Completion: opts})
		if err != nil {
			return nil, err
		}
		c = g
	case ProviderOllama:
		c = NewOllama(cfg.BaseURL, "", opts)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return WithRetry(c, cfg.MaxAttempts, delay), nil
}

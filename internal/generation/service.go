// Package generation produces answers from assembled context via an
// Ollama-served LLM, wrapped through langchaingo.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates the generation backend failed or cannot
	// be reached. Retryable a bounded number of times with backoff;
	// never silently swallowed into an empty answer.
	ErrUnavailable = errors.New("generation backend unavailable")

	// ErrEmptyPrompt indicates an empty prompt.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Config holds configuration for the generation service.
type Config struct {
	// BaseURL is the Ollama server base URL.
	BaseURL string

	// Model is the generation model name.
	Model string

	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens bounds the generated answer length.
	MaxTokens int

	// MaxRetries is the number of retry attempts for backend failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "nemotron-mini"
	}
	// Temperature is not defaulted here: zero means greedy sampling and
	// the configuration layer owns the 0.3 default.
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Service generates text from prompts using a langchaingo Ollama model.
type Service struct {
	config Config
	llm    llms.Model
	logger *zap.Logger
}

// NewService creates a generation service backed by Ollama.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	llm, err := ollama.New(
		ollama.WithServerURL(config.BaseURL),
		ollama.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return newServiceWithModel(config, llm, logger), nil
}

// newServiceWithModel wires an explicit model, used by tests to inject
// a fake llms.Model.
func newServiceWithModel(config Config, llm llms.Model, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: config,
		llm:    llm,
		logger: logger.Named("generation"),
	}
}

// Generate produces an answer for the given system instruction and
// prompt. Backend failures are retried with bounded backoff, then
// surfaced as ErrUnavailable.
func (s *Service) Generate(ctx context.Context, system, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	backoff := s.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		resp, err := s.llm.GenerateContent(ctx, messages,
			llms.WithTemperature(s.config.Temperature),
			llms.WithMaxTokens(s.config.MaxTokens),
		)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("%w: no choices in response", ErrUnavailable)
			}
			return resp.Choices[0].Content, nil
		}
		lastErr = err

		if attempt == s.config.MaxRetries {
			break
		}
		s.logger.Warn("generation attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("generation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

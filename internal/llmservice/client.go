// Package llmservice calls the generative model through langchaingo.
package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docuflow/internal/config"
	"docuflow/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// NewModel builds the chat model for the configured backend.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("error initializing openai client: %w", err)
		}
		return llm, nil
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing ollama client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

// Client implements ports.Generator.
type Client struct {
	model       llms.Model
	name        string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

func New(model llms.Model, cfg config.LLMConfig) *Client {
	c := &Client{
		model:       model,
		name:        cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
	if c.timeout <= 0 {
		c.timeout = time.Minute
	}
	return c
}

// Generate sends one system and one human message and returns the first
// choice with any reasoning blocks removed.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	start := time.Now()
	res, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}
	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		return "", fmt.Errorf("%w: response has no choices", models.ErrGenerationFailed)
	}
	log.Debug().Str("model", c.name).Dur("took", time.Since(start)).Msg("Generated content")

	return StripThinking(res.Choices[0].Content), nil
}

// StripThinking removes <think>...</think> blocks emitted by reasoning models.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// Package tokens estimates and measures prompt token usage.
package tokens

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tiktoken-go/tokenizer"
)

// EnvAPIKey is the environment variable consulted for exact counting.
const EnvAPIKey = "ANTHROPIC_API_KEY"

// Counter estimates token counts locally. Claude tokenization is
// approximated with the GPT-4 encoding; exact counts come from CountExact
// when an API key is available.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a local token counter.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the estimated token count for text.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}

	return count
}

// Estimate counts tokens without requiring a Counter instance.
func Estimate(text string) int {
	counter, err := NewCounter()
	if err != nil {
		return len(text) / 4
	}
	return counter.Count(text)
}

// HaveAPIKey reports whether exact counting is available.
func HaveAPIKey() bool {
	return os.Getenv(EnvAPIKey) != ""
}

// CountExact asks the Anthropic token counting API for the exact input
// token count of text sent as a single user message.
func CountExact(ctx context.Context, model, text string) (int, error) {
	key := os.Getenv(EnvAPIKey)
	if key == "" {
		return 0, fmt.Errorf("%s not set", EnvAPIKey)
	}

	client := anthropic.NewClient(option.WithAPIKey(key))
	res, err := client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("token counting API: %w", err)
	}

	return int(res.InputTokens), nil
}

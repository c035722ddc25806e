package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures text against the prompt budget. The budget unit is
// whatever the counter counts: characters by default, tokens when a
// token counter is configured.
type Counter interface {
	Count(text string) int
}

// CharCounter counts characters (runes, not bytes).
type CharCounter struct{}

func (CharCounter) Count(text string) int {
	n := 0
	for range text {
		n++
	}
	return n
}

// TokenCounter counts model tokens with tiktoken. Use it when the budget
// is expressed in tokens rather than characters.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given model name
// (e.g. "gpt-4o"). The encoding data is fetched on first use.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("token counter for %s: %w", model, err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (c *TokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

var (
	_ Counter = CharCounter{}
	_ Counter = (*TokenCounter)(nil)
)

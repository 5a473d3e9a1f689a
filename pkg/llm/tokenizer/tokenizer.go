// Package tokenizer counts prompt tokens so the oracle can keep requests
// inside a token budget.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/formforge/pkg/llm"
)

// DefaultEncoding is used for every model; counts are a budget estimate,
// not billing.
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates the role and separator tokens the chat
// format adds around each message.
const perMessageOverhead = 4

// Tokenizer counts tokens with a BPE encoding. A nil *Tokenizer, or one
// whose encoding failed to load, falls back to a length-based estimate.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the default encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the token count of text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t == nil || t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the token count of a conversation.
func (t *Tokenizer) CountMessagesTokens(messages []*llm.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead + t.CountTokens(m.Content)
	}
	return total
}

// Estimate approximates a token count as one token per four bytes.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

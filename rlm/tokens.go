package rlm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens gives an approximate token count for text, for ambient
// usage accounting only; nothing in this package calls it, and the Root
// Loop does not feed its result into Budget.TokensUsed. It must never
// be used as the tokenizer for the chunk_tokens action, which is defined
// over whitespace-separated words per spec §4.4.
func EstimateTokens(text string) int {
	enc := getEncoding()
	if enc == nil {
		return len(wordSplitter.Split(text, -1))
	}
	return len(enc.Encode(text, nil, nil))
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

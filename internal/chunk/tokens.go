package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE encoding shared by the OpenAI embedding and chat
// models this service targets.
const encodingName = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens returns the token count of text under the cl100k_base encoding.
// If the encoding cannot be loaded (offline first run without a cached BPE
// file), it falls back to the chars/4 heuristic.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return estimateTokens(text)
	}
	return len(encoding.Encode(text, nil, nil))
}

// estimateTokens approximates the token count as len/4, which tracks real
// BPE counts closely enough for budget decisions on English prose.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Package tokenizer wraps BPE encodings used to bound chunk sizes.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used by the OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// Tokenizer converts text to token ids and back. Implementations must be
// deterministic: the same text always yields the same tokens.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Tiktoken is a Tokenizer backed by a tiktoken BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. An empty name selects DefaultEncoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Encode tokenizes text without special-token handling.
func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

// Decode turns tokens back into text. Partial UTF-8 sequences are kept as raw bytes.
func (t *Tiktoken) Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return t.enc.Decode(tokens)
}

// Runes is a trivial Tokenizer where each rune is one token. It is used where a
// real BPE vocabulary is unavailable, such as offline tests.
type Runes struct{}

// Encode returns one token per rune.
func (Runes) Encode(text string) []int {
	if text == "" {
		return nil
	}
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

// Decode reverses Encode.
func (Runes) Decode(tokens []int) string {
	rs := make([]rune, len(tokens))
	for i, tok := range tokens {
		rs[i] = rune(tok)
	}
	return string(rs)
}

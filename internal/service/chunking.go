package service

import (
	"iter"
	"unicode/utf8"

	"github.com/cloo-solutions/kbrag/internal/tokenizer"
)

const (
	// HardMaxChunkTokens is the largest window TokenChunks will ever emit.
	HardMaxChunkTokens = 400
	// DefaultRecordChunkTokens leaves headroom below HardMaxChunkTokens for
	// whatever the embedding side adds around a chunk.
	DefaultRecordChunkTokens = 350

	// a UTF-8 sequence is at most 4 bytes, so at most 3 trailing tokens can
	// hold an incomplete one
	maxTailBackoff = 3
)

// TokenChunks splits text into consecutive windows of at most maxTokens tokens.
// The sequence is lazy and may be ranged over any number of times; each pass
// re-tokenizes and yields identical chunks. Concatenating the chunks gives back
// the decoded token sequence. A window is shortened by whole tokens when its
// decoded text would end inside a multi-byte character.
func TokenChunks(tok tokenizer.Tokenizer, text string, maxTokens int) iter.Seq[string] {
	if maxTokens <= 0 || maxTokens > HardMaxChunkTokens {
		maxTokens = HardMaxChunkTokens
	}
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		tokens := tok.Encode(text)
		start := 0
		for start < len(tokens) {
			end := start + maxTokens
			if end > len(tokens) {
				end = len(tokens)
			}
			chunk := tok.Decode(tokens[start:end])
			if end < len(tokens) && !validTail(chunk) {
				end, chunk = backoffTail(tok, tokens, start, end, chunk)
			}
			if !yield(chunk) {
				return
			}
			start = end
		}
	}
}

func backoffTail(tok tokenizer.Tokenizer, tokens []int, start, end int, chunk string) (int, string) {
	for cut := end - 1; cut > start && end-cut <= maxTailBackoff; cut-- {
		candidate := tok.Decode(tokens[start:cut])
		if validTail(candidate) {
			return cut, candidate
		}
	}
	return end, chunk
}

func validTail(s string) bool {
	if s == "" {
		return true
	}
	r, size := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError || size > 1
}

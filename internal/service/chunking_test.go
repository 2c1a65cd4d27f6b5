package service

import (
	"strings"
	"testing"

	"github.com/cloo-solutions/kbrag/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteTokenizer emits one token per byte, so multi-byte characters span tokens.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, tok := range tokens {
		b[i] = byte(tok)
	}
	return string(b)
}

func collect(tok tokenizer.Tokenizer, text string, max int) []string {
	var out []string
	for chunk := range TokenChunks(tok, text, max) {
		out = append(out, chunk)
	}
	return out
}

func TestTokenChunks_EmptyInput(t *testing.T) {
	assert.Empty(t, collect(tokenizer.Runes{}, "", 10))
}

func TestTokenChunks_Reconstruction(t *testing.T) {
	tok := tokenizer.Runes{}
	text := strings.Repeat("Tratativa: limpar o cache do navegador. ", 20)

	chunks := collect(tok, text, 37)

	require.NotEmpty(t, chunks)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for i, c := range chunks {
		n := len(tok.Encode(c))
		assert.LessOrEqual(t, n, 37, "chunk %d too long", i)
		if i < len(chunks)-1 {
			assert.Equal(t, 37, n)
		}
	}
}

func TestTokenChunks_ShortTextSingleChunk(t *testing.T) {
	chunks := collect(tokenizer.Runes{}, "curto", 100)
	assert.Equal(t, []string{"curto"}, chunks)
}

func TestTokenChunks_Restartable(t *testing.T) {
	seq := TokenChunks(tokenizer.Runes{}, "abcdefghij", 3)

	var first, second []string
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}

	assert.Equal(t, []string{"abc", "def", "ghi", "j"}, first)
	assert.Equal(t, first, second)
}

func TestTokenChunks_EarlyBreak(t *testing.T) {
	var got []string
	for c := range TokenChunks(tokenizer.Runes{}, "abcdefghij", 2) {
		got = append(got, c)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"ab", "cd"}, got)
}

func TestTokenChunks_ClampsToHardMax(t *testing.T) {
	text := strings.Repeat("x", HardMaxChunkTokens+50)

	for _, max := range []int{0, -1, HardMaxChunkTokens * 2} {
		chunks := collect(tokenizer.Runes{}, text, max)
		require.Len(t, chunks, 2)
		assert.Len(t, chunks[0], HardMaxChunkTokens)
		assert.Len(t, chunks[1], 50)
	}
}

func TestTokenChunks_DoesNotSplitMultiByteCharacters(t *testing.T) {
	tok := byteTokenizer{}
	// "ã" is two bytes; a 3-token window would otherwise end inside it
	text := "aaã" + "bbbb"

	chunks := collect(tok, text, 3)

	assert.Equal(t, text, strings.Join(chunks, ""))
	assert.Equal(t, "aa", chunks[0])
	for _, c := range chunks {
		assert.True(t, validTail(c), "chunk %q ends mid-character", c)
		assert.LessOrEqual(t, len(tok.Encode(c)), 3)
	}
}

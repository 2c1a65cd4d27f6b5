package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunes_RoundTrip(t *testing.T) {
	var tok Runes
	text := "Resolução: reiniciar o serviço"

	tokens := tok.Encode(text)
	assert.Len(t, tokens, len([]rune(text)))
	assert.Equal(t, text, tok.Decode(tokens))
	assert.Nil(t, tok.Encode(""))
}

func TestTiktoken_Deterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping tiktoken test in short mode")
	}
	tok, err := NewTiktoken("")
	if err != nil {
		t.Skipf("cl100k_base encoding unavailable: %v", err)
	}

	text := "Erro 504 ao sincronizar o XWork com o Studio"
	first := tok.Encode(text)
	second := tok.Encode(text)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, text, tok.Decode(first))
	assert.Nil(t, tok.Encode(""))
	assert.Equal(t, "", tok.Decode(nil))
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithEnvVars(t *testing.T) {
	t.Setenv("KBRAG_PORT", "9090")
	t.Setenv("KBRAG_DEBUG", "true")
	t.Setenv("KBRAG_DATA_DIR", "/var/lib/kbrag")
	t.Setenv("KBRAG_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("KBRAG_S3_ACCESS_KEY_ID", "key")
	t.Setenv("KBRAG_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("KBRAG_OPENAI_API_KEY", "sk-test")
	t.Setenv("KBRAG_EMBED_TIMEOUT", "5s")
	t.Setenv("KBRAG_AMBIGUITY_GAP", "0.05")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/var/lib/kbrag", cfg.DataDir)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 5*time.Second, cfg.EmbedTimeout)
	assert.InDelta(t, 0.05, cfg.AmbiguityGap, 1e-12)
	assert.True(t, cfg.HasS3())
	assert.True(t, cfg.HasEmbeddings())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ProviderOpenAI, cfg.EmbeddingProvider)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 30*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, 2048, cfg.EmbedBatchSize)
	assert.Equal(t, 350, cfg.ChunkTokens)
	assert.InDelta(t, 0.025, cfg.AmbiguityGap, 1e-12)
	assert.Equal(t, "kbrag-snapshots", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.False(t, cfg.HasS3())
	assert.False(t, cfg.HasSentry())
}

func TestLoad_UnprefixedOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-plain")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-plain", cfg.OpenAIAPIKey)
}

func TestLoad_InvalidProvider(t *testing.T) {
	t.Setenv("KBRAG_EMBEDDING_PROVIDER", "cohere")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cohere")
}

func TestValidate(t *testing.T) {
	valid := Config{EmbeddingProvider: ProviderCompat, ChunkTokens: 350, DataDir: "data"}
	assert.NoError(t, valid.Validate())

	tooBig := valid
	tooBig.ChunkTokens = 401
	assert.Error(t, tooBig.Validate())

	negative := valid
	negative.AmbiguityGap = -0.1
	assert.Error(t, negative.Validate())

	noDir := valid
	noDir.DataDir = ""
	assert.Error(t, noDir.Validate())
}

func TestHasEmbeddings(t *testing.T) {
	assert.False(t, (&Config{EmbeddingProvider: ProviderOpenAI}).HasEmbeddings())
	assert.True(t, (&Config{EmbeddingProvider: ProviderOpenAI, OpenAIAPIKey: "k"}).HasEmbeddings())
	assert.False(t, (&Config{EmbeddingProvider: ProviderCompat, OpenAIAPIKey: "k"}).HasEmbeddings())
	assert.True(t, (&Config{EmbeddingProvider: ProviderCompat, EmbeddingBaseURL: "http://localhost:11434/v1"}).HasEmbeddings())
}

func TestCachePath(t *testing.T) {
	cfg := &Config{DataDir: "data", EmbedCache: true}
	assert.Equal(t, filepath.Join("data", ".embedcache"), cfg.CachePath())

	cfg.CacheDir = "/tmp/cache"
	assert.Equal(t, "/tmp/cache", cfg.CachePath())

	cfg.EmbedCache = false
	assert.Empty(t, cfg.CachePath())
}

package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderOpenAI = "openai"
	ProviderCompat = "compat"

	maxChunkTokens = 400
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DataDir       string `envconfig:"DATA_DIR" default:"data"`
	BootstrapFile string `envconfig:"BOOTSTRAP_FILE"`
	MaxBodyBytes  int64  `envconfig:"MAX_BODY_BYTES" default:"10485760"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stderr"`

	// KBRAG_OPENAI_API_KEY wins, plain OPENAI_API_KEY is the fallback
	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingBaseURL    string        `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
	EmbedTimeout        time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	EmbedBatchSize      int           `envconfig:"EMBED_BATCH_SIZE" default:"2048"`
	EmbedWorkers        int           `envconfig:"EMBED_WORKERS" default:"4"`
	EmbedCache          bool          `envconfig:"EMBED_CACHE" default:"true"`
	CacheDir            string        `envconfig:"CACHE_DIR"`

	TokenizerEncoding string  `envconfig:"TOKENIZER_ENCODING" default:"cl100k_base"`
	ChunkTokens       int     `envconfig:"CHUNK_TOKENS" default:"350"`
	AmbiguityGap      float64 `envconfig:"AMBIGUITY_GAP" default:"0.025"`

	S3Endpoint     string        `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string        `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket       string        `envconfig:"S3_BUCKET" default:"kbrag-snapshots"`
	S3Region       string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3Prefix       string        `envconfig:"S3_PREFIX" default:"kbrag"`
	MirrorInterval time.Duration `envconfig:"MIRROR_INTERVAL" default:"30s"`

	SentryDSN              string  `envconfig:"SENTRY_DSN"`
	Environment            string  `envconfig:"ENVIRONMENT" default:"development"`
	SentryTracesSampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"1.0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBRAG", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderCompat:
	default:
		return fmt.Errorf("invalid embedding provider %q (want %s or %s)", c.EmbeddingProvider, ProviderOpenAI, ProviderCompat)
	}
	if c.ChunkTokens < 1 || c.ChunkTokens > maxChunkTokens {
		return fmt.Errorf("chunk tokens must be between 1 and %d, got %d", maxChunkTokens, c.ChunkTokens)
	}
	if c.AmbiguityGap < 0 {
		return fmt.Errorf("ambiguity gap cannot be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	return nil
}

// HasEmbeddings reports whether the configured provider has what it needs to
// run. Admin commands that never embed work without it.
func (c *Config) HasEmbeddings() bool {
	if c.EmbeddingProvider == ProviderCompat {
		return c.EmbeddingBaseURL != ""
	}
	return c.OpenAIAPIKey != "" || c.EmbeddingBaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// CachePath is where the embedding cache lives, or "" when disabled.
func (c *Config) CachePath() string {
	if !c.EmbedCache {
		return ""
	}
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.DataDir, ".embedcache")
}

// Package langchain embeds texts through langchaingo against self-hosted
// OpenAI-compatible servers (vLLM, Ollama, LocalAI, text-embeddings-inference).
package langchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/metrics"
)

const (
	providerName = "compat"
	// local servers usually ignore auth but the client insists on a token
	placeholderToken = "none"
	defaultBatchSize = 512
)

// ErrNoBaseURL is returned when the compat provider has nowhere to connect.
var ErrNoBaseURL = errors.New("embedding base URL is required for the compat provider")

// Config configures an Embedder.
type Config struct {
	BaseURL   string
	Token     string
	Model     string
	BatchSize int
	Logger    *zap.Logger
}

// Embedder adapts a langchaingo embeddings.Embedder to EmbedTexts.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// New connects to an OpenAI-compatible embeddings endpoint.
func New(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	token := cfg.Token
	if token == "" {
		token = placeholderToken
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compat client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(batchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compat embedder: %w", err)
	}
	return NewWithEmbedder(embedder, cfg.Logger), nil
}

// NewWithEmbedder wraps an existing langchaingo embedder.
func NewWithEmbedder(embedder embeddings.Embedder, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{embedder: embedder, logger: logger.Named("compat")}
}

// EmbedTexts returns one vector per text, in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings", zap.Int("count", len(texts)))

	start := time.Now()
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	metrics.ObserveEmbedding(providerName, len(texts), time.Since(start), err)
	if err != nil {
		e.logger.Error("failed to generate embeddings", zap.Int("count", len(texts)), zap.Error(err))
		return nil, domain.NewProviderError("failed to create embeddings", err)
	}
	return vectors, nil
}

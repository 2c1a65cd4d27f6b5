package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/metrics"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// MaxInputsPerRequest is the API limit on inputs in one embeddings request
	MaxInputsPerRequest = 2048
	// DefaultWorkers bounds concurrent sub-batch requests
	DefaultWorkers = 4

	providerName = "openai"
)

var (
	// ErrEmptyText is returned when one of the inputs is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoAPIKey is returned when no OpenAI API key is configured
	ErrNoAPIKey = errors.New("OPENAI_API_KEY is not set")
)

// EmbeddingAPI sends one embeddings request and returns vectors in input order.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIAdapter implements EmbeddingAPI over go-openai.
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAIAdapter builds an adapter. An empty BaseURL talks to api.openai.com.
func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	model := openai.EmbeddingModel(cfg.Model)
	if model == "" {
		model = DefaultEmbeddingModel
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: cfg.Dimensions,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      a.model,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("unexpected embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Config configures the OpenAI embedding client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	Workers    int
	Logger     *zap.Logger
}

// Client embeds arbitrarily many texts, splitting them into requests of at
// most BatchSize inputs that run concurrently on a bounded pool.
type Client struct {
	api        EmbeddingAPI
	dimensions int
	batchSize  int
	pool       *ants.Pool
	logger     *zap.Logger
}

// NewClient creates a client backed by the OpenAI API.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, ErrNoAPIKey
	}
	return NewClientWithAPI(NewOpenAIAdapter(cfg), cfg)
}

// NewClientWithAPI creates a client around any EmbeddingAPI.
func NewClientWithAPI(api EmbeddingAPI, cfg Config) (*Client, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > MaxInputsPerRequest {
		batchSize = MaxInputsPerRequest
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	return &Client{
		api:        api,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		pool:       pool,
		logger:     logger.Named("openai"),
	}, nil
}

// Close releases the worker pool.
func (c *Client) Close() {
	c.pool.Release()
}

// EmbedTexts returns one vector per text, in input order. All vectors share
// one dimension, and it must equal the configured one when that is set.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, domain.NewValidationError(ErrEmptyText.Error())
		}
	}

	start := time.Now()
	vectors, err := c.embedBatches(ctx, texts)
	if err == nil {
		err = c.checkDimensions(vectors)
	}
	metrics.ObserveEmbedding(providerName, len(texts), time.Since(start), err)
	if err != nil {
		c.logger.Warn("embedding request failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, domain.NewProviderError("failed to create embeddings", err)
	}
	return vectors, nil
}

func (c *Client) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= c.batchSize {
		return c.embedOne(ctx, texts)
	}

	var batches [][]string
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batches = append(batches, texts[start:end])
	}
	c.logger.Debug("splitting embedding request", zap.Int("texts", len(texts)), zap.Int("batches", len(batches)))

	results := make([][][]float32, len(batches))
	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		submitErr := c.pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = c.embedOne(ctx, batch)
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = submitErr
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.api.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

func (c *Client) checkDimensions(vectors [][]float32) error {
	expected := c.dimensions
	if expected <= 0 {
		expected = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != expected {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), expected)
		}
	}
	return nil
}

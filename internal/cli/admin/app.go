package admin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/config"
	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/embedcache"
	"github.com/cloo-solutions/kbrag/internal/langchain"
	"github.com/cloo-solutions/kbrag/internal/logging"
	"github.com/cloo-solutions/kbrag/internal/metrics"
	"github.com/cloo-solutions/kbrag/internal/openai"
	"github.com/cloo-solutions/kbrag/internal/service"
	"github.com/cloo-solutions/kbrag/internal/storage"
	"github.com/cloo-solutions/kbrag/internal/tokenizer"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

// app holds the components shared by serve and the local admin commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *vectorstore.Store
	provider  service.EmbeddingProvider
	knowledge *service.KnowledgeService
	chat      *service.ChatService
	closers   []func() error
}

type appOptions struct {
	// needProvider fails startup when no embedding provider is configured
	needProvider bool
	// recoverCorrupt opens a corrupt snapshot empty so it can be rebuilt
	recoverCorrupt bool
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
}

func newApp(cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := vectorstore.Open(cfg.DataDir, vectorstore.Options{Logger: logger, Recover: opts.recoverCorrupt})
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", cfg.DataDir, err)
	}
	a.store = store
	metrics.SetIndexRows(store.Snapshot().Len())

	tok, err := tokenizer.NewTiktoken(cfg.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	if cfg.HasEmbeddings() {
		provider, err := a.newProvider()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.provider = provider
	} else if opts.needProvider {
		return nil, fmt.Errorf("no embedding provider configured: set KBRAG_OPENAI_API_KEY or KBRAG_EMBEDDING_BASE_URL")
	} else {
		a.provider = unconfiguredProvider{}
	}

	builder := service.NewRecordBuilderWithUUIDGen(tok, &service.DefaultUUIDGenerator{}, cfg.ChunkTokens)
	a.knowledge = service.NewKnowledgeService(store, a.provider, builder, service.KnowledgeServiceConfig{
		EmbedTimeout: cfg.EmbedTimeout,
		Logger:       logger,
	})
	a.chat = service.NewChatService(a.knowledge, cfg.AmbiguityGap, logger)
	return a, nil
}

func (a *app) newProvider() (service.EmbeddingProvider, error) {
	cfg := a.cfg
	var provider service.EmbeddingProvider

	switch cfg.EmbeddingProvider {
	case config.ProviderCompat:
		embedder, err := langchain.New(langchain.Config{
			BaseURL: cfg.EmbeddingBaseURL,
			Token:   cfg.OpenAIAPIKey,
			Model:   cfg.EmbeddingModel,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, err
		}
		provider = embedder
	default:
		client, err := openai.NewClient(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.EmbeddingBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			BatchSize:  cfg.EmbedBatchSize,
			Workers:    cfg.EmbedWorkers,
			Logger:     a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			client.Close()
			return nil
		})
		provider = client
	}

	if path := cfg.CachePath(); path != "" {
		cache, err := embedcache.Open(path, provider, cacheModelKey(cfg), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		provider = cache
	}
	return provider, nil
}

// cacheModelKey separates cached vectors of different models and dimensions.
func cacheModelKey(cfg *config.Config) string {
	return fmt.Sprintf("%s/%s/%d", cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
}

func (a *app) newMirror(ctx context.Context) (*storage.Mirror, error) {
	if !a.cfg.HasS3() {
		return nil, errors.New("object storage not configured: set KBRAG_S3_ENDPOINT, KBRAG_S3_ACCESS_KEY_ID and KBRAG_S3_SECRET_ACCESS_KEY")
	}
	return newMirror(ctx, a.cfg, a.logger)
}

func newMirror(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.Mirror, error) {
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	return storage.NewMirror(client, cfg.S3Prefix, logger), nil
}

// Close releases provider resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// unconfiguredProvider lets read-only commands run without credentials; any
// attempt to embed reports the missing configuration.
type unconfiguredProvider struct{}

func (unconfiguredProvider) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, domain.NewProviderError("no embedding provider configured", nil)
}

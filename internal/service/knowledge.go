package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/metrics"
	"github.com/cloo-solutions/kbrag/internal/telemetry"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

// EmbeddingProvider maps texts to vectors of one fixed dimension, one per
// input, in input order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// CorpusStore is the persistence the service needs from vectorstore.Store.
type CorpusStore interface {
	Append(ctx context.Context, records []domain.ChunkRecord, embedder vectorstore.Embedder) (int, error)
	Clear() error
	Rebuild(ctx context.Context, embedder vectorstore.Embedder) (int, error)
	Snapshot() *vectorstore.Snapshot
	Stats() vectorstore.Stats
}

// KnowledgeServiceConfig tunes a KnowledgeService. Zero values take defaults.
type KnowledgeServiceConfig struct {
	EmbedTimeout time.Duration
	Logger       *zap.Logger
}

// KnowledgeService handles ingestion, search and listing over one store.
type KnowledgeService struct {
	store    CorpusStore
	provider EmbeddingProvider
	builder  *RecordBuilder
	logger   *zap.Logger
}

// IngestResult summarizes one ingestion call.
type IngestResult struct {
	Entries int `json:"entries"`
	Records int `json:"records"`
	Rows    int `json:"rows"`
}

// NewKnowledgeService creates a new KnowledgeService instance
func NewKnowledgeService(
	store CorpusStore,
	provider EmbeddingProvider,
	builder *RecordBuilder,
	cfg KnowledgeServiceConfig,
) *KnowledgeService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{
		store:    store,
		provider: withTimeout(provider, cfg.EmbedTimeout),
		builder:  builder,
		logger:   logger.Named("knowledge"),
	}
}

// Ingest validates every entry before anything is embedded, then appends all
// resulting records in a single store write.
func (s *KnowledgeService) Ingest(ctx context.Context, entries []domain.KnowledgeEntry) (IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Ingest", telemetry.SpanAttributes{
		Operation: "ingest",
		Rows:      len(entries),
	})
	defer span.End()

	if len(entries) == 0 {
		return IngestResult{Rows: s.store.Snapshot().Len()}, nil
	}

	for i := range entries {
		if err := domain.ValidateKnowledgeEntry(&entries[i]); err != nil {
			return IngestResult{}, fmt.Errorf("item %d: %w", i, err)
		}
	}

	var records []domain.ChunkRecord
	for _, entry := range entries {
		records = append(records, s.builder.Build(entry)...)
	}

	added, err := s.store.Append(ctx, records, s.provider)
	if err != nil {
		span.SetError(err)
		s.logger.Error("ingest failed", zap.Int("entries", len(entries)), zap.Error(err))
		return IngestResult{}, err
	}

	rows := s.store.Snapshot().Len()
	metrics.AddIngestedRecords(added)
	metrics.SetIndexRows(rows)
	s.logger.Info("entries ingested",
		zap.Int("entries", len(entries)),
		zap.Int("records", added),
		zap.Int("rows", rows),
	)
	return IngestResult{Entries: len(entries), Records: added, Rows: rows}, nil
}

// IngestByClass ingests a bulk document. Each entry takes the class of the
// batch it was listed under, and batches keep their input order.
func (s *KnowledgeService) IngestByClass(ctx context.Context, batches []domain.ClassBatch) (IngestResult, error) {
	var entries []domain.KnowledgeEntry
	for _, batch := range batches {
		if !batch.Class.Valid() {
			return IngestResult{}, domain.NewValidationError(fmt.Sprintf("invalid class: %s", batch.Class))
		}
		for _, entry := range batch.Entries {
			entry.Class = batch.Class
			entries = append(entries, entry)
		}
	}
	return s.Ingest(ctx, entries)
}

// Search returns the k best records for the query.
func (s *KnowledgeService) Search(ctx context.Context, input SearchInput) ([]domain.ScoredResult, error) {
	class := ""
	if input.Class != nil {
		class = string(*input.Class)
	}
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Search", telemetry.SpanAttributes{
		Class:     class,
		Operation: "search",
	})
	defer span.End()
	start := time.Now()
	defer func() { metrics.ObserveSearch(class, time.Since(start)) }()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if input.K < 1 {
		return nil, domain.ErrInvalidResultCount
	}
	if input.Class != nil && !input.Class.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid class: %s", *input.Class))
	}

	snap := s.store.Snapshot()
	var rows []int
	if input.Class != nil {
		rows = snap.RowsForClass(*input.Class)
	} else {
		rows = snap.AllRows()
	}
	if len(rows) == 0 {
		return []domain.ScoredResult{}, nil
	}

	vectors, err := s.provider.EmbedTexts(ctx, []string{query})
	if err != nil {
		span.SetError(err)
		if domain.HasCode(err, domain.ErrCodeProvider) {
			return nil, err
		}
		return nil, domain.NewProviderError("failed to embed query", err)
	}
	if len(vectors) != 1 {
		return nil, domain.NewProviderError(fmt.Sprintf("provider returned %d vectors for 1 query", len(vectors)), nil)
	}
	if len(vectors[0]) != snap.Dim() {
		return nil, domain.NewProviderError(
			fmt.Sprintf("query dimension %d does not match index dimension %d", len(vectors[0]), snap.Dim()), nil)
	}

	return rankRows(snap, rows, vectors[0], query, input.K), nil
}

// ListTitles returns the distinct titles of one class, sorted.
func (s *KnowledgeService) ListTitles(ctx context.Context, class domain.Class) ([]string, error) {
	_, span := telemetry.StartSpan(ctx, "KnowledgeService.ListTitles", telemetry.SpanAttributes{
		Class:     string(class),
		Operation: "list",
	})
	defer span.End()

	if !class.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid class: %s", class))
	}
	snap := s.store.Snapshot()
	return sortedUniqueTitles(snap, snap.RowsForClass(class)), nil
}

// Clear empties the index and removes its files.
func (s *KnowledgeService) Clear(ctx context.Context) error {
	_, span := telemetry.StartSpan(ctx, "KnowledgeService.Clear", telemetry.SpanAttributes{Operation: "clear"})
	defer span.End()

	if err := s.store.Clear(); err != nil {
		span.SetError(err)
		return err
	}
	metrics.SetIndexRows(0)
	s.logger.Info("index cleared")
	return nil
}

// Rebuild re-embeds the corpus log into a fresh snapshot.
func (s *KnowledgeService) Rebuild(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Rebuild", telemetry.SpanAttributes{Operation: "rebuild"})
	defer span.End()

	rows, err := s.store.Rebuild(ctx, s.provider)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	metrics.SetIndexRows(rows)
	s.logger.Info("index rebuilt", zap.Int("rows", rows))
	return rows, nil
}

// Stats reports the store counters.
func (s *KnowledgeService) Stats() vectorstore.Stats {
	return s.store.Stats()
}

type timeoutProvider struct {
	inner   EmbeddingProvider
	timeout time.Duration
}

// withTimeout bounds every provider call. A deadline hit surfaces as a
// provider error.
func withTimeout(p EmbeddingProvider, timeout time.Duration) EmbeddingProvider {
	if timeout <= 0 || p == nil {
		return p
	}
	return &timeoutProvider{inner: p, timeout: timeout}
}

func (p *timeoutProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vectors, err := p.inner.EmbedTexts(ctx, texts)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, domain.NewProviderError(fmt.Sprintf("embedding timed out after %s", p.timeout), err)
	}
	return vectors, err
}

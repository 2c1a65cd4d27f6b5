package jobs

import (
	"context"
	"sync"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/metrics"
	"github.com/cloo-solutions/kbrag/internal/storage"
	"github.com/cloo-solutions/kbrag/internal/telemetry"
)

// SnapshotSource reports the published generation and copies the files
// behind it.
type SnapshotSource interface {
	Generation() uint64
	storage.ArtifactSource
}

// SnapshotMirror uploads a copy of the index.
type SnapshotMirror interface {
	Sync(ctx context.Context, source storage.ArtifactSource) (*storage.Manifest, error)
}

// MirrorSyncProcessor uploads the index whenever its generation moves.
type MirrorSyncProcessor struct {
	source SnapshotSource
	mirror SnapshotMirror
	logger *zap.Logger

	mu        sync.Mutex
	synced    uint64
	hasSynced bool
}

// NewMirrorSyncProcessor creates a processor for the given store and mirror.
func NewMirrorSyncProcessor(source SnapshotSource, mirror SnapshotMirror, logger *zap.Logger) *MirrorSyncProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorSyncProcessor{
		source: source,
		mirror: mirror,
		logger: logger.Named("mirror_sync"),
	}
}

// ProcessJobs uploads the current snapshot if it has not been uploaded yet.
// A failed upload is retried on the next call.
func (p *MirrorSyncProcessor) ProcessJobs(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	generation := p.source.Generation()
	if p.hasSynced && generation == p.synced {
		return nil
	}

	ctx, span := telemetry.StartTransaction(ctx, "mirror sync", "mirror.sync")
	defer span.End()

	manifest, err := p.mirror.Sync(ctx, p.source)
	metrics.ObserveMirrorSync(err)
	if err != nil {
		span.SetError(err)
		return err
	}
	span.SetStatus(sentry.SpanStatusOK)

	// the copy may be newer than the generation read above
	p.synced = manifest.Generation
	p.hasSynced = true
	p.logger.Debug("index mirrored", zap.Uint64("generation", manifest.Generation))
	return nil
}

// Package vectorstore persists chunk records and their embeddings in a data
// directory and serves immutable in-memory snapshots of them.
//
// Layout:
//
//	corpus.jsonl  append-only log, one record per line
//	vectors.bin   dense float32 matrix, rewritten whole on every change
//	meta.json     JSON array of records, row-aligned with vectors.bin
package vectorstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
)

const (
	CorpusFile  = "corpus.jsonl"
	VectorsFile = "vectors.bin"
	MetaFile    = "meta.json"

	maxLogLine = 16 * 1024 * 1024
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Store.
type Options struct {
	Logger *zap.Logger
	// Recover opens a store whose snapshot is corrupt with an empty view
	// instead of failing, so Rebuild can restore it from the corpus log.
	Recover bool
}

// Stats describes the store at one point in time.
type Stats struct {
	DataDir    string `json:"data_dir"`
	Rows       int    `json:"rows"`
	Dim        int    `json:"dim"`
	LogRows    int    `json:"log_rows"`
	Generation uint64 `json:"generation"`
}

// Store owns the persisted index. Writers serialize on mu; readers load the
// current snapshot pointer and never block.
type Store struct {
	dir    string
	logger *zap.Logger

	mu sync.Mutex
	// stage writes one artifact next to its final path and returns the
	// temp name; swapped in tests to simulate a full disk.
	stage func(path string, data []byte) (string, error)

	logRows    atomic.Int64
	snap       atomic.Pointer[Snapshot]
	generation atomic.Uint64
}

// Artifacts is a copy of the persisted files taken under the writer lock, so
// the files in it always describe the same rows. Absent files have no entry.
type Artifacts struct {
	Generation uint64
	Files      map[string][]byte
}

// Open creates the data directory if needed and loads the persisted state.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewIOError("failed to create data directory", err)
	}

	s := &Store{dir: dir, logger: logger.Named("vectorstore"), stage: stageFile}
	if err := s.Load(); err != nil {
		if !opts.Recover || !domain.HasCode(err, domain.ErrCodeCorruptStore) {
			return nil, err
		}
		s.logger.Warn("opening corrupt store empty for recovery", zap.Error(err))
		s.snap.Store(emptySnapshot())
	}
	return s, nil
}

// Load replaces the in-memory state with what is on disk.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.readSnapshot()
	if err != nil {
		return err
	}
	logRows, err := s.countLogRows()
	if err != nil {
		return err
	}
	if logRows != snap.Len() {
		s.logger.Warn("corpus log and snapshot disagree",
			zap.Int("log_rows", logRows),
			zap.Int("snapshot_rows", snap.Len()),
		)
	}

	s.logRows.Store(int64(logRows))
	s.snap.Store(snap)
	s.logger.Info("store loaded",
		zap.String("dir", s.dir),
		zap.Int("rows", snap.Len()),
		zap.Int("dim", snap.Dim()),
	)
	return nil
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	if snap := s.snap.Load(); snap != nil {
		return snap
	}
	return emptySnapshot()
}

// Generation increments on every successful Append, Clear or Rebuild.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Stats reports the current row counts without waiting for a writer.
func (s *Store) Stats() Stats {
	snap := s.Snapshot()
	return Stats{
		DataDir:    s.dir,
		Rows:       snap.Len(),
		Dim:        snap.Dim(),
		LogRows:    int(s.logRows.Load()),
		Generation: s.Generation(),
	}
}

// Artifacts copies the three index files as they are between two writes.
func (s *Store) Artifacts() (*Artifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &Artifacts{Generation: s.generation.Load(), Files: make(map[string][]byte, 3)}
	for _, name := range []string{CorpusFile, VectorsFile, MetaFile} {
		data, err := os.ReadFile(s.path(name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, domain.NewIOError("failed to read "+name, err)
		}
		a.Files[name] = data
	}
	return a, nil
}

// Append embeds the records' chunks and persists them. Nothing is written if
// embedding fails or returns vectors of the wrong count or dimension, and the
// log is cut back if the snapshot cannot be written. Returns the number of
// rows added.
func (s *Store) Append(ctx context.Context, records []domain.ChunkRecord, embedder Embedder) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i := range records {
		if err := domain.ValidateChunkRecord(&records[i]); err != nil {
			return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chunk record", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, len(records))
	for i := range records {
		texts[i] = records[i].Chunk
	}
	vectors, dim, err := embed(ctx, embedder, texts)
	if err != nil {
		return 0, err
	}

	current, err := s.readSnapshot()
	if err != nil {
		return 0, err
	}
	if current.Len() > 0 && current.Dim() != dim {
		return 0, domain.NewProviderError(
			fmt.Sprintf("embedding dimension %d does not match index dimension %d", dim, current.Dim()), nil)
	}

	logSize, logExisted, err := s.logSize()
	if err != nil {
		return 0, err
	}
	if err := s.appendLog(records); err != nil {
		s.rollbackLog(logSize, logExisted)
		return 0, err
	}

	next := current.extend(dim, vectors, records)
	if err := s.writeSnapshot(next); err != nil {
		s.rollbackLog(logSize, logExisted)
		return 0, err
	}

	s.logRows.Add(int64(len(records)))
	s.publish(next)
	s.logger.Debug("records appended", zap.Int("added", len(records)), zap.Int("rows", next.Len()))
	return len(records), nil
}

// Clear drops the in-memory state and removes every artifact.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{CorpusFile, VectorsFile, MetaFile} {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.NewIOError("failed to remove "+name, err)
		}
	}
	s.logRows.Store(0)
	s.publish(emptySnapshot())
	s.logger.Info("store cleared", zap.String("dir", s.dir))
	return nil
}

// Rebuild re-embeds every record of the corpus log and rewrites the snapshot
// files from it. It recovers an index whose snapshot was lost or damaged.
func (s *Store) Rebuild(ctx context.Context, embedder Embedder) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLog()
	if err != nil {
		return 0, err
	}

	next := emptySnapshot()
	if len(records) > 0 {
		texts := make([]string, len(records))
		for i := range records {
			texts[i] = records[i].Chunk
		}
		vectors, dim, err := embed(ctx, embedder, texts)
		if err != nil {
			return 0, err
		}
		next = next.extend(dim, vectors, records)
	}

	if err := s.writeSnapshot(next); err != nil {
		return 0, err
	}
	s.logRows.Store(int64(len(records)))
	s.publish(next)
	s.logger.Info("store rebuilt", zap.Int("rows", next.Len()), zap.Int("dim", next.Dim()))
	return next.Len(), nil
}

func (s *Store) publish(next *Snapshot) {
	s.snap.Store(next)
	s.generation.Add(1)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func embed(ctx context.Context, embedder Embedder, texts []string) ([][]float32, int, error) {
	if embedder == nil {
		return nil, 0, domain.NewProviderError("no embedding provider configured", nil)
	}
	vectors, err := embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if domain.HasCode(err, domain.ErrCodeProvider) {
			return nil, 0, err
		}
		return nil, 0, domain.NewProviderError("embedding failed", err)
	}
	if len(vectors) != len(texts) {
		return nil, 0, domain.NewProviderError(
			fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), len(texts)), nil)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, 0, domain.NewProviderError("provider returned an empty vector", nil)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, 0, domain.NewProviderError(
				fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(v), dim), nil)
		}
	}
	return vectors, dim, nil
}

// readSnapshot loads vectors.bin and meta.json. Both missing is an empty
// index; anything inconsistent is CORRUPT_STORE.
func (s *Store) readSnapshot() (*Snapshot, error) {
	vecBytes, vecErr := os.ReadFile(s.path(VectorsFile))
	metaBytes, metaErr := os.ReadFile(s.path(MetaFile))

	vecMissing := errors.Is(vecErr, fs.ErrNotExist)
	metaMissing := errors.Is(metaErr, fs.ErrNotExist)
	switch {
	case vecMissing && metaMissing:
		return emptySnapshot(), nil
	case vecMissing:
		return nil, domain.NewCorruptStoreError(MetaFile+" exists without "+VectorsFile, nil)
	case metaMissing:
		return nil, domain.NewCorruptStoreError(VectorsFile+" exists without "+MetaFile, nil)
	case vecErr != nil:
		return nil, domain.NewIOError("failed to read "+VectorsFile, vecErr)
	case metaErr != nil:
		return nil, domain.NewIOError("failed to read "+MetaFile, metaErr)
	}

	rows, dim, values, err := decodeMatrix(vecBytes)
	if err != nil {
		return nil, domain.NewCorruptStoreError("unreadable "+VectorsFile, err)
	}

	var records []domain.ChunkRecord
	if err := json.Unmarshal(metaBytes, &records); err != nil {
		return nil, domain.NewCorruptStoreError("unreadable "+MetaFile, err)
	}
	if len(records) != rows {
		return nil, domain.NewCorruptStoreError(
			fmt.Sprintf("%s has %d rows but %s has %d", VectorsFile, rows, MetaFile, len(records)), nil)
	}
	for i := range records {
		if err := domain.ValidateChunkRecord(&records[i]); err != nil {
			return nil, domain.NewCorruptStoreError(fmt.Sprintf("%s row %d", MetaFile, i), err)
		}
	}
	return newSnapshot(dim, values, records), nil
}

func (s *Store) writeSnapshot(snap *Snapshot) error {
	matrix, err := encodeMatrix(snap.Len(), snap.Dim(), snap.values)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to encode vectors", err)
	}
	records := snap.records
	if records == nil {
		records = []domain.ChunkRecord{}
	}
	meta, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to encode metadata", err)
	}

	// Both files are staged before either replaces its predecessor, so a
	// failed write leaves the old pair intact.
	vecTmp, err := s.stage(s.path(VectorsFile), matrix)
	if err != nil {
		return domain.NewIOError("failed to write "+VectorsFile, err)
	}
	metaTmp, err := s.stage(s.path(MetaFile), meta)
	if err != nil {
		_ = os.Remove(vecTmp)
		return domain.NewIOError("failed to write "+MetaFile, err)
	}
	if err := os.Rename(vecTmp, s.path(VectorsFile)); err != nil {
		_ = os.Remove(vecTmp)
		_ = os.Remove(metaTmp)
		return domain.NewIOError("failed to replace "+VectorsFile, err)
	}
	if err := os.Rename(metaTmp, s.path(MetaFile)); err != nil {
		_ = os.Remove(metaTmp)
		return domain.NewIOError("failed to replace "+MetaFile, err)
	}
	return nil
}

func (s *Store) logSize() (int64, bool, error) {
	info, err := os.Stat(s.path(CorpusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.NewIOError("failed to stat "+CorpusFile, err)
	}
	return info.Size(), true, nil
}

// rollbackLog cuts the corpus log back to size after a failed append.
func (s *Store) rollbackLog(size int64, existed bool) {
	var err error
	if existed {
		err = os.Truncate(s.path(CorpusFile), size)
	} else {
		err = os.Remove(s.path(CorpusFile))
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("failed to roll back corpus log", zap.Int64("size", size), zap.Error(err))
	}
}

func (s *Store) appendLog(records []domain.ChunkRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to encode record", err)
		}
	}

	f, err := os.OpenFile(s.path(CorpusFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.NewIOError("failed to open "+CorpusFile, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return domain.NewIOError("failed to append to "+CorpusFile, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return domain.NewIOError("failed to sync "+CorpusFile, err)
	}
	if err := f.Close(); err != nil {
		return domain.NewIOError("failed to close "+CorpusFile, err)
	}
	return nil
}

func (s *Store) readLog() ([]domain.ChunkRecord, error) {
	var records []domain.ChunkRecord
	err := s.scanLog(func(line []byte, n int) error {
		var r domain.ChunkRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return domain.NewCorruptStoreError(fmt.Sprintf("%s line %d", CorpusFile, n), err)
		}
		if err := domain.ValidateChunkRecord(&r); err != nil {
			return domain.NewCorruptStoreError(fmt.Sprintf("%s line %d", CorpusFile, n), err)
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

func (s *Store) countLogRows() (int, error) {
	count := 0
	err := s.scanLog(func([]byte, int) error {
		count++
		return nil
	})
	return count, err
}

// scanLog calls fn for every non-blank line of the corpus log with its
// 1-based line number. A missing log has no lines.
func (s *Store) scanLog(fn func(line []byte, n int) error) error {
	f, err := os.Open(s.path(CorpusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return domain.NewIOError("failed to open "+CorpusFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line, n); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.NewIOError("failed to read "+CorpusFile, err)
	}
	return nil
}

// stageFile writes data to a synced temp file in the target directory and
// returns its name. The caller renames it over path.
func stageFile(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

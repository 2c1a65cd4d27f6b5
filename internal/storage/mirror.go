package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

const manifestName = "manifest.json"

// ErrDataDirNotEmpty is returned by Restore when the target already holds an index.
var ErrDataDirNotEmpty = errors.New("data directory already contains index files")

// mirroredFiles are uploaded in this order, and the manifest after them.
var mirroredFiles = []string{vectorstore.CorpusFile, vectorstore.VectorsFile, vectorstore.MetaFile}

// ObjectStore is the bucket surface the mirror needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
}

// ArtifactSource hands out the index files of one generation together.
// *vectorstore.Store copies them under its writer lock.
type ArtifactSource interface {
	Artifacts() (*vectorstore.Artifacts, error)
}

// Manifest describes one uploaded snapshot.
type Manifest struct {
	Generation uint64         `json:"generation"`
	UploadedAt time.Time      `json:"uploaded_at"`
	Files      []ManifestFile `json:"files"`
}

// ManifestFile is one artifact of a snapshot.
type ManifestFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Mirror copies a data directory's index artifacts to an object store and
// back.
type Mirror struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewMirror creates a mirror writing under prefix.
func NewMirror(store ObjectStore, prefix string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		store:  store,
		prefix: prefix,
		logger: logger.Named("mirror"),
		now:    time.Now,
	}
}

func (m *Mirror) key(name string) string {
	return path.Join(m.prefix, name)
}

// Sync uploads one consistent copy of the source's artifacts, deletes remote
// copies of absent ones, and writes the manifest last. Writes to the source
// during the upload land in the next Sync.
func (m *Mirror) Sync(ctx context.Context, source ArtifactSource) (*Manifest, error) {
	artifacts, err := source.Artifacts()
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{Generation: artifacts.Generation, UploadedAt: m.now().UTC()}

	for _, name := range mirroredFiles {
		data, ok := artifacts.Files[name]
		if !ok {
			if err := m.store.DeleteObject(ctx, m.key(name)); err != nil {
				return nil, fmt.Errorf("failed to delete remote %s: %w", name, err)
			}
			continue
		}

		if err := m.store.PutObject(ctx, m.key(name), bytes.NewReader(data), int64(len(data)), contentType(name)); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		manifest.Files = append(manifest.Files, ManifestFile{
			Name:   name,
			Size:   int64(len(data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := m.store.PutObject(ctx, m.key(manifestName), bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return nil, err
	}

	m.logger.Info("snapshot mirrored",
		zap.Uint64("generation", manifest.Generation),
		zap.Int("files", len(manifest.Files)),
	)
	return manifest, nil
}

// Restore downloads the last mirrored snapshot into dir. It refuses to touch
// a directory that already has index files. Every file is checked against
// the manifest before it is moved into place.
func (m *Mirror) Restore(ctx context.Context, dir string) (*Manifest, error) {
	for _, name := range mirroredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return nil, ErrDataDirNotEmpty
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewIOError("failed to create data directory", err)
	}

	manifest, err := m.readManifest(ctx)
	if err != nil {
		return nil, err
	}

	staged := make(map[string]string, len(manifest.Files))
	defer func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}()

	for _, f := range manifest.Files {
		tmp, err := m.download(ctx, dir, f)
		if err != nil {
			return nil, err
		}
		staged[f.Name] = tmp
	}

	for _, name := range mirroredFiles {
		tmp, ok := staged[name]
		if !ok {
			continue
		}
		if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
			return nil, domain.NewIOError("failed to move "+name+" into place", err)
		}
		delete(staged, name)
	}

	m.logger.Info("snapshot restored",
		zap.String("dir", dir),
		zap.Uint64("generation", manifest.Generation),
	)
	return manifest, nil
}

func (m *Mirror) readManifest(ctx context.Context) (*Manifest, error) {
	rc, err := m.store.GetObject(ctx, m.key(manifestName))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeNotFound, "no mirrored snapshot", err)
		}
		return nil, err
	}
	defer rc.Close()

	var manifest Manifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return nil, domain.NewCorruptStoreError("unreadable mirror manifest", err)
	}
	for _, f := range manifest.Files {
		if !isMirrored(f.Name) {
			return nil, domain.NewCorruptStoreError(fmt.Sprintf("unexpected file %q in mirror manifest", f.Name), nil)
		}
	}
	return &manifest, nil
}

func (m *Mirror) download(ctx context.Context, dir string, f ManifestFile) (string, error) {
	rc, err := m.store.GetObject(ctx, m.key(f.Name))
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(dir, f.Name+".restore-*")
	if err != nil {
		return "", domain.NewIOError("failed to stage "+f.Name, err)
	}
	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(tmp, h), rc)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", domain.NewIOError("failed to download "+f.Name, errors.Join(copyErr, closeErr))
	}
	if n != f.Size || hex.EncodeToString(h.Sum(nil)) != f.SHA256 {
		_ = os.Remove(tmp.Name())
		return "", domain.NewCorruptStoreError(fmt.Sprintf("mirrored %s does not match its manifest", f.Name), nil)
	}
	return tmp.Name(), nil
}

func isMirrored(name string) bool {
	for _, n := range mirroredFiles {
		if n == name {
			return true
		}
	}
	return false
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

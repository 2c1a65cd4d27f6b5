package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts = append(s.puts, key)
	return nil
}

func (s *memoryStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// fixedSource serves the same artifacts on every call.
type fixedSource struct {
	artifacts vectorstore.Artifacts
}

func (f *fixedSource) Artifacts() (*vectorstore.Artifacts, error) {
	a := f.artifacts
	return &a, nil
}

func indexFiles() map[string][]byte {
	return map[string][]byte{
		vectorstore.CorpusFile:  []byte(`{"id":"a","classe":"erros","titulo":"Erro 504","chunk":"x","source":"kb"}` + "\n"),
		vectorstore.VectorsFile: []byte("KBV1\x01\x00\x00\x00\x01\x00\x00\x00\x00\x00\x80\x3f"),
		vectorstore.MetaFile:    []byte(`[{"id":"a","classe":"erros","titulo":"Erro 504","chunk":"x","source":"kb"}]`),
	}
}

func sourceOf(generation uint64, files map[string][]byte) *fixedSource {
	return &fixedSource{artifacts: vectorstore.Artifacts{Generation: generation, Files: files}}
}

func writeIndexFiles(t *testing.T, dir string) {
	t.Helper()
	for name, data := range indexFiles() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
}

func TestMirror_SyncThenRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	mirror := NewMirror(store, "kbrag", nil)
	files := indexFiles()

	manifest, err := mirror.Sync(ctx, sourceOf(7, files))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), manifest.Generation)
	assert.Len(t, manifest.Files, 3)
	assert.Equal(t, "kbrag/manifest.json", store.puts[len(store.puts)-1])

	dst := filepath.Join(t.TempDir(), "restored")
	restored, err := mirror.Restore(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), restored.Generation)

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dst, name))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no staging files should remain")
}

func TestMirror_SyncDeletesRemovedFiles(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	mirror := NewMirror(store, "kbrag", nil)

	_, err := mirror.Sync(ctx, sourceOf(1, indexFiles()))
	require.NoError(t, err)

	manifest, err := mirror.Sync(ctx, sourceOf(2, map[string][]byte{}))
	require.NoError(t, err)

	assert.Empty(t, manifest.Files)
	assert.NotContains(t, store.objects, "kbrag/"+vectorstore.VectorsFile)
	assert.Contains(t, store.objects, "kbrag/manifest.json")
}

func TestMirror_RestoreWithoutSnapshot(t *testing.T) {
	mirror := NewMirror(newMemoryStore(), "kbrag", nil)

	_, err := mirror.Restore(context.Background(), t.TempDir())

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeNotFound))
}

func TestMirror_RestoreRefusesPopulatedDir(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	mirror := NewMirror(store, "kbrag", nil)
	dir := t.TempDir()
	writeIndexFiles(t, dir)
	_, err := mirror.Sync(ctx, sourceOf(1, indexFiles()))
	require.NoError(t, err)

	_, err = mirror.Restore(ctx, dir)

	assert.ErrorIs(t, err, ErrDataDirNotEmpty)
}

func TestMirror_RestoreDetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	mirror := NewMirror(store, "kbrag", nil)
	_, err := mirror.Sync(ctx, sourceOf(3, indexFiles()))
	require.NoError(t, err)

	store.objects["kbrag/"+vectorstore.VectorsFile] = []byte("KBV1 tampered")
	dst := t.TempDir()

	_, err = mirror.Restore(ctx, dst)

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeCorruptStore))
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMirror_RestoreRejectsUnknownManifestEntry(t *testing.T) {
	store := newMemoryStore()
	store.objects["kbrag/manifest.json"] = []byte(`{"generation":1,"files":[{"name":"../evil","size":1,"sha256":"00"}]}`)
	mirror := NewMirror(store, "kbrag", nil)

	_, err := mirror.Restore(context.Background(), t.TempDir())

	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeCorruptStore))
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{vectorstore.CorpusFile, "application/x-ndjson"},
		{vectorstore.MetaFile, "application/json"},
		{vectorstore.VectorsFile, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contentType(tt.name))
		})
	}
}

// appendingStore runs onPut before storing each object.
type appendingStore struct {
	*memoryStore
	onPut func(key string)
}

func (s *appendingStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s.onPut != nil {
		s.onPut(key)
	}
	return s.memoryStore.PutObject(ctx, key, body, size, contentType)
}

type unitEmbedder struct{}

func (unitEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func chunk(id string) domain.ChunkRecord {
	return domain.ChunkRecord{
		ID:          id,
		Class:       domain.ClassErrors,
		Title:       "Erro " + id,
		Chunk:       "chunk " + id,
		Source:      "kb",
		Identifiers: []string{},
	}
}

func TestMirror_SyncIsConsistentUnderConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	st, err := vectorstore.Open(t.TempDir(), vectorstore.Options{})
	require.NoError(t, err)
	_, err = st.Append(ctx, []domain.ChunkRecord{chunk("a")}, unitEmbedder{})
	require.NoError(t, err)

	objects := &appendingStore{memoryStore: newMemoryStore()}
	appended := false
	objects.onPut = func(key string) {
		if key == "kbrag/"+vectorstore.VectorsFile && !appended {
			appended = true
			_, err := st.Append(ctx, []domain.ChunkRecord{chunk("b")}, unitEmbedder{})
			require.NoError(t, err)
		}
	}
	mirror := NewMirror(objects, "kbrag", nil)

	manifest, err := mirror.Sync(ctx, st)
	require.NoError(t, err)
	require.True(t, appended)
	assert.Equal(t, uint64(1), manifest.Generation)
	assert.Equal(t, 2, st.Snapshot().Len())

	dst := t.TempDir()
	_, err = mirror.Restore(ctx, dst)
	require.NoError(t, err)
	restored, err := vectorstore.Open(dst, vectorstore.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Snapshot().Len())
	assert.Equal(t, 1, restored.Stats().LogRows)

	next, err := mirror.Sync(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Generation)
}

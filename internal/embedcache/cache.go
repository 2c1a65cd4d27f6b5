// Package embedcache memoizes embeddings in BadgerDB, keyed by model and text,
// in front of any embedding provider.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/metrics"
)

const keyPrefix = "emb:"

// Provider is the embedding capability being cached.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache is a Provider that only forwards texts it has not seen for the
// configured model.
type Cache struct {
	db     *badger.DB
	inner  Provider
	model  string
	logger *zap.Logger
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any)   { l.s.Errorf(msg, args...) }
func (l *badgerLogger) Warningf(msg string, args ...any) { l.s.Warnf(msg, args...) }
func (l *badgerLogger) Infof(msg string, args ...any)    { l.s.Debugf(msg, args...) }
func (l *badgerLogger) Debugf(msg string, args ...any)   { l.s.Debugf(msg, args...) }

// Open opens or creates the cache database at dir. An empty dir keeps the
// cache in memory.
func Open(dir string, inner Provider, model string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("embedcache")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{s: logger.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return &Cache{db: db, inner: inner, model: model, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// EmbedTexts serves cached vectors and embeds the rest in one inner call.
// Duplicate texts in a batch are embedded once.
func (c *Cache) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([][]byte, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	err := c.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				out[i] = decodeVector(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("cache read failed, embedding everything", zap.Error(err))
		clear(out)
	}

	var missTexts []string
	missIndex := make(map[string]int)
	for i, t := range texts {
		if out[i] != nil {
			continue
		}
		if _, ok := missIndex[t]; !ok {
			missIndex[t] = len(missTexts)
			missTexts = append(missTexts, t)
		}
	}
	hits := 0
	for _, v := range out {
		if v != nil {
			hits++
		}
	}
	metrics.ObserveCacheLookups(hits, len(texts)-hits)

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, domain.NewProviderError(
			fmt.Sprintf("provider returned %d vectors for %d texts", len(fresh), len(missTexts)), nil)
	}

	for i, t := range texts {
		if out[i] == nil {
			out[i] = fresh[missIndex[t]]
		}
	}
	c.store(missTexts, fresh)
	return out, nil
}

// store persists fresh vectors. Failures only cost a future cache miss.
func (c *Cache) store(texts []string, vectors [][]float32) {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for i, t := range texts {
		if err := wb.Set(c.key(t), encodeVector(vectors[i])); err != nil {
			c.logger.Warn("cache write failed", zap.Error(err))
			return
		}
	}
	if err := wb.Flush(); err != nil {
		c.logger.Warn("cache flush failed", zap.Error(err))
	}
}

func (c *Cache) key(text string) []byte {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return []byte(keyPrefix + hex.EncodeToString(h.Sum(nil)))
}

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// decodeVector returns nil for a malformed value, which reads as a miss.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

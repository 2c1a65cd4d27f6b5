// Package bootstrap decodes bulk knowledge documents: a mapping from class to
// a list of entries, written as JSON or YAML.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/kbrag/internal/domain"
)

// ErrNotMapping is returned when the document root is not a class mapping.
var ErrNotMapping = errors.New("bulk document must be a mapping of class to entries")

// Decode parses a bulk document. Classes come back in document order; keys
// whose value is not a list are skipped.
func Decode(data []byte) ([]domain.ClassBatch, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "malformed bulk document", err)
	}
	if doc.Kind == 0 {
		return []domain.ClassBatch{}, nil
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "malformed bulk document", ErrNotMapping)
	}

	batches := make([]domain.ClassBatch, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]
		if valueNode.Kind != yaml.SequenceNode {
			continue
		}
		class, err := domain.ParseClass(keyNode.Value)
		if err != nil {
			return nil, err
		}

		entries := make([]domain.KnowledgeEntry, 0, len(valueNode.Content))
		for j, itemNode := range valueNode.Content {
			var entry domain.KnowledgeEntry
			if err := itemNode.Decode(&entry); err != nil {
				return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
					fmt.Sprintf("%s item %d is malformed", class, j), err)
			}
			entry.Class = class
			entries = append(entries, entry)
		}
		batches = append(batches, domain.ClassBatch{Class: class, Entries: entries})
	}
	return batches, nil
}

// LoadFile reads and decodes a bulk document from disk.
func LoadFile(path string) ([]domain.ClassBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewIOError("failed to read bulk document", err)
	}
	return Decode(data)
}

// Ingester accepts decoded bulk documents.
type Ingester interface {
	IngestByClass(ctx context.Context, batches []domain.ClassBatch) (int, error)
}

// IngestFunc adapts a function to Ingester.
type IngestFunc func(ctx context.Context, batches []domain.ClassBatch) (int, error)

func (f IngestFunc) IngestByClass(ctx context.Context, batches []domain.ClassBatch) (int, error) {
	return f(ctx, batches)
}

// Run ingests the file at path on top of whatever is already indexed. A
// missing path is not an error; other failures are logged and returned.
func Run(ctx context.Context, path string, ingester Ingester, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("bootstrap file not found", zap.String("path", path))
		return nil
	}

	batches, err := LoadFile(path)
	if err != nil {
		logger.Error("bootstrap decode failed", zap.String("path", path), zap.Error(err))
		return err
	}
	records, err := ingester.IngestByClass(ctx, batches)
	if err != nil {
		logger.Error("bootstrap ingest failed", zap.String("path", path), zap.Error(err))
		return err
	}
	logger.Info("bootstrap ingested", zap.String("path", path), zap.Int("records", records))
	return nil
}

package service

import (
	"strings"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/tokenizer"
	"github.com/google/uuid"
)

// Labels of the canonical entry serialization. The chat layer reads fields
// back out of chunk text by these labels.
const (
	LabelTitle       = "Título"
	LabelClass       = "Classe"
	LabelCause       = "Por que ocorre"
	LabelHandling    = "Tratativa"
	LabelResolution  = "Resolução"
	LabelIdentifiers = "Identificadores"
	LabelSource      = "Fonte"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// RecordBuilder turns knowledge entries into chunk records.
type RecordBuilder struct {
	tok       tokenizer.Tokenizer
	uuidGen   UUIDGenerator
	maxTokens int
}

// NewRecordBuilder creates a RecordBuilder chunking at DefaultRecordChunkTokens.
func NewRecordBuilder(tok tokenizer.Tokenizer) *RecordBuilder {
	return &RecordBuilder{
		tok:       tok,
		uuidGen:   &DefaultUUIDGenerator{},
		maxTokens: DefaultRecordChunkTokens,
	}
}

// NewRecordBuilderWithUUIDGen creates a RecordBuilder with custom UUID generator (for testing)
func NewRecordBuilderWithUUIDGen(tok tokenizer.Tokenizer, uuidGen UUIDGenerator, maxTokens int) *RecordBuilder {
	if maxTokens <= 0 {
		maxTokens = DefaultRecordChunkTokens
	}
	return &RecordBuilder{
		tok:       tok,
		uuidGen:   uuidGen,
		maxTokens: maxTokens,
	}
}

// Build emits one record per chunk of the entry's canonical text.
func (b *RecordBuilder) Build(entry domain.KnowledgeEntry) []domain.ChunkRecord {
	source := entry.Source
	if strings.TrimSpace(source) == "" {
		source = entry.Title
	}
	identifiers := make([]string, len(entry.Identifiers))
	copy(identifiers, entry.Identifiers)

	var records []domain.ChunkRecord
	for chunk := range TokenChunks(b.tok, CanonicalText(entry), b.maxTokens) {
		records = append(records, domain.ChunkRecord{
			ID:          b.uuidGen.NewString(),
			Class:       entry.Class,
			Title:       entry.Title,
			Chunk:       chunk,
			Source:      source,
			Identifiers: identifiers,
		})
	}
	return records
}

// CanonicalText serializes an entry as labelled lines in a fixed order,
// leaving out fields without a value.
func CanonicalText(entry domain.KnowledgeEntry) string {
	var ids []string
	for _, id := range entry.Identifiers {
		if s := strings.TrimSpace(id); s != "" {
			ids = append(ids, s)
		}
	}

	fields := []struct {
		label string
		value string
	}{
		{LabelTitle, entry.Title},
		{LabelClass, string(entry.Class)},
		{LabelCause, entry.Cause},
		{LabelHandling, entry.Handling},
		{LabelResolution, entry.Resolution},
		{LabelIdentifiers, strings.Join(ids, ", ")},
		{LabelSource, entry.Source},
	}

	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		value := strings.TrimSpace(f.value)
		if value == "" {
			continue
		}
		lines = append(lines, f.label+": "+value)
	}
	return strings.Join(lines, "\n")
}

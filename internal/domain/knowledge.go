package domain

import (
	"fmt"
	"strings"
)

// Class partitions knowledge entries into a small closed set of areas.
type Class string

const (
	ClassErrors      Class = "erros"
	ClassStudio      Class = "studio"
	ClassXWork       Class = "xwork"
	ClassIntegration Class = "integracao"
)

var classes = []Class{ClassErrors, ClassStudio, ClassXWork, ClassIntegration}

// Classes returns every known class in declaration order.
func Classes() []Class {
	out := make([]Class, len(classes))
	copy(out, classes)
	return out
}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassErrors, ClassStudio, ClassXWork, ClassIntegration:
		return true
	}
	return false
}

// ParseClass converts user input into a Class.
func ParseClass(s string) (Class, error) {
	c := Class(strings.TrimSpace(s))
	if !c.Valid() {
		return "", NewDomainError(ErrCodeValidation, fmt.Sprintf("invalid class: %s", s))
	}
	return c, nil
}

// KnowledgeEntry is the unit accepted by ingestion. It is not persisted as is.
type KnowledgeEntry struct {
	Class       Class    `json:"classe" yaml:"classe"`
	Title       string   `json:"titulo" yaml:"titulo"`
	Cause       string   `json:"porque_ocorre" yaml:"porque_ocorre"`
	Handling    string   `json:"tratativa" yaml:"tratativa"`
	Resolution  string   `json:"resolucao" yaml:"resolucao"`
	Source      string   `json:"link_da_base" yaml:"link_da_base"`
	Identifiers []string `json:"identificadores" yaml:"identificadores"`
}

// ChunkRecord is the persisted unit: one bounded excerpt of an entry.
type ChunkRecord struct {
	ID          string   `json:"id"`
	Class       Class    `json:"classe"`
	Title       string   `json:"titulo"`
	Chunk       string   `json:"chunk"`
	Source      string   `json:"source"`
	Identifiers []string `json:"identificadores"`
}

// ScoredResult pairs a record with its combined score for one query.
type ScoredResult struct {
	Record ChunkRecord
	Score  float64
}

// ValidateKnowledgeEntry validates a KnowledgeEntry instance
func ValidateKnowledgeEntry(e *KnowledgeEntry) error {
	if e == nil {
		return NewValidationError("knowledge entry cannot be nil")
	}

	if !e.Class.Valid() {
		return NewValidationError(fmt.Sprintf("knowledge entry class is invalid: %q", e.Class))
	}

	if strings.TrimSpace(e.Title) == "" {
		return NewValidationError("knowledge entry title is required")
	}

	return nil
}

// ValidateChunkRecord checks a record read back from persisted state.
func ValidateChunkRecord(r *ChunkRecord) error {
	if r == nil {
		return fmt.Errorf("chunk record cannot be nil")
	}

	if r.ID == "" {
		return fmt.Errorf("chunk record ID is required")
	}

	if !r.Class.Valid() {
		return fmt.Errorf("chunk record class is invalid: %q", r.Class)
	}

	return nil
}

// ClassBatch groups entries under the class they were keyed by in a bulk
// document. Entries inherit Class on ingestion.
type ClassBatch struct {
	Class   Class
	Entries []KnowledgeEntry
}

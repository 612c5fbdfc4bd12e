// Package semantic owns every vector-store operation: collection setup, chunk
// upserts, filtered similarity search, filtered deletes and payload scrolling.
// Qdrant is the primary backend; pgvector and an in-memory store satisfy the
// same Store contract.
package semantic

import (
	"context"

	"github.com/CodeChampian/safebot/engine/domain"
)

// Store is the vector-store contract shared by the ingestion and risk pipelines.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []VectorRecord) error
	SearchFiltered(ctx context.Context, embedding []float32, topK int, filter *Filter) ([]domain.ScoredMatch, error)
	DeleteByFilter(ctx context.Context, filter Filter) error
	DeleteByDocID(ctx context.Context, docID string) error
	Scroll(ctx context.Context, limit int, offset string) (ScrollPage, error)
	Close() error
}

// VectorRecord is a single chunk vector to store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   domain.ChunkPayload
}

// FieldMatch is an exact keyword match on one payload field.
type FieldMatch struct {
	Key   string
	Value string
}

// Filter restricts searches and deletes. Every Must condition has to hold; when
// Should is non-empty at least one of its conditions has to hold as well.
type Filter struct {
	Must   []FieldMatch
	Should []FieldMatch
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0
}

// Matches evaluates the filter against a payload.
func (f Filter) Matches(p domain.ChunkPayload) bool {
	m := p.Map()
	for _, c := range f.Must {
		if !fieldEquals(m, c) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if fieldEquals(m, c) {
			return true
		}
	}
	return false
}

func fieldEquals(m map[string]any, c FieldMatch) bool {
	v, ok := m[c.Key]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == c.Value
}

// DocumentFilter selects every chunk of one document.
func DocumentFilter(docID string) Filter {
	return Filter{Must: []FieldMatch{{Key: domain.FieldDocumentID, Value: docID}}}
}

// VendorFilter selects chunks belonging to any of the given vendors.
// It returns nil when no vendor is given so the search runs unfiltered.
func VendorFilter(vendorIDs []string) *Filter {
	if len(vendorIDs) == 0 {
		return nil
	}
	should := make([]FieldMatch, len(vendorIDs))
	for i, id := range vendorIDs {
		should[i] = FieldMatch{Key: domain.FieldVendorID, Value: id}
	}
	return &Filter{Should: should}
}

// Point is a stored chunk returned by Scroll.
type Point struct {
	ID      string
	Payload domain.ChunkPayload
}

// ScrollPage is one page of stored points. Next is empty on the last page.
type ScrollPage struct {
	Points []Point
	Next   string
}

package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/CodeChampian/safebot/engine/domain"
)

// MemoryStore is an in-process Store using brute-force cosine similarity.
// It backs tests and the "memory" vector backend.
type MemoryStore struct {
	mu      sync.RWMutex
	dims    int
	order   []string
	records map[string]VectorRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]VectorRecord)}
}

// EnsureCollection records the vector size. Calling it again is a no-op.
func (m *MemoryStore) EnsureCollection(_ context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 {
		m.dims = dims
	}
	return nil
}

// Upsert inserts or replaces records by id.
func (m *MemoryStore) Upsert(_ context.Context, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.dims > 0 && len(r.Embedding) != m.dims {
			return fmt.Errorf("semantic: upsert %s: %w: dimension %d, want %d", r.ID, domain.ErrVectorUpsert, len(r.Embedding), m.dims)
		}
	}
	for _, r := range records {
		if _, ok := m.records[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		emb := make([]float32, len(r.Embedding))
		copy(emb, r.Embedding)
		r.Embedding = emb
		m.records[r.ID] = r
	}
	return nil
}

// SearchFiltered ranks matching records by cosine similarity, best first.
func (m *MemoryStore) SearchFiltered(_ context.Context, embedding []float32, topK int, filter *Filter) ([]domain.ScoredMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]domain.ScoredMatch, 0, len(m.records))
	for _, id := range m.order {
		r := m.records[id]
		if filter != nil && !filter.Matches(r.Payload) {
			continue
		}
		results = append(results, domain.ScoredMatch{
			ID:      r.ID,
			Score:   cosine(embedding, r.Embedding),
			Payload: r.Payload,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK >= 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByFilter removes every record matching a non-empty filter.
func (m *MemoryStore) DeleteByFilter(_ context.Context, filter Filter) error {
	if filter.Empty() {
		return fmt.Errorf("semantic: delete: %w: empty filter", domain.ErrVectorDelete)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		if filter.Matches(m.records[id].Payload) {
			delete(m.records, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

// DeleteByDocID removes all records of one document.
func (m *MemoryStore) DeleteByDocID(ctx context.Context, docID string) error {
	return m.DeleteByFilter(ctx, DocumentFilter(docID))
}

// Scroll pages through records in insertion order. The offset is the id of
// the first record of the page.
func (m *MemoryStore) Scroll(_ context.Context, limit int, offset string) (ScrollPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = DefaultScrollPage
	}

	start := 0
	if offset != "" {
		start = len(m.order)
		for i, id := range m.order {
			if id == offset {
				start = i
				break
			}
		}
	}

	var page ScrollPage
	end := min(start+limit, len(m.order))
	for _, id := range m.order[start:end] {
		r := m.records[id]
		page.Points = append(page.Points, Point{ID: r.ID, Payload: r.Payload})
	}
	if end < len(m.order) {
		page.Next = m.order[end]
	}
	return page, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

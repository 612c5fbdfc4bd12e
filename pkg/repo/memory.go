package repo

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// MemoryRepo keeps entities as property maps in memory and decodes them with
// the same toMap/fromRecord pair a Neo4jRepo uses. It serves single-process
// deployments without a graph database and tests.
type MemoryRepo[T any, ID comparable] struct {
	mu         sync.RWMutex
	label      string
	rows       map[any]map[string]any
	seq        map[any]int
	next       int
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

var _ Repository[any, string] = (*MemoryRepo[any, string])(nil)

// NewMemoryRepo creates an empty in-memory repository keyed by the "id" property.
func NewMemoryRepo[T any, ID comparable](label string, toMap func(T) map[string]any, fromRecord func(*neo4j.Record) (T, error)) *MemoryRepo[T, ID] {
	return &MemoryRepo[T, ID]{
		label:      label,
		rows:       make(map[any]map[string]any),
		seq:        make(map[any]int),
		toMap:      toMap,
		fromRecord: fromRecord,
	}
}

func (r *MemoryRepo[T, ID]) decode(props map[string]any) (T, error) {
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return r.fromRecord(&neo4j.Record{Values: []any{cp}, Keys: []string{"n"}})
}

func (r *MemoryRepo[T, ID]) Get(_ context.Context, id ID) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	props, ok := r.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.decode(props)
}

// List applies the same filter and ordering rules as Neo4jRepo. Without
// OrderBy entities come back in insertion order.
func (r *MemoryRepo[T, ID]) List(_ context.Context, opts ListOpts) ([]T, error) {
	for k := range opts.Filter {
		if !propertyName.MatchString(k) {
			return nil, fmt.Errorf("%w: property %q", ErrInvalidFilter, k)
		}
	}
	if opts.OrderBy != "" && !propertyName.MatchString(opts.OrderBy) {
		return nil, fmt.Errorf("%w: order by %q", ErrInvalidFilter, opts.OrderBy)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	keys := make([]any, 0, len(r.rows))
	for id, props := range r.rows {
		if matches(props, opts.Filter) {
			keys = append(keys, id)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if opts.OrderBy != "" {
			a := fmt.Sprint(r.rows[keys[i]][opts.OrderBy])
			b := fmt.Sprint(r.rows[keys[j]][opts.OrderBy])
			if a != b {
				return a < b
			}
		}
		return r.seq[keys[i]] < r.seq[keys[j]]
	})
	if opts.Offset >= len(keys) {
		r.mu.RUnlock()
		return nil, nil
	}
	keys = keys[opts.Offset:]
	if len(keys) > limit {
		keys = keys[:limit]
	}
	page := make([]map[string]any, len(keys))
	for i, k := range keys {
		page[i] = r.rows[k]
	}
	r.mu.RUnlock()

	items := make([]T, 0, len(page))
	for _, props := range page {
		item, err := r.decode(props)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func matches(props, filter map[string]any) bool {
	for k, v := range filter {
		if !reflect.DeepEqual(props[k], v) {
			return false
		}
	}
	return true
}

func (r *MemoryRepo[T, ID]) Create(_ context.Context, entity T) (T, error) {
	props := r.toMap(entity)
	id, ok := props["id"].(ID)
	if !ok {
		var zero T
		return zero, fmt.Errorf("failed to create %s: missing id", r.label)
	}
	r.mu.Lock()
	r.rows[id] = props
	if _, seen := r.seq[id]; !seen {
		r.seq[id] = r.next
		r.next++
	}
	r.mu.Unlock()
	return r.decode(props)
}

// Update merges the entity's properties into the stored ones.
func (r *MemoryRepo[T, ID]) Update(_ context.Context, entity T) (T, error) {
	props := r.toMap(entity)
	id := props["id"]
	r.mu.Lock()
	stored, ok := r.rows[id]
	if !ok {
		r.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	merged := make(map[string]any, len(stored))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	r.rows[id] = merged
	r.mu.Unlock()
	return r.decode(merged)
}

func (r *MemoryRepo[T, ID]) Delete(_ context.Context, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	delete(r.rows, id)
	delete(r.seq, id)
	return nil
}

// Len returns the number of stored entities.
func (r *MemoryRepo[T, ID]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

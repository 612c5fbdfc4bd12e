package supplier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/pkg/repo"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const pageSize = 500

// Store manages suppliers and their document log.
type Store struct {
	suppliers repo.Repository[Supplier, string]
	documents repo.Repository[Document, string]
	now       func() time.Time
	newID     func() string
}

// NewStore wraps the two repositories.
func NewStore(suppliers repo.Repository[Supplier, string], documents repo.Repository[Document, string]) *Store {
	return &Store{
		suppliers: suppliers,
		documents: documents,
		now:       time.Now,
		newID:     NewID,
	}
}

// NewNeo4jStore builds a Store over Supplier and SupplierDocument nodes.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Store {
	return NewStore(
		repo.NewNeo4jRepo[Supplier, string](driver, SupplierLabel, supplierToMap, supplierFromRecord),
		repo.NewNeo4jRepo[Document, string](driver, DocumentLabel, documentToMap, documentFromRecord),
	)
}

// NewMemoryStore builds a Store that keeps suppliers in process memory.
func NewMemoryStore() *Store {
	return NewStore(
		repo.NewMemoryRepo[Supplier, string](SupplierLabel, supplierToMap, supplierFromRecord),
		repo.NewMemoryRepo[Document, string](DocumentLabel, documentToMap, documentFromRecord),
	)
}

// List returns every supplier ordered by name.
func (s *Store) List(ctx context.Context) ([]Supplier, error) {
	return listAll(ctx, s.suppliers, nil, "name")
}

// ActiveNames returns the sorted names of active suppliers.
func (s *Store) ActiveNames(ctx context.Context) ([]string, error) {
	active, err := listAll(ctx, s.suppliers, map[string]any{"active": true}, "name")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(active))
	for _, sup := range active {
		names = append(names, sup.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns one supplier or an error wrapping domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Supplier, error) {
	sup, err := s.suppliers.Get(ctx, id)
	if err != nil {
		return Supplier{}, fmt.Errorf("supplier: get %s: %w", id, err)
	}
	return sup, nil
}

// Create assigns a new id and stores the supplier with a Low risk level.
func (s *Store) Create(ctx context.Context, in Input) (Supplier, error) {
	if err := in.validate(); err != nil {
		return Supplier{}, fmt.Errorf("supplier: create: %w", err)
	}
	now := s.now()
	sup := Supplier{
		ID:             s.newID(),
		RiskLevel:      domain.RiskLow,
		CreatedAt:      now,
		LastAssessment: now,
	}
	in.apply(&sup)
	created, err := s.suppliers.Create(ctx, sup)
	if err != nil {
		return Supplier{}, fmt.Errorf("supplier: create: %w", err)
	}
	return created, nil
}

// Update replaces the editable fields and refreshes the assessment timestamp.
func (s *Store) Update(ctx context.Context, id string, in Input) (Supplier, error) {
	if err := in.validate(); err != nil {
		return Supplier{}, fmt.Errorf("supplier: update: %w", err)
	}
	sup, err := s.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	in.apply(&sup)
	sup.LastAssessment = s.now()
	return s.save(ctx, sup)
}

// RecordAssessment stores the risk level of a completed assessment.
func (s *Store) RecordAssessment(ctx context.Context, id string, level domain.RiskLevel) (Supplier, error) {
	if !domain.ValidRiskLevels[level] {
		return Supplier{}, fmt.Errorf("supplier: record assessment: %w",
			domain.NewValidationError("risk_level", string(level), domain.ErrInvalidSupplier))
	}
	sup, err := s.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	sup.RiskLevel = level
	sup.LastAssessment = s.now()
	return s.save(ctx, sup)
}

// Delete removes a supplier. Its document log entries are kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.suppliers.Delete(ctx, id); err != nil {
		return fmt.Errorf("supplier: delete %s: %w", id, err)
	}
	return nil
}

// AddDocument logs an uploaded file and bumps the supplier's document count.
// A blank ID is assigned a new UUID.
func (s *Store) AddDocument(ctx context.Context, doc Document) (Document, error) {
	sup, err := s.Get(ctx, doc.SupplierID)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(doc.ID) == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.now()
	}
	created, err := s.documents.Create(ctx, doc)
	if err != nil {
		return Document{}, fmt.Errorf("supplier: log document: %w", err)
	}
	sup.DocumentCount++
	if _, err := s.save(ctx, sup); err != nil {
		return created, err
	}
	return created, nil
}

// UpdateDocument rewrites a document log entry, e.g. to record its chunk count.
func (s *Store) UpdateDocument(ctx context.Context, doc Document) (Document, error) {
	updated, err := s.documents.Update(ctx, doc)
	if err != nil {
		return Document{}, fmt.Errorf("supplier: update document %s: %w", doc.ID, err)
	}
	return updated, nil
}

// GetDocument returns one document log entry.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return Document{}, fmt.Errorf("supplier: get document %s: %w", id, err)
	}
	return doc, nil
}

// Documents returns a supplier's documents, newest first.
func (s *Store) Documents(ctx context.Context, supplierID string) ([]Document, error) {
	if _, err := s.Get(ctx, supplierID); err != nil {
		return nil, err
	}
	docs, err := listAll(ctx, s.documents, map[string]any{"supplier_id": supplierID}, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs, nil
}

// RemoveDocument deletes a document log entry and decrements the supplier's
// count when the supplier still exists.
func (s *Store) RemoveDocument(ctx context.Context, id string) (Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := s.documents.Delete(ctx, id); err != nil {
		return Document{}, fmt.Errorf("supplier: delete document %s: %w", id, err)
	}
	sup, err := s.suppliers.Get(ctx, doc.SupplierID)
	if err != nil {
		return doc, nil
	}
	if sup.DocumentCount > 0 {
		sup.DocumentCount--
		if _, err := s.save(ctx, sup); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func (s *Store) save(ctx context.Context, sup Supplier) (Supplier, error) {
	updated, err := s.suppliers.Update(ctx, sup)
	if err != nil {
		return Supplier{}, fmt.Errorf("supplier: update %s: %w", sup.ID, err)
	}
	return updated, nil
}

func listAll[T any](ctx context.Context, r repo.Repository[T, string], filter map[string]any, orderBy string) ([]T, error) {
	var all []T
	for offset := 0; ; offset += pageSize {
		page, err := r.List(ctx, repo.ListOpts{Offset: offset, Limit: pageSize, Filter: filter, OrderBy: orderBy})
		if err != nil {
			return nil, fmt.Errorf("supplier: list: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

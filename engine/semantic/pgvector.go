package semantic

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGStore keeps chunk vectors in a Postgres table with the pgvector extension.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ Store = (*PGStore)(nil)

// filterColumns maps payload keys that may appear in a Filter to table columns.
var filterColumns = map[string]string{
	domain.FieldDocumentID: "document_id",
	domain.FieldVendorID:   "vendor_id",
	domain.FieldFilename:   "filename",
	domain.FieldSource:     "source",
}

// NewPGStore connects to Postgres. The table is created by EnsureCollection.
func NewPGStore(ctx context.Context, connString, table string) (*PGStore, error) {
	if table == "" {
		table = "supplier_docs"
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("semantic: connect postgres: %w", err)
	}
	return &PGStore{pool: pool, table: table}, nil
}

// EnsureCollection creates the extension, table and cosine index if missing.
func (s *PGStore) EnsureCollection(ctx context.Context, dims int) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("semantic: create vector extension: %w", err)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			filename TEXT,
			source TEXT,
			text TEXT,
			chunk_index INTEGER,
			total_chunks INTEGER,
			embedding vector(%d)
		)`, s.table, dims)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("semantic: create table %s: %w", s.table, err)
	}
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("semantic: create index: %w", err)
	}
	return nil
}

// Upsert writes all records in one transaction.
func (s *PGStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("semantic: begin: %w: %w", domain.ErrVectorUpsert, err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, vendor_id, filename, source, text, chunk_index, total_chunks, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			vendor_id = EXCLUDED.vendor_id,
			filename = EXCLUDED.filename,
			source = EXCLUDED.source,
			text = EXCLUDED.text,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			embedding = EXCLUDED.embedding`, s.table)

	for _, r := range records {
		p := r.Payload
		_, err := tx.Exec(ctx, stmt,
			r.ID, p.DocumentID, p.VendorID, pgText(p.Filename), pgText(p.Source),
			pgText(p.Text), p.ChunkIndex, p.TotalChunks,
			pgvector.NewVector(r.Embedding),
		)
		if err != nil {
			return fmt.Errorf("semantic: insert %s: %w: %w", r.ID, domain.ErrVectorUpsert, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("semantic: commit: %w: %w", domain.ErrVectorUpsert, err)
	}
	return nil
}

// SearchFiltered orders rows by cosine distance. Score is 1 - distance.
func (s *PGStore) SearchFiltered(ctx context.Context, embedding []float32, topK int, filter *Filter) ([]domain.ScoredMatch, error) {
	args := []any{pgvector.NewVector(embedding)}
	where := ""
	if filter != nil {
		w, wargs, err := buildWhere(*filter, 2)
		if err != nil {
			return nil, fmt.Errorf("semantic: search: %w: %w", domain.ErrVectorSearch, err)
		}
		where, args = w, append(args, wargs...)
	}
	args = append(args, topK)
	query := fmt.Sprintf(`
		SELECT id, document_id, vendor_id, filename, source, text, chunk_index, total_chunks,
			1 - (embedding <=> $1) AS score
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, s.table, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w: %w", domain.ErrVectorSearch, err)
	}
	defer rows.Close()

	var results []domain.ScoredMatch
	for rows.Next() {
		var (
			m     domain.ScoredMatch
			score float64
		)
		p := &m.Payload
		if err := rows.Scan(&m.ID, &p.DocumentID, &p.VendorID, &p.Filename, &p.Source, &p.Text, &p.ChunkIndex, &p.TotalChunks, &score); err != nil {
			return nil, fmt.Errorf("semantic: scan: %w: %w", domain.ErrVectorSearch, err)
		}
		m.Score = float32(score)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic: search rows: %w: %w", domain.ErrVectorSearch, err)
	}
	return results, nil
}

// DeleteByFilter removes all rows matching a non-empty filter.
func (s *PGStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return fmt.Errorf("semantic: delete: %w: empty filter", domain.ErrVectorDelete)
	}
	where, args, err := buildWhere(filter, 1)
	if err != nil {
		return fmt.Errorf("semantic: delete: %w: %w", domain.ErrVectorDelete, err)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", s.table, where), args...); err != nil {
		return fmt.Errorf("semantic: delete: %w: %w", domain.ErrVectorDelete, err)
	}
	return nil
}

// DeleteByDocID removes all rows of one document.
func (s *PGStore) DeleteByDocID(ctx context.Context, docID string) error {
	return s.DeleteByFilter(ctx, DocumentFilter(docID))
}

// Scroll pages through rows ordered by id. The offset is the first id of the page.
func (s *PGStore) Scroll(ctx context.Context, limit int, offset string) (ScrollPage, error) {
	if limit <= 0 {
		limit = DefaultScrollPage
	}
	query := fmt.Sprintf(`
		SELECT id, document_id, vendor_id, filename, source, text, chunk_index, total_chunks
		FROM %s
		WHERE id >= $1
		ORDER BY id
		LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, offset, limit+1)
	if err != nil {
		return ScrollPage{}, fmt.Errorf("semantic: scroll: %w", err)
	}
	defer rows.Close()

	var page ScrollPage
	for rows.Next() {
		var pt Point
		p := &pt.Payload
		if err := rows.Scan(&pt.ID, &p.DocumentID, &p.VendorID, &p.Filename, &p.Source, &p.Text, &p.ChunkIndex, &p.TotalChunks); err != nil {
			return ScrollPage{}, fmt.Errorf("semantic: scroll scan: %w", err)
		}
		if len(page.Points) == limit {
			page.Next = pt.ID
			break
		}
		page.Points = append(page.Points, pt)
	}
	return page, rows.Err()
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// buildWhere renders a Filter as a SQL WHERE clause with positional
// parameters starting at $start.
func buildWhere(f Filter, start int) (string, []any, error) {
	if f.Empty() {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	param := func(m FieldMatch) (string, error) {
		col, ok := filterColumns[m.Key]
		if !ok {
			return "", fmt.Errorf("unsupported filter field %q", m.Key)
		}
		args = append(args, m.Value)
		return fmt.Sprintf("%s = $%d", col, start+len(args)-1), nil
	}
	for _, m := range f.Must {
		c, err := param(m)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, c)
	}
	if len(f.Should) > 0 {
		var or []string
		for _, m := range f.Should {
			c, err := param(m)
			if err != nil {
				return "", nil, err
			}
			or = append(or, c)
		}
		clauses = append(clauses, "("+strings.Join(or, " OR ")+")")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// pgText makes s storable in a TEXT column, which rejects NUL bytes and
// invalid UTF-8. PDF extraction produces both.
func pgText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}

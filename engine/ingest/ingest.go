// Package ingest turns uploaded supplier documents into embedded chunks in the
// vector store: extract text, split, embed each piece, then upsert in one batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/pkg/fn"
	"github.com/CodeChampian/safebot/pkg/metrics"
	"github.com/google/uuid"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune the pipeline.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// EmbedWorkers bounds concurrent embedding calls per document.
	EmbedWorkers int
	// Dimensions, when set, is checked against every embedding.
	Dimensions int
}

// DefaultOptions match the 384-dimension MiniLM collection.
var DefaultOptions = Options{
	ChunkSize:    DefaultChunkSize,
	ChunkOverlap: DefaultChunkOverlap,
	EmbedWorkers: 4,
	Dimensions:   384,
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Store    semantic.Store
	Embedder Embedder
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Metrics are the ingestion counters exposed at /metrics.
type Metrics struct {
	Docs     *metrics.Counter
	Chunks   *metrics.Counter
	Empty    *metrics.Counter
	Errors   func(stage string) *metrics.Counter
	Duration *metrics.Histogram
}

// NewMetrics registers the ingestion metrics on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		Docs:   reg.Counter("safebot_ingest_docs_total", "Documents ingested"),
		Chunks: reg.Counter("safebot_ingest_chunks_total", "Chunks stored"),
		Empty:  reg.Counter("safebot_ingest_empty_total", "Documents with no extractable text"),
		Errors: func(stage string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("safebot_ingest_errors_total", "stage", stage), "Ingestion failures by stage")
		},
		Duration: reg.Histogram("safebot_ingest_duration_seconds", "Per-document ingestion duration", nil),
	}
}

// Pipeline ingests and deletes supplier documents.
type Pipeline struct {
	deps     Deps
	opts     Options
	splitter *Splitter
	log      *slog.Logger
	rest     fn.Stage[ExtractedDoc, Result]
}

// New wires the pipeline stages.
func New(deps Deps, opts Options) *Pipeline {
	if opts.EmbedWorkers <= 0 {
		opts.EmbedWorkers = DefaultOptions.EmbedWorkers
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		deps:     deps,
		opts:     opts,
		splitter: NewSplitter(opts.ChunkSize, opts.ChunkOverlap),
		log:      log,
	}

	// Chunk → Embed → Store, with logging taps between stages.
	chunked := fn.Then(LoggedTap[ExtractedDoc]("chunk", log), fn.TracedStage("ingest.chunk", p.chunk))
	embedded := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDoc]("embed", log), fn.TracedStage("ingest.embed", p.embed)))
	p.rest = fn.Then(embedded, fn.Then(LoggedTap[EmbeddedDoc]("store", log), fn.TracedStage("ingest.store", p.store)))
	return p
}

// Ingest extracts, chunks, embeds and stores one document. A document with no
// extractable text is not an error: it yields a zero-chunk Result.
// Re-ingesting a document id replaces its previous chunks.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	req, err := req.normalize()
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}

	doc, err := fn.TracedStage("ingest.extract", p.extract)(ctx, req).Unwrap()
	if err != nil {
		p.fail("extract")
		return Result{}, err
	}
	if strings.TrimSpace(doc.Text) == "" {
		p.log.Info("ingest: no text extracted", "doc_id", req.DocumentID, "filename", req.Filename)
		if p.deps.Metrics != nil {
			p.deps.Metrics.Empty.Inc()
		}
		return Result{
			DocumentID: req.DocumentID,
			Message:    "No text content extracted from " + req.Filename,
		}, nil
	}

	res, err := p.rest(ctx, doc).Unwrap()
	if err != nil {
		return Result{}, err
	}
	if m := p.deps.Metrics; m != nil {
		m.Docs.Inc()
		m.Chunks.Add(int64(res.Chunks))
		m.Duration.Since(start)
	}
	p.log.Info("ingest: success", "doc_id", res.DocumentID, "vendor_id", req.VendorID, "chunks", res.Chunks, "duration", time.Since(start))
	return res, nil
}

// Delete removes every chunk of a document.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return fmt.Errorf("ingest: delete: %w", domain.NewValidationError("document_id", documentID, domain.ErrInvalidDocument))
	}
	if err := p.deps.Store.DeleteByDocID(ctx, documentID); err != nil {
		p.fail("delete")
		return fmt.Errorf("ingest: delete %s: %w", documentID, err)
	}
	p.log.Info("ingest: deleted", "doc_id", documentID)
	return nil
}

func (p *Pipeline) extract(_ context.Context, req Request) fn.Result[ExtractedDoc] {
	text, err := ExtractText(req.FilePath)
	if err != nil {
		return fn.Err[ExtractedDoc](fmt.Errorf("ingest: %w", err))
	}
	return fn.Ok(ExtractedDoc{Request: req, Text: text})
}

func (p *Pipeline) chunk(_ context.Context, doc ExtractedDoc) fn.Result[ChunkedDoc] {
	pieces, err := p.splitter.Split(doc.Text)
	if err != nil {
		p.fail("chunk")
		return fn.Err[ChunkedDoc](err)
	}
	return fn.Ok(ChunkedDoc{Request: doc.Request, Pieces: pieces})
}

func (p *Pipeline) embed(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
	results := fn.ParMapResult(doc.Pieces, p.opts.EmbedWorkers, func(text string) fn.Result[[]float32] {
		if err := ctx.Err(); err != nil {
			return fn.Err[[]float32](err)
		}
		vec, err := p.deps.Embedder.Embed(ctx, text)
		if err != nil {
			return fn.Err[[]float32](err)
		}
		if p.opts.Dimensions > 0 && len(vec) != p.opts.Dimensions {
			return fn.Errf[[]float32]("got %d dimensions, want %d", len(vec), p.opts.Dimensions)
		}
		return fn.Ok(vec)
	})
	embeddings, err := fn.Collect(results).Unwrap()
	if err != nil {
		p.fail("embed")
		return fn.Err[EmbeddedDoc](fmt.Errorf("ingest: embed %s: %w", doc.DocumentID, domain.NewStepError(domain.ErrEmbedding, err)))
	}
	return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Embeddings: embeddings})
}

// store replaces any earlier chunks of the document, then upserts the new ones
// in a single batch.
func (p *Pipeline) store(ctx context.Context, doc EmbeddedDoc) fn.Result[Result] {
	if err := p.deps.Store.DeleteByDocID(ctx, doc.DocumentID); err != nil {
		p.fail("store")
		return fn.Err[Result](fmt.Errorf("ingest: clear previous chunks: %w", err))
	}

	total := len(doc.Pieces)
	records := make([]semantic.VectorRecord, total)
	for i, text := range doc.Pieces {
		records[i] = semantic.VectorRecord{
			ID:        PointID(doc.DocumentID, i),
			Embedding: doc.Embeddings[i],
			Payload: domain.ChunkPayload{
				Text:        text,
				DocumentID:  doc.DocumentID,
				VendorID:    doc.VendorID,
				Filename:    doc.Filename,
				ChunkIndex:  i,
				TotalChunks: total,
				Source:      doc.Filename,
			},
		}
	}
	if err := p.deps.Store.Upsert(ctx, records); err != nil {
		p.fail("store")
		return fn.Err[Result](fmt.Errorf("ingest: store %s: %w", doc.DocumentID, err))
	}
	return fn.Ok(Result{
		DocumentID: doc.DocumentID,
		Chunks:     total,
		Message:    fmt.Sprintf("Ingested %d chunks from %s", total, doc.Filename),
	})
}

func (p *Pipeline) fail(stage string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.Errors(stage).Inc()
	}
}

// PointID derives a stable point id from the document id and chunk index.
func PointID(docID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, index))).String()
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

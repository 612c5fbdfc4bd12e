package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/CodeChampian/safebot/engine/supplier"
	"github.com/CodeChampian/safebot/pkg/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// assessor runs one risk assessment.
type assessor interface {
	Assess(ctx context.Context, query string, vendorIDs []string) (*domain.Verdict, error)
}

type server struct {
	assessor  assessor
	store     semantic.Store
	ingester  ingest.Ingester
	suppliers *supplier.Store
	uploadDir string
	metrics   *metrics.Registry
	log       *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("GET /vendors", s.handleVendors)
	mux.HandleFunc("GET /suppliers", s.handleSupplierNames)
	mux.HandleFunc("GET /api/suppliers", s.handleListSuppliers)
	mux.HandleFunc("POST /api/suppliers", s.handleCreateSupplier)
	mux.HandleFunc("GET /api/suppliers/{id}", s.handleGetSupplier)
	mux.HandleFunc("PUT /api/suppliers/{id}", s.handleUpdateSupplier)
	mux.HandleFunc("DELETE /api/suppliers/{id}", s.handleDeleteSupplier)
	mux.HandleFunc("POST /api/suppliers/{id}/documents", s.handleUpload)
	mux.HandleFunc("GET /api/suppliers/{id}/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(s.uploadDir))))
	return mux
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps the error taxonomy onto status codes.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeDetail(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errBadBody):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmptyQuery):
		writeDetail(w, http.StatusBadRequest, "Query cannot be empty.")
	case domain.IsClientError(err):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

var errBadBody = errors.New("invalid request body")

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	return nil
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AnalyzeRequest is the JSON body for POST /analyze.
type AnalyzeRequest struct {
	Query     string   `json:"query"`
	VendorIDs []string `json:"vendor_ids"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	verdict, err := s.assessor.Assess(r.Context(), req.Query, req.VendorIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordAssessment(r.Context(), req.VendorIDs, verdict.RiskLevel)
	writeJSON(w, http.StatusOK, verdict)
}

// recordAssessment stores the verdict on the supplier when the query was
// scoped to exactly one known supplier.
func (s *server) recordAssessment(ctx context.Context, vendorIDs []string, level domain.RiskLevel) {
	ids := domain.NormalizeVendorIDs(vendorIDs)
	if len(ids) != 1 {
		return
	}
	if _, err := s.suppliers.RecordAssessment(ctx, ids[0], level); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("record assessment failed", "supplier_id", ids[0], "error", err)
	}
}

func (s *server) handleVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := semantic.DistinctVendors(r.Context(), s.store, semantic.DefaultScrollPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"vendors": vendors})
}

func (s *server) handleSupplierNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.suppliers.ActiveNames(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suppliers": names})
}

func (s *server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	all, err := s.suppliers.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if all == nil {
		all = []supplier.Supplier{}
	}
	writeJSON(w, http.StatusOK, map[string][]supplier.Supplier{"suppliers": all})
}

func (s *server) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	sup, err := s.suppliers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]supplier.Supplier{"supplier": sup})
}

func (s *server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var in supplier.Input
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sup, err := s.suppliers.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]supplier.Supplier{"supplier": sup})
}

func (s *server) handleUpdateSupplier(w http.ResponseWriter, r *http.Request) {
	var in supplier.Input
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sup, err := s.suppliers.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]supplier.Supplier{"supplier": sup})
}

func (s *server) handleDeleteSupplier(w http.ResponseWriter, r *http.Request) {
	if err := s.suppliers.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Supplier deleted successfully"})
}

// UploadResponse is the JSON response for a document upload.
type UploadResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
	Chunks     *int   `json:"chunks,omitempty"`
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	supplierID := r.PathValue("id")
	if _, err := s.suppliers.Get(ctx, supplierID); err != nil {
		s.writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, err)
			return
		}
		writeDetail(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !ingest.Supported(header.Filename) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("File type %q not allowed. Allowed types: %s",
			ext, strings.Join(ingest.SupportedExtensions(), ", ")))
		return
	}

	docID := uuid.NewString()
	stored := docID + ext
	path := filepath.Join(s.uploadDir, supplierID, stored)
	size, err := saveUpload(path, file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("failed to save file: %w", err))
		return
	}

	doc, err := s.suppliers.AddDocument(ctx, supplier.Document{
		ID:             docID,
		SupplierID:     supplierID,
		Filename:       header.Filename,
		StoredFilename: stored,
		FilePath:       path,
		Size:           size,
		Extension:      ext,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := UploadResponse{Message: "Document uploaded successfully", DocumentID: docID, FilePath: path}
	res, err := s.ingester.Ingest(ctx, ingest.Request{
		FilePath:   path,
		DocumentID: docID,
		VendorID:   supplierID,
		Filename:   header.Filename,
	})
	switch {
	case errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		resp.Message = "Document uploaded; ingestion is still running"
		writeJSON(w, http.StatusAccepted, resp)
		return
	case err != nil:
		s.writeError(w, r, fmt.Errorf("document saved but ingestion failed: %w", err))
		return
	}

	doc.Chunks = res.Chunks
	if _, err := s.suppliers.UpdateDocument(ctx, doc); err != nil {
		s.log.Warn("record chunk count failed", "doc_id", docID, "error", err)
	}
	resp.Chunks = &res.Chunks
	if res.Chunks == 0 {
		resp.Message = res.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func saveUpload(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

// DocumentView is a document log entry with its download URL.
type DocumentView struct {
	supplier.Document
	URL string `json:"url"`
}

func (s *server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.suppliers.Documents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]DocumentView, len(docs))
	for i, d := range docs {
		views[i] = DocumentView{Document: d, URL: "/files/" + d.SupplierID + "/" + d.StoredFilename}
	}
	writeJSON(w, http.StatusOK, map[string][]DocumentView{"documents": views})
}

func (s *server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := r.PathValue("id")
	if err := s.ingester.Delete(ctx, docID); err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.suppliers.RemoveDocument(ctx, docID)
	switch {
	case err == nil:
		if rmErr := os.Remove(doc.FilePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.log.Warn("remove stored file failed", "path", doc.FilePath, "error", rmErr)
		}
	case !errors.Is(err, domain.ErrNotFound):
		s.log.Warn("remove document log failed", "doc_id", docID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted", "document_id": docID})
}

package ingest

import (
	"path/filepath"
	"strings"

	"github.com/CodeChampian/safebot/engine/domain"
)

// Request asks for one document to be ingested for one vendor.
type Request struct {
	FilePath   string `json:"file_path"`
	DocumentID string `json:"document_id"`
	VendorID   string `json:"vendor_id"`
	Filename   string `json:"filename"`
}

// Result reports how many chunks were stored.
type Result struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	// Kind names the error class of a failure so a remote caller can restore it.
	Kind string `json:"kind,omitempty"`
}

// DeleteRequest asks for every chunk of a document to be removed.
type DeleteRequest struct {
	DocumentID string `json:"document_id"`
}

// ExtractedDoc is a request with its raw text.
type ExtractedDoc struct {
	Request
	Text string
}

// ChunkedDoc is an extracted document split into non-blank pieces.
type ChunkedDoc struct {
	Request
	Pieces []string
}

// EmbeddedDoc is a chunked document with one embedding per piece.
type EmbeddedDoc struct {
	ChunkedDoc
	Embeddings [][]float32
}

// normalize trims the request and defaults Filename to the file's base name.
func (r Request) normalize() (Request, error) {
	r.FilePath = strings.TrimSpace(r.FilePath)
	r.DocumentID = strings.TrimSpace(r.DocumentID)
	r.VendorID = strings.TrimSpace(r.VendorID)
	r.Filename = strings.TrimSpace(r.Filename)

	switch {
	case r.FilePath == "":
		return r, domain.NewValidationError("file_path", r.FilePath, domain.ErrInvalidDocument)
	case r.DocumentID == "":
		return r, domain.NewValidationError("document_id", r.DocumentID, domain.ErrInvalidDocument)
	case r.VendorID == "":
		return r, domain.NewValidationError("vendor_id", r.VendorID, domain.ErrInvalidDocument)
	}
	if r.Filename == "" {
		r.Filename = filepath.Base(r.FilePath)
	}
	return r, nil
}

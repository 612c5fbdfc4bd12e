// Package domain defines the core types, error taxonomy and validation shared by
// the ingestion and risk-assessment pipelines. It acts as the validation gate at
// pipeline entry points.
package domain

import (
	"fmt"
	"strconv"
)

// RiskLevel is the coarse classification attached to a verdict.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// ValidRiskLevels is the set of recognised risk levels.
var ValidRiskLevels = map[RiskLevel]bool{
	RiskLow: true, RiskModerate: true, RiskHigh: true,
}

// Payload keys stored on every vector point.
const (
	FieldText        = "text"
	FieldDocumentID  = "document_id"
	FieldVendorID    = "vendor_id"
	FieldFilename    = "filename"
	FieldChunkIndex  = "chunk_index"
	FieldTotalChunks = "total_chunks"
	FieldSource      = "source"
)

// UnknownSource is reported as evidence when a point carries no source.
const UnknownSource = "Unknown"

// ChunkPayload is the metadata attached to one stored chunk vector.
type ChunkPayload struct {
	Text        string `json:"text"`
	DocumentID  string `json:"document_id"`
	VendorID    string `json:"vendor_id"`
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Source      string `json:"source"`
}

// Map flattens the payload into the key/value form vector stores persist.
func (p ChunkPayload) Map() map[string]any {
	return map[string]any{
		FieldText:        p.Text,
		FieldDocumentID:  p.DocumentID,
		FieldVendorID:    p.VendorID,
		FieldFilename:    p.Filename,
		FieldChunkIndex:  p.ChunkIndex,
		FieldTotalChunks: p.TotalChunks,
		FieldSource:      p.Source,
	}
}

// PayloadFromMap rebuilds a ChunkPayload from a stored key/value payload.
// Missing keys are left at their zero value.
func PayloadFromMap(m map[string]any) ChunkPayload {
	return ChunkPayload{
		Text:        stringField(m, FieldText),
		DocumentID:  stringField(m, FieldDocumentID),
		VendorID:    stringField(m, FieldVendorID),
		Filename:    stringField(m, FieldFilename),
		ChunkIndex:  intField(m, FieldChunkIndex),
		TotalChunks: intField(m, FieldTotalChunks),
		Source:      stringField(m, FieldSource),
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Query is a risk question plus an optional vendor scope.
type Query struct {
	Text      string   `json:"query"`
	VendorIDs []string `json:"vendor_ids"`
}

// ScoredMatch is a chunk returned by a single similarity search.
// Scores are only comparable within the same search call.
type ScoredMatch struct {
	ID      string       `json:"id"`
	Score   float32      `json:"score"`
	Payload ChunkPayload `json:"payload"`
}

// Verdict is the output of one risk assessment. It is never persisted by the core.
type Verdict struct {
	RiskLevel RiskLevel `json:"risk_level"`
	Evidence  []string  `json:"evidence"`
	Summary   string    `json:"summary"`
}

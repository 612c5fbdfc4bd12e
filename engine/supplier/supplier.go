// Package supplier keeps supplier records and their uploaded document log in
// a generic repository backed by Neo4j.
package supplier

import (
	"fmt"
	"strings"
	"time"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/pkg/repo"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Node labels.
const (
	SupplierLabel = "Supplier"
	DocumentLabel = "SupplierDocument"
)

// Supplier is one vendor under risk monitoring.
type Supplier struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Category       string           `json:"category"`
	Location       string           `json:"location"`
	RiskLevel      domain.RiskLevel `json:"riskLevel"`
	ContactEmail   string           `json:"contact_email,omitempty"`
	ContactPhone   string           `json:"contact_phone,omitempty"`
	Description    string           `json:"description,omitempty"`
	Active         bool             `json:"active"`
	DocumentCount  int              `json:"document_count"`
	CreatedAt      time.Time        `json:"created_at"`
	LastAssessment time.Time        `json:"last_assessment"`
}

// Input carries the caller-editable supplier fields.
type Input struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Location     string `json:"location"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	Description  string `json:"description,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `json:"active,omitempty"`
}

func (in Input) validate() error {
	for _, f := range []struct{ name, value string }{
		{"name", in.Name},
		{"category", in.Category},
		{"location", in.Location},
	} {
		if strings.TrimSpace(f.value) == "" {
			return domain.NewValidationError(f.name, f.value, domain.ErrInvalidSupplier)
		}
	}
	return nil
}

func (in Input) apply(s *Supplier) {
	s.Name = strings.TrimSpace(in.Name)
	s.Category = strings.TrimSpace(in.Category)
	s.Location = strings.TrimSpace(in.Location)
	s.ContactEmail = in.ContactEmail
	s.ContactPhone = in.ContactPhone
	s.Description = in.Description
	s.Active = in.Active == nil || *in.Active
}

// Document is the log entry of one uploaded supplier file.
type Document struct {
	ID             string    `json:"id"`
	SupplierID     string    `json:"supplier_id"`
	Filename       string    `json:"filename"`
	StoredFilename string    `json:"stored_filename"`
	FilePath       string    `json:"file_path"`
	Size           int64     `json:"size"`
	Extension      string    `json:"extension"`
	Chunks         int       `json:"chunks"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// NewID returns a supplier id of the form SUP-XXXXXXXX.
func NewID() string {
	return "SUP-" + strings.ToUpper(uuid.NewString()[:8])
}

func supplierToMap(s Supplier) map[string]any {
	return map[string]any{
		"id":              s.ID,
		"name":            s.Name,
		"category":        s.Category,
		"location":        s.Location,
		"risk_level":      string(s.RiskLevel),
		"contact_email":   s.ContactEmail,
		"contact_phone":   s.ContactPhone,
		"description":     s.Description,
		"active":          s.Active,
		"document_count":  int64(s.DocumentCount),
		"created_at":      formatTime(s.CreatedAt),
		"last_assessment": formatTime(s.LastAssessment),
	}
}

func supplierFromRecord(rec *neo4j.Record) (Supplier, error) {
	props, err := repo.NodeProps(rec)
	if err != nil {
		return Supplier{}, err
	}
	s := Supplier{
		ID:             strProp(props, "id"),
		Name:           strProp(props, "name"),
		Category:       strProp(props, "category"),
		Location:       strProp(props, "location"),
		RiskLevel:      domain.RiskLevel(strProp(props, "risk_level")),
		ContactEmail:   strProp(props, "contact_email"),
		ContactPhone:   strProp(props, "contact_phone"),
		Description:    strProp(props, "description"),
		Active:         true,
		DocumentCount:  int(intProp(props, "document_count")),
		CreatedAt:      timeProp(props, "created_at"),
		LastAssessment: timeProp(props, "last_assessment"),
	}
	if v, ok := props["active"].(bool); ok {
		s.Active = v
	}
	if s.RiskLevel == "" {
		s.RiskLevel = domain.RiskLow
	}
	if s.ID == "" {
		return Supplier{}, fmt.Errorf("supplier: record without id")
	}
	return s, nil
}

func documentToMap(d Document) map[string]any {
	return map[string]any{
		"id":              d.ID,
		"supplier_id":     d.SupplierID,
		"filename":        d.Filename,
		"stored_filename": d.StoredFilename,
		"file_path":       d.FilePath,
		"size":            d.Size,
		"extension":       d.Extension,
		"chunks":          int64(d.Chunks),
		"uploaded_at":     formatTime(d.UploadedAt),
	}
}

func documentFromRecord(rec *neo4j.Record) (Document, error) {
	props, err := repo.NodeProps(rec)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:             strProp(props, "id"),
		SupplierID:     strProp(props, "supplier_id"),
		Filename:       strProp(props, "filename"),
		StoredFilename: strProp(props, "stored_filename"),
		FilePath:       strProp(props, "file_path"),
		Size:           intProp(props, "size"),
		Extension:      strProp(props, "extension"),
		Chunks:         int(intProp(props, "chunks")),
		UploadedAt:     timeProp(props, "uploaded_at"),
	}, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, strProp(props, key))
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

package domain

import (
	"errors"
	"fmt"

	"github.com/CodeChampian/safebot/pkg/config"
	"github.com/CodeChampian/safebot/pkg/llm"
	"github.com/CodeChampian/safebot/pkg/repo"
)

// Sentinel errors for client input.
var (
	ErrInvalidQuery = errors.New("invalid query")
	ErrEmptyQuery   = fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	ErrBlankVendors = fmt.Errorf("%w: vendor_ids contains no usable id", ErrInvalidQuery)

	ErrInvalidDocument = errors.New("invalid document request")
	ErrInvalidSupplier = errors.New("invalid supplier")
)

// Sentinel kinds for external service failures. Each is terminal for the
// current request; the core never retries.
var (
	ErrEmbedding            = errors.New("embedding failure")
	ErrRemoteModel          = llm.ErrRemoteModel
	ErrUnrecognizedResponse = llm.ErrUnrecognizedResponse
	ErrTransport            = llm.ErrTransport
	ErrVectorSearch         = errors.New("vector DB search error")
	ErrVectorUpsert         = errors.New("vector upsert failure")
	ErrVectorDelete         = errors.New("vector delete failure")
	ErrSSRGeneration        = errors.New("SSR generation error")
	ErrLLM                  = errors.New("LLM error")
)

// Ingestion and startup kinds.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtraction        = errors.New("text extraction failed")
	ErrConfig            = config.ErrConfig
	ErrNotFound          = repo.ErrNotFound
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// StepError ties a failure to the pipeline step kind it occurred in.
// errors.Is matches both the kind and anything in the cause chain.
type StepError struct {
	Kind error
	Err  error
}

// NewStepError wraps err with the given kind.
func NewStepError(kind, err error) *StepError {
	return &StepError{Kind: kind, Err: err}
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RemoteModelError carries the error object returned by the completion service.
type RemoteModelError = llm.RemoteError

// UnsupportedFormatError names the rejected file extension.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type: %q", e.Ext)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// ExtractionError wraps a library failure with the format being read.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("error extracting text from %s: %s", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() []error { return []error{ErrExtraction, e.Err} }

// ConfigError lists every setting that failed validation.
type ConfigError = config.ConfigError

// IsClientError reports whether err should be surfaced as a caller mistake
// rather than a server failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrInvalidSupplier) ||
		errors.Is(err, ErrUnsupportedFormat)
}

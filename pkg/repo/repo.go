// Package repo defines the generic Repository interface and list options.
package repo

import (
	"context"
	"errors"
)

// Errors shared by every implementation.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidFilter = errors.New("invalid list filter")
)

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations.
// Filter entries are property equalities combined with AND.
type ListOpts struct {
	Offset  int
	Limit   int
	Filter  map[string]any
	OrderBy string
}

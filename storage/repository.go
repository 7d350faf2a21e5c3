// Package storage provides the document store abstraction used by the
// user and todo services. Documents are flat string maps grouped into
// named collections and addressed by a store-generated opaque ID.
package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/jmcleod/todoapi/internal/uuid"
)

var (
	// ErrNotFound is returned when no document matches the lookup.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a write would violate a unique field.
	ErrDuplicate = errors.New("duplicate document")
)

// CheckID returns ErrNotFound when id is not a UUID. Backends that issue
// UUIDs call it before touching storage.
func CheckID(collection, id string) error {
	if uuid.Valid(id) {
		return nil
	}
	return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
}

// Document is a stored record. Fields never contains the ID.
type Document struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Get returns the named field, or "" when it is absent.
func (d *Document) Get(field string) string {
	if d == nil {
		return ""
	}
	return d.Fields[field]
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{ID: d.ID, Fields: maps.Clone(d.Fields)}
}

// Repository defines the interface for document storage.
//
// Insert enforces uniqueness atomically for the fields named in unique:
// if another document in the collection already holds the same value for
// any of them, ErrDuplicate is returned and nothing is written. Update
// keeps those constraints for the fields the document was inserted with.
type Repository interface {
	Insert(ctx context.Context, collection string, fields map[string]string, unique ...string) (*Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	FindOne(ctx context.Context, collection, field, value string) (*Document, error)
	// List returns up to limit documents in insertion order. A limit of
	// zero or less returns every document.
	List(ctx context.Context, collection string, limit int) ([]*Document, error)
	// Update merges fields into the stored document and returns the result.
	Update(ctx context.Context, collection, id string, fields map[string]string) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
}

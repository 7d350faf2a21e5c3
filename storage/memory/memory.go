// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jmcleod/todoapi/internal/uuid"
	"github.com/jmcleod/todoapi/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	docs  map[string]*record
	order []string
}

type record struct {
	fields map[string]string
	unique []string
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{collections: make(map[string]*collection)}
}

func (r *Repository) collectionLocked(name string) *collection {
	c, ok := r.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]*record)}
		r.collections[name] = c
	}
	return c
}

func toDocument(id string, rec *record) *storage.Document {
	return &storage.Document{ID: id, Fields: maps.Clone(rec.fields)}
}

// conflictLocked reports whether any document other than skipID holds
// value for field.
func (c *collection) conflictLocked(field, value, skipID string) bool {
	for id, rec := range c.docs {
		if id == skipID {
			continue
		}
		if v, ok := rec.fields[field]; ok && v == value {
			return true
		}
	}
	return false
}

func (r *Repository) Insert(_ context.Context, name string, fields map[string]string, unique ...string) (*storage.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.collectionLocked(name)
	for _, field := range unique {
		if c.conflictLocked(field, fields[field], "") {
			return nil, fmt.Errorf("%s.%s: %w", name, field, storage.ErrDuplicate)
		}
	}
	id := uuid.New()
	rec := &record{fields: maps.Clone(fields), unique: append([]string(nil), unique...)}
	if rec.fields == nil {
		rec.fields = make(map[string]string)
	}
	c.docs[id] = rec
	c.order = append(c.order, id)
	return toDocument(id, rec), nil
}

func (r *Repository) Get(_ context.Context, name, id string) (*storage.Document, error) {
	if err := storage.CheckID(name, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	rec, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	return toDocument(id, rec), nil
}

func (r *Repository) FindOne(_ context.Context, name, field, value string) (*storage.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.collections[name]; ok {
		for _, id := range c.order {
			rec := c.docs[id]
			if v, ok := rec.fields[field]; ok && v == value {
				return toDocument(id, rec), nil
			}
		}
	}
	return nil, fmt.Errorf("%s[%s]: %w", name, field, storage.ErrNotFound)
}

func (r *Repository) List(_ context.Context, name string, limit int) ([]*storage.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, nil
	}
	var docs []*storage.Document
	for _, id := range c.order {
		if limit > 0 && len(docs) >= limit {
			break
		}
		docs = append(docs, toDocument(id, c.docs[id]))
	}
	return docs, nil
}

func (r *Repository) Update(_ context.Context, name, id string, fields map[string]string) (*storage.Document, error) {
	if err := storage.CheckID(name, id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	rec, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	for _, field := range rec.unique {
		if v, ok := fields[field]; ok && c.conflictLocked(field, v, id) {
			return nil, fmt.Errorf("%s.%s: %w", name, field, storage.ErrDuplicate)
		}
	}
	maps.Copy(rec.fields, fields)
	return toDocument(id, rec), nil
}

func (r *Repository) Delete(_ context.Context, name, id string) error {
	if err := storage.CheckID(name, id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[name]
	if !ok {
		return fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Package todo implements the todo item use cases on top of a
// storage.Repository.
package todo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmcleod/todoapi/storage"
)

const (
	collection       = "todo"
	fieldTitle       = "title"
	fieldDescription = "description"

	// ListLimit caps the number of items returned by List.
	ListLimit = 100
)

var (
	// ErrNotFound is returned when no todo exists with the given id.
	ErrNotFound = errors.New("todo not found")
	// ErrInvalidInput is returned when a todo is missing its title.
	ErrInvalidInput = errors.New("invalid todo")
)

// Todo is a stored todo item.
type Todo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Fields carries a partial update. A nil field is left unchanged.
type Fields struct {
	Title       *string
	Description *string
}

func fromDocument(doc *storage.Document) Todo {
	return Todo{
		ID:          doc.ID,
		Title:       doc.Get(fieldTitle),
		Description: doc.Get(fieldDescription),
	}
}

// Service implements create, read, update and delete for todos.
type Service struct {
	repo storage.Repository
}

// NewService creates a Service storing todos in repo.
func NewService(repo storage.Repository) *Service {
	return &Service{repo: repo}
}

// Create stores a new todo. The title must not be blank.
func (s *Service) Create(ctx context.Context, title, description string) (Todo, error) {
	if strings.TrimSpace(title) == "" {
		return Todo{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	doc, err := s.repo.Insert(ctx, collection, map[string]string{
		fieldTitle:       title,
		fieldDescription: description,
	})
	if err != nil {
		return Todo{}, fmt.Errorf("storing todo: %w", err)
	}
	return fromDocument(doc), nil
}

// List returns up to ListLimit todos in insertion order.
func (s *Service) List(ctx context.Context) ([]Todo, error) {
	docs, err := s.repo.List(ctx, collection, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}
	todos := make([]Todo, 0, len(docs))
	for _, doc := range docs {
		todos = append(todos, fromDocument(doc))
	}
	return todos, nil
}

// Get returns the todo with the given id.
func (s *Service) Get(ctx context.Context, id string) (Todo, error) {
	doc, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		return Todo{}, mapStoreError("loading todo", err)
	}
	return fromDocument(doc), nil
}

// Update applies the non-nil fields to the todo and returns the result.
// An update with no fields returns the todo unchanged.
func (s *Service) Update(ctx context.Context, id string, f Fields) (Todo, error) {
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return Todo{}, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	changes := make(map[string]string, 2)
	if f.Title != nil {
		changes[fieldTitle] = *f.Title
	}
	if f.Description != nil {
		changes[fieldDescription] = *f.Description
	}
	if len(changes) == 0 {
		return s.Get(ctx, id)
	}
	doc, err := s.repo.Update(ctx, collection, id, changes)
	if err != nil {
		return Todo{}, mapStoreError("updating todo", err)
	}
	return fromDocument(doc), nil
}

// Delete removes the todo with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, collection, id); err != nil {
		return mapStoreError("deleting todo", err)
	}
	return nil
}

func mapStoreError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

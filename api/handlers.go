package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/todoapi/todo"
)

// CreateTodo handles POST /todo.
func (a *API) CreateTodo(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[TodoBody](w, r)
	if !ok {
		return
	}
	var title, description string
	if req.Title != nil {
		title = *req.Title
	}
	if req.Description != nil {
		description = *req.Description
	}

	created, err := a.todos.Create(r.Context(), title, description)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditTodoCreated, r, subjectFromContext(r.Context()),
		slog.String("todo_id", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

// ListTodos handles GET /todos.
func (a *API) ListTodos(w http.ResponseWriter, r *http.Request) {
	todos, err := a.todos.List(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

// GetTodo handles GET /todos/{id}.
func (a *API) GetTodo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := a.todos.Get(r.Context(), id)
	if errors.Is(err, todo.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Todo(id:%s) not found", id))
		return
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateTodo handles PUT /todos/{id}. Fields omitted from the body keep
// their current value.
func (a *API) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := decodeJSON[TodoBody](w, r)
	if !ok {
		return
	}

	updated, err := a.todos.Update(r.Context(), id, todo.Fields{
		Title:       req.Title,
		Description: req.Description,
	})
	if errors.Is(err, todo.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Update failed for Todo(id:%s)", id))
		return
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditTodoUpdated, r, subjectFromContext(r.Context()),
		slog.String("todo_id", id))
	writeJSON(w, http.StatusOK, updated)
}

// DeleteTodo handles DELETE /todos/{id}.
func (a *API) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.todos.Delete(r.Context(), id)
	if errors.Is(err, todo.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Delete failed for Todo(id:%s)", id))
		return
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditTodoDeleted, r, subjectFromContext(r.Context()),
		slog.String("todo_id", id))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Todo deleted successfully"})
}

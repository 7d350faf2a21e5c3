package todo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/todoapi/storage/memory"
)

func ptr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	s := NewService(memory.NewRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, "buy milk", "2 litres")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "buy milk", created.Title)
	assert.Equal(t, "2 litres", created.Description)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreateRequiresTitle(t *testing.T) {
	s := NewService(memory.NewRepository())
	for _, title := range []string{"", "   "} {
		_, err := s.Create(context.Background(), title, "desc")
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestCreateAllowsEmptyDescription(t *testing.T) {
	s := NewService(memory.NewRepository())
	created, err := s.Create(context.Background(), "title only", "")
	require.NoError(t, err)
	assert.Empty(t, created.Description)
}

func TestListOrderAndCap(t *testing.T) {
	s := NewService(memory.NewRepository())
	ctx := context.Background()

	todos, err := s.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, todos)
	assert.Empty(t, todos)

	for i := range ListLimit + 5 {
		_, err := s.Create(ctx, fmt.Sprintf("item %d", i), "")
		require.NoError(t, err)
	}
	todos, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, ListLimit)
	assert.Equal(t, "item 0", todos[0].Title)
	assert.Equal(t, fmt.Sprintf("item %d", ListLimit-1), todos[ListLimit-1].Title)
}

func TestUpdatePartial(t *testing.T) {
	s := NewService(memory.NewRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, "original", "keep me")
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, Fields{Title: ptr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, "keep me", updated.Description)

	updated, err = s.Update(ctx, created.ID, Fields{Description: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Empty(t, updated.Description)

	unchanged, err := s.Update(ctx, created.ID, Fields{})
	require.NoError(t, err)
	assert.Equal(t, updated, unchanged)
}

func TestUpdateRejectsBlankTitle(t *testing.T) {
	s := NewService(memory.NewRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, "original", "")
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, Fields{Title: ptr(" ")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Title)
}

func TestMissingTodo(t *testing.T) {
	s := NewService(memory.NewRepository())
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, "missing", Fields{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, "missing", Fields{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := NewService(memory.NewRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, "doomed", "")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, created.ID))

	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, created.ID), ErrNotFound)
}

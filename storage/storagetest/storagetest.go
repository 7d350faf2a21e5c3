// Package storagetest provides a conformance suite that every
// storage.Repository implementation is expected to pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/todoapi/storage"
)

// RunRepositoryTests runs the common suite against repo. Each subtest
// uses its own collection so a shared backend needs no cleanup between
// subtests.
func RunRepositoryTests(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("InsertGet", func(t *testing.T) {
		doc, err := repo.Insert(ctx, "insert_get", map[string]string{"title": "t1", "description": "d1"})
		require.NoError(t, err)
		require.NotEmpty(t, doc.ID)
		assert.Equal(t, "t1", doc.Get("title"))

		got, err := repo.Get(ctx, "insert_get", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, map[string]string{"title": "t1", "description": "d1"}, got.Fields)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "get_missing", "no-such-id")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		doc, err := repo.Insert(ctx, "get_missing", map[string]string{"title": "x"})
		require.NoError(t, err)
		_, err = repo.Get(ctx, "get_missing_other", doc.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("FindOne", func(t *testing.T) {
		_, err := repo.Insert(ctx, "find_one", map[string]string{"email": "a@example.com"})
		require.NoError(t, err)
		b, err := repo.Insert(ctx, "find_one", map[string]string{"email": "b@example.com"})
		require.NoError(t, err)

		got, err := repo.FindOne(ctx, "find_one", "email", "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)

		_, err = repo.FindOne(ctx, "find_one", "email", "c@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListOrderAndLimit", func(t *testing.T) {
		var ids []string
		for i := range 5 {
			doc, err := repo.Insert(ctx, "list", map[string]string{"title": fmt.Sprintf("t%d", i)})
			require.NoError(t, err)
			ids = append(ids, doc.ID)
		}

		all, err := repo.List(ctx, "list", 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, doc := range all {
			assert.Equal(t, ids[i], doc.ID)
		}

		some, err := repo.List(ctx, "list", 3)
		require.NoError(t, err)
		require.Len(t, some, 3)
		assert.Equal(t, ids[:3], []string{some[0].ID, some[1].ID, some[2].ID})

		none, err := repo.List(ctx, "list_empty", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Update", func(t *testing.T) {
		doc, err := repo.Insert(ctx, "update", map[string]string{"title": "old", "description": "keep"})
		require.NoError(t, err)

		updated, err := repo.Update(ctx, "update", doc.ID, map[string]string{"title": "new"})
		require.NoError(t, err)
		assert.Equal(t, doc.ID, updated.ID)
		assert.Equal(t, map[string]string{"title": "new", "description": "keep"}, updated.Fields)

		got, err := repo.Get(ctx, "update", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "new", got.Get("title"))

		_, err = repo.Update(ctx, "update", "no-such-id", map[string]string{"title": "x"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("MalformedID", func(t *testing.T) {
		_, err := repo.Insert(ctx, "malformed", map[string]string{"title": "x"})
		require.NoError(t, err)

		for _, id := range []string{"", "no-such-id", "../escape", "'; DROP TABLE documents; --"} {
			_, err := repo.Get(ctx, "malformed", id)
			assert.ErrorIs(t, err, storage.ErrNotFound, "Get(%q)", id)
			_, err = repo.Update(ctx, "malformed", id, map[string]string{"title": "y"})
			assert.ErrorIs(t, err, storage.ErrNotFound, "Update(%q)", id)
			assert.ErrorIs(t, repo.Delete(ctx, "malformed", id), storage.ErrNotFound, "Delete(%q)", id)
		}

		docs, err := repo.List(ctx, "malformed", 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "x", docs[0].Get("title"))
	})

	t.Run("Delete", func(t *testing.T) {
		doc, err := repo.Insert(ctx, "delete", map[string]string{"title": "bye"})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, "delete", doc.ID))
		_, err = repo.Get(ctx, "delete", doc.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, "delete", doc.ID), storage.ErrNotFound)

		docs, err := repo.List(ctx, "delete", 0)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("UniqueInsert", func(t *testing.T) {
		_, err := repo.Insert(ctx, "unique", map[string]string{"email": "dup@example.com", "password": "h1"}, "email")
		require.NoError(t, err)

		_, err = repo.Insert(ctx, "unique", map[string]string{"email": "dup@example.com", "password": "h2"}, "email")
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		docs, err := repo.List(ctx, "unique", 0)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("UniqueReleasedOnDelete", func(t *testing.T) {
		doc, err := repo.Insert(ctx, "unique_delete", map[string]string{"email": "x@example.com"}, "email")
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, "unique_delete", doc.ID))

		_, err = repo.Insert(ctx, "unique_delete", map[string]string{"email": "x@example.com"}, "email")
		assert.NoError(t, err)
	})

	t.Run("UniqueOnUpdate", func(t *testing.T) {
		_, err := repo.Insert(ctx, "unique_update", map[string]string{"email": "a@example.com"}, "email")
		require.NoError(t, err)
		b, err := repo.Insert(ctx, "unique_update", map[string]string{"email": "b@example.com"}, "email")
		require.NoError(t, err)

		_, err = repo.Update(ctx, "unique_update", b.ID, map[string]string{"email": "a@example.com"})
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		_, err = repo.Update(ctx, "unique_update", b.ID, map[string]string{"email": "c@example.com"})
		require.NoError(t, err)
		// The old value is free again.
		_, err = repo.Insert(ctx, "unique_update", map[string]string{"email": "b@example.com"}, "email")
		assert.NoError(t, err)
	})

	t.Run("ConcurrentUniqueInsert", func(t *testing.T) {
		const workers = 8
		var (
			wg      sync.WaitGroup
			created atomic.Int32
			dups    atomic.Int32
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Insert(ctx, "unique_race", map[string]string{"email": "race@example.com"}, "email")
				switch {
				case err == nil:
					created.Add(1)
				case assert.ErrorIs(t, err, storage.ErrDuplicate):
					dups.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
		assert.Equal(t, int32(workers-1), dups.Load())
	})
}

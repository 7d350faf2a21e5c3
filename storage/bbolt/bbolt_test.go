package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/todoapi/storage"
	"github.com/jmcleod/todoapi/storage/storagetest"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "todo-test.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltStorage(t *testing.T) {
	storagetest.RunRepositoryTests(t, NewRepository(newTestDB(t)))
}

func TestBBoltPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("NewRepositoryFromFile failed: %v", err)
	}
	doc, err := s.Insert(ctx, "user", map[string]string{"email": "a@example.com", "password": "hash"}, "email")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.FindOne(ctx, "user", "email", "a@example.com")
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got.ID != doc.ID {
		t.Errorf("expected ID %s, got %s", doc.ID, got.ID)
	}

	_, err = s.Insert(ctx, "user", map[string]string{"email": "a@example.com"}, "email")
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate after reopen, got %v", err)
	}
}

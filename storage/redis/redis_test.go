package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmcleod/todoapi/storage"
	"github.com/jmcleod/todoapi/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TODOAPI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TODOAPI_TEST_REDIS_ADDR not set; skipping Redis tests")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("todoapi_test_%d", time.Now().UnixNano())
	s, err := NewRepositoryFromAddr(ctx, addr, os.Getenv("TODOAPI_TEST_REDIS_PASSWORD"), 0, prefix)
	if err != nil {
		t.Fatalf("could not connect to redis: %v", err)
	}
	t.Cleanup(func() {
		iter := s.client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			s.client.Del(ctx, iter.Val()) //nolint:errcheck
		}
		s.Close() //nolint:errcheck
	})
	return s
}

func TestRedisStorage(t *testing.T) {
	storagetest.RunRepositoryTests(t, newTestStore(t))
}

func TestRedisFailedInsertReleasesUniqueClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fields := map[string]string{"email": "a@example.com"}

	// A non-integer counter makes INCR fail after the email is claimed.
	if err := s.client.Set(ctx, s.seqKey("user"), "not-a-number", 0).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_, err := s.Insert(ctx, "user", fields, "email")
	if err == nil {
		t.Fatal("expected Insert to fail")
	}
	if errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected a sequence error, got %v", err)
	}
	if n := s.client.Exists(ctx, s.uniqueKey("user", "email", "a@example.com")).Val(); n != 0 {
		t.Fatal("failed insert left its unique claim behind")
	}

	if err := s.client.Del(ctx, s.seqKey("user")).Err(); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, err := s.Insert(ctx, "user", fields, "email"); err != nil {
		t.Fatalf("retry after failed insert: %v", err)
	}
}

func TestRedisKeyLayout(t *testing.T) {
	s := NewRepository(nil, "")
	if got := s.docKey("todo", "abc"); got != "todoapi:todo:doc:abc" {
		t.Errorf("unexpected doc key %q", got)
	}
	if got := s.uniqueKey("user", "email", "a@example.com"); got != "todoapi:user:u:email:a@example.com" {
		t.Errorf("unexpected unique key %q", got)
	}
}

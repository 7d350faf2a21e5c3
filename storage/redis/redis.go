// Package redis implements storage.Repository backed by Redis.
//
// Key layout, for prefix p and collection c:
//
//	p:c:seq             INCR counter used to order inserts
//	p:c:ids             sorted set of document IDs scored by insert sequence
//	p:c:doc:<id>        hash of document fields
//	p:c:doc:<id>:unique set of field names the document was inserted with as unique
//	p:c:u:<field>:<val> owning document ID for a unique field value
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/todoapi/internal/uuid"
	"github.com/jmcleod/todoapi/storage"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "todoapi"

// Store implements storage.Repository backed by Redis.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using client. An empty prefix
// selects DefaultPrefix.
func NewRepository(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewRepositoryFromAddr connects to the Redis server at addr and verifies
// the connection with a ping.
func NewRepositoryFromAddr(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRepository(client, prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) seqKey(c string) string { return s.prefix + ":" + c + ":seq" }

func (s *Store) idsKey(c string) string { return s.prefix + ":" + c + ":ids" }

func (s *Store) docKey(c, id string) string { return s.prefix + ":" + c + ":doc:" + id }

func (s *Store) uniqueSet(c, id string) string { return s.docKey(c, id) + ":unique" }

func (s *Store) uniqueKey(c, field, value string) string {
	return s.prefix + ":" + c + ":u:" + field + ":" + value
}

// hashArgs flattens fields into HSET field/value arguments.
func hashArgs(fields map[string]string) []any {
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// claim reserves value for field on behalf of id.
func (s *Store) claim(ctx context.Context, c, field, value, id string) error {
	ok, err := s.client.SetNX(ctx, s.uniqueKey(c, field, value), id, 0).Result()
	if err != nil {
		return fmt.Errorf("claiming %s.%s: %w", c, field, err)
	}
	if !ok {
		return fmt.Errorf("%s.%s: %w", c, field, storage.ErrDuplicate)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, c string, fields map[string]string, unique ...string) (*storage.Document, error) {
	id := uuid.New()

	var claimed []string
	release := func() {
		if len(claimed) > 0 {
			// The request context may be the reason for the failure.
			s.client.Del(context.WithoutCancel(ctx), claimed...)
		}
	}
	for _, field := range unique {
		if err := s.claim(ctx, c, field, fields[field], id); err != nil {
			release()
			return nil, err
		}
		claimed = append(claimed, s.uniqueKey(c, field, fields[field]))
	}

	seq, err := s.client.Incr(ctx, s.seqKey(c)).Result()
	if err != nil {
		release()
		return nil, fmt.Errorf("allocating sequence for %s: %w", c, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		if len(fields) > 0 {
			p.HSet(ctx, s.docKey(c, id), hashArgs(fields)...)
		}
		if len(unique) > 0 {
			members := make([]any, len(unique))
			for i, f := range unique {
				members[i] = f
			}
			p.SAdd(ctx, s.uniqueSet(c, id), members...)
		}
		p.ZAdd(ctx, s.idsKey(c), goredis.Z{Score: float64(seq), Member: id})
		return nil
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("inserting into %s: %w", c, err)
	}
	return s.Get(ctx, c, id)
}

func (s *Store) exists(ctx context.Context, c, id string) (bool, error) {
	err := s.client.ZScore(ctx, s.idsKey(c), id).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, c, id string) (*storage.Document, error) {
	if err := storage.CheckID(c, id); err != nil {
		return nil, err
	}
	ok, err := s.exists(ctx, c, id)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", c, id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, storage.ErrNotFound)
	}
	fields, err := s.client.HGetAll(ctx, s.docKey(c, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", c, id, err)
	}
	return &storage.Document{ID: id, Fields: fields}, nil
}

func (s *Store) FindOne(ctx context.Context, c, field, value string) (*storage.Document, error) {
	id, err := s.client.Get(ctx, s.uniqueKey(c, field, value)).Result()
	switch {
	case err == nil:
		return s.Get(ctx, c, id)
	case !errors.Is(err, goredis.Nil):
		return nil, fmt.Errorf("reading %s index: %w", c, err)
	}

	docs, err := s.List(ctx, c, 0)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if v, ok := doc.Fields[field]; ok && v == value {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%s[%s]: %w", c, field, storage.ErrNotFound)
}

func (s *Store) List(ctx context.Context, c string, limit int) ([]*storage.Document, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRange(ctx, s.idsKey(c), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.docKey(c, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c, err)
	}
	docs := make([]*storage.Document, len(ids))
	for i, id := range ids {
		docs[i] = &storage.Document{ID: id, Fields: cmds[i].Val()}
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, c, id string, fields map[string]string) (*storage.Document, error) {
	current, err := s.Get(ctx, c, id)
	if err != nil {
		return nil, err
	}
	uniqueFields, err := s.client.SMembers(ctx, s.uniqueSet(c, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", c, id, err)
	}
	var release []string
	for _, field := range uniqueFields {
		newValue, ok := fields[field]
		if !ok || newValue == current.Fields[field] {
			continue
		}
		if err := s.claim(ctx, c, field, newValue, id); err != nil {
			return nil, err
		}
		release = append(release, s.uniqueKey(c, field, current.Fields[field]))
	}
	if len(release) > 0 {
		if err := s.client.Del(ctx, release...).Err(); err != nil {
			return nil, fmt.Errorf("releasing %s index: %w", c, err)
		}
	}
	if len(fields) > 0 {
		if err := s.client.HSet(ctx, s.docKey(c, id), hashArgs(fields)...).Err(); err != nil {
			return nil, fmt.Errorf("updating %s/%s: %w", c, id, err)
		}
	}
	return s.Get(ctx, c, id)
}

func (s *Store) Delete(ctx context.Context, c, id string) error {
	if err := storage.CheckID(c, id); err != nil {
		return err
	}
	removed, err := s.client.ZRem(ctx, s.idsKey(c), id).Result()
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	if removed == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, storage.ErrNotFound)
	}

	fields, err := s.client.HGetAll(ctx, s.docKey(c, id)).Result()
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	uniqueFields, err := s.client.SMembers(ctx, s.uniqueSet(c, id)).Result()
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	keys := []string{s.docKey(c, id), s.uniqueSet(c, id)}
	for _, field := range uniqueFields {
		keys = append(keys, s.uniqueKey(c, field, fields[field]))
	}
	return s.client.Del(ctx, keys...).Err()
}

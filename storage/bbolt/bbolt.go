// Package bbolt provides a BBolt-backed storage repository.
//
// Each collection is a top-level bucket holding two nested buckets: "docs"
// maps document IDs to JSON records, and "unique" maps field/value pairs
// to the ID that owns them.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/todoapi/internal/uuid"
	"github.com/jmcleod/todoapi/storage"
)

var (
	docsBucket   = []byte("docs")
	uniqueBucket = []byte("unique")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// record is the on-disk form of a document.
type record struct {
	Seq    uint64            `json:"seq"`
	Fields map[string]string `json:"fields"`
	Unique []string          `json:"unique,omitempty"`
}

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func uniqueKey(field, value string) []byte {
	return []byte(field + "\x00" + value)
}

func createBuckets(tx *bbolt.Tx, collection string) (docs, unique *bbolt.Bucket, err error) {
	b, err := tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return nil, nil, err
	}
	if docs, err = b.CreateBucketIfNotExists(docsBucket); err != nil {
		return nil, nil, err
	}
	if unique, err = b.CreateBucketIfNotExists(uniqueBucket); err != nil {
		return nil, nil, err
	}
	return docs, unique, nil
}

// buckets returns the collection's nested buckets, or nils when the
// collection has never been written.
func buckets(tx *bbolt.Tx, collection string) (docs, unique *bbolt.Bucket) {
	b := tx.Bucket([]byte(collection))
	if b == nil {
		return nil, nil
	}
	return b.Bucket(docsBucket), b.Bucket(uniqueBucket)
}

func loadRecord(docs *bbolt.Bucket, id string) (*record, error) {
	data := docs.Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}
	return &rec, nil
}

func putRecord(docs *bbolt.Bucket, id string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return docs.Put([]byte(id), data)
}

func (s *Store) Insert(_ context.Context, collection string, fields map[string]string, unique ...string) (*storage.Document, error) {
	id := uuid.New()
	rec := &record{Fields: maps.Clone(fields), Unique: slices.Clone(unique)}
	if rec.Fields == nil {
		rec.Fields = make(map[string]string)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs, idx, err := createBuckets(tx, collection)
		if err != nil {
			return err
		}
		for _, field := range unique {
			key := uniqueKey(field, rec.Fields[field])
			if idx.Get(key) != nil {
				return fmt.Errorf("%s.%s: %w", collection, field, storage.ErrDuplicate)
			}
			if err := idx.Put(key, []byte(id)); err != nil {
				return err
			}
		}
		if rec.Seq, err = docs.NextSequence(); err != nil {
			return err
		}
		return putRecord(docs, id, rec)
	})
	if err != nil {
		return nil, err
	}
	return &storage.Document{ID: id, Fields: maps.Clone(rec.Fields)}, nil
}

func (s *Store) Get(_ context.Context, collection, id string) (*storage.Document, error) {
	if err := storage.CheckID(collection, id); err != nil {
		return nil, err
	}
	var doc *storage.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs, _ := buckets(tx, collection)
		if docs == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		rec, err := loadRecord(docs, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		doc = &storage.Document{ID: id, Fields: rec.Fields}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type seqDoc struct {
	seq uint64
	doc *storage.Document
}

func (s *Store) scan(collection string, match func(map[string]string) bool) ([]*storage.Document, error) {
	var found []seqDoc
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs, _ := buckets(tx, collection)
		if docs == nil {
			return nil
		}
		return docs.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			if match == nil || match(rec.Fields) {
				found = append(found, seqDoc{seq: rec.Seq, doc: &storage.Document{ID: string(k), Fields: rec.Fields}})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(found, func(a, b seqDoc) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]*storage.Document, len(found))
	for i, f := range found {
		out[i] = f.doc
	}
	return out, nil
}

func (s *Store) FindOne(_ context.Context, collection, field, value string) (*storage.Document, error) {
	// Unique fields resolve through the index without a scan.
	var doc *storage.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs, idx := buckets(tx, collection)
		if idx == nil {
			return nil
		}
		id := idx.Get(uniqueKey(field, value))
		if id == nil {
			return nil
		}
		rec, err := loadRecord(docs, string(id))
		if err != nil || rec == nil {
			return err
		}
		doc = &storage.Document{ID: string(id), Fields: rec.Fields}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}

	matches, err := s.scan(collection, func(f map[string]string) bool {
		v, ok := f[field]
		return ok && v == value
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s[%s]: %w", collection, field, storage.ErrNotFound)
	}
	return matches[0], nil
}

func (s *Store) List(_ context.Context, collection string, limit int) ([]*storage.Document, error) {
	docs, err := s.scan(collection, nil)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields map[string]string) (*storage.Document, error) {
	if err := storage.CheckID(collection, id); err != nil {
		return nil, err
	}
	var doc *storage.Document
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs, idx := buckets(tx, collection)
		if docs == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		rec, err := loadRecord(docs, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		for _, field := range rec.Unique {
			newValue, ok := fields[field]
			if !ok || newValue == rec.Fields[field] {
				continue
			}
			key := uniqueKey(field, newValue)
			if idx.Get(key) != nil {
				return fmt.Errorf("%s.%s: %w", collection, field, storage.ErrDuplicate)
			}
			if err := idx.Delete(uniqueKey(field, rec.Fields[field])); err != nil {
				return err
			}
			if err := idx.Put(key, []byte(id)); err != nil {
				return err
			}
		}
		maps.Copy(rec.Fields, fields)
		if err := putRecord(docs, id, rec); err != nil {
			return err
		}
		doc = &storage.Document{ID: id, Fields: rec.Fields}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	if err := storage.CheckID(collection, id); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		docs, idx := buckets(tx, collection)
		if docs == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		rec, err := loadRecord(docs, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		for _, field := range rec.Unique {
			if err := idx.Delete(uniqueKey(field, rec.Fields[field])); err != nil {
				return err
			}
		}
		return docs.Delete([]byte(id))
	})
}

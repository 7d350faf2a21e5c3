// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Documents live in a single documents table keyed by (collection, id),
// with their fields in a JSONB column and a serial column giving insertion
// order. Unique fields are claimed in unique_fields, whose primary key
// (collection, field, value) makes a duplicate claim fail inside the same
// transaction as the write.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/todoapi/internal/uuid"
	"github.com/jmcleod/todoapi/storage"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]string, unique ...string) (*storage.Document, error) {
	doc := &storage.Document{ID: uuid.New(), Fields: maps.Clone(fields)}
	if doc.Fields == nil {
		doc.Fields = make(map[string]string)
	}
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)`,
			collection, doc.ID, raw); err != nil {
			return err
		}
		for _, field := range unique {
			_, err := tx.Exec(ctx,
				`INSERT INTO unique_fields (collection, field, value, doc_id) VALUES ($1, $2, $3, $4)`,
				collection, field, doc.Fields[field], doc.ID)
			if isUniqueViolation(err) {
				return fmt.Errorf("%s.%s: %w", collection, field, storage.ErrDuplicate)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	if err := storage.CheckID(collection, id); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(id, raw)
}

func (s *Store) FindOne(ctx context.Context, collection, field, value string) (*storage.Document, error) {
	var (
		id  string
		raw []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, fields FROM documents
		 WHERE collection = $1 AND fields->>$2 = $3
		 ORDER BY seq LIMIT 1`,
		collection, field, value).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s[%s]: %w", collection, field, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(id, raw)
}

func (s *Store) List(ctx context.Context, collection string, limit int) ([]*storage.Document, error) {
	var bound any
	if limit > 0 {
		bound = limit
	}
	// LIMIT NULL returns every row.
	rows, err := s.pool.Query(ctx,
		`SELECT id, fields FROM documents WHERE collection = $1 ORDER BY seq LIMIT $2`,
		collection, bound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*storage.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]string) (*storage.Document, error) {
	if err := storage.CheckID(collection, id); err != nil {
		return nil, err
	}
	var doc *storage.Document
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT fields FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			collection, id).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if doc, err = decodeDocument(id, raw); err != nil {
			return err
		}

		// Move every unique claim whose field is changing.
		for field, value := range fields {
			if doc.Fields[field] == value {
				continue
			}
			_, err := tx.Exec(ctx,
				`UPDATE unique_fields SET value = $4
				 WHERE collection = $1 AND field = $2 AND doc_id = $3`,
				collection, field, id, value)
			if isUniqueViolation(err) {
				return fmt.Errorf("%s.%s: %w", collection, field, storage.ErrDuplicate)
			}
			if err != nil {
				return err
			}
		}

		maps.Copy(doc.Fields, fields)
		merged, err := json.Marshal(doc.Fields)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET fields = $3 WHERE collection = $1 AND id = $2`,
			collection, id, merged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := storage.CheckID(collection, id); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			collection, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM unique_fields WHERE collection = $1 AND doc_id = $2`,
			collection, id)
		return err
	})
}

func decodeDocument(id string, raw []byte) (*storage.Document, error) {
	doc := &storage.Document{ID: id}
	if err := json.Unmarshal(raw, &doc.Fields); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]string)
	}
	return doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

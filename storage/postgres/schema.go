package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// schemaLockID keys the advisory lock held while the schema is applied.
const schemaLockID int64 = 0x746f646f617069 // "todoapi"

// EnsureSchema creates the documents and unique_fields tables if they do not
// exist. Concurrent callers are serialized on a transaction-scoped advisory
// lock, since CREATE TABLE IF NOT EXISTS can still race on the catalog.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, schemaSQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

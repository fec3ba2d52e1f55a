// Package durable provides the postgres-backed repository implementations
// behind every narrow Repository interface the rest of this module
// defines (progress.Repository, apikey.Repository/AuditRepository,
// alerts.IncidentRepository, plus the campaign-side Imports/Batches/
// Sends/Deliveries repositories consumed by the queue workers), following
// the teacher's internal/repository package: squirrel for query building,
// database/sql + lib/pq underneath, one struct per entity. An inmemory.go
// variant of each satisfies the same interfaces for tests and standalone
// mode — the core never issues free-form queries outside these types.
package durable

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open dials the durable postgres store. Callers own the returned *sql.DB's
// lifetime (Close on shutdown).
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic and committing otherwise. Mirrors the teacher's
// broadcastRepository.WithTransaction.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// maxErrorLength bounds the last_error column.
const maxErrorLength = 1024

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnqueueFlush stores state for name, replacing any pending state, and
// returns the new version.
func (s *PostgresStore) EnqueueFlush(ctx context.Context, name string, state []byte) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pending_flushes (document_name, state)
		VALUES ($1, $2)
		ON CONFLICT (document_name) DO UPDATE
		SET state = EXCLUDED.state,
			version = pending_flushes.version + 1,
			attempts = 0,
			last_error = '',
			updated_at = NOW()
		RETURNING version
	`, name, state).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("enqueue flush: %w", err)
	}
	return version, nil
}

// ListPendingFlushes returns up to limit entries, oldest first.
func (s *PostgresStore) ListPendingFlushes(ctx context.Context, limit int) ([]PendingFlush, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_name, state, version, attempts, last_error, enqueued_at, updated_at
		FROM pending_flushes
		ORDER BY enqueued_at ASC, document_name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending flushes: %w", err)
	}
	defer rows.Close()

	var items []PendingFlush
	for rows.Next() {
		var item PendingFlush
		if err := rows.Scan(
			&item.DocumentName,
			&item.State,
			&item.Version,
			&item.Attempts,
			&item.LastError,
			&item.EnqueuedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending flush: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending flushes: %w", err)
	}
	return items, nil
}

// PendingFlush returns the entry parked for name. The boolean is false when
// there is none.
func (s *PostgresStore) PendingFlush(ctx context.Context, name string) (PendingFlush, bool, error) {
	var item PendingFlush
	err := s.db.QueryRowContext(ctx, `
		SELECT document_name, state, version, attempts, last_error, enqueued_at, updated_at
		FROM pending_flushes
		WHERE document_name = $1
	`, name).Scan(
		&item.DocumentName,
		&item.State,
		&item.Version,
		&item.Attempts,
		&item.LastError,
		&item.EnqueuedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingFlush{}, false, nil
	}
	if err != nil {
		return PendingFlush{}, false, fmt.Errorf("get pending flush: %w", err)
	}
	return item, true, nil
}

// CompleteFlush removes the entry only if it is still at version. It reports
// whether a row was removed.
func (s *PostgresStore) CompleteFlush(ctx context.Context, name string, version int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_flushes WHERE document_name = $1 AND version = $2`,
		name, version,
	)
	if err != nil {
		return false, fmt.Errorf("complete flush: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete flush rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkFlushFailed(ctx context.Context, name string, version int64, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_flushes
		SET attempts = attempts + 1, last_error = $3, updated_at = NOW()
		WHERE document_name = $1 AND version = $2
	`, name, version, message)
	if err != nil {
		return fmt.Errorf("mark flush failed: %w", err)
	}
	return nil
}

// DiscardFlush drops any pending entry for name.
func (s *PostgresStore) DiscardFlush(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_flushes WHERE document_name = $1`, name); err != nil {
		return fmt.Errorf("discard flush: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingFlushCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_flushes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending flushes: %w", err)
	}
	return count, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

// inChunkSize bounds the number of parameters bound into a single IN clause.
const inChunkSize = 1000

// withTx runs fn inside a transaction, rolling back when fn fails.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[:size:size])
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

type URLRepository struct {
	db *sqlx.DB
}

func NewURLRepository(db *sqlx.DB) *URLRepository {
	return &URLRepository{db: db}
}

func (r *URLRepository) UpdateStatus(ctx context.Context, targetURL string, status entity.URLStatus) error {
	const op = "adapter.repository.postgres.URLRepository.UpdateStatus"
	const query = `UPDATE urls SET status = $1, updated_at = NOW() WHERE target_url = $2`

	if _, err := r.db.ExecContext(ctx, query, string(status), targetURL); err != nil {
		return fmt.Errorf("%s: failed to update urls table: %w", op, err)
	}

	return nil
}

func (r *URLRepository) MarkChecked(ctx context.Context, targetURLs []string) error {
	const op = "adapter.repository.postgres.URLRepository.MarkChecked"

	if len(targetURLs) == 0 {
		return nil
	}

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, batch := range chunk(targetURLs, inChunkSize) {
			query, args, err := sqlx.In(`UPDATE urls SET is_checked = TRUE WHERE target_url IN (?)`, batch)
			if err != nil {
				return fmt.Errorf("failed to build query: %w", err)
			}

			if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
				return fmt.Errorf("failed to update urls table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Unchecked returns the target URLs of every registry row that was never marked checked,
// in insertion order.
func (r *URLRepository) Unchecked(ctx context.Context) ([]string, error) {
	const op = "adapter.repository.postgres.URLRepository.Unchecked"
	const query = `SELECT target_url FROM urls WHERE is_checked IS NOT TRUE ORDER BY id`

	var urls []string

	if err := r.db.SelectContext(ctx, &urls, query); err != nil {
		return nil, fmt.Errorf("%s: failed to select from urls table: %w", op, err)
	}

	return urls, nil
}

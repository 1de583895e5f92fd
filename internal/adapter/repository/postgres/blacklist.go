package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

type BlacklistRepository struct {
	db *sqlx.DB
}

func NewBlacklistRepository(db *sqlx.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// IsBlacklisted reports whether url is an active blacklist entry. Matching is exact.
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, url string) (bool, error) {
	const op = "adapter.repository.postgres.BlacklistRepository.IsBlacklisted"
	const query = `SELECT EXISTS (SELECT 1 FROM blacklist_urls WHERE url = $1 AND active)`

	var exists bool

	if err := r.db.GetContext(ctx, &exists, query, url); err != nil {
		return false, fmt.Errorf("%s: failed to query blacklist_urls table: %w", op, err)
	}

	return exists, nil
}

// ExistingURLs returns the subset of urls already stored, active or not.
func (r *BlacklistRepository) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	const op = "adapter.repository.postgres.BlacklistRepository.ExistingURLs"

	existing := make(map[string]struct{})

	for _, batch := range chunk(urls, inChunkSize) {
		query, args, err := sqlx.In(`SELECT url FROM blacklist_urls WHERE url IN (?)`, batch)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
		}

		var found []string
		if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("%s: failed to select from blacklist_urls table: %w", op, err)
		}

		for _, u := range found {
			existing[u] = struct{}{}
		}
	}

	return existing, nil
}

// Insert stores entries in one transaction, skipping URLs that are already present,
// and returns the number of rows actually inserted.
func (r *BlacklistRepository) Insert(ctx context.Context, entries []entity.BlacklistEntry) (int64, error) {
	const op = "adapter.repository.postgres.BlacklistRepository.Insert"
	const query = `INSERT INTO blacklist_urls (url, category, reason, source, date_added, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO NOTHING`

	if len(entries) == 0 {
		return 0, nil
	}

	var inserted int64

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			res, err := tx.ExecContext(ctx, query, e.URL, e.Category, e.Reason, e.Source, e.DateAdded, e.Active)
			if err != nil {
				return fmt.Errorf("failed to insert into blacklist_urls table: %w", err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get number of affected rows: %w", err)
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return inserted, nil
}

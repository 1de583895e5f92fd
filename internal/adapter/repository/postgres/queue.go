package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type pendingCheckDB struct {
	ID  int64  `db:"id"`
	URL string `db:"url"`
}

// ChangeQueue is the urls_to_check table used as a polled queue. Rows are
// inserted by the check_new_url trigger on urls or by Enqueue.
type ChangeQueue struct {
	db *sqlx.DB
}

func NewChangeQueue(db *sqlx.DB) *ChangeQueue {
	return &ChangeQueue{db: db}
}

func (q *ChangeQueue) Enqueue(ctx context.Context, url string) error {
	const op = "adapter.repository.postgres.ChangeQueue.Enqueue"
	const query = `INSERT INTO urls_to_check (url) VALUES ($1)`

	if _, err := q.db.ExecContext(ctx, query, url); err != nil {
		return fmt.Errorf("%s: failed to insert into urls_to_check table: %w", op, err)
	}

	return nil
}

// DrainBatch reads every queued URL and deletes the rows it read in the same
// transaction. URLs are distinct and ordered by first enqueue. When the delete
// fails nothing is returned and the rows stay queued for the next drain.
func (q *ChangeQueue) DrainBatch(ctx context.Context) ([]string, error) {
	const op = "adapter.repository.postgres.ChangeQueue.DrainBatch"
	const selectQuery = `SELECT id, url FROM urls_to_check ORDER BY id FOR UPDATE SKIP LOCKED`

	var urls []string

	err := withTx(ctx, q.db, func(tx *sqlx.Tx) error {
		var rows []pendingCheckDB
		if err := tx.SelectContext(ctx, &rows, selectQuery); err != nil {
			return fmt.Errorf("failed to select from urls_to_check table: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(rows))
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			if _, ok := seen[row.URL]; ok {
				continue
			}
			seen[row.URL] = struct{}{}
			urls = append(urls, row.URL)
		}

		for _, batch := range chunk(ids, inChunkSize) {
			query, args, err := sqlx.In(`DELETE FROM urls_to_check WHERE id IN (?)`, batch)
			if err != nil {
				return fmt.Errorf("failed to build query: %w", err)
			}

			if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
				return fmt.Errorf("failed to delete from urls_to_check table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return urls, nil
}

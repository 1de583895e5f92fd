package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

type scanRecordDB struct {
	ID        int64     `db:"id"`
	URL       string    `db:"url"`
	ScanType  string    `db:"scan_type"`
	Result    string    `db:"result"`
	Detail    string    `db:"detail"`
	Timestamp time.Time `db:"timestamp"`
}

func (r *scanRecordDB) toEntity() entity.ScanRecord {
	return entity.ScanRecord{
		ID:        r.ID,
		URL:       r.URL,
		ScanType:  r.ScanType,
		Result:    entity.ScanResult(r.Result),
		Detail:    r.Detail,
		Timestamp: r.Timestamp,
	}
}

type ScanRecordRepository struct {
	db *sqlx.DB
}

func NewScanRecordRepository(db *sqlx.DB) *ScanRecordRepository {
	return &ScanRecordRepository{db: db}
}

// Upsert writes every record in one transaction. A record replaces the previous
// result of the same (url, scan_type) pair in place.
func (r *ScanRecordRepository) Upsert(ctx context.Context, records []entity.ScanRecord) error {
	const op = "adapter.repository.postgres.ScanRecordRepository.Upsert"
	const query = `INSERT INTO scan_records (url, scan_type, result, detail, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url, scan_type) DO UPDATE
		SET result = EXCLUDED.result, detail = EXCLUDED.detail, timestamp = EXCLUDED.timestamp`

	if len(records) == 0 {
		return nil
	}

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, rec := range records {
			_, err := tx.ExecContext(ctx, query, rec.URL, rec.ScanType, string(rec.Result), rec.Detail, rec.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to upsert scan record %s/%s: %w", rec.URL, rec.ScanType, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// List returns the records of url, newest first. An empty scanType matches every provider.
func (r *ScanRecordRepository) List(ctx context.Context, url, scanType string) ([]entity.ScanRecord, error) {
	const op = "adapter.repository.postgres.ScanRecordRepository.List"

	query := `SELECT id, url, scan_type, result, detail, timestamp FROM scan_records WHERE url = $1`
	args := []any{url}
	if scanType != "" {
		query += ` AND scan_type = $2`
		args = append(args, scanType)
	}
	query += ` ORDER BY timestamp DESC`

	var rows []scanRecordDB

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to select from scan_records table: %w", op, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrScanRecordsNotFound)
	}

	records := make([]entity.ScanRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toEntity())
	}

	return records, nil
}

//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vadimbarashkov/url-scanner/internal/config"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
	pgpool "github.com/vadimbarashkov/url-scanner/pkg/postgres"
)

const migrationsPath = "file://../../../../migrations"

func setupPostgres(t testing.TB) *sqlx.DB {
	t.Helper()

	ctx := context.Background()

	pgCfg := config.Postgres{
		User:     "test",
		Password: "test",
		DB:       "url_scanner",
		SSLMode:  "disable",
	}

	pgCont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     pgCfg.User,
				"POSTGRES_PASSWORD": pgCfg.Password,
				"POSTGRES_DB":       pgCfg.DB,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCont.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate postgres container: %v", err)
		}
	})

	pgCfg.Host, err = pgCont.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	pgPort, err := pgCont.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	pgCfg.Port = pgPort.Int()

	if _, err := pgpool.RunMigrations(migrationsPath, pgCfg.DSN()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := pgpool.New(ctx, pgCfg.DSN())
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestIntegration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	urlRepo := NewURLRepository(db)
	scanRepo := NewScanRecordRepository(db)
	blacklistRepo := NewBlacklistRepository(db)
	queue := NewChangeQueue(db)

	t.Run("trigger enqueues inserted urls", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `INSERT INTO urls (key, target_url) VALUES ('a1', 'http://a.example'), ('b1', 'http://b.example')`)
		require.NoError(t, err)

		urls, err := queue.DrainBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"http://a.example", "http://b.example"}, urls)

		urls, err = queue.DrainBatch(ctx)
		require.NoError(t, err)
		require.Empty(t, urls)
	})

	t.Run("status and checked flags", func(t *testing.T) {
		unchecked, err := urlRepo.Unchecked(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"http://a.example", "http://b.example"}, unchecked)

		require.NoError(t, urlRepo.UpdateStatus(ctx, "http://a.example", entity.URLStatusDanger))
		require.NoError(t, urlRepo.MarkChecked(ctx, []string{"http://a.example"}))

		unchecked, err = urlRepo.Unchecked(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"http://b.example"}, unchecked)

		var status string
		require.NoError(t, db.GetContext(ctx, &status, `SELECT status FROM urls WHERE target_url = 'http://a.example'`))
		require.Equal(t, "Danger", status)
	})

	t.Run("scan records are upserted in place", func(t *testing.T) {
		first := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)
		second := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, scanRepo.Upsert(ctx, []entity.ScanRecord{
			{URL: "http://a.example", ScanType: "Blacklist", Result: entity.ScanResultSafe, Timestamp: first},
			{URL: "http://a.example", ScanType: "URLhaus", Result: entity.ScanResultInconclusive, Timestamp: first},
		}))
		require.NoError(t, scanRepo.Upsert(ctx, []entity.ScanRecord{
			{URL: "http://a.example", ScanType: "Blacklist", Result: entity.ScanResultDanger, Timestamp: second},
			{URL: "http://a.example", ScanType: "URLhaus", Result: entity.ScanResultInconclusive, Timestamp: second},
		}))

		records, err := scanRepo.List(ctx, "http://a.example", "")
		require.NoError(t, err)
		require.Len(t, records, 2)

		records, err = scanRepo.List(ctx, "http://a.example", "Blacklist")
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, entity.ScanResultDanger, records[0].Result)
		require.True(t, second.Equal(records[0].Timestamp))
	})

	t.Run("blacklist inserts are idempotent", func(t *testing.T) {
		entries := []entity.BlacklistEntry{
			{URL: "http://phish.example", Category: "phishing", Source: "openphish", DateAdded: time.Now(), Active: true},
		}

		n, err := blacklistRepo.Insert(ctx, entries)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		n, err = blacklistRepo.Insert(ctx, entries)
		require.NoError(t, err)
		require.Zero(t, n)

		ok, err := blacklistRepo.IsBlacklisted(ctx, "http://phish.example")
		require.NoError(t, err)
		require.True(t, ok)

		existing, err := blacklistRepo.ExistingURLs(ctx, []string{"http://phish.example", "http://new.example"})
		require.NoError(t, err)
		require.Equal(t, map[string]struct{}{"http://phish.example": {}}, existing)
	})
}

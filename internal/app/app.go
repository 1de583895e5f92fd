package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadimbarashkov/url-scanner/internal/adapter/provider"
	"github.com/vadimbarashkov/url-scanner/internal/adapter/queue/kafka"
	"github.com/vadimbarashkov/url-scanner/internal/adapter/repository/postgres"
	"github.com/vadimbarashkov/url-scanner/internal/config"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
	"github.com/vadimbarashkov/url-scanner/internal/metrics"
	"github.com/vadimbarashkov/url-scanner/internal/scheduler"
	"github.com/vadimbarashkov/url-scanner/internal/usecase"
	"golang.org/x/sync/errgroup"

	delivery "github.com/vadimbarashkov/url-scanner/internal/adapter/delivery/http"
	pgpool "github.com/vadimbarashkov/url-scanner/pkg/postgres"
)

type changeQueue interface {
	DrainBatch(ctx context.Context) ([]string, error)
}

func Run(ctx context.Context, cfg *config.Config, logger *httplog.Logger) error {
	const op = "app.Run"

	policy, err := entity.ParseUnknownPolicy(cfg.Scanner.AllUnknownStatus)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	db, err := pgpool.New(
		ctx,
		cfg.Postgres.DSN(),
		pgpool.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
		pgpool.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		pgpool.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		pgpool.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
	)
	if err != nil {
		return fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}
	defer db.Close()

	version, err := pgpool.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}
	logger.Info("database schema is up to date", slog.Uint64("version", uint64(version)))

	metrics.Register(prometheus.DefaultRegisterer)

	urlRepo := postgres.NewURLRepository(db)
	scanRepo := postgres.NewScanRecordRepository(db)
	blacklistRepo := postgres.NewBlacklistRepository(db)

	var (
		queue     changeQueue
		schedOpts []scheduler.Option
	)

	switch cfg.Queue.Driver {
	case config.QueueDriverKafka:
		kq := kafka.NewChangeQueue(
			kafka.NewReader(cfg.Queue.Kafka.Brokers, cfg.Queue.Kafka.Topic, cfg.Queue.Kafka.GroupID),
			kafka.NewWriter(cfg.Queue.Kafka.Brokers, cfg.Queue.Kafka.Topic),
			cfg.Queue.BatchSize,
			cfg.Queue.Kafka.DrainWait,
			logger.Logger,
		)
		defer func() {
			if err := kq.Close(); err != nil {
				logger.Warn("failed to close kafka queue", slog.Any("err", err))
			}
		}()
		queue = kq
		schedOpts = append(schedOpts, scheduler.WithRelay(postgres.NewChangeQueue(db), kq, cfg.Queue.DrainInterval))
	default:
		queue = postgres.NewChangeQueue(db)
	}

	logger.Info("change queue selected", slog.String("driver", cfg.Queue.Driver))

	providers := newProviders(cfg.Providers, blacklistRepo, logger.Logger)

	scanUC := usecase.NewScanUseCase(
		providers,
		scanRepo,
		urlRepo,
		logger.Logger,
		usecase.WithBatching(cfg.Queue.BatchSize, cfg.Queue.BatchDelay),
		usecase.WithProviderTimeout(cfg.Scanner.ProviderTimeout),
		usecase.WithUnknownPolicy(policy),
	)

	feedUC := usecase.NewFeedUseCase(
		&http.Client{},
		cfg.Feed.URL,
		cfg.Feed.Name,
		blacklistRepo,
		logger.Logger,
		usecase.WithFeedTimeout(cfg.Feed.Timeout),
	)

	sched := scheduler.New(scanUC, queue, urlRepo, feedUC, scheduler.Intervals{
		Drain:  cfg.Queue.DrainInterval,
		Rescan: cfg.Scanner.RescanInterval,
		Feed:   cfg.Feed.SyncInterval,
	}, logger.Logger, schedOpts...)

	server := &http.Server{
		Addr:              cfg.HTTPServer.Addr(),
		Handler:           delivery.NewRouter(logger, db, promhttp.Handler()),
		ReadHeaderTimeout: cfg.HTTPServer.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("ops server started", slog.String("addr", server.Addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	return g.Wait()
}

// newProviders builds the provider set in scan type order. A provider without
// credentials stays registered and reports every URL as inconclusive.
func newProviders(cfg config.Providers, blacklist provider.BlacklistLookup, logger *slog.Logger) []usecase.Provider {
	phishTank := provider.NewPhishTank(logger)
	if cfg.PhishTank.CSVPath != "" {
		if err := phishTank.LoadFile(cfg.PhishTank.CSVPath); err != nil {
			logger.Warn("phishtank dataset not loaded", slog.String("path", cfg.PhishTank.CSVPath), slog.Any("err", err))
		} else {
			logger.Info("phishtank dataset loaded", slog.Int("urls", phishTank.Len()))
		}
	}

	return []usecase.Provider{
		provider.NewBlacklist(blacklist, logger),
		provider.NewWebRisk(
			&http.Client{Timeout: cfg.WebRisk.Timeout},
			cfg.WebRisk.BaseURL,
			cfg.WebRisk.APIKey,
			logger,
		),
		provider.NewVirusTotal(
			&http.Client{Timeout: cfg.VirusTotal.Timeout},
			cfg.VirusTotal.URLsURL,
			cfg.VirusTotal.AnalysisURL,
			cfg.VirusTotal.APIKey,
			logger,
			provider.WithPolling(cfg.VirusTotal.PollInterval, cfg.VirusTotal.MaxPollAttempts),
			provider.WithRequestsPerMinute(cfg.VirusTotal.RequestsPerMinute),
		),
		phishTank,
		provider.NewURLhaus(
			&http.Client{Timeout: cfg.URLhaus.Timeout},
			cfg.URLhaus.APIURL,
			cfg.URLhaus.AuthKey,
			logger,
		),
	}
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
	"github.com/vadimbarashkov/url-scanner/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize       = 10
	defaultBatchDelay      = 2 * time.Second
	defaultProviderTimeout = 90 * time.Second
)

// Provider classifies a URL. Implementations report failures as VerdictUnknown.
type Provider interface {
	Name() string
	Classify(ctx context.Context, url string) entity.Classification
}

type scanRecordRepository interface {
	Upsert(ctx context.Context, records []entity.ScanRecord) error
}

type urlRepository interface {
	UpdateStatus(ctx context.Context, url string, status entity.URLStatus) error
	MarkChecked(ctx context.Context, urls []string) error
}

// ScanOption configures a ScanUseCase.
type ScanOption func(*ScanUseCase)

// WithBatching sets how many URLs are scanned concurrently and the pause between batches.
func WithBatching(size int, delay time.Duration) ScanOption {
	return func(uc *ScanUseCase) {
		if size > 0 {
			uc.batchSize = size
		}
		if delay >= 0 {
			uc.batchDelay = delay
		}
	}
}

// WithProviderTimeout bounds every single provider call.
func WithProviderTimeout(d time.Duration) ScanOption {
	return func(uc *ScanUseCase) {
		if d > 0 {
			uc.providerTimeout = d
		}
	}
}

// WithUnknownPolicy sets how a URL without malicious verdicts is classified.
func WithUnknownPolicy(p entity.UnknownPolicy) ScanOption {
	return func(uc *ScanUseCase) {
		uc.policy = p
	}
}

// ScanUseCase fans URLs out to every provider, stores per-provider evidence and
// writes the aggregate status back to the URL registry.
type ScanUseCase struct {
	providers       []Provider
	scanRepo        scanRecordRepository
	urlRepo         urlRepository
	logger          *slog.Logger
	batchSize       int
	batchDelay      time.Duration
	providerTimeout time.Duration
	policy          entity.UnknownPolicy
	now             func() time.Time
}

func NewScanUseCase(
	providers []Provider,
	scanRepo scanRecordRepository,
	urlRepo urlRepository,
	logger *slog.Logger,
	opts ...ScanOption,
) *ScanUseCase {
	uc := &ScanUseCase{
		providers:       providers,
		scanRepo:        scanRepo,
		urlRepo:         urlRepo,
		logger:          logger,
		batchSize:       defaultBatchSize,
		batchDelay:      defaultBatchDelay,
		providerTimeout: defaultProviderTimeout,
		policy:          entity.UnknownAsSafe,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Scan classifies url with every provider concurrently, upserts one scan record
// per provider and updates the registry status. URLStatusUnknown is returned
// when the policy leaves the registry status untouched.
func (uc *ScanUseCase) Scan(ctx context.Context, url string) (entity.URLStatus, error) {
	const op = "usecase.ScanUseCase.Scan"

	results := make([]entity.Classification, len(uc.providers))

	var g errgroup.Group
	for i, p := range uc.providers {
		i, p := i, p
		g.Go(func() error {
			results[i] = uc.classify(ctx, p, url)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return entity.URLStatusUnknown, fmt.Errorf("%s: scan interrupted: %w", op, err)
	}

	ts := uc.now()
	records := make([]entity.ScanRecord, 0, len(results))
	verdicts := make([]entity.Verdict, 0, len(results))

	for i, res := range results {
		name := uc.providers[i].Name()

		records = append(records, entity.ScanRecord{
			URL:       url,
			ScanType:  name,
			Result:    res.Verdict.ScanResult(),
			Detail:    res.Detail,
			Timestamp: ts,
		})
		verdicts = append(verdicts, res.Verdict)

		metrics.ProviderVerdicts.WithLabelValues(name, res.Verdict.String()).Inc()
		uc.logger.Debug("provider verdict",
			slog.String("url", url),
			slog.String("provider", name),
			slog.String("verdict", res.Verdict.String()),
		)
	}

	if err := uc.scanRepo.Upsert(ctx, records); err != nil {
		return entity.URLStatusUnknown, fmt.Errorf("%s: failed to store scan records: %w", op, err)
	}

	status := entity.Aggregate(verdicts, uc.policy)

	if status != entity.URLStatusUnknown {
		if err := uc.urlRepo.UpdateStatus(ctx, url, status); err != nil {
			return entity.URLStatusUnknown, fmt.Errorf("%s: failed to update url status: %w", op, err)
		}
	}

	metrics.URLStatuses.WithLabelValues(statusLabel(status)).Inc()
	uc.logger.Info("url scanned",
		slog.String("url", url),
		slog.String("status", statusLabel(status)),
	)

	return status, nil
}

// classify runs one provider under its own timeout. A provider that overruns the
// timeout or panics is reported as inconclusive.
func (uc *ScanUseCase) classify(ctx context.Context, p Provider, url string) entity.Classification {
	ctx, cancel := context.WithTimeout(ctx, uc.providerTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	}()

	done := make(chan entity.Classification, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				uc.logger.Error("provider panicked",
					slog.String("provider", p.Name()),
					slog.String("url", url),
					slog.Any("panic", r),
				)
				done <- entity.Classification{Verdict: entity.VerdictUnknown, Detail: fmt.Sprintf("provider panicked: %v", r)}
			}
		}()

		done <- p.Classify(ctx, url)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		uc.logger.Warn("provider timed out",
			slog.String("provider", p.Name()),
			slog.String("url", url),
			slog.Duration("timeout", uc.providerTimeout),
		)
		return entity.Classification{Verdict: entity.VerdictUnknown, Detail: ctx.Err().Error()}
	}
}

// ScanBatch scans urls in fixed-size concurrent batches with a pause between
// batches, then marks every URL whose results were stored as checked. URLs that
// failed stay unchecked and are picked up again by the rescan sweep. The
// returned map holds the status of every successfully scanned URL.
func (uc *ScanUseCase) ScanBatch(ctx context.Context, urls []string) (map[string]entity.URLStatus, error) {
	const op = "usecase.ScanUseCase.ScanBatch"

	urls = distinct(urls)
	if len(urls) == 0 {
		return map[string]entity.URLStatus{}, nil
	}

	logger := uc.logger.With(slog.String("batch_id", uuid.NewString()))
	logger.Info("scanning urls", slog.Int("count", len(urls)), slog.Int("batch_size", uc.batchSize))

	var (
		mu      sync.Mutex
		scanned = make([]string, 0, len(urls))
		results = make(map[string]entity.URLStatus, len(urls))
	)

	for start := 0; start < len(urls); start += uc.batchSize {
		if start > 0 {
			if err := sleep(ctx, uc.batchDelay); err != nil {
				return results, fmt.Errorf("%s: %w", op, err)
			}
		}

		end := min(start+uc.batchSize, len(urls))

		var g errgroup.Group
		for _, url := range urls[start:end] {
			url := url
			g.Go(func() error {
				status, err := uc.Scan(ctx, url)
				if err != nil {
					metrics.ScanFailures.Inc()
					logger.Error("failed to scan url", slog.String("url", url), slog.Any("err", err))
					return nil
				}

				mu.Lock()
				scanned = append(scanned, url)
				results[url] = status
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := uc.urlRepo.MarkChecked(ctx, scanned); err != nil {
		return results, fmt.Errorf("%s: failed to mark urls as checked: %w", op, err)
	}

	logger.Info("urls checked", slog.Int("checked", len(scanned)), slog.Int("failed", len(urls)-len(scanned)))

	return results, nil
}

func statusLabel(s entity.URLStatus) string {
	if s == entity.URLStatusUnknown {
		return "unchanged"
	}
	return string(s)
}

// distinct drops repeated URLs, keeping the first occurrence.
func distinct(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))

	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

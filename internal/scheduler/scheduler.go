// Package scheduler runs the periodic queue drain, rescan sweep and feed sync.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
	"github.com/vadimbarashkov/url-scanner/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	LoopDrain  = "drain"
	LoopRescan = "rescan"
	LoopFeed   = "feed"
	LoopRelay  = "relay"
)

type batchScanner interface {
	ScanBatch(ctx context.Context, urls []string) (map[string]entity.URLStatus, error)
}

type changeQueue interface {
	DrainBatch(ctx context.Context) ([]string, error)
}

type rescanSource interface {
	Unchecked(ctx context.Context) ([]string, error)
}

type feedSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// relaySource is the table-backed queue the registry trigger writes to.
type relaySource interface {
	DrainBatch(ctx context.Context) ([]string, error)
	Enqueue(ctx context.Context, url string) error
}

type relaySink interface {
	Enqueue(ctx context.Context, url string) error
}

// Intervals holds the tick period of each loop.
type Intervals struct {
	Drain  time.Duration
	Rescan time.Duration
	Feed   time.Duration
}

// Option configures optional loops of a Scheduler.
type Option func(*Scheduler)

// WithRelay adds a loop that moves URLs from source to sink every interval.
// It forwards trigger-fed queue rows to a message broker.
func WithRelay(source relaySource, sink relaySink, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.relaySource = source
		s.relaySink = sink
		s.relayInterval = interval
	}
}

// Scheduler owns independent loops. The loops share nothing but the stores
// behind their dependencies.
type Scheduler struct {
	scanner       batchScanner
	queue         changeQueue
	rescan        rescanSource
	feed          feedSyncer
	intervals     Intervals
	logger        *slog.Logger
	relaySource   relaySource
	relaySink     relaySink
	relayInterval time.Duration
}

func New(
	scanner batchScanner,
	queue changeQueue,
	rescan rescanSource,
	feed feedSyncer,
	intervals Intervals,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		scanner:   scanner,
		queue:     queue,
		rescan:    rescan,
		feed:      feed,
		intervals: intervals,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run syncs the feed once and then runs every loop until ctx is cancelled.
// The rescan sweep starts with an immediate pass. A failed iteration is logged
// and the loop waits for its next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("drain_interval", s.intervals.Drain),
		slog.Duration("rescan_interval", s.intervals.Rescan),
		slog.Duration("feed_interval", s.intervals.Feed),
	)

	s.runOnce(ctx, LoopFeed, s.SyncFeed)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.loop(ctx, LoopDrain, s.intervals.Drain, false, s.Drain)
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, LoopRescan, s.intervals.Rescan, true, s.Rescan)
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, LoopFeed, s.intervals.Feed, false, s.SyncFeed)
		return nil
	})

	if s.relaySource != nil {
		g.Go(func() error {
			s.loop(ctx, LoopRelay, s.relayInterval, false, s.Relay)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("scheduler stopped")

	return err
}

func (s *Scheduler) loop(
	ctx context.Context,
	name string,
	interval time.Duration,
	immediate bool,
	fn func(context.Context) error,
) {
	if immediate {
		s.runOnce(ctx, name, fn)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, name, fn)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopFailures.WithLabelValues(name).Inc()
			s.logger.Error("loop iteration panicked", slog.String("loop", name), slog.Any("panic", r))
		}
	}()

	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.LoopFailures.WithLabelValues(name).Inc()
		s.logger.Error("loop iteration failed", slog.String("loop", name), slog.Any("err", err))
	}
}

// Drain scans every URL currently waiting in the change queue.
func (s *Scheduler) Drain(ctx context.Context) error {
	const op = "scheduler.Scheduler.Drain"

	urls, err := s.queue.DrainBatch(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(urls) == 0 {
		return nil
	}

	if _, err := s.scanner.ScanBatch(ctx, urls); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Rescan scans every registered URL that is not checked yet.
func (s *Scheduler) Rescan(ctx context.Context) error {
	const op = "scheduler.Scheduler.Rescan"

	urls, err := s.rescan.Unchecked(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("rescanning unchecked urls", slog.Int("count", len(urls)))

	if len(urls) == 0 {
		return nil
	}

	if _, err := s.scanner.ScanBatch(ctx, urls); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Scheduler) SyncFeed(ctx context.Context) error {
	const op = "scheduler.Scheduler.SyncFeed"

	if _, err := s.feed.Sync(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Relay forwards queued URLs from the relay source to the sink. URLs that could
// not be published are put back into the source.
func (s *Scheduler) Relay(ctx context.Context) error {
	const op = "scheduler.Scheduler.Relay"

	urls, err := s.relaySource.DrainBatch(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for i, url := range urls {
		if err := s.relaySink.Enqueue(ctx, url); err != nil {
			s.requeue(ctx, urls[i:])
			return fmt.Errorf("%s: failed to publish url: %w", op, err)
		}
	}

	if len(urls) > 0 {
		s.logger.Debug("urls relayed", slog.Int("count", len(urls)))
	}

	return nil
}

func (s *Scheduler) requeue(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := s.relaySource.Enqueue(ctx, url); err != nil {
			s.logger.Error("failed to requeue url, left to the rescan sweep",
				slog.String("url", url),
				slog.Any("err", err),
			)
		}
	}
}

package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
	"github.com/vadimbarashkov/url-scanner/internal/metrics"
)

const (
	defaultFeedTimeout = 30 * time.Second
	feedReason         = "OpenPhish public feed"
	feedReadBufferSize = 64 * 1024
)

// ErrUnexpectedStatus is returned when the feed server answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected feed response status")

type blacklistRepository interface {
	ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	Insert(ctx context.Context, entries []entity.BlacklistEntry) (int64, error)
}

// FeedOption configures a FeedUseCase.
type FeedOption func(*FeedUseCase)

func WithFeedTimeout(d time.Duration) FeedOption {
	return func(uc *FeedUseCase) {
		if d > 0 {
			uc.timeout = d
		}
	}
}

// WithFeedReason overrides the reason stored on every imported entry.
func WithFeedReason(reason string) FeedOption {
	return func(uc *FeedUseCase) {
		uc.reason = reason
	}
}

// FeedUseCase imports a plain-text phishing feed, one URL per line, into the blacklist.
type FeedUseCase struct {
	client  *http.Client
	feedURL string
	source  string
	reason  string
	timeout time.Duration
	repo    blacklistRepository
	logger  *slog.Logger
	now     func() time.Time
}

func NewFeedUseCase(
	client *http.Client,
	feedURL, source string,
	repo blacklistRepository,
	logger *slog.Logger,
	opts ...FeedOption,
) *FeedUseCase {
	uc := &FeedUseCase{
		client:  client,
		feedURL: feedURL,
		source:  source,
		reason:  feedReason,
		timeout: defaultFeedTimeout,
		repo:    repo,
		logger:  logger,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Sync downloads the feed and inserts URLs not yet present in the blacklist.
// It returns the number of new entries. Running it twice over the same feed
// inserts nothing the second time.
func (uc *FeedUseCase) Sync(ctx context.Context) (int, error) {
	const op = "usecase.FeedUseCase.Sync"

	urls, err := uc.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if len(urls) == 0 {
		uc.logger.Info("feed is empty", slog.String("source", uc.source))
		return 0, nil
	}

	existing, err := uc.repo.ExistingURLs(ctx, urls)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to load existing entries: %w", op, err)
	}

	today := uc.now().UTC().Truncate(24 * time.Hour)
	entries := make([]entity.BlacklistEntry, 0, len(urls))

	for _, u := range urls {
		if _, ok := existing[u]; ok {
			continue
		}

		entries = append(entries, entity.BlacklistEntry{
			URL:       u,
			Category:  entity.BlacklistCategoryPhishing,
			Reason:    uc.reason,
			Source:    uc.source,
			DateAdded: today,
			Active:    true,
		})
	}

	if len(entries) == 0 {
		uc.logger.Info("no new feed entries", slog.String("source", uc.source), slog.Int("feed_size", len(urls)))
		return 0, nil
	}

	inserted, err := uc.repo.Insert(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to insert entries: %w", op, err)
	}

	metrics.BlacklistInserted.WithLabelValues(uc.source).Add(float64(inserted))
	uc.logger.Info("feed synchronized",
		slog.String("source", uc.source),
		slog.Int("feed_size", len(urls)),
		slog.Int64("inserted", inserted),
	)

	return int(inserted), nil
}

func (uc *FeedUseCase) fetch(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uc.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := uc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	urls, err := ParseFeed(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}

	return urls, nil
}

// ParseFeed returns the distinct URLs of a line-oriented feed in the order
// they first appear. Only lines starting with a lowercase "http://" or
// "https://" are kept. Blank lines, comments and over-long lines are skipped.
func ParseFeed(r io.Reader) ([]string, error) {
	br := bufio.NewReaderSize(r, feedReadBufferSize)

	var (
		lines []string
		long  bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		// A line that does not fit the buffer is dropped whole.
		if isPrefix || long {
			long = isPrefix
			continue
		}

		line := strings.TrimSpace(string(chunk))
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			lines = append(lines, line)
		}
	}

	return distinct(lines), nil
}

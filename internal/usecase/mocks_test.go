package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockScanRecordRepository struct {
	mock.Mock
}

func (m *mockScanRecordRepository) Upsert(ctx context.Context, records []entity.ScanRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

type mockURLRepository struct {
	mock.Mock
}

func (m *mockURLRepository) UpdateStatus(ctx context.Context, url string, status entity.URLStatus) error {
	args := m.Called(ctx, url, status)
	return args.Error(0)
}

func (m *mockURLRepository) MarkChecked(ctx context.Context, urls []string) error {
	args := m.Called(ctx, urls)
	return args.Error(0)
}

type mockBlacklistRepository struct {
	mock.Mock
}

func (m *mockBlacklistRepository) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	args := m.Called(ctx, urls)
	if v := args.Get(0); v != nil {
		return v.(map[string]struct{}), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBlacklistRepository) Insert(ctx context.Context, entries []entity.BlacklistEntry) (int64, error) {
	args := m.Called(ctx, entries)
	return args.Get(0).(int64), args.Error(1)
}

// stubProvider returns a fixed verdict and counts its calls.
type stubProvider struct {
	name    string
	verdict entity.Verdict
	detail  string
	block   <-chan struct{}
	panics  bool

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Classify(_ context.Context, _ string) entity.Classification {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.panics {
		panic("boom")
	}
	if p.block != nil {
		<-p.block
	}

	return entity.Classification{Verdict: p.verdict, Detail: p.detail}
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordKey struct {
	url      string
	scanType string
}

// memoryStore keeps scan records keyed by (url, scan type) and url state the
// way the postgres repositories do.
type memoryStore struct {
	mu        sync.Mutex
	records   map[recordKey]entity.ScanRecord
	statuses  map[string]entity.URLStatus
	checked   map[string]bool
	upsertErr map[string]error
	blacklist map[string]entity.BlacklistEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records:   make(map[recordKey]entity.ScanRecord),
		statuses:  make(map[string]entity.URLStatus),
		checked:   make(map[string]bool),
		upsertErr: make(map[string]error),
		blacklist: make(map[string]entity.BlacklistEntry),
	}
}

func (s *memoryStore) Upsert(_ context.Context, records []entity.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.upsertErr[r.URL]; err != nil {
			return err
		}
	}
	for _, r := range records {
		s.records[recordKey{r.URL, r.ScanType}] = r
	}
	return nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, url string, status entity.URLStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[url] = status
	return nil
}

func (s *memoryStore) MarkChecked(_ context.Context, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range urls {
		s.checked[u] = true
	}
	return nil
}

func (s *memoryStore) ExistingURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := s.blacklist[u]; ok {
			found[u] = struct{}{}
		}
	}
	return found, nil
}

func (s *memoryStore) Insert(_ context.Context, entries []entity.BlacklistEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range entries {
		if _, ok := s.blacklist[e.URL]; ok {
			continue
		}
		s.blacklist[e.URL] = e
		n++
	}
	return n, nil
}

func (s *memoryStore) recordsFor(url string) map[string]entity.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]entity.ScanRecord)
	for k, r := range s.records {
		if k.url == url {
			out[k.scanType] = r
		}
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

var (
	errSnapshotNotLoaded = errors.New("phishtank snapshot is not loaded")
	errMissingURLColumn  = errors.New("csv header has no url column")
)

// PhishTank checks URLs against an in-memory copy of a PhishTank CSV dump.
// The snapshot is loaded once and may be replaced out of band with Load.
type PhishTank struct {
	mu     sync.RWMutex
	urls   map[string]struct{}
	logger *slog.Logger
}

func NewPhishTank(logger *slog.Logger) *PhishTank {
	return &PhishTank{logger: logger}
}

func (p *PhishTank) Name() string {
	return NamePhishTank
}

// LoadFile replaces the snapshot with the CSV file at path.
func (p *PhishTank) LoadFile(path string) error {
	const op = "provider.PhishTank.LoadFile"

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: failed to open snapshot: %w", op, err)
	}
	defer f.Close()

	if err := p.Load(f); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Load replaces the snapshot with the CSV read from r. The header must contain a url column.
func (p *PhishTank) Load(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("failed to read csv header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "url") {
			col = i
			break
		}
	}
	if col < 0 {
		return errMissingURLColumn
	}

	urls := make(map[string]struct{})
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read csv record: %w", err)
		}
		if col < len(rec) && rec[col] != "" {
			urls[rec[col]] = struct{}{}
		}
	}

	p.mu.Lock()
	p.urls = urls
	p.mu.Unlock()

	return nil
}

// Len returns the number of URLs in the current snapshot.
func (p *PhishTank) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.urls)
}

func (p *PhishTank) Classify(_ context.Context, url string) entity.Classification {
	p.mu.RLock()
	urls := p.urls
	p.mu.RUnlock()

	if urls == nil {
		return inconclusive(p.logger, NamePhishTank, url, errSnapshotNotLoaded)
	}

	if _, ok := urls[url]; ok {
		return malicious("listed in phishtank snapshot")
	}

	return clean("not in phishtank snapshot")
}

// Package provider implements the threat-intelligence sources consulted for every
// scanned URL. A provider never fails: any error is logged and reported as an
// inconclusive classification.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

// Provider names double as the scan_type of the records they produce.
const (
	NameBlacklist  = "Blacklist"
	NameWebRisk    = "Google Web Risk"
	NameVirusTotal = "VirusTotal"
	NamePhishTank  = "Phishtank"
	NameURLhaus    = "URLhaus"
)

const maxResponseBytes = 1 << 20

var (
	errMissingCredentials = errors.New("missing credentials")
	errUnexpectedStatus   = errors.New("unexpected response status")
)

func malicious(detail string) entity.Classification {
	return entity.Classification{Verdict: entity.VerdictMalicious, Detail: detail}
}

func clean(detail string) entity.Classification {
	return entity.Classification{Verdict: entity.VerdictClean, Detail: detail}
}

func inconclusive(logger *slog.Logger, provider, url string, err error) entity.Classification {
	logger.Warn("provider check was inconclusive",
		slog.String("provider", provider),
		slog.String("url", url),
		slog.Any("err", err),
	)

	return entity.Classification{Verdict: entity.VerdictUnknown, Detail: err.Error()}
}

// decodeJSON reads a JSON body of an OK response into v.
func decodeJSON(resp *http.Response, v any) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
}

// BlacklistLookup reports whether a URL is an active local blacklist entry.
type BlacklistLookup interface {
	IsBlacklisted(ctx context.Context, url string) (bool, error)
}

// Blacklist checks URLs against the local blacklist store.
type Blacklist struct {
	store  BlacklistLookup
	logger *slog.Logger
}

func NewBlacklist(store BlacklistLookup, logger *slog.Logger) *Blacklist {
	return &Blacklist{store: store, logger: logger}
}

func (b *Blacklist) Name() string {
	return NameBlacklist
}

func (b *Blacklist) Classify(ctx context.Context, url string) entity.Classification {
	listed, err := b.store.IsBlacklisted(ctx, url)
	if err != nil {
		return inconclusive(b.logger, NameBlacklist, url, err)
	}

	if listed {
		return malicious("url is an active blacklist entry")
	}

	return clean("url is not blacklisted")
}

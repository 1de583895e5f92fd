package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
	"golang.org/x/time/rate"
)

const analysisStatusCompleted = "completed"

var (
	// ErrAnalysisTimedOut is reported when an analysis is not completed after the maximum number of polls.
	ErrAnalysisTimedOut = errors.New("analysis not completed within poll attempts")
	errMissingScanID    = errors.New("submission response is missing the scan id")
)

type virusTotalSubmission struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type virusTotalStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

type virusTotalAnalysis struct {
	Data struct {
		Attributes struct {
			Status string          `json:"status"`
			Stats  virusTotalStats `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// VirusTotalOption configures a VirusTotal client.
type VirusTotalOption func(*VirusTotal)

// WithPolling sets the delay between analysis polls and the maximum number of polls.
func WithPolling(interval time.Duration, maxAttempts int) VirusTotalOption {
	return func(v *VirusTotal) {
		v.pollInterval = interval
		if maxAttempts > 0 {
			v.maxAttempts = maxAttempts
		}
	}
}

// WithRequestsPerMinute spaces every request made to the API. Zero disables the limit.
func WithRequestsPerMinute(n int) VirusTotalOption {
	return func(v *VirusTotal) {
		if n <= 0 {
			v.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		v.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// VirusTotal submits URLs for a multi-engine analysis and polls until the analysis
// completes or the poll budget is spent. Every Classify call submits a new analysis.
type VirusTotal struct {
	client       *http.Client
	urlsURL      string
	analysisURL  string
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
	limiter      *rate.Limiter
	logger       *slog.Logger
}

func NewVirusTotal(client *http.Client, urlsURL, analysisURL, apiKey string, logger *slog.Logger, opts ...VirusTotalOption) *VirusTotal {
	v := &VirusTotal{
		client:       client,
		urlsURL:      urlsURL,
		analysisURL:  analysisURL,
		apiKey:       apiKey,
		pollInterval: 5 * time.Second,
		maxAttempts:  10,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       logger,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

func (v *VirusTotal) Name() string {
	return NameVirusTotal
}

func (v *VirusTotal) Classify(ctx context.Context, target string) entity.Classification {
	if v.apiKey == "" {
		return inconclusive(v.logger, NameVirusTotal, target, errMissingCredentials)
	}

	scanID, err := v.submit(ctx, target)
	if err != nil {
		return inconclusive(v.logger, NameVirusTotal, target, err)
	}

	stats, err := v.poll(ctx, scanID)
	if err != nil {
		return inconclusive(v.logger, NameVirusTotal, target, err)
	}

	detail := fmt.Sprintf("%d malicious, %d suspicious, %d harmless, %d undetected",
		stats.Malicious, stats.Suspicious, stats.Harmless, stats.Undetected)

	if stats.Malicious > 0 {
		return malicious(detail)
	}

	return clean(detail)
}

func (v *VirusTotal) submit(ctx context.Context, target string) (string, error) {
	form := url.Values{"url": {target}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.urlsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body virusTotalSubmission
	if err := v.do(req, &body); err != nil {
		return "", fmt.Errorf("submit failed: %w", err)
	}

	if body.Data.ID == "" {
		return "", errMissingScanID
	}

	return body.Data.ID, nil
}

// poll issues at most maxAttempts analysis requests, sleeping pollInterval between them.
func (v *VirusTotal) poll(ctx context.Context, scanID string) (*virusTotalStats, error) {
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.analysisURL+url.PathEscape(scanID), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create poll request: %w", err)
		}

		var body virusTotalAnalysis
		if err := v.do(req, &body); err != nil {
			return nil, fmt.Errorf("poll %d failed: %w", attempt, err)
		}

		if body.Data.Attributes.Status == analysisStatusCompleted {
			return &body.Data.Attributes.Stats, nil
		}

		if attempt == v.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.pollInterval):
		}
	}

	return nil, fmt.Errorf("%w: %d attempts", ErrAnalysisTimedOut, v.maxAttempts)
}

func (v *VirusTotal) do(req *http.Request, out any) error {
	if err := v.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-apikey", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer drainAndClose(resp)

	return decodeJSON(resp, out)
}

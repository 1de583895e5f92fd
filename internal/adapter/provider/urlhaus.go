package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

const (
	urlhausStatusOK        = "ok"
	urlhausStatusNoResults = "no_results"
)

var errMissingQueryStatus = errors.New("response is missing query_status")

type urlhausResponse struct {
	QueryStatus string `json:"query_status"`
	URLStatus   string `json:"url_status"`
	Threat      string `json:"threat"`
}

// URLhaus looks URLs up in the abuse.ch URLhaus malware URL database.
type URLhaus struct {
	client  *http.Client
	apiURL  string
	authKey string
	logger  *slog.Logger
}

func NewURLhaus(client *http.Client, apiURL, authKey string, logger *slog.Logger) *URLhaus {
	return &URLhaus{
		client:  client,
		apiURL:  apiURL,
		authKey: authKey,
		logger:  logger,
	}
}

func (u *URLhaus) Name() string {
	return NameURLhaus
}

func (u *URLhaus) Classify(ctx context.Context, target string) entity.Classification {
	if u.authKey == "" {
		return inconclusive(u.logger, NameURLhaus, target, errMissingCredentials)
	}

	body, err := u.lookup(ctx, target)
	if err != nil {
		return inconclusive(u.logger, NameURLhaus, target, err)
	}

	switch body.QueryStatus {
	case urlhausStatusOK:
		return malicious(strings.TrimSpace(fmt.Sprintf("listed %s %s", body.Threat, body.URLStatus)))
	case urlhausStatusNoResults:
		return clean("no results")
	default:
		return inconclusive(u.logger, NameURLhaus, target, fmt.Errorf("unexpected query_status %q", body.QueryStatus))
	}
}

func (u *URLhaus) lookup(ctx context.Context, target string) (*urlhausResponse, error) {
	form := url.Values{"url": {target}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Auth-Key", u.authKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusOK {
		mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			return nil, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
		}
	}

	var body urlhausResponse
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}

	if body.QueryStatus == "" {
		return nil, errMissingQueryStatus
	}

	return &body, nil
}

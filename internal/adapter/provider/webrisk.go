package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

var webRiskThreatTypes = []string{"MALWARE", "SOCIAL_ENGINEERING"}

type webRiskResponse struct {
	Threat struct {
		ThreatTypes []string `json:"threatTypes"`
		ExpireTime  string   `json:"expireTime"`
	} `json:"threat"`
}

// WebRisk looks URLs up with the Google Web Risk uris:search API.
type WebRisk struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func NewWebRisk(client *http.Client, baseURL, apiKey string, logger *slog.Logger) *WebRisk {
	return &WebRisk{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (w *WebRisk) Name() string {
	return NameWebRisk
}

func (w *WebRisk) Classify(ctx context.Context, target string) entity.Classification {
	if w.apiKey == "" {
		return inconclusive(w.logger, NameWebRisk, target, errMissingCredentials)
	}

	threats, err := w.search(ctx, target)
	if err != nil {
		return inconclusive(w.logger, NameWebRisk, target, err)
	}

	if len(threats) > 0 {
		return malicious("threat types: " + strings.Join(threats, ", "))
	}

	return clean("no threat match")
}

func (w *WebRisk) search(ctx context.Context, target string) ([]string, error) {
	q := url.Values{}
	q.Set("uri", target)
	q.Set("key", w.apiKey)
	for _, t := range webRiskThreatTypes {
		q.Add("threatTypes", t)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/v1/uris:search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("permission denied: %w: %d", errUnexpectedStatus, resp.StatusCode)
	}

	var body webRiskResponse
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}

	return body.Threat.ThreatTypes, nil
}

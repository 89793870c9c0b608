// Package feed fetches metrics snapshots and alert lists from the SecureDataOps backend.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://127.0.0.1:8000"
	// DefaultAlertsLimit is the limit query parameter sent with every alerts request.
	DefaultAlertsLimit = 50

	maxBodyBytes = 4 << 20
)

// Config holds configuration for creating a new Client.
type Config struct {
	BaseURL     string
	AlertsLimit int
	Timeout     time.Duration // 0 means no client-side timeout
	HTTPClient  *http.Client  // optional, overrides Timeout
}

// Client issues uncached GET requests against the backend.
type Client struct {
	metricsURL string
	alertsURL  string
	http       *http.Client
}

// New creates a Client. The base URL must be absolute.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	limit := cfg.AlertsLimit
	if limit <= 0 {
		limit = DefaultAlertsLimit
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		metricsURL: base + "/metrics",
		alertsURL:  base + "/alerts?limit=" + strconv.Itoa(limit),
		http:       hc,
	}, nil
}

// Metrics fetches the latest metrics snapshot.
func (c *Client) Metrics(ctx context.Context) (*MetricsSnapshot, error) {
	body, err := c.get(ctx, c.metricsURL)
	if err != nil {
		return nil, err
	}
	var snap MetricsSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: metrics: %v", ErrDecode, err)
	}
	return &snap, nil
}

// Alerts fetches the current alert list. A well-formed body that is not an array
// yields an empty list.
func (c *Client) Alerts(ctx context.Context) ([]AlertRecord, error) {
	body, err := c.get(ctx, c.alertsURL)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: alerts: %v", ErrDecode, err)
	}
	if _, ok := raw.([]any); !ok {
		return []AlertRecord{}, nil
	}
	alerts := []AlertRecord{}
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, fmt.Errorf("%w: alerts: %v", ErrDecode, err)
	}
	return alerts, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return body, nil
}

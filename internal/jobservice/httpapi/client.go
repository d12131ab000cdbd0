// Package httpapi implements tracker.JobService against a Firecrawl-compatible
// crawl and batch scrape HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/clock/system"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

const (
	// DefaultBaseURL is the hosted API root.
	DefaultBaseURL = "https://api.firecrawl.dev/v2"
	defaultTimeout = 60 * time.Second
	// maxErrorBody bounds how much of an error response is kept in messages.
	maxErrorBody = 512
)

// DefaultRetryDelays returns the backoff delays for retryable responses: 2s, 4s, 8s.
func DefaultRetryDelays() []time.Duration {
	return []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
}

// Config controls the API client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RetryDelays are waited between attempts on 429 and 5xx responses.
	RetryDelays []time.Duration
	// Formats requested for each document; defaults to markdown.
	Formats []string
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client submits and polls jobs. It remembers the kind of every job it
// submitted so that Status hits the matching endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	sleeper tracker.Sleeper
	logger  *zap.Logger

	mu    sync.RWMutex
	kinds map[string]tracker.JobKind
}

// New builds a Client. httpClient and sleeper may be nil.
func New(cfg Config, httpClient *http.Client, sleeper tracker.Sleeper, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultRetryDelays()
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{"markdown"}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if sleeper == nil {
		sleeper = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		sleeper: sleeper,
		logger:  logger,
		kinds:   make(map[string]tracker.JobKind),
	}, nil
}

type submitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Status      string           `json:"status"`
	Total       int              `json:"total"`
	Completed   int              `json:"completed"`
	CreditsUsed *int             `json:"creditsUsed"`
	Data        []map[string]any `json:"data"`
	Next        string           `json:"next"`
}

// Submit starts a crawl or batch scrape job and returns its ID.
func (c *Client) Submit(ctx context.Context, spec tracker.JobSpec) (string, error) {
	var (
		path    string
		payload map[string]any
	)
	switch spec.Kind {
	case tracker.JobKindCrawl:
		if spec.URL == "" {
			return "", errors.New("crawl job requires a url")
		}
		path = "/crawl"
		payload = map[string]any{
			"url":           spec.URL,
			"scrapeOptions": map[string]any{"formats": c.cfg.Formats},
		}
		if spec.Limit > 0 {
			payload["limit"] = spec.Limit
		}
	case tracker.JobKindBatch:
		if len(spec.URLs) == 0 {
			return "", errors.New("batch job requires urls")
		}
		path = "/batch/scrape"
		payload = map[string]any{
			"urls":            spec.URLs,
			"formats":         c.cfg.Formats,
			"onlyMainContent": true,
		}
	default:
		return "", fmt.Errorf("unsupported job kind %q", spec.Kind)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+path, payload, &resp); err != nil {
		return "", fmt.Errorf("submit %s: %w", spec.Kind, err)
	}
	if !resp.Success || resp.ID == "" {
		return "", fmt.Errorf("submit %s rejected: %s", spec.Kind, resp.Error)
	}
	c.Remember(resp.ID, spec.Kind)
	return resp.ID, nil
}

// Remember records the kind of a job started elsewhere so Status can poll it.
func (c *Client) Remember(jobID string, kind tracker.JobKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[jobID] = kind
}

// Status polls a job, following result pagination so every document produced
// so far is returned. Jobs of unknown kind are polled as crawls.
func (c *Client) Status(ctx context.Context, jobID string) (tracker.JobStatusReport, error) {
	next := c.jobURL(jobID)
	var report tracker.JobStatusReport
	for page := 0; next != ""; page++ {
		var resp statusResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &resp); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return tracker.JobStatusReport{}, fmt.Errorf("job %s: %w", jobID, tracker.ErrJobNotFound)
			}
			return tracker.JobStatusReport{}, fmt.Errorf("status %s: %w", jobID, err)
		}
		if page == 0 {
			report.Status = tracker.ParseJobStatus(resp.Status)
			report.Total = resp.Total
			report.Completed = resp.Completed
			report.CostUsed = resp.CreditsUsed
		}
		for _, doc := range resp.Data {
			report.Items = append(report.Items, tracker.JobItem{
				IdentityKey: tracker.ItemIdentity(doc),
				Payload:     doc,
			})
		}
		if resp.Next == next {
			break
		}
		next = resp.Next
	}
	return report, nil
}

// Cancel asks the API to stop a running job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if err := c.do(ctx, http.MethodDelete, c.jobURL(jobID), nil, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("job %s: %w", jobID, tracker.ErrJobNotFound)
		}
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}
	return nil
}

func (c *Client) jobURL(jobID string) string {
	c.mu.RLock()
	kind := c.kinds[jobID]
	c.mu.RUnlock()
	if kind == tracker.JobKindBatch {
		return c.cfg.BaseURL + "/batch/scrape/" + jobID
	}
	return c.cfg.BaseURL + "/crawl/" + jobID
}

// do sends one request, retrying 429 and 5xx responses after each configured delay.
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	for attempt := 0; ; attempt++ {
		err := c.send(ctx, method, url, payload, out)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || !apiErr.retryable() || attempt >= len(c.cfg.RetryDelays) {
			return err
		}
		delay := c.cfg.RetryDelays[attempt]
		c.logger.Warn("retrying api request",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", apiErr.StatusCode),
			zap.Int("attempt", attempt+2),
			zap.Duration("delay", delay),
		)
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry wait: %w", err)
		}
	}
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

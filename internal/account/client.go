package account

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shehryarbajwa/gridrunner/internal/metrics"
	"github.com/shehryarbajwa/gridrunner/internal/ratelimit"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

const (
	DefaultBaseURL = "https://api.browserstack.com"
	planPath       = "/automate/plan.json"
)

// plan is the subset of the plan endpoint response the runner consumes
type plan struct {
	AutomatePlan                   string `json:"automate_plan"`
	ParallelSessionsRunning        int    `json:"parallel_sessions_running"`
	ParallelSessionsMaxAllowed     int    `json:"parallel_sessions_max_allowed"`
	TeamParallelSessionsMaxAllowed int    `json:"team_parallel_sessions_max_allowed"`
	QueuedSessions                 int    `json:"queued_sessions"`
	QueuedSessionsMaxAllowed       int    `json:"queued_sessions_max_allowed"`
}

// Client queries the remote account's session capacity
type Client struct {
	baseURL    string
	username   string
	accessKey  string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	log        *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API host, e.g. a test server
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter throttles requests per account
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a new account API client
func NewClient(username, accessKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		username:   username,
		accessKey:  accessKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "account")
	return c
}

// Capacity fetches a fresh snapshot of running and allowed sessions.
// Results are never cached.
func (c *Client) Capacity(ctx context.Context) (models.AccountCapacity, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.username); err != nil {
			return models.AccountCapacity{}, fmt.Errorf("account API rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+planPath, nil)
	if err != nil {
		return models.AccountCapacity{}, fmt.Errorf("failed to build plan request: %w", err)
	}
	req.SetBasicAuth(c.username, c.accessKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAccountRequest(0)
		return models.AccountCapacity{}, fmt.Errorf("failed to fetch account plan: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordAccountRequest(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.AccountCapacity{}, fmt.Errorf("account plan request failed with status %d: %s", resp.StatusCode, body)
	}

	var p plan
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return models.AccountCapacity{}, fmt.Errorf("failed to decode account plan: %w", err)
	}

	allowed := p.ParallelSessionsMaxAllowed
	if allowed == 0 && p.TeamParallelSessionsMaxAllowed > 0 {
		allowed = p.TeamParallelSessionsMaxAllowed
	}

	capacity := models.AccountCapacity{
		SessionsRunning: p.ParallelSessionsRunning,
		SessionsAllowed: allowed,
	}
	c.log.Debug("Account capacity", "plan", p.AutomatePlan, "running", capacity.SessionsRunning, "allowed", capacity.SessionsAllowed)
	return capacity, nil
}

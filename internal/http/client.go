package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/log"
)

// ClientConfig configures a client for another spendly service.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first.
	Retries int
	// Backoff is the wait before the first retry; it doubles each time.
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// upstream performs GET requests with bounded retries. Every terminal
// failure is reported as core.ErrUpstreamUnavailable.
type upstream struct {
	service string
	base    string
	http    *http.Client
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  *log.Logger
}

func newUpstream(service string, cfg ClientConfig) *upstream {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	return &upstream{
		service: service,
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		logger:  cfg.Logger.WithComponent(log.ComponentHTTP),
	}
}

// permanentError marks a response that retrying will not fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (u *upstream) getJSON(ctx context.Context, path string, out any) error {
	wait := u.backoff
	var lastErr error
	for attempt := 0; attempt <= u.retries; attempt++ {
		if attempt > 0 {
			u.logger.WarnContext(ctx, "Retrying upstream request",
				"service", u.service,
				log.FieldPath, path,
				log.FieldAttempt, attempt,
				log.FieldError, lastErr)
			select {
			case <-ctx.Done():
				return core.Unavailable(u.service, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}

		lastErr = u.attempt(ctx, path, out)
		if lastErr == nil {
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) || ctx.Err() != nil {
			break
		}
	}
	return core.Unavailable(u.service, lastErr)
}

func (u *upstream) attempt(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+path, nil)
	if err != nil {
		return permanentError{err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("GET %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return permanentError{err}
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return permanentError{fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

// SummaryClient reads a user's totals and savings balance from the
// transaction service.
type SummaryClient struct {
	up *upstream
}

func NewSummaryClient(cfg ClientConfig) *SummaryClient {
	return &SummaryClient{up: newUpstream("transaction-service", cfg)}
}

func (c *SummaryClient) FetchSummary(ctx context.Context, username string) (core.Summary, error) {
	var s core.Summary
	err := c.up.getJSON(ctx, "/api/v1/analytics/users/"+url.PathEscape(username)+"/summary", &s)
	return s, err
}

func (c *SummaryClient) FetchSavings(ctx context.Context, username string) (decimal.Decimal, error) {
	var v savingsView
	if err := c.up.getJSON(ctx, "/api/v1/savings/"+url.PathEscape(username), &v); err != nil {
		return decimal.Zero, err
	}
	return v.Balance, nil
}

// GoalSummaryClient reads goal counts from the goal service.
type GoalSummaryClient struct {
	up *upstream
}

func NewGoalSummaryClient(cfg ClientConfig) *GoalSummaryClient {
	return &GoalSummaryClient{up: newUpstream("goal-service", cfg)}
}

func (c *GoalSummaryClient) GoalSummary(ctx context.Context, username string) (core.GoalSummary, error) {
	var s core.GoalSummary
	err := c.up.getJSON(ctx, "/api/v1/goals/"+url.PathEscape(username)+"/summary", &s)
	return s, err
}

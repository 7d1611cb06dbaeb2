// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the outbound HTTP client shared across stages:
// per-attempt timeouts, retry with linear backoff and jitter on transport
// failures, and a one-shot credential refresh when the marketplace API
// answers 401.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/pdiddy/review-engine/internal/logging"
)

// BaseDelay is the backoff unit between retries. Tests override this to
// avoid real sleeps.
var BaseDelay = 500 * time.Millisecond

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
)

// ErrAuthExpired marks a 401 from the marketplace API. It is returned
// wrapped by callers that treat the response as a failure.
var ErrAuthExpired = errors.New("upstream credentials expired")

// TransportError reports that every attempt failed below HTTP (timeout,
// refused connection, reset) or with a status the caller marked retryable.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("GET %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TokenSource supplies bearer credentials for the marketplace API and can
// replace them. RefreshIfStale must not refresh again when the credential
// already changed since stale was read.
type TokenSource interface {
	AccessToken() string
	RefreshIfStale(ctx context.Context, stale string) bool
}

// GetOptions tunes a single Get call.
type GetOptions struct {
	// Timeout bounds each attempt including the body read (default 15s).
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first (default 2).
	// Negative means no retries.
	MaxRetries int

	// RetryStatus marks response codes that go through the retry loop
	// like transport failures. Nil retries no status codes.
	RetryStatus func(status int) bool
}

// RetryServerErrors is a RetryStatus policy that retries 5xx responses.
func RetryServerErrors(status int) bool {
	return status >= 500
}

// RetryThrottled is a RetryStatus policy that retries 429 and 5xx.
func RetryThrottled(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Client wraps http.Client with the retry and refresh policy. Requests to
// apiHost carry the TokenSource's bearer credential.
type Client struct {
	http      *http.Client
	apiHost   string
	tokens    TokenSource
	userAgent string
	log       *slog.Logger
}

// NewClient creates a Client. apiBase identifies the marketplace API whose
// 401 responses trigger a refresh; tokens may be nil to disable refresh.
func NewClient(hc *http.Client, apiBase string, tokens TokenSource, userAgent string, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	host := ""
	if u, err := url.Parse(apiBase); err == nil {
		host = u.Host
	}
	return &Client{
		http:      hc,
		apiHost:   host,
		tokens:    tokens,
		userAgent: userAgent,
		log:       logging.OrDiscard(log),
	}
}

// step is the state of one Get call.
type step int

const (
	stepAttempt step = iota
	stepRefresh
	stepBackoff
)

// Get issues a GET to rawURL. The call moves through the states
//
//	attempt -> success
//	attempt -> transport failure -> backoff -> attempt
//	attempt -> 401 from API -> refresh once -> attempt
//
// The refresh transition is taken at most once per call. Non-2xx
// responses are returned to the caller unless opts.RetryStatus claims them;
// after the last retry a retryable status is returned as-is. When every
// attempt fails at the transport level the last error is returned wrapped
// in *TransportError.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header, opts GetOptions) (*http.Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = defaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}

	hc := *c.http
	hc.Timeout = opts.Timeout
	authed := c.isAPI(rawURL)

	var (
		resp      *http.Response
		lastErr   error
		bearer    string
		refreshed bool
		attempt   int
		next      = stepAttempt
	)

	for {
		switch next {
		case stepAttempt:
			bearer = ""
			if authed && c.tokens != nil {
				bearer = c.tokens.AccessToken()
			}
			var err error
			resp, err = c.do(ctx, &hc, rawURL, headers, bearer)
			switch {
			case err != nil:
				lastErr = err
				next = stepBackoff
			case resp.StatusCode == http.StatusUnauthorized && authed && c.tokens != nil && !refreshed:
				next = stepRefresh
			case opts.RetryStatus != nil && opts.RetryStatus(resp.StatusCode) && attempt < opts.MaxRetries:
				lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
				drain(resp)
				next = stepBackoff
			default:
				return resp, nil
			}

		case stepRefresh:
			refreshed = true
			c.log.Info("upstream returned 401, refreshing credentials", "url", rawURL)
			if !c.tokens.RefreshIfStale(ctx, bearer) {
				return resp, nil
			}
			drain(resp)
			next = stepAttempt

		case stepBackoff:
			if ctx.Err() != nil || attempt >= opts.MaxRetries {
				if ctx.Err() != nil {
					lastErr = ctx.Err()
				}
				return nil, &TransportError{URL: rawURL, Attempts: attempt + 1, Err: lastErr}
			}
			wait := Backoff(attempt)
			c.log.Debug("retrying request", "url", rawURL, "attempt", attempt+1, "of", opts.MaxRetries, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &TransportError{URL: rawURL, Attempts: attempt + 1, Err: ctx.Err()}
			case <-time.After(wait):
			}
			attempt++
			next = stepAttempt
		}
	}
}

// Backoff returns the wait before retry number attempt (0-based):
// BaseDelay*(attempt+1) plus jitter in [0, BaseDelay).
func Backoff(attempt int) time.Duration {
	d := BaseDelay * time.Duration(attempt+1)
	if BaseDelay > 0 {
		d += time.Duration(rand.Int64N(int64(BaseDelay)))
	}
	return d
}

func (c *Client) do(ctx context.Context, hc *http.Client, rawURL string, headers http.Header, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return hc.Do(req)
}

func (c *Client) isAPI(rawURL string) bool {
	if c.apiHost == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	return err == nil && u.Host == c.apiHost
}

// drain discards and closes the body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Package httpclient builds HTTP clients with shared timeout, retry, and
// logging behavior for every outbound call EIFL makes: the CLI and the
// runner agent talking to the server, and the server posting GitHub
// commit statuses.
//
// Clients retry transient failures (5xx, 408, 429 with Retry-After,
// network errors) with exponential backoff and jitter. Only GET, HEAD,
// and OPTIONS are retried unless AllowNonIdempotentRetry is set. Request
// logs sanitize sensitive query parameters and never include headers.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config controls timeout, retry, and identification for a client.
type Config struct {
	// Timeout is the total per-request timeout, retries included.
	// Must be > 0.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the initial try.
	// Zero disables retrying.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry; later retries
	// back off exponentially from it.
	RetryBackoff time.Duration

	// MaxBackoff caps the per-retry delay.
	MaxBackoff time.Duration

	// UserAgent is set on requests that do not carry one. Required.
	UserAgent string

	// AllowNonIdempotentRetry extends retrying to POST, PUT, PATCH, and
	// DELETE. Leave off unless the callee deduplicates.
	AllowNonIdempotentRetry bool
}

// DefaultConfig returns the defaults shared by all EIFL processes.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		UserAgent:     "eifl-http-client/1.0",
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be > 0 when retries are enabled, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be >= retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	return nil
}

// New creates an HTTP client from cfg. The transport stack is, outermost
// first: retry, logging/identification, then a pooled TLS 1.2+ base.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: time.Second,
	}

	var rt http.RoundTripper = newLoggingTransport(base, cfg.UserAgent)
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}, nil
}

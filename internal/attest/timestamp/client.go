// Package timestamp talks to the external timestamp authority that
// countersigns attestation digests. The authority is optional: a service
// without one simply issues proofs with no timestamp token. An unreachable
// authority is an infrastructure failure, never a verification outcome.
package timestamp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dErrors "tutela/pkg/domain-errors"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

// Client obtains and checks timestamp tokens for content digests.
type Client interface {
	// Stamp countersigns a hex digest and returns the opaque token.
	Stamp(ctx context.Context, digest string) (Token, error)

	// Check reports whether token is a valid countersignature of digest.
	Check(ctx context.Context, token, digest string) (bool, error)
}

// Token is the authority's countersignature over a digest.
type Token struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	Authority string    `json:"authority,omitempty"`
}

const (
	defaultTimeout    = 3 * time.Second
	defaultMaxRetries = 2

	retryBaseDelay   = 200 * time.Millisecond
	retryMaxDelay    = 2 * time.Second
	maxResponseBytes = 1 << 20
)

// HTTPClient calls a timestamp authority over its stamping API. Transient
// failures are retried with backoff up to the configured budget.
type HTTPClient struct {
	base       string
	httpClient *http.Client
	maxRetries int
}

type ClientOption func(*HTTPClient)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithHTTPClient replaces the underlying transport, for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		base:       strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type stampRequest struct {
	Digest string `json:"digest"`
}

type checkRequest struct {
	Token  string `json:"token"`
	Digest string `json:"digest"`
}

type checkResponse struct {
	Valid bool `json:"valid"`
}

func (c *HTTPClient) Stamp(ctx context.Context, digest string) (Token, error) {
	var token Token
	err := c.do(ctx, "/v1/timestamp", stampRequest{Digest: digest}, &token)
	if err != nil {
		return Token{}, err
	}
	if token.Value == "" {
		return Token{}, dErrors.New(dErrors.CodeUnavailable, "timestamp authority returned an empty token")
	}
	return token, nil
}

func (c *HTTPClient) Check(ctx context.Context, token, digest string) (bool, error) {
	var decoded checkResponse
	err := c.do(ctx, "/v1/timestamp/verify", checkRequest{Token: token, Digest: digest}, &decoded)
	if err != nil {
		return false, err
	}
	return decoded.Valid, nil
}

// do posts the payload with bounded retries. An exhausted budget reports
// unavailable so callers can tell infrastructure failure from a bad token.
func (c *HTTPClient) do(ctx context.Context, path string, payload, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return dErrors.Wrap(dErrors.CodeUnavailable, "timestamp request cancelled", ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}

		err := c.post(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var status *statusError
		if errors.As(err, &status) && !status.retryable() {
			break
		}
	}
	return dErrors.Wrap(dErrors.CodeUnavailable, "timestamp authority unreachable", lastErr)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode timestamp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build timestamp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call timestamp authority: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read timestamp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode timestamp response: %w", err)
	}
	return nil
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}

// statusError is a non-2xx authority response. Server-side statuses are
// retryable; client-side ones are not.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	snippet := e.body
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Sprintf("timestamp authority returned %d: %s", e.code, snippet)
}

func (e *statusError) retryable() bool {
	return e.code >= 500
}

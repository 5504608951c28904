// Package decisionpoint talks to the external policy decision point that
// executes rego rule modules. The repository validates and versions those
// modules; execution is delegated here. An unreachable decision point is an
// infrastructure failure, reported as unavailable so callers can tell it
// apart from a policy deny.
package decisionpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	dErrors "tutela/pkg/domain-errors"
	"tutela/pkg/platform/circuit"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

// Client evaluates a rule document at a query path against input.
type Client interface {
	Evaluate(ctx context.Context, path string, input map[string]any) (Result, error)
}

// Condition is an obligation returned by the decision point. TTL is a
// duration string; the policy layer converts it to an absolute expiry.
type Condition struct {
	Kind string `json:"kind"`
	TTL  string `json:"ttl,omitempty"`
}

// Result is the decision document the decision point is expected to produce
// for governance queries.
type Result struct {
	Outcome    string      `json:"outcome"`
	Rule       string      `json:"rule,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Reasons    []string    `json:"reasons,omitempty"`
}

const (
	defaultTimeout    = 3 * time.Second
	defaultMaxRetries = 2
	defaultCooldown   = time.Minute

	retryBaseDelay   = 200 * time.Millisecond
	retryMaxDelay    = 2 * time.Second
	maxResponseBytes = 1 << 20
)

// HTTPClient queries a decision point over its data API. Failures trip a
// circuit breaker; while the breaker is open, at most one probe request per
// cooldown window reaches the decision point and everything else fails fast.
type HTTPClient struct {
	base       string
	httpClient *http.Client
	maxRetries int
	breaker    *circuit.Breaker
	cooldown   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	retryAt time.Time
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

func WithBreakerCooldown(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *HTTPClient) { c.logger = logger }
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
		breaker:    circuit.New("decision-point"),
		cooldown:   defaultCooldown,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type evalRequest struct {
	Input map[string]any `json:"input"`
}

type evalResponse struct {
	Result *Result `json:"result"`
}

// Evaluate posts input to the decision document at path. Transient failures
// are retried with backoff up to the configured budget; an exhausted budget
// or an open breaker reports unavailable.
func (c *HTTPClient) Evaluate(ctx context.Context, path string, input map[string]any) (Result, error) {
	if !c.admit() {
		return Result{}, dErrors.New(dErrors.CodeUnavailable, "decision point circuit open")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, dErrors.Wrap(dErrors.CodeUnavailable, "decision point query cancelled", ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}

		result, err := c.query(ctx, path, input)
		if err == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}
		lastErr = err
		c.noteFailure(err)

		var status *statusError
		if errors.As(err, &status) && !status.retryable() {
			break
		}
	}
	return Result{}, dErrors.Wrap(dErrors.CodeUnavailable, "decision point unreachable", lastErr)
}

func (c *HTTPClient) query(ctx context.Context, path string, input map[string]any) (Result, error) {
	payload, err := json.Marshal(evalRequest{Input: input})
	if err != nil {
		return Result{}, fmt.Errorf("encode decision query: %w", err)
	}

	url := c.base + "/v1/data/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build decision query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("query decision point: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read decision response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var decoded evalResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode decision response: %w", err)
	}
	if decoded.Result == nil {
		return Result{}, fmt.Errorf("decision document %q is undefined", path)
	}
	return *decoded.Result, nil
}

// admit gates requests while the breaker is open: one probe per cooldown
// window, everything else rejected.
func (c *HTTPClient) admit() bool {
	if !c.breaker.IsOpen() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.retryAt) {
		return false
	}
	c.retryAt = time.Now().Add(c.cooldown)
	return true
}

func (c *HTTPClient) noteFailure(err error) {
	open, change := c.breaker.RecordFailure()
	if change.Opened {
		c.mu.Lock()
		c.retryAt = time.Now().Add(c.cooldown)
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Warn("decision point circuit opened", "error", err)
		}
		return
	}
	if open {
		c.mu.Lock()
		c.retryAt = time.Now().Add(c.cooldown)
		c.mu.Unlock()
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}

// statusError is a non-2xx decision point response. Server-side statuses are
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
	return fmt.Sprintf("decision point returned %d: %s", e.code, snippet)
}

func (e *statusError) retryable() bool {
	return e.code >= 500
}

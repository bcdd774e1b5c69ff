package univibe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ugly-ceaser/univibe-client/internal/backoff"
)

// Client is the UniVibe backend API client. It layers request throttling,
// in-flight de-duplication, TTL response caching with mutation-driven
// invalidation, bearer-credential handling and error classification around
// the standard net/http Client. It is safe for concurrent use; screens share
// one instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration

	cache        Cache
	cacheTTL     time.Duration
	inflight     *inflightRegistry
	inflightWait time.Duration
	dedup        bool
	throttle     *throttle

	retryMax          int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoff           backoff.Strategy

	tokens           *TokenStore
	onSessionExpired func()

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// rawBody is a buffered passthrough request body, sent verbatim on every
// attempt with no forced content type.
type rawBody struct {
	data []byte
}

// Result is a settled network response: status, headers and the raw body.
// FromCache marks responses served without a network call.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
}

// maxResponseSize bounds how much of a response body is read; a mobile list
// payload is a few hundred KB at most.
const maxResponseSize = 10 * 1024 * 1024

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:           30 * time.Second,
		cache:             NewInMemoryCache(),
		cacheTTL:          30 * time.Second,
		inflight:          newInflightRegistry(),
		inflightWait:      10 * time.Second,
		dedup:             true,
		throttle:          newThrottle(0),
		retryMax:          2,
		initialBackoff:    500 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		backoff:           backoff.ExponentialJitter{},
		tokens:            NewTokenStore(),
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

type requestOptions struct {
	ttl          time.Duration
	noCache      bool
	forceRefresh bool
	retryOn429   int
}

// RequestOption adjusts cache and retry behavior for a single call.
type RequestOption func(*requestOptions)

// WithRequestTTL overrides the cache TTL for this call only.
func WithRequestTTL(ttl time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.ttl = ttl
	}
}

// WithNoCache disables cache read and write for this call.
func WithNoCache() RequestOption {
	return func(o *requestOptions) {
		o.noCache = true
	}
}

// WithRetryOn429 sets the rate-limit retry budget for this call, overriding
// the method-based default (reads retry, mutations do not).
func WithRetryOn429(retries int) RequestOption {
	return func(o *requestOptions) {
		o.retryOn429 = retries
	}
}

func buildRequestOptions(opts []RequestOption) requestOptions {
	o := requestOptions{retryOn429: -1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// do runs the full request pipeline: fail-fast credential check, in-flight
// de-duplication, throttle delay, cache read, transport with bounded
// rate-limit retries, classification, then cache store or invalidation.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, authed bool, o requestOptions) (*Result, error) {
	start := time.Now()
	key := requestKey(method, path)
	endpoint := endpointLabel(method, path)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if authed {
		if _, ok := c.tokens.Token(); !ok {
			// Certain to fail; skip the round trip entirely.
			c.metrics.RecordError(string(KindUnauthorized), method, endpoint)
			return nil, &ClassifiedError{
				Kind:    KindUnauthorized,
				Message: "authentication required",
				Cause:   ErrNoToken,
			}
		}
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", method, "path", path)
	}

	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	dedupEnabled := c.dedup && method == http.MethodGet

	if dedupEnabled {
		entry, owner := c.inflight.GetOrCreate(key)
		if !owner {
			result, err, settled := entry.Wait(ctx, c.inflightWait)
			if settled {
				c.metrics.RecordDedupHit(method, endpoint)
				c.recordOutcome(method, endpoint, result, time.Since(start))
				if c.debug != nil && c.debug.Enabled && c.debug.LogDedup && c.logger != nil {
					c.logger.Debug("Deduplication hit", "requestID", requestID, "key", key, "waiters", entry.waiterCount())
				}
				return result, err
			}
			// The shared request outlived the wait bound; issue a fresh one
			// rather than hang behind it.
			if c.debug != nil && c.debug.Enabled && c.debug.LogDedup && c.logger != nil {
				c.logger.Warn("In-flight wait bound exceeded, issuing fresh request", "requestID", requestID, "key", key)
			}
			result, err = c.perform(ctx, method, path, key, endpoint, body, authed, o, requestID)
			c.recordOutcome(method, endpoint, result, time.Since(start))
			return result, err
		}

		result, err := c.perform(ctx, method, path, key, endpoint, body, authed, o, requestID)
		// Settle the shared entry before returning; removal must never be
		// skipped, even when perform failed.
		c.inflight.Complete(key, result, err)
		c.recordOutcome(method, endpoint, result, time.Since(start))
		return result, err
	}

	result, err := c.perform(ctx, method, path, key, endpoint, body, authed, o, requestID)
	c.recordOutcome(method, endpoint, result, time.Since(start))
	return result, err
}

// perform is the single-caller path: throttle, cache read, transport with
// rate-limit retries, classification and cache bookkeeping.
func (c *Client) perform(ctx context.Context, method, path, key, endpoint string, body interface{}, authed bool, o requestOptions, requestID string) (*Result, error) {
	if delay := c.throttle.Delay(key); delay > 0 {
		c.metrics.RecordThrottleDelay(method, endpoint, delay)
		if c.debug != nil && c.debug.Enabled && c.debug.LogThrottle && c.logger != nil {
			c.logger.Debug("Throttling request", "requestID", requestID, "key", key, "delay", delay)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, classifyTransportError(err)
		}
	}

	cacheEnabled := c.cache != nil && method == http.MethodGet && !o.noCache

	if cacheEnabled && !o.forceRefresh {
		if entry, found := c.cache.Get(key); found {
			c.metrics.RecordCacheHit(method, endpoint)
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "requestID", requestID, "key", key)
			}
			return &Result{
				StatusCode: entry.StatusCode,
				Header:     entry.Header,
				Body:       entry.Payload,
				FromCache:  true,
			}, nil
		}
		c.metrics.RecordCacheMiss(method, endpoint)
	}

	result, err := c.executeWithRateLimitRetry(ctx, method, path, endpoint, body, authed, o, requestID)

	// A settled attempt, successful or not, restarts the throttle window.
	c.throttle.MarkCompleted(key)

	if err != nil {
		return nil, err
	}

	if result.StatusCode >= 400 {
		cerr := classifyResponse(result.StatusCode, result.Body)
		c.metrics.RecordError(string(cerr.Kind), method, endpoint)

		if authed && result.StatusCode == http.StatusUnauthorized {
			// Session invalid: signal the application once; it owns clearing
			// stored credentials and prompting re-login. No auto-retry.
			c.metrics.RecordSessionExpired()
			if c.onSessionExpired != nil {
				c.onSessionExpired()
			}
			cerr = &ClassifiedError{
				Kind:       cerr.Kind,
				Message:    cerr.Message,
				HTTPStatus: cerr.HTTPStatus,
				RequestID:  cerr.RequestID,
				Cause:      ErrSessionExpired,
			}
		}
		return nil, cerr
	}

	if cacheEnabled {
		ttl := c.cacheTTL
		if o.ttl > 0 {
			ttl = o.ttl
		}
		c.cache.Set(key, &CacheEntry{
			Payload:    result.Body,
			StatusCode: result.StatusCode,
			Header:     result.Header,
		}, ttl)
		c.metrics.RecordCacheSize(c.cacheLen())
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Response cached", "requestID", requestID, "key", key, "ttl", ttl)
		}
	}

	if c.cache != nil && isMutation(method) {
		removed := 0
		for _, prefix := range invalidationPrefixes(path) {
			removed += c.cache.DeletePrefix(prefix)
		}
		c.metrics.RecordInvalidations(method, endpoint, removed)
		if removed > 0 && c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Cache invalidated after mutation", "requestID", requestID, "path", path, "removed", removed)
		}
	}

	return result, nil
}

// executeWithRateLimitRetry wraps execute in a bounded retry loop that only
// reacts to 429 responses. Timeouts and connectivity failures surface to the
// user as retryable instead of being replayed here, to avoid request storms.
func (c *Client) executeWithRateLimitRetry(ctx context.Context, method, path, endpoint string, body interface{}, authed bool, o requestOptions, requestID string) (*Result, error) {
	budget := c.retryBudgetFor(method, o)

	if budget > 0 {
		if reader, ok := body.(io.Reader); ok {
			// The first attempt drains a streamed body; buffer it so a retry
			// resends the payload instead of an empty reader.
			data, err := io.ReadAll(reader)
			if err != nil {
				return nil, classifyTransportError(err)
			}
			body = rawBody{data: data}
		}
	}

	for attempt := 0; ; attempt++ {
		result, err := c.execute(ctx, method, path, body, authed)
		if err != nil {
			c.metrics.RecordError(string(err.Kind), method, endpoint)
			return nil, err
		}

		if result.StatusCode != http.StatusTooManyRequests || attempt >= budget {
			return result, nil
		}

		delay := c.rateLimitDelay(attempt, result.Header)
		c.metrics.RecordRetry(method, endpoint, attempt+1)
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Rate limited, backing off", "requestID", requestID, "attempt", attempt+1, "budget", budget, "delay", delay)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, classifyTransportError(err)
		}
	}
}

// execute performs one network attempt. Struct bodies are JSON-serialized;
// an io.Reader body (binary or multipart form) passes through without a
// forced content type that would corrupt it.
func (c *Client) execute(ctx context.Context, method, path string, body interface{}, authed bool) (*Result, *ClassifiedError) {
	var reader io.Reader
	contentType := ""

	switch b := body.(type) {
	case nil:
	case rawBody:
		reader = bytes.NewReader(b.data)
	case io.Reader:
		reader = b
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/json"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, &ClassifiedError{
				Kind:    KindBadRequest,
				Message: "request body is not serializable",
				Cause:   err,
			}
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &ClassifiedError{
			Kind:    KindBadRequest,
			Message: "invalid request",
			Cause:   err,
		}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

func (c *Client) recordOutcome(method, endpoint string, result *Result, duration time.Duration) {
	statusCode := 0
	if result != nil {
		statusCode = result.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, duration)
}

func (c *Client) cacheLen() int {
	if mem, ok := c.cache.(*InMemoryCache); ok {
		return mem.Len()
	}
	return -1
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// endpointLabel is the bounded-cardinality metrics label: method plus path
// without its query string.
func endpointLabel(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	return method + " " + path
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package univibe

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryAfterDelay parses a Retry-After header value into a wait duration.
// Supports both delay-seconds and HTTP-date forms; capped at one hour.
func retryAfterDelay(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// retryBudgetFor resolves how many rate-limit retries a request gets. Reads
// are retried by default because they are idempotent; mutations only retry
// when the call site opts in, since replaying a POST is endpoint-specific.
func (c *Client) retryBudgetFor(method string, o requestOptions) int {
	if o.retryOn429 >= 0 {
		return o.retryOn429
	}
	if method == http.MethodGet {
		return c.retryMax
	}
	return 0
}

// rateLimitDelay picks the wait before the next attempt after a 429: the
// server's Retry-After when present, else exponential backoff with jitter.
func (c *Client) rateLimitDelay(attempt int, header http.Header) time.Duration {
	if delay := retryAfterDelay(header.Get("Retry-After")); delay > 0 {
		return delay
	}
	return c.backoff.Calculate(attempt, c.initialBackoff, c.maxBackoff, c.backoffMultiplier, c.jitter)
}

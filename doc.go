// Package univibe is the HTTP client core of the UniVibe campus app: a small
// set of request verbs (Get/Post/Put/Patch/Delete and their authenticated
// variants) layered with the reliability glue every screen-level data hook
// relies on:
//
//   - Request de-duplication (concurrent identical GETs share one network call)
//   - Response caching with short TTLs and mutation-driven prefix invalidation
//   - Per-endpoint throttling (minimum spacing between repeated calls)
//   - Bounded rate-limit retries with exponential backoff + jitter
//   - Error classification into a small typed taxonomy
//   - Bearer-credential handling with a session-expired signal on 401
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance across screens
//   - Pluggable cache (in-memory shards by default, Redis optional)
//
// Typical usage:
//
//	client := univibe.New(
//	    univibe.WithBaseURL("https://api.univibe.example"),
//	    univibe.WithCacheTTL(30*time.Second),
//	    univibe.WithThrottleInterval(200*time.Millisecond),
//	    univibe.WithOnSessionExpired(promptReLogin),
//	)
//	questions, err := univibe.AuthGetAs[[]Question](ctx, client, "/forum/questions?page=1")
//
// The cache is best-effort: mutation invalidation matches key prefixes, not a
// dependency graph, so a stale entry can survive an unrelated mutation. Treat
// it as a latency optimization, never as a consistency mechanism.
package univibe

package univibe

import "sync"

// TokenStore holds the opaque bearer credential for the current session. It
// does not persist the token anywhere; secure storage belongs to the
// application shell around this layer.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore returns an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Set replaces the stored credential.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the stored credential.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Token returns the stored credential and whether one is present.
func (s *TokenStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// SetToken stores the session credential on the client. Call after login.
func (c *Client) SetToken(token string) {
	c.tokens.Set(token)
}

// ClearToken drops the session credential and flushes all per-user state:
// cached responses, in-flight entries and throttle records. Cached data may
// be user-scoped, so nothing survives a logout.
func (c *Client) ClearToken() {
	c.tokens.Clear()
	if c.cache != nil {
		c.cache.Clear()
	}
	c.inflight.Flush()
	c.throttle.Reset()

	if c.debug != nil && c.debug.Enabled && c.logger != nil {
		c.logger.Info("Session cleared, cache and in-flight state flushed")
	}
}

// HasToken reports whether a session credential is currently stored.
func (c *Client) HasToken() bool {
	_, ok := c.tokens.Token()
	return ok
}

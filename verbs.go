package univibe

import (
	"context"
	"encoding/json"
	"net/http"
)

// Envelope is the response wrapper every UniVibe endpoint produces.
type Envelope[T any] struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	Data       T           `json:"data"`
	RequestID  string      `json:"requestId"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination accompanies list endpoints.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Get performs a GET against the backend, serving from cache when a fresh
// entry exists for the path.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodGet, path, nil, false, buildRequestOptions(opts))
}

// Post performs a POST. A successful mutation invalidates related cache
// entries by key prefix.
func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPost, path, body, false, buildRequestOptions(opts))
}

// Put performs a PUT.
func (c *Client) Put(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPut, path, body, false, buildRequestOptions(opts))
}

// Patch performs a PATCH.
func (c *Client) Patch(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPatch, path, body, false, buildRequestOptions(opts))
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodDelete, path, nil, false, buildRequestOptions(opts))
}

// AuthGet is Get with the bearer credential attached. Fails fast with
// Unauthorized when no credential is stored.
func (c *Client) AuthGet(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodGet, path, nil, true, buildRequestOptions(opts))
}

// AuthPost is Post with the bearer credential attached.
func (c *Client) AuthPost(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPost, path, body, true, buildRequestOptions(opts))
}

// AuthPut is Put with the bearer credential attached.
func (c *Client) AuthPut(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPut, path, body, true, buildRequestOptions(opts))
}

// AuthPatch is Patch with the bearer credential attached.
func (c *Client) AuthPatch(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPatch, path, body, true, buildRequestOptions(opts))
}

// AuthDelete is Delete with the bearer credential attached.
func (c *Client) AuthDelete(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodDelete, path, nil, true, buildRequestOptions(opts))
}

// ForceRefresh bypasses the cache read, always issues a network call, then
// repopulates the cache on success.
func (c *Client) ForceRefresh(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	o := buildRequestOptions(opts)
	o.forceRefresh = true
	return c.do(ctx, http.MethodGet, path, nil, false, o)
}

// AuthForceRefresh is ForceRefresh with the bearer credential attached.
func (c *Client) AuthForceRefresh(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	o := buildRequestOptions(opts)
	o.forceRefresh = true
	return c.do(ctx, http.MethodGet, path, nil, true, o)
}

// DecodeEnvelope parses a settled result into the typed response envelope.
// A body that does not parse classifies as MalformedResponse; an envelope
// whose status field is "error" classifies from its message and the HTTP
// status of the response.
func DecodeEnvelope[T any](result *Result) (Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(result.Body, &env); err != nil {
		return env, malformedResponseError(result.StatusCode, err)
	}
	if env.Status == "error" {
		message := env.Message
		if message == "" {
			message = statusPhrase(result.StatusCode)
		}
		return env, &ClassifiedError{
			Kind:       kindForStatus(result.StatusCode),
			Message:    message,
			HTTPStatus: result.StatusCode,
			RequestID:  env.RequestID,
		}
	}
	return env, nil
}

func decodeData[T any](result *Result, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	env, err := DecodeEnvelope[T](result)
	if err != nil {
		return zero, err
	}
	return env.Data, nil
}

// GetAs fetches path and decodes the envelope's data field into T.
func GetAs[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return decodeData[T](c.Get(ctx, path, opts...))
}

// AuthGetAs is GetAs with the bearer credential attached.
func AuthGetAs[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return decodeData[T](c.AuthGet(ctx, path, opts...))
}

// PostAs posts body to path and decodes the envelope's data field into T.
func PostAs[T any](ctx context.Context, c *Client, path string, body interface{}, opts ...RequestOption) (T, error) {
	return decodeData[T](c.Post(ctx, path, body, opts...))
}

// AuthPostAs is PostAs with the bearer credential attached.
func AuthPostAs[T any](ctx context.Context, c *Client, path string, body interface{}, opts ...RequestOption) (T, error) {
	return decodeData[T](c.AuthPost(ctx, path, body, opts...))
}

// AuthPutAs sends an authenticated PUT and decodes the data field into T.
func AuthPutAs[T any](ctx context.Context, c *Client, path string, body interface{}, opts ...RequestOption) (T, error) {
	return decodeData[T](c.AuthPut(ctx, path, body, opts...))
}

// AuthPatchAs sends an authenticated PATCH and decodes the data field into T.
func AuthPatchAs[T any](ctx context.Context, c *Client, path string, body interface{}, opts ...RequestOption) (T, error) {
	return decodeData[T](c.AuthPatch(ctx, path, body, opts...))
}

// AuthDeleteAs sends an authenticated DELETE and decodes the data field into T.
func AuthDeleteAs[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return decodeData[T](c.AuthDelete(ctx, path, opts...))
}

// ForceRefreshAs refreshes path past the cache and decodes the data field.
func ForceRefreshAs[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return decodeData[T](c.ForceRefresh(ctx, path, opts...))
}

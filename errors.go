package univibe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind tags a classified failure with its place in the error taxonomy.
type ErrorKind string

const (
	KindBadRequest        ErrorKind = "BadRequest"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindForbidden         ErrorKind = "Forbidden"
	KindNotFound          ErrorKind = "NotFound"
	KindConflict          ErrorKind = "Conflict"
	KindValidationError   ErrorKind = "ValidationError"
	KindRateLimited       ErrorKind = "RateLimited"
	KindServerError       ErrorKind = "ServerError"
	KindTimeout           ErrorKind = "Timeout"
	KindNetworkFailure    ErrorKind = "NetworkFailure"
	KindMalformedResponse ErrorKind = "MalformedResponse"
	KindCanceled          ErrorKind = "Canceled"
)

// Sentinel errors for common failure scenarios
var (
	// ErrNoToken is returned when an authenticated verb is called without a
	// stored session credential.
	ErrNoToken = errors.New("univibe: no session token")

	// ErrSessionExpired is attached to 401 responses on authenticated calls.
	ErrSessionExpired = errors.New("univibe: session expired")

	// ErrCacheMiss is returned by cache backends on a failed lookup.
	ErrCacheMiss = errors.New("univibe: cache miss")
)

// ClassifiedError is the typed representation of any failure produced by the
// client. HTTPStatus is 0 for failures that never reached the backend
// (timeouts, connectivity, missing credential). Immutable once constructed.
type ClassifiedError struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	RequestID  string
	Cause      error
}

// Error implements error interface.
func (e *ClassifiedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.HTTPStatus > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.HTTPStatus)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *ClassifiedError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClassifiedError); ok {
		return e.Kind == targetErr.Kind
	}
	return false
}

// IsTransient reports whether an error represents a failure that might
// succeed on a later attempt: timeouts, connectivity failures, 5xx responses
// and rate limiting. Client-side 4xx errors (except 429) are not transient.
func IsTransient(err error) bool {
	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		return false
	}
	switch cerr.Kind {
	case KindTimeout, KindNetworkFailure, KindServerError, KindRateLimited:
		return true
	default:
		return false
	}
}

// errorEnvelope is the slice of the response envelope the classifier needs.
type errorEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// classifyResponse maps a non-2xx response to a ClassifiedError. A parsable
// JSON body contributes its message and request id; anything else falls back
// to the static phrase for the status code.
func classifyResponse(statusCode int, body []byte) *ClassifiedError {
	kind := kindForStatus(statusCode)
	message := statusPhrase(statusCode)
	requestID := ""

	if len(body) > 0 {
		var env errorEnvelope
		if err := json.Unmarshal(body, &env); err == nil {
			if env.Message != "" {
				message = env.Message
			}
			requestID = env.RequestID
		}
	}

	return &ClassifiedError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: statusCode,
		RequestID:  requestID,
	}
}

// classifyTransportError maps a failure that never produced an HTTP response.
// Caller cancellation becomes Canceled, deadline and net timeouts become
// Timeout; everything else is a connectivity failure. Status is always 0.
func classifyTransportError(err error) *ClassifiedError {
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{
			Kind:    KindCanceled,
			Message: "request canceled",
			Cause:   err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Kind:    KindTimeout,
			Message: "request timed out",
			Cause:   err,
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClassifiedError{
			Kind:    KindTimeout,
			Message: "request timed out",
			Cause:   err,
		}
	}
	return &ClassifiedError{
		Kind:    KindNetworkFailure,
		Message: "network request failed, check your connection",
		Cause:   err,
	}
}

// malformedResponseError flags a body that was expected to be JSON but did
// not parse. Carries the status of the original response.
func malformedResponseError(statusCode int, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:       KindMalformedResponse,
		Message:    "response body is not valid JSON",
		HTTPStatus: statusCode,
		Cause:      cause,
	}
}

func kindForStatus(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusUnprocessableEntity:
		return KindValidationError
	case http.StatusTooManyRequests:
		return KindRateLimited
	}
	if statusCode >= 500 {
		return KindServerError
	}
	return KindBadRequest
}

func statusPhrase(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Bad Request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusUnprocessableEntity:
		return "Validation failed"
	case http.StatusTooManyRequests:
		return "Too many requests, please try again later"
	case http.StatusBadGateway:
		return "Bad Gateway"
	case http.StatusServiceUnavailable:
		return "Service Unavailable"
	}
	if statusCode >= 500 {
		return "Internal Server Error"
	}
	return http.StatusText(statusCode)
}

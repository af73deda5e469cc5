// Package gwerrors defines the error taxonomy surfaced by the dispatch
// loop to its callers: NoIdentities, AllRateLimited, TokenRevoked,
// Upstream, and Transport.
package gwerrors

import "fmt"

// NoIdentitiesError means the account pool is empty.
type NoIdentitiesError struct{}

func (e *NoIdentitiesError) Error() string { return "no identities configured in the account pool" }

// AllRateLimitedError means every identity is unavailable for the
// requested family; WaitMs is the minimum delay until any quota resets.
type AllRateLimitedError struct {
	WaitMs int64
}

func (e *AllRateLimitedError) Error() string {
	return fmt.Sprintf("all identities rate-limited, retry in %dms", e.WaitMs)
}

// TokenRevokedError means a refresh returned invalid_grant; the
// offending identity has already been removed from the pool and the
// pool persisted. Email is included only for this error kind — other
// error kinds do not leak per-identity info.
type TokenRevokedError struct {
	Email string
}

func (e *TokenRevokedError) Error() string {
	if e.Email == "" {
		return "refresh token revoked for an identity with no recorded email"
	}
	return fmt.Sprintf("refresh token revoked for %s", e.Email)
}

// UpstreamError is a non-retriable upstream failure, or the error
// carried after retries are exhausted.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

// TransportError is a local/network error surfaced after endpoint
// fallback has been exhausted.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Reason)
}

// AsUpstream reports whether err is an *UpstreamError and returns it.
func AsUpstream(err error) (*UpstreamError, bool) {
	e, ok := err.(*UpstreamError)
	return e, ok
}

// AsAllRateLimited reports whether err is an *AllRateLimitedError.
func AsAllRateLimited(err error) (*AllRateLimitedError, bool) {
	e, ok := err.(*AllRateLimitedError)
	return e, ok
}

// AsTokenRevoked reports whether err is a *TokenRevokedError.
func AsTokenRevoked(err error) (*TokenRevokedError, bool) {
	e, ok := err.(*TokenRevokedError)
	return e, ok
}

// HTTPStatus maps an error from this package to an HTTP status code
// for the front-end.
func HTTPStatus(err error) int {
	switch err.(type) {
	case *NoIdentitiesError:
		return 503
	case *AllRateLimitedError:
		return 429
	case *TokenRevokedError:
		return 401
	case *UpstreamError:
		if e, ok := err.(*UpstreamError); ok && e.Status != 0 {
			return e.Status
		}
		return 502
	case *TransportError:
		return 502
	default:
		return 500
	}
}

// ToAPIError formats an error as an OpenAI/Anthropic-style error body
// for the HTTP front-end.
func ToAPIError(err error) map[string]interface{} {
	kind := "internal_error"
	switch err.(type) {
	case *NoIdentitiesError:
		kind = "no_identities"
	case *AllRateLimitedError:
		kind = "rate_limited"
	case *TokenRevokedError:
		kind = "token_revoked"
	case *UpstreamError:
		kind = "upstream_error"
	case *TransportError:
		kind = "transport_error"
	}
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    kind,
			"message": err.Error(),
		},
	}
}

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the eleven error kinds surfaced at the HTTP boundary.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request_error"
	KindModelNotFound        Kind = "model_not_found"
	KindAllProvidersCooled   Kind = "all_providers_cooled_down"
	KindQuotaExhausted       Kind = "quota_exhausted"
	KindRateLimit            Kind = "rate_limit_error"
	KindAuthError            Kind = "auth_error"
	KindTimeout              Kind = "timeout"
	KindServerError          Kind = "server_error"
	KindConnectionError      Kind = "connection_error"
	KindInternalError        Kind = "internal_error"
	KindUnimplementedSelector Kind = "unimplemented_selector"
)

// Sentinel errors for errors.Is matching; Error wraps these with context.
var (
	ErrInvalidRequest        = errors.New("invalid_request_error")
	ErrModelNotFound         = errors.New("model_not_found")
	ErrAllProvidersCooled    = errors.New("all_providers_cooled_down")
	ErrQuotaExhausted        = errors.New("quota_exhausted")
	ErrRateLimit             = errors.New("rate_limit_error")
	ErrAuthError             = errors.New("auth_error")
	ErrTimeout               = errors.New("timeout")
	ErrServerError           = errors.New("server_error")
	ErrConnectionError       = errors.New("connection_error")
	ErrInternalError         = errors.New("internal_error")
	ErrUnimplementedSelector = errors.New("unimplemented_selector")
)

var sentinelByKind = map[Kind]error{
	KindInvalidRequest:        ErrInvalidRequest,
	KindModelNotFound:         ErrModelNotFound,
	KindAllProvidersCooled:    ErrAllProvidersCooled,
	KindQuotaExhausted:        ErrQuotaExhausted,
	KindRateLimit:             ErrRateLimit,
	KindAuthError:             ErrAuthError,
	KindTimeout:               ErrTimeout,
	KindServerError:           ErrServerError,
	KindConnectionError:       ErrConnectionError,
	KindInternalError:         ErrInternalError,
	KindUnimplementedSelector: ErrUnimplementedSelector,
}

var statusByKind = map[Kind]int{
	KindInvalidRequest:        http.StatusBadRequest,
	KindModelNotFound:         http.StatusNotFound,
	KindAllProvidersCooled:    http.StatusServiceUnavailable,
	KindQuotaExhausted:        http.StatusServiceUnavailable,
	KindRateLimit:             http.StatusTooManyRequests,
	KindAuthError:             http.StatusUnauthorized,
	KindTimeout:               http.StatusGatewayTimeout,
	KindServerError:           http.StatusBadGateway,
	KindConnectionError:       http.StatusBadGateway,
	KindInternalError:         http.StatusInternalServerError,
	KindUnimplementedSelector: http.StatusInternalServerError,
}

// Error is a classified error carrying its Kind and HTTP status alongside a
// human message and an optional Retry-After hint (used for cooldown-related
// 503s per SPEC_FULL.md §7).
type Error struct {
	Kind          Kind
	Message       string
	HTTPStatusVal int
	RetryAfterSec int64 // 0 means "no Retry-After header"
	wrapped       error
}

// NewError builds a classified Error for the given kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatusVal: statusByKind[kind], wrapped: sentinelByKind[kind]}
}

// WithRetryAfter sets the Retry-After hint in seconds.
func (e *Error) WithRetryAfter(seconds int64) *Error {
	e.RetryAfterSec = seconds
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the sentinel for this Kind so errors.Is(err, gateway.ErrX) works.
func (e *Error) Unwrap() error { return e.wrapped }

// HTTPStatus implements the httpStatusError interface consulted by the HTTP
// boundary and by failure classification in ProviderInvoker.
func (e *Error) HTTPStatus() int { return e.HTTPStatusVal }

// httpStatusError is satisfied by any error that knows its own HTTP status,
// including invoke.APIError from upstream HTTP responses.
type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyHTTPStatus maps an upstream HTTP status code to a cooldown reason
// Kind, per SPEC_FULL.md §4.2's classification table.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthError
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		return KindServerError
	default:
		return KindServerError
	}
}

// AsClassified extracts the Kind from err if it is (or wraps) a classified
// *Error or an httpStatusError; otherwise falls back to KindConnectionError,
// matching the spec's "network/socket errors -> connection_error" rule.
func AsClassified(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	var hse httpStatusError
	if errors.As(err, &hse) {
		return ClassifyHTTPStatus(hse.HTTPStatus())
	}
	return KindConnectionError
}

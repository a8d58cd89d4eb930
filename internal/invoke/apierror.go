package invoke

import (
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx response from an upstream provider. It satisfies
// the httpStatusError interface gateway.AsClassified consults.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter int64 // seconds, 0 if the response carried none
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus implements the httpStatusError interface.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// parseAPIError reads a bounded prefix of the response body and the
// Retry-After header (seconds form only; upstreams that send an HTTP-date
// are treated as "no hint" rather than parsed, matching the teacher's
// behavior of only handling the common seconds case).
func parseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var retryAfter int64
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		fmt.Sscanf(ra, "%d", &retryAfter)
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body), RetryAfter: retryAfter}
}

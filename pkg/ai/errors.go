package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport wraps failures to reach the provider at all.
	ErrTransport = errors.New("llm transport error")
	// ErrMalformedResponse is returned when a 2xx body cannot be used.
	ErrMalformedResponse = errors.New("llm malformed response")
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error: %d %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether another attempt may succeed: transport failures,
// rate limiting and server errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

func transportError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, provider, err)
}

func malformed(provider, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, provider, detail)
}

package frontapi

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned when no API token is configured.
// It is fatal for a whole run and is raised before any network activity.
var ErrMissingCredential = errors.New("missing credential: FRONT_API_TOKEN is not set")

// RateLimitExceededError is returned when the API keeps answering 429 after
// the maximum number of attempts.
type RateLimitExceededError struct {
	URL      string
	Attempts int
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d attempts: %s", e.Attempts, e.URL)
}

// HTTPError is returned for any non-success response other than 429.
type HTTPError struct {
	Status int
	URL    string
	Body   string // truncated response body, for diagnostics
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d from %s: %s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

// IsRateLimitExceeded reports whether err is a RateLimitExceededError.
// Uses errors.As to handle wrapped errors.
func IsRateLimitExceeded(err error) bool {
	var re *RateLimitExceededError
	return errors.As(err, &re)
}

// IsHTTPError reports whether err is an HTTPError and returns its status.
func IsHTTPError(err error) (int, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status, true
	}
	return 0, false
}

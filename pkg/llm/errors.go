package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrStreamTruncated is returned by Stream.Err when the upstream body ended
// before its end-of-stream marker.
var ErrStreamTruncated = errors.New("stream ended before end-of-stream marker")

// APIError is returned for non-2xx upstream responses
type APIError struct {
	Provider   string
	StatusCode int
	Message    string

	// RetryAfter is parsed from the Retry-After header when present
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(fmt.Sprintf("API returned status %d", e.StatusCode))
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// IsRateLimited reports whether the upstream throttled the request
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// AsAPIError extracts *APIError from an error chain
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRateLimited reports whether err carries an upstream rate-limit response
func IsRateLimited(err error) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.IsRateLimited()
}

// NewAPIError builds an APIError from a response and its (already read) body
func NewAPIError(provider string, resp *http.Response, body []byte) *APIError {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

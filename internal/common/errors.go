package common

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError represents an error response from an external API
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// LookupError marks a security whose identifier could not be resolved to a
// tradable symbol. Lookup failures are cached permanently and never retried.
type LookupError struct {
	SecurityID string
	Reason     string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("symbol lookup failed for %s: %s", e.SecurityID, e.Reason)
}

// PartialDataError reports a series that was produced with gaps. The result
// is still usable; Covered and Requested describe how much is missing.
type PartialDataError struct {
	Covered   int
	Requested int
	Missing   []string // security IDs or dates without data
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("partial data: %d of %d points covered (%d missing)", e.Covered, e.Requested, len(e.Missing))
}

// StructuralError marks a malformed payload that aborts the current stage.
// Retrying cannot help; the input itself is broken.
type StructuralError struct {
	Source string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in %s: %s", e.Source, e.Detail)
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, 5xx responses and 429 rate limiting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError ||
			apiErr.StatusCode == http.StatusTooManyRequests
	}

	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return false
	}

	var structErr *StructuralError
	if errors.As(err, &structErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// IsPermanentLookup reports whether err is a cached-forever lookup failure.
func IsPermanentLookup(err error) bool {
	var lookupErr *LookupError
	return errors.As(err, &lookupErr)
}

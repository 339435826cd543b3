// Package classify normalizes Discord transport failures.
//
// This package contains:
//   - HTTPError, NetworkError, GenericError: the closed set of failures a transport may return
//   - ClassifiedError: the normalized verdict (category, severity, retryability)
//   - Classify: the pure mapping between the two
package classify

import (
	"fmt"
	"net/http"
	"time"
)

// Category groups failures by origin.
type Category string

const (
	CategoryNetwork        Category = "NETWORK"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryServerError    Category = "SERVER_ERROR"
	CategoryClientError    Category = "CLIENT_ERROR"
	CategoryTimeout        Category = "TIMEOUT"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryUnknown        Category = "UNKNOWN"
)

// Severity ranks how loudly a failure should be reported.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// HTTPError is returned by a transport when Discord answered with a non-2xx status.
type HTTPError struct {
	Status int
	Header http.Header
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("discord http %d", e.Status)
}

// NetworkError is returned when the request was sent but no response arrived.
// Code uses the conventional errno names (ECONNRESET, ETIMEDOUT, ...).
type NetworkError struct {
	Code    string
	Message string
}

func (e *NetworkError) Error() string {
	if e.Message == "" {
		return "network error: " + e.Code
	}
	return fmt.Sprintf("network error %s: %s", e.Code, e.Message)
}

// GenericError carries only a message.
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	return e.Message
}

// ClassifiedError is the normalized form of a transport failure.
type ClassifiedError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Retryable  bool
	RetryAfter time.Duration // zero when the server gave no hint
	StatusCode int           // zero for non-HTTP failures

	cause error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the raw transport error.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// HasRetryAfter reports whether the server supplied a retry hint.
func (e *ClassifiedError) HasRetryAfter() bool {
	return e.RetryAfter > 0
}

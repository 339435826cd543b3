package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RetryableStatusCodes are HTTP statuses worth another attempt.
var RetryableStatusCodes = map[int]bool{
	408: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
	520: true, 521: true, 522: true, 523: true, 524: true,
}

// RetryableNetworkCodes are transient OS/network failure codes.
var RetryableNetworkCodes = map[string]bool{
	"ECONNRESET":   true,
	"ECONNREFUSED": true,
	"ENOTFOUND":    true,
	"ETIMEDOUT":    true,
	"ECONNABORTED": true,
	"EHOSTUNREACH": true,
	"ENETUNREACH":  true,
	"EPIPE":        true,
	"EAI_AGAIN":    true,
}

var timeoutNetworkCodes = map[string]bool{
	"ETIMEDOUT":       true,
	"ESOCKETTIMEDOUT": true,
	"ECONNABORTED":    true,
}

// Classify maps a raw transport failure to a ClassifiedError. It never panics
// and never returns nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{
			Code:     "UNKNOWN_ERROR",
			Message:  "unknown error",
			Category: CategoryUnknown,
			Severity: SeverityMedium,
		}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTP(httpErr, err)
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Code != "" {
		return classifyNetwork(netErr.Code, netErr.Error(), err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{
			Code:      "ETIMEDOUT",
			Message:   err.Error(),
			Category:  CategoryTimeout,
			Severity:  SeverityMedium,
			Retryable: true,
			cause:     err,
		}
	case errors.Is(err, context.Canceled):
		return &ClassifiedError{
			Code:      "ABORTED",
			Message:   err.Error(),
			Category:  CategoryNetwork,
			Severity:  SeverityLow,
			Retryable: true,
			cause:     err,
		}
	}

	if code := NetworkCode(err); code != "" {
		return classifyNetwork(code, err.Error(), err)
	}

	return classifyMessage(err.Error(), err)
}

func classifyHTTP(e *HTTPError, cause error) *ClassifiedError {
	code, message := parseBody(e.Body)
	if code == "" {
		code = "HTTP_" + strconv.Itoa(e.Status)
	}
	if message == "" {
		message = http.StatusText(e.Status)
		if message == "" {
			message = fmt.Sprintf("http status %d", e.Status)
		}
	}

	c := &ClassifiedError{
		Code:       code,
		Message:    message,
		StatusCode: e.Status,
		cause:      cause,
	}

	switch status := e.Status; {
	case status == http.StatusUnauthorized:
		c.Category, c.Severity = CategoryAuthentication, SeverityHigh
	case status == http.StatusForbidden:
		c.Category, c.Severity = CategoryAuthorization, SeverityHigh
	case status == http.StatusTooManyRequests:
		c.Category, c.Severity, c.Retryable = CategoryRateLimit, SeverityMedium, true
		c.RetryAfter = ParseRetryAfter(e.Header.Get("Retry-After"), time.Now())
		if c.RetryAfter == 0 {
			c.RetryAfter = bodyRetryAfter(e.Body)
		}
	case status == http.StatusRequestTimeout:
		c.Category, c.Severity, c.Retryable = CategoryTimeout, SeverityMedium, true
	case status >= 400 && status < 500:
		c.Category, c.Severity = CategoryClientError, SeverityMedium
		if status == http.StatusNotFound {
			c.Severity = SeverityLow
		}
	case status >= 500 && status < 600:
		c.Category, c.Severity = CategoryServerError, SeverityHigh
		c.Retryable = RetryableStatusCodes[status]
	default:
		c.Category, c.Severity = CategoryUnknown, SeverityMedium
	}

	return c
}

func classifyNetwork(code, message string, cause error) *ClassifiedError {
	c := &ClassifiedError{
		Code:      code,
		Message:   message,
		Category:  CategoryNetwork,
		Severity:  SeverityMedium,
		Retryable: RetryableNetworkCodes[code],
		cause:     cause,
	}
	if timeoutNetworkCodes[code] {
		c.Category = CategoryTimeout
	}
	if code == "ECONNREFUSED" || code == "ENOTFOUND" {
		c.Severity = SeverityHigh
	}
	return c
}

func classifyMessage(message string, cause error) *ClassifiedError {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timeout"):
		return &ClassifiedError{
			Code:      "TIMEOUT",
			Message:   message,
			Category:  CategoryTimeout,
			Severity:  SeverityMedium,
			Retryable: true,
			cause:     cause,
		}
	case strings.Contains(lower, "abort"):
		return &ClassifiedError{
			Code:      "ABORTED",
			Message:   message,
			Category:  CategoryNetwork,
			Severity:  SeverityLow,
			Retryable: true,
			cause:     cause,
		}
	default:
		return &ClassifiedError{
			Code:     "UNKNOWN_ERROR",
			Message:  message,
			Category: CategoryUnknown,
			Severity: SeverityMedium,
			cause:    cause,
		}
	}
}

// discordBody is the JSON error shape Discord returns.
type discordBody struct {
	Code    json.Number                `json:"code"`
	Message string                     `json:"message"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

type nestedErrors struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"_errors"`
}

// parseBody extracts the provider code/message, preferring the top level and
// falling back to the first nested field error.
func parseBody(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}
	var b discordBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", ""
	}
	code, message = b.Code.String(), b.Message
	if code == "0" {
		code = ""
	}
	if code != "" || len(b.Errors) == 0 {
		return code, message
	}

	fields := make([]string, 0, len(b.Errors))
	for field := range b.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		var nested nestedErrors
		if err := json.Unmarshal(b.Errors[field], &nested); err != nil || len(nested.Errors) == 0 {
			continue
		}
		first := nested.Errors[0]
		if first.Message != "" {
			message = first.Message
		}
		return first.Code, message
	}
	return code, message
}

func bodyRetryAfter(body []byte) time.Duration {
	var b struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if len(body) == 0 || json.Unmarshal(body, &b) != nil || b.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(b.RetryAfter * float64(time.Second))
}

// ParseRetryAfter reads a Retry-After value given either as (fractional)
// seconds or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// NetworkCode maps Go network errors to errno-style codes. It returns "" when
// the error is not recognised as a network failure.
func NetworkCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNABORTED):
		return "ECONNABORTED"
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(err, syscall.ENETUNREACH):
		return "ENETUNREACH"
	case errors.Is(err, syscall.EPIPE):
		return "EPIPE"
	case errors.Is(err, syscall.ETIMEDOUT):
		return "ETIMEDOUT"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTemporary {
			return "EAI_AGAIN"
		}
		return "ENOTFOUND"
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "ETIMEDOUT"
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return "ECONNRESET"
	}

	return ""
}

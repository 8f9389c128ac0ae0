// Package chat implements the streaming session manager: single-flight
// session registry, stream orchestration, and failure classification.
// This file contains error classification.

package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// UpstreamError wraps a completion-service failure with the HTTP status
// the provider could extract, so classification doesn't have to guess
// from the message alone.
type UpstreamError struct {
	Err        error
	StatusCode int // 0 when no status could be determined
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("upstream error: status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// WrapUpstreamError attaches an HTTP status to a provider error.
func WrapUpstreamError(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Err: err, StatusCode: statusCode}
}

// Classify maps an arbitrary failure into exactly one taxonomy kind.
// Total: every input maps to some value, with network as the catch-all
// since most unclassified failures are transient connectivity issues.
// First match wins.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrNetwork
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		switch upstream.StatusCode {
		case http.StatusTooManyRequests:
			return ErrRateLimit
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuth
		}
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return ErrRateLimit
	}

	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication failed") {
		return ErrAuth
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "network") {
		return ErrNetwork
	}

	if strings.Contains(errStr, "malformed") ||
		strings.Contains(errStr, "unmarshal") ||
		strings.Contains(errStr, "invalid json") ||
		strings.Contains(errStr, "unexpected end") ||
		strings.Contains(errStr, "parse") ||
		strings.Contains(errStr, "decode") ||
		strings.Contains(errStr, "invalid response") {
		return ErrInvalidResponse
	}

	return ErrNetwork
}

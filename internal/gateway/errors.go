package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorReason categorizes a provider failure for retry decisions.
type ErrorReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit ErrorReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth ErrorReason = "auth"

	// ReasonServerError indicates provider-side issues (HTTP 5xx).
	ReasonServerError ErrorReason = "server_error"

	// ReasonTimeout indicates the request timed out.
	ReasonTimeout ErrorReason = "timeout"

	// ReasonNetwork indicates a connection-level failure.
	ReasonNetwork ErrorReason = "network"

	// ReasonInvalidRequest indicates a client-side issue (HTTP 400).
	ReasonInvalidRequest ErrorReason = "invalid_request"

	// ReasonMalformedStream indicates the provider stream ended with
	// incomplete or unparseable tool-call data.
	ReasonMalformedStream ErrorReason = "malformed_stream"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown ErrorReason = "unknown"
)

// Transient reports whether retrying the same provider may succeed.
// Rate limits are handled separately and are not transient here.
func (r ErrorReason) Transient() bool {
	switch r {
	case ReasonServerError, ReasonTimeout, ReasonNetwork:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from a model provider.
type ProviderError struct {
	Reason   ErrorReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// AsProviderError returns err as a *ProviderError, classifying it first
// if needed.
func AsProviderError(err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return &ProviderError{
		Reason:  classify(0, err),
		Message: err.Error(),
		Cause:   err,
	}
}

// wrapError builds a ProviderError from an SDK failure. Status comes
// from the SDK error when the caller could extract one, zero otherwise.
func wrapError(provider, model string, status int, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return &ProviderError{
		Reason:   classify(status, err),
		Provider: provider,
		Model:    model,
		Status:   status,
		Message:  err.Error(),
		Cause:    err,
	}
}

func classify(status int, err error) ErrorReason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}

	// Fall back to message inspection for SDK errors that do not expose
	// a status code.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof"):
		return ReasonNetwork
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "overloaded"):
		return ReasonServerError
	}
	return ReasonUnknown
}

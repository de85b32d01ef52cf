package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NotConnectedError is returned when the gateway is not connected.
// Callers treat it as retryable by triggering a reconnect.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	if e.Op == "" {
		return "broker gateway not connected"
	}
	return fmt.Sprintf("%s: broker gateway not connected", e.Op)
}

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TransportError wraps a network or protocol failure against an external provider.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialSyncError collects per-symbol failures of a reconciliation pass.
type PartialSyncError struct {
	PortfolioID string
	Failures    map[string]error
}

func (e *PartialSyncError) Error() string {
	keys := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failures[k]))
	}
	return fmt.Sprintf("portfolio %s: %d symbol(s) failed: %s", e.PortfolioID, len(keys), strings.Join(parts, "; "))
}

// Messages returns one message per failed symbol, sorted by symbol.
func (e *PartialSyncError) Messages() []string {
	keys := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s: %v", k, e.Failures[k]))
	}
	return out
}

// ErrNotFound is returned when a portfolio or object does not exist
var ErrNotFound = errors.New("not found")

// IsNotConnected reports whether err is (or wraps) a NotConnectedError
func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransport reports whether err is (or wraps) a TransportError
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

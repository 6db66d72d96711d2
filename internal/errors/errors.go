// Package errors provides the error taxonomy of the catalog crawler.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind categorizes errors for handling decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// ConfigurationMissing means no config source was configured at all.
	ConfigurationMissing
	// MalformedDocument means an explicitly requested document failed to parse.
	MalformedDocument
	// FetchFailure means a source failed to list or retrieve a document.
	FetchFailure
	// ProbeTimeout means a probe exceeded its deadline.
	ProbeTimeout
	// ProbeError means a probe failed at the transport or protocol level.
	ProbeError
	// SerializationFailure means a catalog could not be read, parsed or written.
	SerializationFailure
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case ConfigurationMissing:
		return "configuration_missing"
	case MalformedDocument:
		return "malformed_document"
	case FetchFailure:
		return "fetch_failure"
	case ProbeTimeout:
		return "probe_timeout"
	case ProbeError:
		return "probe_error"
	case SerializationFailure:
		return "serialization_failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsFatal reports whether errors of this kind abort a run when they reach
// the top level. Probe failures and catalog load problems never do.
func (k Kind) IsFatal() bool {
	switch k {
	case ConfigurationMissing, MalformedDocument, FetchFailure:
		return true
	default:
		return false
	}
}

// CatalogError represents a categorized error.
type CatalogError struct {
	Kind       Kind
	Source     string // source label, file path or endpoint URL
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

// Error implements the error interface.
func (e *CatalogError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Operation != "" {
		b.WriteString(" during ")
		b.WriteString(e.Operation)
	}
	if e.Source != "" {
		b.WriteString(" on ")
		b.WriteString(e.Source)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *CatalogError) Unwrap() error {
	return e.Cause
}

// Is matches any *CatalogError of the same kind.
func (e *CatalogError) Is(target error) bool {
	t, ok := target.(*CatalogError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a new CatalogError.
func New(kind Kind, source, operation, message string, cause error) *CatalogError {
	return &CatalogError{
		Kind:      kind,
		Source:    source,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewConfigurationMissing reports that no usable source is configured.
func NewConfigurationMissing(message string) *CatalogError {
	return New(ConfigurationMissing, "", "configure", message, nil)
}

// NewMalformedDocument reports a document that is not valid JSON.
func NewMalformedDocument(source string, cause error) *CatalogError {
	return New(MalformedDocument, source, "parse", "document is not valid JSON", cause)
}

// NewFetchFailure reports a failed listing or download. Network failures,
// timeouts, rate limiting and 5xx responses are marked retryable.
func NewFetchFailure(source, operation string, statusCode int, cause error) *CatalogError {
	msg := "retrieval failed"
	if statusCode != 0 {
		msg = fmt.Sprintf("remote returned %d", statusCode)
	}
	err := New(FetchFailure, source, operation, msg, cause)
	err.StatusCode = statusCode
	switch {
	case statusCode == 429 || statusCode >= 500:
		err.Retryable = true
	case statusCode == 0:
		err.Retryable = isTimeout(cause) || isNetworkError(cause)
	}
	return err
}

// NewProbeTimeout reports a probe that exceeded its deadline.
func NewProbeTimeout(url string, cause error) *CatalogError {
	return New(ProbeTimeout, url, "probe", "Connection timeout", cause)
}

// NewProbeError reports a transport or protocol failure.
func NewProbeError(url string, cause error) *CatalogError {
	msg := "probe failed"
	if cause != nil {
		msg = cause.Error()
	}
	return New(ProbeError, url, "probe", msg, nil)
}

// NewSerializationFailure reports an unreadable, corrupt or unwritable catalog.
func NewSerializationFailure(path, operation string, cause error) *CatalogError {
	return New(SerializationFailure, path, operation, "catalog "+operation+" failed", cause)
}

// NewCancelled creates a cancelled error.
func NewCancelled(source, operation string) *CatalogError {
	return New(Cancelled, source, operation, "operation cancelled", nil)
}

// Categorize classifies a probe failure. Deadline and network timeouts are
// ProbeTimeout, cancellation is Cancelled, everything else is ProbeError.
func Categorize(err error, url string) *CatalogError {
	if err == nil {
		return nil
	}

	var catErr *CatalogError
	if errors.As(err, &catErr) {
		return catErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelled(url, "probe")
	}

	if isTimeout(err) {
		return NewProbeTimeout(url, err)
	}

	return NewProbeError(url, err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "Client.Timeout exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var catErr *CatalogError
	if errors.As(err, &catErr) {
		return catErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// KindOf extracts the kind from an error chain.
func KindOf(err error) Kind {
	var catErr *CatalogError
	if errors.As(err, &catErr) {
		return catErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Unknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// GetStatusCode extracts the status code from an error.
func GetStatusCode(err error) int {
	var catErr *CatalogError
	if errors.As(err, &catErr) {
		return catErr.StatusCode
	}
	return 0
}

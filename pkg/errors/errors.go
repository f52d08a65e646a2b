// Package errors provides the error taxonomy for the taxonsync engine.
// Errors are typed once at the boundary where they are observed (usually an
// HTTP response) and classified with Classify; callers never inspect error text.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"syscall"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is, As, Join and Unwrap re-export the standard library helpers so callers
// importing this package under the errors name keep access to them.
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Common sentinel errors for the taxonsync system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrTransient indicates a failure that may succeed when retried
	ErrTransient = errors.New("transient failure")

	// ErrUniqueKeyConflict indicates a write collided with an externally enforced unique key
	ErrUniqueKeyConflict = errors.New("unique key conflict")

	// ErrAmbiguous indicates that more than one external resource matched a fallback lookup
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrPlatformUnavailable indicates that a platform is temporarily unavailable
	ErrPlatformUnavailable = errors.New("platform unavailable")

	// ErrRateLimited indicates that the API rate limit has been exceeded
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrDependency indicates that a parent entity has no resolved external reference
	ErrDependency = errors.New("unresolved dependency")
)

// Class is the coarse category an error falls into for retry and reporting purposes.
type Class int

const (
	// ClassFatal errors abort the current task only.
	ClassFatal Class = iota
	// ClassTransient errors are retried with backoff.
	ClassTransient
	// ClassNotFound is a business signal rather than a failure.
	ClassNotFound
	// ClassConflict triggers collision relocation.
	ClassConflict
	// ClassAmbiguous is reported and never resolved automatically.
	ClassAmbiguous
	// ClassCanceled means the run was canceled.
	ClassCanceled
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "unique_key_conflict"
	case ClassAmbiguous:
		return "ambiguous"
	case ClassCanceled:
		return "canceled"
	default:
		return "fatal"
	}
}

// Classify maps an error onto the taxonomy. Nil errors classify as fatal and
// should not be passed in.
func Classify(err error) Class {
	switch {
	case IsCanceled(err):
		return ClassCanceled
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrUniqueKeyConflict):
		return ClassConflict
	case errors.Is(err, ErrAmbiguous):
		return ClassAmbiguous
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTimeout):
		return ClassTransient
	case isNetworkTransient(err):
		return ClassTransient
	default:
		return ClassFatal
	}
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// isNetworkTransient detects timeouts and dropped connections below HTTP.
func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// APIError represents a non-success response from a platform API.
type APIError struct {
	Platform   string
	StatusCode int
	Reason     string // machine-readable reason parsed from the body, if any
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Platform, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Platform, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return target == ErrRateLimited || target == ErrTransient
	case e.StatusCode >= http.StatusInternalServerError:
		return target == ErrPlatformUnavailable || target == ErrTransient
	case e.StatusCode == http.StatusNotFound:
		return target == ErrNotFound
	case e.StatusCode == http.StatusRequestTimeout:
		return target == ErrTimeout || target == ErrTransient
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(platform string, statusCode int, message string) *APIError {
	return &APIError{
		Platform:   platform,
		StatusCode: statusCode,
		Message:    message,
	}
}

// ConflictError reports that a write was rejected because another resource
// already holds the unique key.
type ConflictError struct {
	Platform string
	Kind     string
	Key      string
	Reason   string
	Err      error
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("unique key conflict on %s for %s key %q", e.Platform, e.Kind, e.Key)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrUniqueKeyConflict
}

// AmbiguousError reports that a fallback lookup matched several resources.
type AmbiguousError struct {
	Platform   string
	Kind       string
	NaturalKey string
	Candidates []string // external ids of all matches
}

// Error implements the error interface
func (e *AmbiguousError) Error() string {
	ids := append([]string(nil), e.Candidates...)
	sort.Strings(ids)
	return fmt.Sprintf("ambiguous %s match for %q on %s: %s", e.Kind, e.NaturalKey, e.Platform, strings.Join(ids, ", "))
}

// Is implements errors.Is support
func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// DependencyError reports that an entity references a parent with no
// resolved external reference on the target platform.
type DependencyError struct {
	Kind       string
	ParentKind string
	ParentID   string
	Platform   string
}

// Error implements the error interface
func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s depends on %s %s which has no reference on %s", e.Kind, e.ParentKind, e.ParentID, e.Platform)
}

// Is implements errors.Is support
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}

// RelocationError reports that a colliding resource could not be moved to a
// free key within the configured number of attempts.
type RelocationError struct {
	Platform string
	Kind     string
	Key      string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *RelocationError) Error() string {
	return fmt.Sprintf("failed to relocate %s occupying key %q on %s after %d attempts: %v", e.Kind, e.Key, e.Platform, e.Attempts, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *RelocationError) Unwrap() error {
	return e.Err
}

// FetchError reports that a complete collection could not be retrieved.
// It is the only run-fatal error.
type FetchError struct {
	Kind string
	Page int
	Err  error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s collection at page %d: %v", e.Kind, e.Page, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// SyncError represents a failure of one entity task on one platform.
type SyncError struct {
	Platform   string
	Kind       string
	InternalID string
	Operation  string
	Err        error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync error for %s %s on %s (%s): %v", e.Kind, e.InternalID, e.Platform, e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a unique key conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrUniqueKeyConflict)
}

// IsAmbiguous checks if an error is an ambiguous match
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguous)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRateLimited checks if an error is a rate limit error
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// ParseError represents an error when parsing data formats
type ParseError struct {
	Format  string // "json", "yaml", "csv"
	File    string
	Line    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("parse error in %s at %s:%d: %s", e.Format, e.File, e.Line, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "create", "delete", "open", "close"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// ResourceError represents an error during resource operations
type ResourceError struct {
	Operation string // "create", "update", "delete", "fetch"
	Resource  string // "store", "platform", "snapshot"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Helper wrapping functions for common patterns

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: path, Message: err.Error(), Err: err}
}

// WrapResource wraps an error as a ResourceError
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return &ResourceError{Operation: operation, Resource: resource, ID: id, Message: err.Error(), Err: err}
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Format: format, File: file, Message: err.Error(), Err: err}
}

// Package gwerr defines the error taxonomy shared by every collaborator in
// the workspace session controller. Callers use errors.As/errors.Is against
// these types rather than matching on strings.
package gwerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Cancelled marks cooperative cancellation. It is never logged as an error
// and is re-raised to unwind every suspended task in the scope that owns it.
type Cancelled struct {
	Op string
}

func (e *Cancelled) Error() string { return fmt.Sprintf("%s: cancelled", e.Op) }

// NewCancelled wraps an operation name into a *Cancelled.
func NewCancelled(op string) error { return &Cancelled{Op: op} }

// IsCancelled reports whether err is (or wraps) a *Cancelled.
func IsCancelled(err error) bool {
	var c *Cancelled
	return errors.As(err, &c)
}

// ResourceNotFound marks an expected "absent" outcome of a best-effort
// lookup (a map file, a parent manifest, a sibling source file). Callers
// decide whether to fall back.
type ResourceNotFound struct {
	URI string
}

func (e *ResourceNotFound) Error() string { return fmt.Sprintf("resource not found: %s", e.URI) }

// NewResourceNotFound builds a *ResourceNotFound for uri.
func NewResourceNotFound(uri string) error { return &ResourceNotFound{URI: uri} }

// IsResourceNotFound reports whether err is (or wraps) a *ResourceNotFound.
func IsResourceNotFound(err error) bool {
	var r *ResourceNotFound
	return errors.As(err, &r)
}

// ValidationError marks a bad Initialize parameter: non-http root scheme,
// more than one workspace folder, or similar. It surfaces as the Initialize
// failure itself.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid initialize params: %s", e.Reason) }

// NewValidationError builds a *ValidationError with reason.
func NewValidationError(reason string) error { return &ValidationError{Reason: reason} }

// MappingError marks a URI-space failure: path escape, cross-repo
// resolution failure, or a source map that emitted a null component. It is
// surfaced to the caller of the offending request only; the rest of the
// session continues.
type MappingError struct {
	Reason string
}

func (e *MappingError) Error() string { return fmt.Sprintf("uri mapping failed: %s", e.Reason) }

// NewMappingError builds a *MappingError with reason.
func NewMappingError(reason string) error { return &MappingError{Reason: reason} }

// IsMappingError reports whether err is (or wraps) a *MappingError.
func IsMappingError(err error) bool {
	var m *MappingError
	return errors.As(err, &m)
}

// DownstreamError wraps a failure response from the supervised child
// language service, forwarded to the client verbatim.
type DownstreamError struct {
	Method  string
	Message string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s failed: %s", e.Method, e.Message)
}

// NewDownstreamError builds a *DownstreamError for method.
func NewDownstreamError(method, message string) error {
	return &DownstreamError{Method: method, Message: message}
}

// FatalSpawnError marks an unrecoverable failure to start the downstream
// child service. The session that observes it must close.
type FatalSpawnError struct {
	Cause error
}

func (e *FatalSpawnError) Error() string { return fmt.Sprintf("spawning downstream failed: %v", e.Cause) }

func (e *FatalSpawnError) Unwrap() error { return e.Cause }

// NewFatalSpawnError wraps cause.
func NewFatalSpawnError(cause error) error { return &FatalSpawnError{Cause: cause} }

// IsFatalSpawnError reports whether err is (or wraps) a *FatalSpawnError.
func IsFatalSpawnError(err error) bool {
	var f *FatalSpawnError
	return errors.As(err, &f)
}

// Package apperrors provides the unified error type for the workflow
// platform's core engine packages. An eventual HTTP transport (out of
// scope for this module) would map Kind to a status code; these types
// never import net/http themselves.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds enumerated in the platform specification.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not-found"
	KindConflict            Kind = "conflict"
	KindConcurrentUpdate    Kind = "concurrent-update"
	KindPartitionKeyInvalid Kind = "partition-key-invalid"
	KindDAGInvalid          Kind = "dag-invalid"
	KindTemplateInvalid     Kind = "template-invalid"
	KindStaleAssets         Kind = "stale-assets"
	KindThrottled           Kind = "throttled"
	KindQueueUnavailable    Kind = "queue-unavailable"
	KindStorageIO           Kind = "storage-io"
	KindDependencyUnhealthy Kind = "dependency-unhealthy"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

// Error is the structured error value returned by engine operations.
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail payload (e.g. {reason, detail}
// for dag-invalid, or {formErrors,fieldErrors} for validation) and returns e.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// StatusHint reports the conventional HTTP-equivalent status class for the
// kind, for consumption by an (out-of-scope) transport adapter. It is a
// plain int, not an import of net/http.
func (e *Error) StatusHint() int {
	switch e.Kind {
	case KindValidation, KindPartitionKeyInvalid, KindDAGInvalid, KindTemplateInvalid:
		return 400
	case KindNotFound:
		return 404
	case KindConflict, KindConcurrentUpdate:
		return 409
	case KindThrottled:
		return 429
	case KindDependencyUnhealthy:
		return 503
	case KindTimeout:
		return 504
	default:
		return 500
	}
}

// Retryable reports whether the kind is one that local retry policy should
// attempt to recover from, per the propagation policy in spec.md §7.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindThrottled, KindQueueUnavailable, KindDependencyUnhealthy, KindTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors mirroring the spec's error-kind vocabulary.

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func ConcurrentUpdate(resource string) *Error {
	return New(KindConcurrentUpdate, fmt.Sprintf("%s was concurrently modified", resource))
}

func PartitionKeyInvalid(format string, args ...any) *Error {
	return New(KindPartitionKeyInvalid, fmt.Sprintf(format, args...))
}

func DAGInvalid(reason, detail string) *Error {
	return New(KindDAGInvalid, reason).WithDetail(map[string]string{"reason": reason, "detail": detail})
}

func TemplateInvalid(format string, args ...any) *Error {
	return New(KindTemplateInvalid, fmt.Sprintf(format, args...))
}

func StaleAssets(staleAssets any) *Error {
	return New(KindStaleAssets, "stale assets detected").WithDetail(staleAssets)
}

func Throttled(until string) *Error {
	return New(KindThrottled, fmt.Sprintf("throttled until %s", until))
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal error", err)
}

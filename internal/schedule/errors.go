package schedule

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

func (k Kind) String() string { return strings.ToLower(string(k)) }

const (
	KindInternal             Kind = "Internal"
	KindInvalidArgument      Kind = "InvalidArgument"
	KindNotFound             Kind = "NotFound"
	KindConsistencyViolation Kind = "ConsistencyViolation"
	KindExternalService      Kind = "ExternalServiceError"
)

// Error is the error type returned by this package and by the adapters
// behind its interfaces.
type Error struct {
	Kind       Kind
	ResourceID string
	// Value is the offending input for InvalidArgument, if any.
	Value   string
	Message string
	// Transient is only meaningful for KindExternalService: the call may
	// succeed if repeated.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.ResourceID != "" {
		b.WriteString(" for resource ")
		b.WriteString(e.ResourceID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidArgument(resourceID, value, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, ResourceID: resourceID, Value: value, Message: msg}
}

func NotFound(resourceID, msg string) *Error {
	return &Error{Kind: KindNotFound, ResourceID: resourceID, Message: msg}
}

func ConsistencyViolation(resourceID string, jobCount int) *Error {
	return &Error{
		Kind:       KindConsistencyViolation,
		ResourceID: resourceID,
		Message:    fmt.Sprintf("found %d schedule jobs, expected at most 1", jobCount),
	}
}

// ExternalService wraps a failed call to one of the external stores.
func ExternalService(op string, transient bool, err error) *Error {
	return &Error{Kind: KindExternalService, Message: op, Transient: transient, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(resourceID, msg string, err error) *Error {
	return &Error{Kind: KindInternal, ResourceID: resourceID, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsTransient reports whether err is an ExternalServiceError worth retrying.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindExternalService && e.Transient
}

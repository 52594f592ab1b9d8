package odbc

import (
	"errors"
	"fmt"
)

// ErrorKind represents the class of a driver failure
type ErrorKind int

const (
	// ErrorKindUnknown represents an unclassified error
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindHandleAllocation represents a failed handle allocation; no
	// diagnostic is available because there is no handle to ask
	ErrorKindHandleAllocation
	// ErrorKindNative represents a failed native call with its diagnostic record
	ErrorKindNative
	// ErrorKindInvalidState represents a verb invoked in a state that does not permit it
	ErrorKindInvalidState
	// ErrorKindScheduling represents work the dispatcher could not accept
	ErrorKindScheduling
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindHandleAllocation:
		return "handle allocation"
	case ErrorKindNative:
		return "native"
	case ErrorKindInvalidState:
		return "invalid state"
	case ErrorKindScheduling:
		return "scheduling"
	default:
		return "unknown"
	}
}

// Error is a structured driver error. SQLState is set only for native
// errors, so callers can tell database errors from driver errors by its
// presence.
type Error struct {
	Kind       ErrorKind
	SQLState   string
	NativeCode int32
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.SQLState != "" {
		msg = fmt.Sprintf("%s: %s", e.SQLState, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind checks if the error is of a specific kind
func (e *Error) IsKind(kind ErrorKind) bool {
	return e.Kind == kind
}

// NewHandleAllocationError creates an allocation error for a handle kind
func NewHandleAllocationError(message string) *Error {
	return &Error{
		Kind:    ErrorKindHandleAllocation,
		Message: message,
	}
}

// NewNativeError creates an error from a diagnostic record
func NewNativeError(state string, nativeCode int32, message string) *Error {
	return &Error{
		Kind:       ErrorKindNative,
		SQLState:   state,
		NativeCode: nativeCode,
		Message:    message,
	}
}

// NewInvalidStateError creates an error for a verb invoked out of sequence
func NewInvalidStateError(message string) *Error {
	return &Error{
		Kind:    ErrorKindInvalidState,
		Message: message,
	}
}

// NewSchedulingError creates an error for work that could not be queued
func NewSchedulingError(message string, cause error) *Error {
	return &Error{
		Kind:    ErrorKindScheduling,
		Message: message,
		Cause:   cause,
	}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsKind(kind)
	}
	return false
}

// IsHandleAllocationError checks if an error is a handle allocation failure
func IsHandleAllocationError(err error) bool {
	return isKind(err, ErrorKindHandleAllocation)
}

// IsNativeError checks if an error came from a native diagnostic record
func IsNativeError(err error) bool {
	return isKind(err, ErrorKindNative)
}

// IsInvalidStateError checks if an error is a state machine sequence error
func IsInvalidStateError(err error) bool {
	return isKind(err, ErrorKindInvalidState)
}

// IsSchedulingError checks if an error is a dispatcher rejection
func IsSchedulingError(err error) bool {
	return isKind(err, ErrorKindScheduling)
}

// SQLState returns the state code of a native error, or "".
func SQLState(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.SQLState
	}
	return ""
}

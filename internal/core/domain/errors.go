package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures of the control plane.
type Kind int

const (
	KindHostNotFound Kind = iota + 1
	KindContainerNotFound
	KindUnsupportedCommand
	KindRuntimeOperationFailed
	KindStreamSetupFailed
)

func (k Kind) String() string {
	switch k {
	case KindHostNotFound:
		return "host_not_found"
	case KindContainerNotFound:
		return "container_not_found"
	case KindUnsupportedCommand:
		return "unsupported_command"
	case KindRuntimeOperationFailed:
		return "runtime_operation_failed"
	case KindStreamSetupFailed:
		return "stream_setup_failed"
	default:
		return "unknown"
	}
}

// Error is a classified failure carrying the HTTP status it maps to. Message
// is what the operator sees; for runtime failures it is the runtime's own
// error text.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HostNotFound is returned when a logical host name is not registered.
func HostNotFound(name string) *Error {
	return &Error{
		Kind:    KindHostNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("Host '%s' not found.", name),
	}
}

// ContainerNotFound wraps the runtime's not-found error for id.
func ContainerNotFound(id string, cause error) *Error {
	msg := fmt.Sprintf("Container '%s' not found.", id)
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Kind:    KindContainerNotFound,
		Status:  http.StatusBadRequest,
		Message: msg,
		Cause:   cause,
	}
}

// UnsupportedCommand echoes the offending verb back to the caller.
func UnsupportedCommand(cmd string) *Error {
	return &Error{
		Kind:    KindUnsupportedCommand,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Command: '%s' not found (or supported yet)!", cmd),
	}
}

// RuntimeOperationFailed wraps a failed runtime call. A status of zero means
// the runtime gave no usable one and defaults to 400.
func RuntimeOperationFailed(status int, cause error) *Error {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &Error{
		Kind:    KindRuntimeOperationFailed,
		Status:  status,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// StreamSetupFailed reports an upstream subscription that could not be
// established. It keeps the status of the underlying failure.
func StreamSetupFailed(cause error) *Error {
	return &Error{
		Kind:    KindStreamSetupFailed,
		Status:  StatusOf(cause),
		Message: cause.Error(),
		Cause:   cause,
	}
}

// StatusOf returns the HTTP status carried by err, or 400 when err is not
// classified.
func StatusOf(err error) int {
	var de *Error
	if errors.As(err, &de) && de.Status != 0 {
		return de.Status
	}
	return http.StatusBadRequest
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsKind reports whether err's chain holds a classified error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

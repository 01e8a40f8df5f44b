package mirror

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeConnection        ErrorType = "connection"
	ErrorTypeListing           ErrorType = "listing"
	ErrorTypeTransfer          ErrorType = "transfer"
	ErrorTypeDirectoryCreation ErrorType = "directory_creation"
	ErrorTypeCleanup           ErrorType = "cleanup"
)

// Error is the typed failure of a mirror step. Connection and listing errors
// abort a run; the others only affect a single file.
type Error struct {
	Type    ErrorType
	Message string
	Path    string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(t ErrorType, message, path string, cause error) *Error {
	return &Error{Type: t, Message: message, Path: path, Cause: cause}
}

// NewConnectionError reports that a session with an endpoint could not be established.
func NewConnectionError(endpoint string, cause error) *Error {
	return newError(ErrorTypeConnection, "failed to connect to", endpoint, cause)
}

// IsType reports whether err carries a mirror Error of type t.
func IsType(err error, t ErrorType) bool {
	var mirrorErr *Error
	if !errors.As(err, &mirrorErr) {
		return false
	}
	return mirrorErr.Type == t
}

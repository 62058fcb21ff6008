package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTimeout           = errors.New("timeout")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrFileIO            = errors.New("file i/o failed")
	ErrProtocolViolation = errors.New("protocol violation")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeFileIO     ErrorType = "fileio"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeValidation ErrorType = "validation"
)

// MonitorError is a structured error for polling operations.
//
// Connection, auth, api and timeout errors form the NetworkError family: they
// are logged with controller/node context and never abort a run.
type MonitorError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "login", "interface_stats")
	Controller string // Controller name where error occurred
	Node       string // Fabric node if applicable
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
}

func (e *MonitorError) Error() string {
	status := ""
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Node != "" {
		return fmt.Sprintf("%s failed on %s/%s%s: %v", e.Op, e.Controller, e.Node, status, e.Err)
	}
	if e.Controller != "" {
		return fmt.Sprintf("%s failed on %s%s: %v", e.Op, e.Controller, status, e.Err)
	}
	return fmt.Sprintf("%s failed%s: %v", e.Op, status, e.Err)
}

func (e *MonitorError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *MonitorError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrFileIO:
		return e.Type == ErrorTypeFileIO
	case ErrProtocolViolation:
		return e.Type == ErrorTypeProtocol
	}

	return errors.Is(e.Err, target)
}

// NewMonitorError creates a new MonitorError
func NewMonitorError(errorType ErrorType, op, controller string, err error) *MonitorError {
	return &MonitorError{
		Type:       errorType,
		Op:         op,
		Controller: controller,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

// WithNode adds node information to the error
func (e *MonitorError) WithNode(node string) *MonitorError {
	e.Node = node
	return e
}

// WithStatusCode adds HTTP status code to the error
func (e *MonitorError) WithStatusCode(code int) *MonitorError {
	e.StatusCode = code
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		e.Type = ErrorTypeAuth
	}
	return e
}

// WrapConnectionError wraps a transport failure with context
func WrapConnectionError(op, controller string, err error) error {
	return NewMonitorError(ErrorTypeConnection, op, controller, err)
}

// WrapAPIError wraps a non-success HTTP status with context
func WrapAPIError(op, controller string, err error, statusCode int) error {
	return NewMonitorError(ErrorTypeAPI, op, controller, err).WithStatusCode(statusCode)
}

// WrapFileError wraps an output file failure
func WrapFileError(op, controller string, err error) error {
	return NewMonitorError(ErrorTypeFileIO, op, controller, err)
}

// ProtocolViolation reports misuse of a coordination primitive. These are
// programming errors and should never surface in a correct run.
func ProtocolViolation(op string, format string, args ...any) error {
	return NewMonitorError(ErrorTypeProtocol, op, "", fmt.Errorf(format, args...))
}

// IsNetworkError reports whether err belongs to the NetworkError family.
func IsNetworkError(err error) bool {
	var monErr *MonitorError
	if !errors.As(err, &monErr) {
		return false
	}
	switch monErr.Type {
	case ErrorTypeConnection, ErrorTypeAuth, ErrorTypeAPI, ErrorTypeTimeout:
		return true
	}
	return false
}

// IsProtocolViolation reports whether err is a ProtocolViolation.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

// StatusCode extracts the HTTP status code carried by err, or 0.
func StatusCode(err error) int {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.StatusCode
	}
	return 0
}

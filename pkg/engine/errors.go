package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error.
type ErrorClass string

const (
	// ErrorClassExecution is a structured failure reported by the engine
	// itself (playbook error, parser error, bad options). The run is
	// reported with exit code 1 and the pipeline carries on.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassFatal is anything the engine did not report in a structured
	// way: the binary is missing, it was interrupted or crashed. These abort
	// the invocation.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError represents a classified engine error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Playbook is the playbook being run when the error occurred.
	Playbook string `json:"playbook,omitempty"`

	// ExitCode is the engine process exit code, when there was one.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Playbook != "" {
		msg = fmt.Sprintf("%s (playbook=%s)", msg, e.Playbook)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewExecutionError creates a structured engine error.
func NewExecutionError(message string, exitCode int, err error) *EngineError {
	return &EngineError{
		Class:    ErrorClassExecution,
		Code:     ErrCodePlaybookFailed,
		Message:  message,
		ExitCode: exitCode,
		Err:      err,
	}
}

// NewFatalError creates an unstructured, invocation-aborting error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Code:    ErrCodeUnexpected,
		Message: message,
		Err:     err,
	}
}

// WithPlaybook adds playbook context to an error.
func (e *EngineError) WithPlaybook(path string) *EngineError {
	e.Playbook = path
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsExecutionError reports whether err is a structured engine error.
func IsExecutionError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassExecution
	}
	return false
}

// IsFatal reports whether err is an unstructured engine failure.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// Error codes.
const (
	ErrCodePlaybookFailed = "PLAYBOOK_FAILED"
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeOptions        = "BAD_OPTIONS"
	ErrCodeNoRecap        = "NO_RECAP"
	ErrCodeInterrupted    = "INTERRUPTED"
	ErrCodeEngineMissing  = "ENGINE_NOT_FOUND"
	ErrCodeUnexpected     = "UNEXPECTED_ERROR"
)

package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed when
	// the command is run again.
	// Examples: network timeouts, an SSH host that is still booting.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a failure that will not go away on its own.
	// Examples: a hook reporting a broken resource, permission denied.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassValidation indicates a malformed tree or invalid input.
	// Examples: unknown recipe kind, dependency cycle, missing option.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassCommand indicates a command that could not be resolved or called.
	ErrorClassCommand ErrorClass = "command"

	// ErrorClassPolicy indicates a run rejected by a policy.
	ErrorClassPolicy ErrorClass = "policy"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Recipe is the name of the recipe that caused the error, if applicable.
	Recipe string `json:"recipe,omitempty"`

	// Operation is the hook or command being run when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Recipe != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (recipe=%s, operation=%s)", msg, e.Recipe, e.Operation)
	case e.Recipe != "":
		msg = fmt.Sprintf("%s (recipe=%s)", msg, e.Recipe)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
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

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewCommandError creates a new command resolution error.
func NewCommandError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassCommand,
		Message: message,
		Code:    ErrCodeCommandNotExposed,
		Err:     err,
	}
}

// NewPolicyError creates a new policy error.
func NewPolicyError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPolicy,
		Message: message,
		Code:    ErrCodePolicyViolation,
		Err:     err,
	}
}

// WithRecipe adds recipe context to an error.
func (e *EngineError) WithRecipe(name string) *EngineError {
	e.Recipe = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return hasClass(err, ErrorClassTransient)
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return hasClass(err, ErrorClassPermanent)
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsPolicy returns true if the error is classified as a policy error.
func IsPolicy(err error) bool {
	return hasClass(err, ErrorClassPolicy)
}

// HasCode returns true if any EngineError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *EngineError
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// Classify returns the class and code of the outermost EngineError in err,
// falling back to a permanent, internal classification.
func Classify(err error) (ErrorClass, string) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, e.Code
	}
	return ErrorClassPermanent, ErrCodeInternal
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeKeyNotFound       = "KEY_NOT_FOUND"
	ErrCodeCommandNotExposed = "COMMAND_NOT_EXPOSED"
	ErrCodeCycle             = "DEPENDENCY_CYCLE"
	ErrCodeUnknownRecipe     = "UNKNOWN_RECIPE"
	ErrCodeHookFailed        = "HOOK_FAILED"
	ErrCodePolicyViolation   = "POLICY_VIOLATION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

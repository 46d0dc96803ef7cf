package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	// ErrUnknownDocument: a processing or status request named a document
	// identifier that was never uploaded.
	ErrUnknownDocument = errors.New("unknown document")

	// ErrUnsupportedFormat: the declared MIME type is outside the allow-list,
	// or the payload exceeds the configured maximum.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrParseFailure: the layout parser could not produce any text. Fatal
	// for the run, not retried.
	ErrParseFailure = errors.New("document parse failure")

	// ErrEscalationTimeout / ErrEscalationUnavailable: the completion service
	// did not answer in time, or credentials are absent / the call was
	// rejected. Both degrade the run instead of failing it.
	ErrEscalationTimeout     = errors.New("llm escalation timeout")
	ErrEscalationUnavailable = errors.New("llm escalation unavailable")

	// ErrNotCompleted: results were requested before the job reached completed.
	ErrNotCompleted = errors.New("processing not completed")

	// ErrAlreadyProcessing: an active run already exists for the document.
	ErrAlreadyProcessing = errors.New("document already processing")
)

// NewAppError builds an AppError.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapError annotates err with a message, preserving the chain.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

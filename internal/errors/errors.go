package errors

import (
	stderrors "errors"
	"fmt"
)

type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Message string
	Details []ValidationDetail
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string, details ...ValidationDetail) *ValidationError {
	return &ValidationError{
		Message: message,
		Details: details,
	}
}

func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{Message: message}
}

func IsNotFoundError(err error) (*NotFoundError, bool) {
	var nfe *NotFoundError
	if stderrors.As(err, &nfe) {
		return nfe, true
	}
	return nil, false
}

// InvalidTransitionError reports a command that is not legal from the
// order's current status.
type InvalidTransitionError struct {
	Message string
	From    string
	Command string
}

func (e *InvalidTransitionError) Error() string {
	return e.Message
}

func NewInvalidTransitionError(from, command, message string) *InvalidTransitionError {
	return &InvalidTransitionError{
		Message: message,
		From:    from,
		Command: command,
	}
}

func IsInvalidTransitionError(err error) (*InvalidTransitionError, bool) {
	var ite *InvalidTransitionError
	if stderrors.As(err, &ite) {
		return ite, true
	}
	return nil, false
}

type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	return e.Message
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}

func IsUnauthorizedError(err error) (*UnauthorizedError, bool) {
	var ue *UnauthorizedError
	if stderrors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

type ConcurrentModificationError struct {
	Message  string
	Attempts int
}

func (e *ConcurrentModificationError) Error() string {
	return e.Message
}

func NewConcurrentModificationError(message string, attempts int) *ConcurrentModificationError {
	return &ConcurrentModificationError{
		Message:  message,
		Attempts: attempts,
	}
}

func IsConcurrentModificationError(err error) (*ConcurrentModificationError, bool) {
	var cme *ConcurrentModificationError
	if stderrors.As(err, &cme) {
		return cme, true
	}
	return nil, false
}

// UpstreamError wraps a failure of an external collaborator (data store,
// payment provider, push channel).
type UpstreamError struct {
	Collaborator string
	Message      string
	Cause        error
}

func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Collaborator, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Collaborator, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

func NewUpstreamError(collaborator, message string, cause error) *UpstreamError {
	return &UpstreamError{
		Collaborator: collaborator,
		Message:      message,
		Cause:        cause,
	}
}

func IsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if stderrors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{
		Message: message,
		Cause:   cause,
	}
}

// ErrVersionConflict is returned by stores when an optimistic-concurrency
// guarded write matched no row at the expected version.
var ErrVersionConflict = stderrors.New("version conflict")

package signup

import (
	"errors"
	"fmt"
)

const (
	ReasonEmailRequired    = "email required"
	ReasonFollowRequired   = "follow required"
	ReasonDomainNotAllowed = "domain not allowed"
	ReasonEmailInvalid     = "email invalid"
)

var (
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	ErrAlreadySubmitted   = errors.New("already submitted; dismiss the confirmation first")
	ErrFlowClosed         = errors.New("signup flow is closed")
	ErrFlowNotFound       = errors.New("signup flow not found")
)

// ValidationError is a local precondition failure. No remote call was made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ConflictError means the email is already on the waitlist.
type ConflictError struct {
	Email string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is already registered", e.Email)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// UnknownError is any other backend failure. Its detail is logged, never shown.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	return "backend failure: " + e.Err.Error()
}

func (e *UnknownError) Unwrap() error { return e.Err }

package domain

import (
	"errors"
	"fmt"
)

// Stable error codes, surfaced as err_code in handler logs.
const (
	CodeValidation       = "validation"
	CodeConflict         = "conflict"
	CodeInvalidState     = "invalid_state"
	CodeAlreadyFulfilled = "already_fulfilled"
	CodeRepository       = "repository"
	CodeNotFound         = "not_found"
)

// ErrNotFound is returned by repository reads when the row does not exist.
var ErrNotFound error = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
func (notFoundError) Code() string  { return CodeNotFound }

// ValidationError reports user input rejected at a conversation step.
type ValidationError struct {
	Step   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s at %s: %s", e.Field, e.Step, e.Reason)
}

func (e *ValidationError) Code() string { return CodeValidation }

// ConflictError is returned when a flow is started while another one is live.
type ConflictError struct {
	UserID int64
	Active string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user %d already in step %s", e.UserID, e.Active)
}

func (e *ConflictError) Code() string { return CodeConflict }

// InvalidStateError reports an operation not allowed in the entity's current state.
type InvalidStateError struct {
	Entity string
	ID     int64
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s %d: %s not possible", e.Entity, e.ID, e.Op)
	}
	return fmt.Sprintf("%s %d is %s: %s not possible", e.Entity, e.ID, e.State, e.Op)
}

func (e *InvalidStateError) Code() string { return CodeInvalidState }

// AlreadyFulfilledError reports a confirm that lost to an earlier success.
type AlreadyFulfilledError struct {
	OrderID int64
	ItemID  int64
	Reason  string
}

func (e *AlreadyFulfilledError) Error() string {
	return fmt.Sprintf("order %d already fulfilled: %s", e.OrderID, e.Reason)
}

func (e *AlreadyFulfilledError) Code() string { return CodeAlreadyFulfilled }

// RepositoryError wraps a storage failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string { return "repository " + e.Op + ": " + e.Err.Error() }
func (e *RepositoryError) Unwrap() error { return e.Err }
func (e *RepositoryError) Code() string  { return CodeRepository }

// Repo wraps err as a RepositoryError unless it is nil or already typed.
func Repo(op string, err error) error {
	if err == nil {
		return nil
	}
	if Typed(err) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

// Typed reports whether err belongs to the domain taxonomy.
func Typed(err error) bool {
	return IsValidation(err) || IsConflict(err) || IsInvalidState(err) ||
		IsAlreadyFulfilled(err) || IsRepository(err) || IsNotFound(err)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsAlreadyFulfilled(err error) bool {
	var e *AlreadyFulfilledError
	return errors.As(err, &e)
}

func IsRepository(err error) bool {
	var e *RepositoryError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

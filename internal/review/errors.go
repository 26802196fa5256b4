package review

import (
	"errors"
	"fmt"

	"github.com/joescharf/taskreview/internal/store"
)

var (
	// ErrAuthorization is returned when the actor lacks a required capability.
	ErrAuthorization = errors.New("not authorized")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the task's current state.
	ErrInvalidTransition = errors.New("invalid review transition")
	// ErrClaimConflict is returned when another actor holds the review claim.
	ErrClaimConflict = errors.New("task is being reviewed by another user")
	// ErrNotHeld is returned when releasing a claim the actor does not hold.
	ErrNotHeld = errors.New("review claim not held by actor")
	// ErrNotFound is returned when a task or bundle does not exist.
	ErrNotFound = store.ErrNotFound
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	TaskID int64
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: cannot change review status from %s to %s: %s", e.TaskID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ClaimConflictError identifies who holds the claim that blocked an action.
// HolderID is zero when the holder could not be determined.
type ClaimConflictError struct {
	TaskID   int64
	HolderID int64
}

func (e *ClaimConflictError) Error() string {
	if e.HolderID == 0 {
		return fmt.Sprintf("task %d: %s", e.TaskID, ErrClaimConflict)
	}
	return fmt.Sprintf("task %d: %s (user %d)", e.TaskID, ErrClaimConflict, e.HolderID)
}

func (e *ClaimConflictError) Unwrap() error { return ErrClaimConflict }

func invalid(taskID int64, from, to fmt.Stringer, format string, args ...any) error {
	return &TransitionError{TaskID: taskID, From: from.String(), To: to.String(), Reason: fmt.Sprintf(format, args...)}
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

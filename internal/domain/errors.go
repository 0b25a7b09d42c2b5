package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTenant          = errors.New("invalid tenant")
	ErrCounterUnavailable     = errors.New("sequence counter unavailable")
	ErrConflictingAssignment  = errors.New("assignee_id and assignee_role are mutually exclusive")
	ErrInvalidReference       = errors.New("invalid reference")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConcurrentModification = errors.New("work order modified concurrently")
	ErrForbidden              = errors.New("forbidden")
	ErrNoFile                 = errors.New("file is required")
	ErrInvalidInput           = errors.New("invalid input")
	ErrClosed                 = errors.New("work order is closed")
)

// InvalidTransitionError carries the rejected edge of the state machine.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ForbiddenError names the action the actor is not allowed to perform.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

func (e ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ValidationError lists rejected input fields and the rule each one broke.
type ValidationError struct {
	Fields map[string]string
}

func (e ValidationError) Error() string {
	return "invalid input"
}

func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

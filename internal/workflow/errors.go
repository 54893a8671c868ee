package workflow

import "errors"

var (
	// ErrTemplateNotFound is returned when no active template exists for a
	// document type
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrTemplateEmpty is returned when a template has no step definitions
	ErrTemplateEmpty = errors.New("workflow template has no steps")

	// ErrInstanceNotFound is returned when an instance id cannot be resolved
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrStepNotFound is returned when a step id is not present in the
	// instance or its template
	ErrStepNotFound = errors.New("workflow step not found")

	// ErrInvalidStepState is returned when an operation's step-status
	// precondition is not met
	ErrInvalidStepState = errors.New("invalid step state")

	// ErrInstanceNotActive is returned when a step transition is attempted
	// on an instance that is not active
	ErrInstanceNotActive = errors.New("workflow instance is not active")

	// ErrInstanceNotOnHold is returned when resuming an instance that is
	// not on hold
	ErrInstanceNotOnHold = errors.New("workflow instance is not on hold")

	// ErrDuplicateActiveInstance is returned when a live instance already
	// exists for the document request
	ErrDuplicateActiveInstance = errors.New("active workflow instance already exists for document request")

	// ErrTemplateIntegrity indicates that a template referenced by a live
	// instance could no longer be resolved. This is an internal invariant
	// violation, not a validation failure.
	ErrTemplateIntegrity = errors.New("template referenced by instance cannot be resolved")
)

package excuse

import (
	"errors"
	"fmt"

	"klassenbuch_go/models"
)

var (
	ErrStudentNotFound        = errors.New("student not found")
	ErrItemNotFound           = errors.New("item not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
)

// NotFoundError names the missing student or detail record.
type NotFoundError struct {
	Kind string // "student", "absence" or "lateness"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	if e.Kind == "student" {
		return ErrStudentNotFound
	}
	return ErrItemNotFound
}

// TransitionError is returned when an item is not in the state an operation
// requires, e.g. excusing an item that is already excused.
type TransitionError struct {
	ItemType models.ItemType
	ItemID   string
	From     models.ExcuseStatus
	To       models.ExcuseStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot change from %s to %s", e.ItemType, e.ItemID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

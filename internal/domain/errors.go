package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyAllocated     = errors.New("sales round already allocated")
	ErrStorageFailure       = errors.New("storage failure")
)

type ValidationKind string

const (
	MissingReference    ValidationKind = "MISSING_REFERENCE"
	EmptyRequest        ValidationKind = "EMPTY_REQUEST"
	WindowClosed        ValidationKind = "WINDOW_CLOSED"
	QuantityOutOfBounds ValidationKind = "QUANTITY_OUT_OF_BOUNDS"
)

// ValidationError rejects a caller-supplied purchase request. Field and
// Reason carry enough context to render a precise message.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
)

// FieldError pins an error to a request field and, for sale payloads, to the
// zero-based line it came from. Line is -1 when the error is not line specific.
type FieldError struct {
	Line   int
	Field  string
	Reason string
	Kind   error
}

func (e *FieldError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
	}
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

func Invalid(field string, reason string) error {
	return &FieldError{Line: -1, Field: field, Reason: reason, Kind: ErrValidation}
}

func InvalidLine(line int, field string, reason string) error {
	return &FieldError{Line: line, Field: field, Reason: reason, Kind: ErrValidation}
}

func Forbidden(reason string) error {
	return &FieldError{Line: -1, Reason: reason, Kind: ErrForbidden}
}

// AtLine attaches a line index to err. Errors that already carry a field keep
// it; sentinel errors get field set to the given name.
func AtLine(line int, field string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		copied := *fe
		copied.Line = line
		if copied.Field == "" {
			copied.Field = field
		}
		return &copied
	}
	kind := err
	for _, sentinel := range []error{ErrNotFound, ErrInsufficientStock, ErrValidation, ErrForbidden, ErrConflict} {
		if errors.Is(err, sentinel) {
			kind = sentinel
			break
		}
	}
	if kind == err {
		return err
	}
	return &FieldError{Line: line, Field: field, Reason: err.Error(), Kind: kind}
}

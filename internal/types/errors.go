package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable error taxonomy every store operation reports
// through. Implementations may extend it but must never rename an
// existing kind.
type ErrorKind string

const (
	ErrInvalidInput     ErrorKind = "INVALID_INPUT"
	ErrUnknownID        ErrorKind = "UNKNOWN_ID"
	ErrUnknownBranch    ErrorKind = "UNKNOWN_BRANCH"
	ErrStepNotFound     ErrorKind = "STEP_NOT_FOUND"
	ErrRevisionMismatch ErrorKind = "REVISION_MISMATCH"
	ErrBranchExists     ErrorKind = "BRANCH_ALREADY_EXISTS"
	ErrStore            ErrorKind = "STORE_ERROR"
	ErrUndoNotSupported ErrorKind = "UNDO_NOT_SUPPORTED"
	ErrConflictOpen     ErrorKind = "CONFLICT_OPEN"
)

// StoreError is the concrete error type every store operation returns on
// failure. Field/Expected/Actual are populated when relevant (e.g.
// REVISION_MISMATCH carries Expected/Actual; INVALID_INPUT carries Field).
type StoreError struct {
	Kind     ErrorKind
	Field    string
	Expected int64
	Actual   int64
	Message  string
	Wrapped  error
}

func (e *StoreError) Error() string {
	switch e.Kind {
	case ErrRevisionMismatch:
		return fmt.Sprintf("%s: expected revision %d, got %d", e.Kind, e.Expected, e.Actual)
	case ErrInvalidInput:
		if e.Field != "" {
			return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
		return string(e.Kind)
	}
}

func (e *StoreError) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, SomeKind-sentinel) work by kind comparison when
// the target is itself a *StoreError with no message (used as a sentinel).
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func InvalidInput(field, format string, args ...any) error {
	return &StoreError{Kind: ErrInvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

func UnknownID(format string, args ...any) error {
	return &StoreError{Kind: ErrUnknownID, Message: fmt.Sprintf(format, args...)}
}

func UnknownBranch(branch string) error {
	return &StoreError{Kind: ErrUnknownBranch, Message: fmt.Sprintf("branch %q not found", branch)}
}

func StepNotFound(format string, args ...any) error {
	return &StoreError{Kind: ErrStepNotFound, Message: fmt.Sprintf(format, args...)}
}

func RevisionMismatch(expected, actual int64) error {
	return &StoreError{Kind: ErrRevisionMismatch, Expected: expected, Actual: actual}
}

func BranchAlreadyExists(branch string) error {
	return &StoreError{Kind: ErrBranchExists, Message: fmt.Sprintf("branch %q already exists", branch)}
}

func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: ErrStore, Message: fmt.Sprintf("%s: %v", op, err), Wrapped: err}
}

func UndoNotSupported(intent string) error {
	return &StoreError{Kind: ErrUndoNotSupported, Message: fmt.Sprintf("undo not supported for intent %q", intent)}
}

func ConflictOpen(conflictID string) error {
	return &StoreError{Kind: ErrConflictOpen, Message: fmt.Sprintf("conflict %s must be resolved first", conflictID)}
}

// KindOf extracts the ErrorKind from err, or "" if err is not a *StoreError.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

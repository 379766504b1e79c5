// Package apperrors defines the error taxonomy shared by the workflow core,
// the repositories and the service layer.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on it without string matching.
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindValidation       Kind = "VALIDATION"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindIntegrity        Kind = "INTEGRITY"
	KindConflict         Kind = "CONFLICT"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrIntegrity        = &Error{Kind: KindIntegrity}
	ErrConflict         = &Error{Kind: KindConflict}
)

// Error carries the entity kind, its identifier and a reason.
type Error struct {
	Kind   Kind
	Entity string
	ID     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Entity != "" {
		msg += ": " + e.Entity
		if e.ID != "" {
			msg += " " + e.ID
		}
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrNotFound) works for any
// NotFound error regardless of entity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Entity == "" && t.ID == "" && t.Reason == ""
}

func newError(kind Kind, entity string, id interface{}, reason string) *Error {
	e := &Error{Kind: kind, Entity: entity, Reason: reason}
	if id != nil {
		e.ID = fmt.Sprint(id)
	}
	return e
}

// NotFound reports that entity with the given id does not exist.
func NotFound(entity string, id interface{}) *Error {
	return newError(KindNotFound, entity, id, "not found")
}

// Validation reports a rejected input or an illegal state transition.
func Validation(entity string, id interface{}, format string, args ...interface{}) *Error {
	return newError(KindValidation, entity, id, fmt.Sprintf(format, args...))
}

// PermissionDenied reports a failed authorization check.
func PermissionDenied(userID int64, format string, args ...interface{}) *Error {
	return newError(KindPermissionDenied, "user", userID, fmt.Sprintf(format, args...))
}

// Integrity reports a dangling reference between stored entities.
func Integrity(entity string, id interface{}, format string, args ...interface{}) *Error {
	return newError(KindIntegrity, entity, id, fmt.Sprintf(format, args...))
}

// Conflict reports a lost optimistic-concurrency race.
func Conflict(entity string, id interface{}, format string, args ...interface{}) *Error {
	return newError(KindConflict, entity, id, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying cause to e and returns it. A cause that is
// itself classified only contributes its text, so e keeps a single Kind.
func (e *Error) Wrap(err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		if e.Reason != "" {
			e.Reason += ": "
		}
		e.Reason += err.Error()
		return e
	}
	e.Err = err
	return e
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsPermissionDenied reports whether err is a PermissionDenied error.
func IsPermissionDenied(err error) bool { return KindOf(err) == KindPermissionDenied }

// IsIntegrity reports whether err is an Integrity error.
func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

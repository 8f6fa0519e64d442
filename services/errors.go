package services

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindTooLarge
	KindUnavailable
)

// Error is a failure the caller can act on. Anything else returned by a
// service is an internal error.
type Error struct {
	Kind    Kind
	Message string
	Details any
}

func (e *Error) Error() string { return e.Message }

func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func notFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// fromValidation turns ozzo validation errors into a 400 with per-field
// details. Internal validator failures are passed through.
func fromValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		details := make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			details[field] = ferr.Error()
		}
		return &Error{Kind: KindValidation, Message: "validation failed", Details: details}
	}
	var ierr validation.InternalError
	if errors.As(err, &ierr) {
		return err
	}
	return &Error{Kind: KindValidation, Message: err.Error()}
}

// KindOf reports the kind of err, or 0 for internal errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

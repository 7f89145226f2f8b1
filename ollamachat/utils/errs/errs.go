// Package errs carries the client-facing error taxonomy shared by every
// component. Components return *Error; the HTTP layer renders it.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	EngineUnavailable
	ModelNotAvailable
	ModelNotInstalled
	NotFound
	AlreadyExists
	LastModelProtected
	NothingToExport
	ImportFormat
	TooLarge
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case EngineUnavailable:
		return "engine_unavailable"
	case ModelNotAvailable:
		return "model_not_available"
	case ModelNotInstalled:
		return "model_not_installed"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case LastModelProtected:
		return "last_model_protected"
	case NothingToExport:
		return "nothing_to_export"
	case ImportFormat:
		return "import_format"
	case TooLarge:
		return "too_large"
	case RateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// HTTPStatus is the status code an error of this kind is served with.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, ModelNotAvailable, ModelNotInstalled, AlreadyExists,
		LastModelProtected, NothingToExport, ImportFormat:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case EngineUnavailable:
		return http.StatusServiceUnavailable
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Title and Message are safe to show to a
// client; Err is the internal cause and is only logged.
type Error struct {
	Kind    Kind
	Title   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, title, message string) *Error {
	return &Error{Kind: kind, Title: title, Message: message}
}

func Wrap(kind Kind, title, message string, err error) *Error {
	return &Error{Kind: kind, Title: title, Message: message, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

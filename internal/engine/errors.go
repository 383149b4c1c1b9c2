package engine

import (
	"errors"
	"fmt"
	"strings"

	"intakeline/internal/repo"
)

// Error kinds reported by Kind().
const (
	KindValidation        = "validation"
	KindPrecondition      = "precondition"
	KindConflict          = "conflict"
	KindIncompleteSession = "incomplete_session"
	KindGenerationFailed  = "generation_failed"
	KindAuthScope         = "auth_scope"
	KindDelivery          = "delivery"
	KindNotFound          = "not_found"
)

// KindError is implemented by every engine error.
type KindError interface {
	error
	Kind() string
}

// ErrorKind returns the kind of the first KindError in err's chain, or "" if there is none.
func ErrorKind(err error) string {
	var ke KindError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return ""
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Kind() string { return KindValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors collects several field errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, ve := range e {
		parts = append(parts, ve.Error())
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Kind() string { return KindValidation }

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }
func (e *PreconditionError) Kind() string  { return KindPrecondition }

func precondition(format string, args ...any) *PreconditionError {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Kind() string  { return KindConflict }

// IncompleteSessionError lists the required questions without an answer.
type IncompleteSessionError struct {
	Missing []string
}

func (e *IncompleteSessionError) Error() string {
	return "session incomplete; missing required answers: " + strings.Join(e.Missing, ", ")
}

func (e *IncompleteSessionError) Kind() string { return KindIncompleteSession }

type GenerationFailedError struct {
	Attempts int
	Cause    error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *GenerationFailedError) Unwrap() error { return e.Cause }
func (e *GenerationFailedError) Kind() string  { return KindGenerationFailed }

// AuthScopeError means the mail provider refused for lack of authorization; the user has to
// re-authorize before retrying.
type AuthScopeError struct {
	Message string
}

func (e *AuthScopeError) Error() string { return e.Message }
func (e *AuthScopeError) Kind() string  { return KindAuthScope }

type DeliveryError struct {
	Message   string
	Retryable bool
}

func (e *DeliveryError) Error() string { return e.Message }
func (e *DeliveryError) Kind() string  { return KindDelivery }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) Kind() string  { return KindNotFound }
func (e *NotFoundError) Unwrap() error { return repo.ErrNotFound }

func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}

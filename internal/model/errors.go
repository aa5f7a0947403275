package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Typed errors below match them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownIntegration = errors.New("unknown integration")
	ErrIntegration        = errors.New("integration failed")
	ErrStorage            = errors.New("storage failure")
	ErrInvalidReference   = errors.New("invalid reference")
	ErrInvalidInput       = errors.New("invalid input")
)

// NotFoundError reports a missing notebook, page, entry, artifact, blob or
// variable.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound returns a *NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// UnknownIntegrationError reports an entry type with no registered integration.
type UnknownIntegrationError struct {
	Type string
}

func (e *UnknownIntegrationError) Error() string {
	return fmt.Sprintf("no integration registered for entry type %q", e.Type)
}

func (e *UnknownIntegrationError) Is(target error) bool { return target == ErrUnknownIntegration }

// IntegrationError wraps a failure raised by an integration's execution.
type IntegrationError struct {
	EntryType string
	Err       error
}

func (e *IntegrationError) Error() string {
	return e.EntryType + ": " + e.Err.Error()
}

func (e *IntegrationError) Unwrap() error { return e.Err }

func (e *IntegrationError) Is(target error) bool { return target == ErrIntegration }

// StorageError reports a content store read or write failure.
type StorageError struct {
	Op  string
	Ref string
	Err error
}

func (e *StorageError) Error() string {
	if e.Ref == "" {
		return "storage " + e.Op + ": " + e.Err.Error()
	}
	return "storage " + e.Op + " " + e.Ref + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ReferenceError reports a field pointing at a record that does not exist.
type ReferenceError struct {
	Field string
	ID    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s references missing record %q", e.Field, e.ID)
}

func (e *ReferenceError) Is(target error) bool { return target == ErrInvalidReference }

// InvalidInput returns an error matching ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

package models

import (
	"errors"
	"fmt"
	"strings"
)

// StatusCode is the result class of a coordinator operation.
type StatusCode string

const (
	StatusOK            StatusCode = "ok"
	StatusNotFound      StatusCode = "not_found"
	StatusBadRequest    StatusCode = "bad_request"
	StatusInternalError StatusCode = "internal_error"
)

// ErrValidation is returned when a required field is missing or malformed.
// No state is changed.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateID checks a file or node id. Ids travel as single URL path segments,
// so blank ids and the dot segments "." and ".." are rejected.
func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ErrValidation{Field: field, Reason: "required"}
	}
	if id == "." || id == ".." {
		return &ErrValidation{Field: field, Reason: "must not be a dot segment"}
	}
	return nil
}

// ErrNotFound is returned when an operation needs a record that doesn't exist.
type ErrNotFound struct {
	Kind string // "file" or "node"
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ErrStorage wraps a failure of the underlying store, including records that
// can't be decoded.
type ErrStorage struct {
	Op  string
	Key string
	Err error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage %s failed for '%s': %v", e.Op, e.Key, e.Err)
}

func (e *ErrStorage) Unwrap() error {
	return e.Err
}

// StatusFor classifies an error returned by a coordinator.
func StatusFor(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var validation *ErrValidation
	if errors.As(err, &validation) {
		return StatusBadRequest
	}
	var notFound *ErrNotFound
	if errors.As(err, &notFound) {
		return StatusNotFound
	}
	return StatusInternalError
}

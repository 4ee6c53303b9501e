// Package errors provides custom error types for the civimport system.
// These errors enable programmatic error checking across the import
// pipeline: structural errors abort a single record, reference errors
// may be downgraded to warnings, and conflict errors are fatal unless
// duplicates are explicitly permitted.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is reports whether any error in err's chain matches target.
// It's an alias for the standard library errors.Is for convenience.
var Is = errors.Is

// Common sentinel errors for the civimport system
var (
	// ErrNotFound indicates that a requested row was not found in the store
	ErrNotFound = errors.New("not found")

	// ErrMalformedRecord indicates an incoming record that does not match
	// its declared shape
	ErrMalformedRecord = errors.New("malformed record")

	// ErrDuplicateConflict indicates two distinct records resolving to one
	// persisted entity
	ErrDuplicateConflict = errors.New("duplicate conflict")

	// ErrUnresolvedReference indicates a batch-local or pseudo identifier
	// that could not be resolved against the store
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrInvalidVoteEvent indicates a vote event lacking both an identifier
	// and a bill reference
	ErrInvalidVoteEvent = errors.New("invalid vote event")

	// ErrReadOnly indicates an attempt to write through a read-only handle
	ErrReadOnly = errors.New("read only")
)

// NotFoundError represents an error when a store row is not found
type NotFoundError struct {
	Resource string
	Spec     map[string]any
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if len(e.Spec) > 0 {
		return fmt.Sprintf("%s matching %v not found", e.Resource, e.Spec)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource string, spec map[string]any) *NotFoundError {
	return &NotFoundError{Resource: resource, Spec: spec}
}

// MalformedRecordError represents an incoming record that violates its
// declared shape: an unknown field, or a required field that is missing.
type MalformedRecordError struct {
	Type    string
	BatchID string
	Field   string
	Message string
}

// Error implements the error interface
func (e *MalformedRecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s record %s: field %s: %s", e.Type, e.BatchID, e.Field, e.Message)
	}
	return fmt.Sprintf("malformed %s record %s: %s", e.Type, e.BatchID, e.Message)
}

// Is implements errors.Is support
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// NewMalformedRecordError creates a new MalformedRecordError
func NewMalformedRecordError(entityType, batchID, field, message string) *MalformedRecordError {
	return &MalformedRecordError{Type: entityType, BatchID: batchID, Field: field, Message: message}
}

// DuplicateConflictError represents two non-identical incoming records
// resolving to the same persisted entity within one run.
type DuplicateConflictError struct {
	Type     string
	EntityID string
	BatchIDs []string
}

// Error implements the error interface
func (e *DuplicateConflictError) Error() string {
	return fmt.Sprintf("%s records %s both resolve to %s", e.Type, strings.Join(e.BatchIDs, ", "), e.EntityID)
}

// Is implements errors.Is support
func (e *DuplicateConflictError) Is(target error) bool {
	return target == ErrDuplicateConflict
}

// NewDuplicateConflictError creates a new DuplicateConflictError
func NewDuplicateConflictError(entityType, entityID string, batchIDs ...string) *DuplicateConflictError {
	return &DuplicateConflictError{Type: entityType, EntityID: entityID, BatchIDs: batchIDs}
}

// UnresolvedReferenceError represents a reference that could not be
// resolved: a pseudo identifier with zero or multiple matches, or a
// batch-local identifier with no persisted counterpart.
type UnresolvedReferenceError struct {
	Type      string
	Reference string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *UnresolvedReferenceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cannot resolve %s reference %s: %s", e.Type, e.Reference, e.Message)
	}
	return fmt.Sprintf("cannot resolve %s reference %s", e.Type, e.Reference)
}

// Unwrap implements errors.Unwrap
func (e *UnresolvedReferenceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *UnresolvedReferenceError) Is(target error) bool {
	return target == ErrUnresolvedReference
}

// NewUnresolvedReferenceError creates a new UnresolvedReferenceError
func NewUnresolvedReferenceError(entityType, reference, message string) *UnresolvedReferenceError {
	return &UnresolvedReferenceError{Type: entityType, Reference: reference, Message: message}
}

// InvalidVoteEventError represents a vote event that carries neither an
// identifier nor a bill reference and so can never be matched.
type InvalidVoteEventError struct {
	BatchID string
}

// Error implements the error interface
func (e *InvalidVoteEventError) Error() string {
	return fmt.Sprintf("vote event %s has neither an identifier nor a bill reference", e.BatchID)
}

// Is implements errors.Is support
func (e *InvalidVoteEventError) Is(target error) bool {
	return target == ErrInvalidVoteEvent
}

// NewInvalidVoteEventError creates a new InvalidVoteEventError
func NewInvalidVoteEventError(batchID string) *InvalidVoteEventError {
	return &InvalidVoteEventError{BatchID: batchID}
}

// ImportError wraps an error with the record it occurred on, so that
// per-record failures surface with enough context for the operator.
type ImportError struct {
	Type    string
	BatchID string
	Err     error
}

// Error implements the error interface
func (e *ImportError) Error() string {
	return fmt.Sprintf("importing %s record %s: %v", e.Type, e.BatchID, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *ImportError) Unwrap() error {
	return e.Err
}

// WrapImport wraps an error with record context, returning nil for nil
func WrapImport(entityType, batchID string, err error) error {
	if err == nil {
		return nil
	}
	return &ImportError{Type: entityType, BatchID: batchID, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMalformedRecord checks if an error is a malformed record error
func IsMalformedRecord(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}

// IsDuplicateConflict checks if an error is a duplicate conflict error
func IsDuplicateConflict(err error) bool {
	return errors.Is(err, ErrDuplicateConflict)
}

// IsUnresolvedReference checks if an error is an unresolved reference error
func IsUnresolvedReference(err error) bool {
	return errors.Is(err, ErrUnresolvedReference)
}

// IsInvalidVoteEvent checks if an error is an invalid vote event error
func IsInvalidVoteEvent(err error) bool {
	return errors.Is(err, ErrInvalidVoteEvent)
}

package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an apply failed. Every kind is fatal for the
// site's apply.
type ErrorKind string

const (
	// ErrorKindIdentityConflict indicates a declared identity is already
	// bound elsewhere. Examples: a hostname owned by another site, a path
	// mapped to another entity.
	ErrorKindIdentityConflict ErrorKind = "identity_conflict"

	// ErrorKindAmbiguousMatch indicates a resource or library lookup
	// returned more than one candidate for one declared path.
	ErrorKindAmbiguousMatch ErrorKind = "ambiguous_match"

	// ErrorKindMissingReference indicates a declared structural reference
	// could not be resolved. Examples: a slot with no box, an authentication
	// page that was not resolved in Pass 1.
	ErrorKindMissingReference ErrorKind = "missing_reference"

	// ErrorKindConsistencyViolation indicates a logic defect rather than bad
	// input: a pending revision that is already persisted, a delegate cycle.
	ErrorKindConsistencyViolation ErrorKind = "consistency_violation"

	// ErrorKindInvalidDeclaration indicates the declared site failed input
	// validation.
	ErrorKindInvalidDeclaration ErrorKind = "invalid_declaration"

	// ErrorKindStoreFailure wraps an unexpected error from the store.
	ErrorKindStoreFailure ErrorKind = "store_failure"
)

// ReconcileError represents a classified apply failure with context.
type ReconcileError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Entity names the declared entity that caused the error, e.g.
	// "page:home" or "hostname:a.example.com".
	Entity string `json:"entity,omitempty"`

	// Phase is the apply phase that was running.
	Phase string `json:"phase,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := e.Message
	if cause := e.unwrapMessage(); cause != "" {
		msg += ": " + cause
	}
	if e.Entity != "" && e.Phase != "" {
		return fmt.Sprintf("[%s] %s (entity=%s, phase=%s)", e.Kind, msg, e.Entity, e.Phase)
	}
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s (entity=%s)", e.Kind, msg, e.Entity)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func (e *ReconcileError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *ReconcileError) Is(target error) bool {
	t, ok := target.(*ReconcileError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newError(kind ErrorKind, message string, err error) *ReconcileError {
	return &ReconcileError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewIdentityConflictError creates a new identity conflict error.
func NewIdentityConflictError(message string, err error) *ReconcileError {
	return newError(ErrorKindIdentityConflict, message, err)
}

// NewAmbiguousMatchError creates a new ambiguous external match error.
func NewAmbiguousMatchError(message string, err error) *ReconcileError {
	return newError(ErrorKindAmbiguousMatch, message, err)
}

// NewMissingReferenceError creates a new missing structural reference error.
func NewMissingReferenceError(message string, err error) *ReconcileError {
	return newError(ErrorKindMissingReference, message, err)
}

// NewConsistencyViolationError creates a new consistency violation error.
func NewConsistencyViolationError(message string, err error) *ReconcileError {
	return newError(ErrorKindConsistencyViolation, message, err)
}

// NewInvalidDeclarationError creates a new invalid declaration error.
func NewInvalidDeclarationError(message string, err error) *ReconcileError {
	return newError(ErrorKindInvalidDeclaration, message, err)
}

// NewStoreError creates a new store failure error.
func NewStoreError(message string, err error) *ReconcileError {
	return newError(ErrorKindStoreFailure, message, err)
}

// WithEntity adds entity context to an error.
func (e *ReconcileError) WithEntity(entity string) *ReconcileError {
	e.Entity = entity
	return e
}

// WithPhase adds phase context to an error.
func (e *ReconcileError) WithPhase(phase string) *ReconcileError {
	e.Phase = phase
	return e
}

// WithCode adds an error code to an error.
func (e *ReconcileError) WithCode(code string) *ReconcileError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ReconcileError) WithDetail(key string, value interface{}) *ReconcileError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasKind(err error, kind ErrorKind) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of a classified error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsIdentityConflict returns true if the error is an identity conflict.
func IsIdentityConflict(err error) bool {
	return hasKind(err, ErrorKindIdentityConflict)
}

// IsAmbiguousMatch returns true if the error is an ambiguous external match.
func IsAmbiguousMatch(err error) bool {
	return hasKind(err, ErrorKindAmbiguousMatch)
}

// IsMissingReference returns true if the error is a missing structural
// reference.
func IsMissingReference(err error) bool {
	return hasKind(err, ErrorKindMissingReference)
}

// IsConsistencyViolation returns true if the error is a consistency violation.
func IsConsistencyViolation(err error) bool {
	return hasKind(err, ErrorKindConsistencyViolation)
}

// IsInvalidDeclaration returns true if the error is an invalid declaration.
func IsInvalidDeclaration(err error) bool {
	return hasKind(err, ErrorKindInvalidDeclaration)
}

// IsStoreFailure returns true if the error wraps a store failure.
func IsStoreFailure(err error) bool {
	return hasKind(err, ErrorKindStoreFailure)
}

// Common error codes.
const (
	ErrCodeNoHostnames     = "NO_HOSTNAMES"
	ErrCodeHostnameTaken   = "HOSTNAME_TAKEN"
	ErrCodePathTaken       = "PATH_TAKEN"
	ErrCodeMissingBox      = "MISSING_BOX"
	ErrCodeMissingAuthPage = "MISSING_AUTH_PAGE"
	ErrCodeRevisionNotNew  = "REVISION_NOT_NEW"
	ErrCodeDelegateCycle   = "DELEGATE_CYCLE"
	ErrCodeMultipleFiles   = "MULTIPLE_FILES"
	ErrCodeMultipleLibrary = "MULTIPLE_LIBRARIES"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodePolicyViolation = "POLICY_VIOLATION"
	ErrCodePlaceholder     = "PLACEHOLDER_UNRESOLVED"
	ErrCodeContentInstance = "CONTENT_INSTANCE"
)

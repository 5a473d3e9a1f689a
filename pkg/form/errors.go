package form

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a field-level failure.
type ErrorKind string

const (
	ErrElementNotFound         ErrorKind = "ElementNotFound"
	ErrAmbiguousElement        ErrorKind = "AmbiguousElement"
	ErrNoConfidentMatch        ErrorKind = "NoConfidentMatch"
	ErrVerificationMismatch    ErrorKind = "VerificationMismatch"
	ErrOracleTimeout           ErrorKind = "OracleTimeout"
	ErrOracleMalformedResponse ErrorKind = "OracleMalformedResponse"
	ErrActionTimeout           ErrorKind = "ActionTimeout"
	ErrAttachmentInvalid       ErrorKind = "AttachmentInvalid"
	ErrMissingProfileValue     ErrorKind = "MissingProfileValue"
	ErrRunAborted              ErrorKind = "RunAborted"
	ErrInternal                ErrorKind = "Internal"
)

// Retryable reports whether retrying the same field can plausibly succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrElementNotFound, ErrVerificationMismatch, ErrActionTimeout,
		ErrOracleTimeout, ErrOracleMalformedResponse, ErrNoConfidentMatch:
		return true
	}
	return false
}

// Stale reports whether the error suggests the cached element or page state
// is outdated.
func (k ErrorKind) Stale() bool {
	return k == ErrElementNotFound || k == ErrActionTimeout
}

// FieldError is the error type returned by pipeline stages for a single field.
type FieldError struct {
	Kind    ErrorKind
	FieldID string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.FieldID != "" {
		return fmt.Sprintf("field %s (%s): %s", e.FieldID, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError builds a FieldError with a formatted message.
func NewFieldError(kind ErrorKind, fieldID string, format string, args ...interface{}) *FieldError {
	return &FieldError{Kind: kind, FieldID: fieldID, Message: fmt.Sprintf(format, args...)}
}

// WrapFieldError attaches a kind to an underlying error.
func WrapFieldError(kind ErrorKind, fieldID string, err error) *FieldError {
	return &FieldError{Kind: kind, FieldID: fieldID, Err: err}
}

// KindOf extracts the ErrorKind from err, or ErrInternal when err carries none.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError holds a list of field-level validation errors. It
// matches ErrDecode under errors.Is.
type ValidationError struct {
	Subject string
	Errors  []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("%s: %s invalid: %s", ErrDecode, e.Subject, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrDecode }

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateTrustedList checks the structure of a decoded list snapshot:
// at least one validator, every entry carrying a key and a manifest, an
// expiration after the effective time, and not yet expired at now.
// It returns a *ValidationError, or nil if the list is valid.
func ValidateTrustedList(l *TrustedList, now time.Time) error {
	ve := ValidationError{Subject: "list " + l.Name}

	if len(l.Entries) == 0 {
		ve.add("validators", "is empty")
	}
	for i, e := range l.Entries {
		if e.ValidationPublicKey == "" {
			ve.add(fmt.Sprintf("validators[%d].validation_public_key", i), "is required")
		}
		if e.Manifest == "" {
			ve.add(fmt.Sprintf("validators[%d].manifest", i), "is required")
		}
	}
	if l.Effective != nil && !l.Expiration.After(*l.Effective) {
		ve.add("expiration", "must be after effective (%s)", l.Effective.Format(time.RFC3339))
	}
	if !l.Expiration.After(now) {
		ve.add("expiration", "passed at %s", l.Expiration.Format(time.RFC3339))
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

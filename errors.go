package docmodel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for common conditions
var (
	// Connection errors
	ErrNotConnected       = errors.New("docmodel: not connected")
	ErrBackendUnavailable = errors.New("docmodel: backend unavailable")

	// Data errors
	ErrInvalidIdentifier = errors.New("docmodel: invalid identifier")
	ErrInvalidAttributes = errors.New("docmodel: invalid attributes")
	ErrIntegrity         = errors.New("docmodel: integrity violation")
	ErrDuplicateKey      = errors.New("docmodel: duplicate key")
	ErrStorage           = errors.New("docmodel: storage failure")

	// Registration errors
	ErrInvalidModel      = errors.New("docmodel: invalid model declaration")
	ErrNotRegistered     = errors.New("docmodel: entity type not registered")
	ErrAlreadyRegistered = errors.New("docmodel: entity type already registered")
	ErrRegistrySealed    = errors.New("docmodel: registry is sealed")

	// Configuration errors
	ErrInvalidConfig = errors.New("docmodel: invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IntegrityError is returned by Create when a document with the same
// constrained field values already exists.
type IntegrityError struct {
	Entity string
	Fields map[string]any
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: duplicate element found with identifier %s", e.Entity, formatFields(e.Fields))
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// InvalidIdentifierError is returned when an identifier cannot be converted
// to the store-native representation.
type InvalidIdentifierError struct {
	Value any
	Err   error
}

func (e *InvalidIdentifierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid identifier %q: %v", fmt.Sprint(e.Value), e.Err)
	}
	return fmt.Sprintf("invalid identifier %q", fmt.Sprint(e.Value))
}

func (e *InvalidIdentifierError) Is(target error) bool {
	return target == ErrInvalidIdentifier
}

func (e *InvalidIdentifierError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure reported by the underlying store. The original
// error stays reachable through errors.Is / errors.As.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError reports attributes that do not fit the entity's field
// declarations or that the entity's own Validate method rejected.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid field %q: %s", e.Entity, e.Field, msg)
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Entity, msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidAttributes
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Common error checking helpers

// IsNotConnected checks if an error was caused by a missing connection
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsIntegrity checks if an error is a uniqueness conflict
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsInvalidIdentifier checks if an error is a malformed identifier
func IsInvalidIdentifier(err error) bool {
	return errors.Is(err, ErrInvalidIdentifier)
}

// IsStorage checks if an error came from the underlying store
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// formatFields renders a field set in key order so messages are stable.
func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no schema is registered for a record kind.
var ErrNotFound = errors.New("schema not found")

// ValidationError represents a schema validation failure.
type ValidationError struct {
	Schema        string   `json:"schema"`
	Message       string   `json:"message"`
	Field         string   `json:"field,omitempty"`
	ExpectedType  string   `json:"expected_type,omitempty"`
	ActualType    string   `json:"actual_type,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.UnknownFields) > 0 {
		return fmt.Sprintf("unknown value(s) %v not allowed for %s", e.UnknownFields, e.Schema)
	}
	if e.Field != "" {
		return fmt.Sprintf("value '%s': %s (%s)", e.Field, e.Message, e.Schema)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Schema)
}

// MultiValidationError aggregates multiple validation errors.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// ValidationDetailer surfaces structured validation details for API error responses.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

// Details returns the structured fields from this single validation error.
func (e *ValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	if len(e.UnknownFields) > 0 {
		d["unknown_fields"] = e.UnknownFields
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	return d
}

// Details aggregates the failed field names from all child errors.
func (e *MultiValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	var fields []string
	for _, ve := range e.Errors {
		if ve.Field != "" {
			fields = append(fields, ve.Field)
		}
	}
	if len(fields) > 0 {
		d["fields"] = fields
	}
	return d
}

// NewUnknownFieldsError creates an error for undeclared value names.
func NewUnknownFieldsError(kind string, fields []string) *ValidationError {
	return &ValidationError{
		Schema:        kind,
		Message:       fmt.Sprintf("unknown value(s) not allowed: %v", fields),
		UnknownFields: fields,
	}
}

// NewTypeMismatchError creates an error for type mismatches.
func NewTypeMismatchError(kind, field, expected, actual string) *ValidationError {
	return &ValidationError{
		Schema:       kind,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		Field:        field,
		ExpectedType: expected,
		ActualType:   actual,
	}
}

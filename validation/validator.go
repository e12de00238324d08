package validation

import (
	"fmt"
	"strings"

	"github.com/kbukum/discoverykit/errors"
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator collects field errors for one configuration section.
type Validator struct {
	section string
	errors  []FieldError
}

// New creates a Validator for the named section (e.g. "discovery.watch").
func New(section string) *Validator {
	return &Validator{section: section}
}

// Add records a field error.
func (v *Validator) Add(field, message string) *Validator {
	v.errors = append(v.errors, FieldError{Field: v.path(field), Message: message})
	return v
}

// Check records a field error when ok is false.
func (v *Validator) Check(ok bool, field, message string) *Validator {
	if !ok {
		v.Add(field, message)
	}
	return v
}

// Merge appends the field errors carried by err, if any.
func (v *Validator) Merge(err error) *Validator {
	if err == nil {
		return v
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return v.Add("", err.Error())
	}
	if fields, ok := appErr.Details["fields"].([]FieldError); ok {
		v.errors = append(v.errors, fields...)
		return v
	}
	return v.Add("", appErr.Message)
}

// Errors returns the collected field errors.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Err returns an INVALID_CONFIG AppError listing every field error, or nil.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = fmt.Sprintf("%s %s", e.Field, e.Message)
	}
	appErr := errors.InvalidConfig(v.errors[0].Field, strings.Join(messages, "; "))
	appErr.Details["fields"] = v.errors
	return appErr
}

func (v *Validator) path(field string) string {
	switch {
	case v.section == "":
		return field
	case field == "":
		return v.section
	default:
		return v.section + "." + field
	}
}

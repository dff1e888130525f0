// Package validation collects per-field user-facing errors. Validation blocks
// commit only; it never blocks navigation between authoring steps.
package validation

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fincraft/ledgerform/internal/types"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateRequired returns an error if the value is absent: null or an empty
// string.
func ValidateRequired(field string, value types.FieldValue) *ValidationError {
	if value.IsEmpty() {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not one of the allowed
// literals. Empty values pass; required-ness is checked separately.
func ValidateEnum(field string, value types.FieldValue, allowed []types.FieldValue) *ValidationError {
	if len(allowed) == 0 || value.IsEmpty() {
		return nil
	}
	for _, a := range allowed {
		if value.Equal(a) {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = fmt.Sprint(a.Interface())
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(names, ", ")),
	}
}

// ValidateFormat checks the formats the engine consumes: "date" (ISO 8601
// calendar date), "email", and "decimal". Unknown formats pass; empty values
// pass.
func ValidateFormat(field string, value types.FieldValue, format string) *ValidationError {
	if format == "" || value.IsEmpty() {
		return nil
	}
	switch format {
	case "date":
		if value.Kind() != types.KindString {
			return formatError(field, "must be a date string (YYYY-MM-DD)")
		}
		if _, err := time.Parse("2006-01-02", value.Str()); err != nil {
			return formatError(field, "must be a valid date (YYYY-MM-DD)")
		}
	case "email":
		if value.Kind() != types.KindString {
			return formatError(field, "must be an email address")
		}
		if _, err := mail.ParseAddress(value.Str()); err != nil {
			return formatError(field, "must be a valid email address")
		}
	case "decimal":
		switch value.Kind() {
		case types.KindNumber:
			// Already exact.
		case types.KindString:
			if _, err := decimal.NewFromString(value.Str()); err != nil {
				return formatError(field, "must be a decimal number")
			}
		default:
			return formatError(field, "must be a decimal number")
		}
	}
	return nil
}

func formatError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidateJSONSyntax returns an error if the free-form editor's raw text is
// not a JSON object.
func ValidateJSONSyntax(field, raw string) *ValidationError {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid JSON object",
		}
	}
	return nil
}

// ValidateFields runs the commit-gating checks over a reconciled field list:
// required, enum membership, and format. Inferred (undeclared) fields carry no
// schema constraints and always pass.
func ValidateFields(fields []types.ReconciledField) []ValidationError {
	var c Collector
	for _, f := range fields {
		if !f.IsDeclared {
			continue
		}
		if f.Required {
			c.Add(ValidateRequired(f.Key, f.Value))
		}
		c.Add(ValidateEnum(f.Key, f.Value, f.Enum))
		c.Add(ValidateFormat(f.Key, f.Value, f.Format))
	}
	return c.Errors()
}

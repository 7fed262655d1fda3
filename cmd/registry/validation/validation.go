package validation

import (
	"fmt"
	"strings"

	"github.com/lyzr/plugin-registry/cmd/registry/models"
)

// Validator checks one aspect of a candidate plugin record, appending
// structured errors to the accumulator. Validators never short-circuit
// each other; the service runs every registered validator per record.
type Validator interface {
	Validate(pluginInfo *models.PluginInfo, errs *Errors)
}

// FieldError is a single structured validation failure
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Errors accumulates validation failures for one plugin record
type Errors struct {
	PluginID string
	errors   []FieldError
}

// NewErrors creates an accumulator bound to a plugin record
func NewErrors(pluginInfo *models.PluginInfo) *Errors {
	return &Errors{PluginID: pluginInfo.ID}
}

// Reject records a record-level failure
func (e *Errors) Reject(code, format string, args ...any) {
	e.errors = append(e.errors, FieldError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// RejectField records a field-level failure
func (e *Errors) RejectField(field, code, format string, args ...any) {
	e.errors = append(e.errors, FieldError{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// HasErrors reports whether any validator rejected the record
func (e *Errors) HasErrors() bool {
	return len(e.errors) > 0
}

// All returns the accumulated failures
func (e *Errors) All() []FieldError {
	return e.errors
}

// Err returns a *Error when failures were accumulated, nil otherwise
func (e *Errors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return &Error{PluginID: e.PluginID, Errors: e.errors}
}

// Error is the terminal validation failure carrying the full error set.
// No repository write precedes it.
type Error struct {
	PluginID string       `json:"plugin_id"`
	Errors   []FieldError `json:"errors"`
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Field != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
		} else {
			msgs = append(msgs, fe.Message)
		}
	}
	return fmt.Sprintf("plugin %s failed validation: %s", e.PluginID, strings.Join(msgs, "; "))
}

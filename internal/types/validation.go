package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError reports every field that failed validation
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// ValidateStruct runs the validate tags of s
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return newValidationError(validationErrors)
		}
		return err
	}
	return nil
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := err.Namespace()
		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must have at least %s entries", field, err.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		default:
			fields[field] = fmt.Sprintf("%s failed on '%s'", field, err.Tag())
		}
	}
	return &ValidationError{Message: "validation failed", Fields: fields}
}

// Validate checks the request shape and its task type
func (r *AIRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if !r.TaskType.Valid() {
		return &ValidationError{
			Message: "validation failed",
			Fields:  map[string]string{"AIRequest.TaskType": fmt.Sprintf("unknown task type %q", r.TaskType)},
		}
	}
	return nil
}

// Validate checks one catalog entry
func (p *ProviderConfig) Validate() error {
	if err := ValidateStruct(p); err != nil {
		return err
	}
	for _, t := range p.TaskTypes {
		if !t.Valid() {
			return &ValidationError{
				Message: "validation failed",
				Fields:  map[string]string{"ProviderConfig.TaskTypes": fmt.Sprintf("provider %s: unknown task type %q", p.Type, t)},
			}
		}
	}
	return nil
}

package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPipelineNotFound = errors.New("pipeline: not found")
	ErrPermissionDenied = errors.New("pipeline: permission denied")
	ErrUnknownFactory   = errors.New("pipeline: unknown factory")
	// ErrConfiguration marks a defective declaration or handler. It is fatal
	// at startup.
	ErrConfiguration = errors.New("pipeline: configuration error")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a payload or parameter map rejected by a schema.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

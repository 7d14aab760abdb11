package injection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration matches every *ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// FieldError is one invalid setting.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ConfigurationError collects every problem found in a profile. A run
// with a configuration error never spawns a user.
type ConfigurationError struct {
	Errors []*FieldError
}

func (e *ConfigurationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration error"
	}
	if len(e.Errors) == 1 {
		return "configuration error: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d configuration errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Add records a problem with field.
func (e *ConfigurationError) Add(field, format string, args ...any) {
	e.Errors = append(e.Errors, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ConfigurationError) HasErrors() bool { return len(e.Errors) > 0 }

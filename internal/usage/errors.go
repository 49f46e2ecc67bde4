package usage

import "fmt"

// MissingFieldError reports a required wire-format key that was absent
// from the input.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("usage: missing required field %s", e.Field)
}

// InvalidUsageTypeError reports a usage type outside the set accepted by
// the accounting service.
type InvalidUsageTypeError struct {
	Value string
}

func (e *InvalidUsageTypeError) Error() string {
	return fmt.Sprintf("usage: invalid usage type %q", e.Value)
}

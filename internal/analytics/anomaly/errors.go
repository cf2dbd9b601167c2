package anomaly

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchema is wrapped by every SchemaError.
	ErrSchema = errors.New("schema error")

	// ErrInvalidParams is wrapped by every ParamError.
	ErrInvalidParams = errors.New("invalid detection parameters")
)

// SchemaError reports required fields absent from the input record set.
type SchemaError struct {
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing columns: [%s]; current columns: [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// ParamError reports an invalid detection parameter.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Message)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParams }

package capability

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateCapability = errors.New("capability already registered")
	ErrInvalidDescriptor   = errors.New("invalid capability descriptor")
	ErrUnknownCapability   = errors.New("unknown capability")
)

// Validation directions.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// SchemaValidationError reports a payload that does not match a tool schema.
type SchemaValidationError struct {
	ToolID    string
	Direction string
	Problems  []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("tool %s: %s schema validation failed: %s", e.ToolID, e.Direction, strings.Join(e.Problems, "; "))
}

// ToolExecutionError wraps a failure returned by a tool executor.
type ToolExecutionError struct {
	ToolID string
	Cause  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolID, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for solver operations.
var (
	// ErrConfiguration indicates an invalid run parameter. Raised before any step.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrStepSize indicates the adaptive step collapsed below the numerical floor.
	ErrStepSize = errors.New("dynamo: adaptive step size collapsed")

	// ErrTransform indicates a field whose shape violates the n×n contract.
	ErrTransform = errors.New("dynamo: transform shape mismatch")

	// ErrDiverged indicates a non-finite value appeared in the state.
	ErrDiverged = errors.New("dynamo: state diverged (NaN or Inf detected)")

	// ErrCanceled indicates the run was interrupted between steps.
	ErrCanceled = errors.New("dynamo: run canceled")

	// ErrPersistence indicates an external writer rejected a record.
	ErrPersistence = errors.New("dynamo: persistence failed")

	// ErrDimensionMismatch indicates a state vector of the wrong length.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// ConfigError reports which parameter was rejected.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dynamo: invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.6g): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// TransformError reports the offending shape.
func TransformError(op string, got, want int) error {
	return fmt.Errorf("%s: got %d values, want %d: %w", op, got, want, ErrTransform)
}

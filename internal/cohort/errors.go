package cohort

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrValueConstraint is wrapped by every out-of-range parameter error.
	ErrValueConstraint = errors.New("value constraint violated")
	// ErrIO is wrapped by every failure to persist a cohort.
	ErrIO = errors.New("cohort io failure")
)

// ValueConstraintError reports an invalid generation parameter.
type ValueConstraintError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ValueConstraintError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %v is outside [0,1]", e.Field, e.Value)
}

func (e *ValueConstraintError) Unwrap() error { return ErrValueConstraint }

// IOError reports a failed file operation while writing a cohort.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Is matches ErrIO so callers can classify the failure without a type switch.
func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }

func checkProbability(field string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return &ValueConstraintError{Field: field, Value: p}
	}
	return nil
}

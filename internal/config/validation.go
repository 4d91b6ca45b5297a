package config

import (
	"fmt"
	"math"
)

// ValidationError names the offending parameter.
type ValidationError struct {
	Parameter string
	Value     interface{}
	Message   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for parameter '%s' with value '%v': %s", e.Parameter, e.Value, e.Message)
}

func NewValidationError(parameter string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		Value:     value,
		Message:   message,
	}
}

// ParameterRange is an inclusive integer bound.
type ParameterRange struct {
	Min int
	Max int
}

var ranges = map[string]ParameterRange{
	"psf.size":                 {Min: 1, Max: 255},
	"deconvolution.iterations": {Min: 0, Max: 100000},
}

func intRange(name string, v int, r ParameterRange) error {
	if v < r.Min || v > r.Max {
		return NewValidationError(name, v, fmt.Sprintf("must be between %d and %d", r.Min, r.Max))
	}
	return nil
}

func positive(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return NewValidationError(name, v, "must be positive and finite")
	}
	return nil
}

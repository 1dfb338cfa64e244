package models

import "fmt"

// InputShapeError reports mismatched or invalid lengths at a component boundary.
type InputShapeError struct {
	Op    string
	Field string
	Want  int
	Got   int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("%s: %s has length %d, expected %d", e.Op, e.Field, e.Got, e.Want)
}

// SimulatorError wraps a failure raised by a Simulator Adapter. It is never absorbed
// by the core; callers detect it with errors.As.
type SimulatorError struct {
	Op  string
	Err error
}

func (e *SimulatorError) Error() string {
	return fmt.Sprintf("%s: simulator failed: %v", e.Op, e.Err)
}

func (e *SimulatorError) Unwrap() error {
	return e.Err
}

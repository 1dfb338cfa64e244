package models

import (
	"fmt"
	"math"
)

// Waveform is a stimulation protocol expressed as a pure function of time.
type Waveform func(t float64) float64

// Simulator maps model parameters, a protocol waveform, a time grid and an initial
// condition to an output trajectory with one sample per time point.
//
// Implementations must not share mutable state across calls: the sensitivity engine
// and the batched objective call the same Simulator from many goroutines.
type Simulator func(modelParams []float64, protocol Waveform, times []float64, x0 float64) ([]float64, error)

// ProtocolFactory builds a waveform from protocol parameters.
type ProtocolFactory func(protocolParams []float64) (Waveform, error)

// ParameterVector is an ordered vector of real-valued parameters. It backs both the
// model parameter vector and the protocol parameter vector.
type ParameterVector []float64

// Clone returns an independent copy of the vector.
func (p ParameterVector) Clone() ParameterVector {
	if p == nil {
		return nil
	}
	out := make(ParameterVector, len(p))
	copy(out, p)
	return out
}

// TimeGrid is a strictly increasing sequence of sample times, fixed for a session.
type TimeGrid []float64

// Validate checks that the grid is non-empty, finite and strictly increasing.
func (g TimeGrid) Validate() error {
	if len(g) == 0 {
		return &InputShapeError{Op: "time grid", Field: "times", Want: 1, Got: 0}
	}
	for i, t := range g {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("time grid: sample %d is not finite", i)
		}
		if i > 0 && t <= g[i-1] {
			return fmt.Errorf("time grid: samples must be strictly increasing (t[%d]=%g <= t[%d]=%g)", i, t, i-1, g[i-1])
		}
	}
	return nil
}

// Trajectory is a simulated or observed output aligned 1:1 with a TimeGrid.
type Trajectory []float64

// Simulate calls s and enforces the adapter contract: failures are wrapped in a
// SimulatorError tagged with op and the output must have one sample per time point.
func (s Simulator) Simulate(op string, modelParams []float64, protocol Waveform, times []float64, x0 float64) (Trajectory, error) {
	out, err := s(modelParams, protocol, times, x0)
	if err != nil {
		return nil, &SimulatorError{Op: op, Err: err}
	}
	if len(out) != len(times) {
		return nil, &InputShapeError{Op: op, Field: "trajectory", Want: len(times), Got: len(out)}
	}
	return Trajectory(out), nil
}

// NamedParameters pairs parameter names with their values.
type NamedParameters struct {
	Names  []string  `json:"names" yaml:"names"`
	Values []float64 `json:"values" yaml:"values"`
}

// Validate fails with an InputShapeError when names and values differ in length.
func (n NamedParameters) Validate() error {
	if len(n.Names) != len(n.Values) {
		return &InputShapeError{Op: "named parameters", Field: "values", Want: len(n.Names), Got: len(n.Values)}
	}
	return nil
}

// Lookup returns the value for name.
func (n NamedParameters) Lookup(name string) (float64, bool) {
	for i, candidate := range n.Names {
		if candidate == name && i < len(n.Values) {
			return n.Values[i], true
		}
	}
	return 0, false
}

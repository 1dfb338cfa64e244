package protocol

import (
	"fmt"
	"math"
	"sort"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// EventStart is the time at which step and event protocols switch on.
const EventStart = 1.0

// DefaultInterpolationSpan is the time span covered by interpolated protocol knots.
const DefaultInterpolationSpan = 10.0

// Family is a named protocol generator with a fixed number of parameters.
type Family struct {
	Name  string
	Arity int
	build func(params []float64) models.Waveform
}

// Build materializes a waveform. It fails with InputShapeError on an arity mismatch.
func (f Family) Build(params []float64) (models.Waveform, error) {
	if len(params) != f.Arity {
		return nil, &models.InputShapeError{Op: "protocol " + f.Name, Field: "params", Want: f.Arity, Got: len(params)}
	}
	// Copy so later mutation of params by the search cannot change the waveform.
	p := make([]float64, len(params))
	copy(p, params)
	return f.build(p), nil
}

// Factory adapts the family to the models.ProtocolFactory contract.
func (f Family) Factory() models.ProtocolFactory {
	return f.Build
}

// Constant returns u(t) = a.
func Constant() Family {
	return Family{Name: "constant", Arity: 1, build: func(p []float64) models.Waveform {
		a := p[0]
		return func(float64) float64 { return a }
	}}
}

// Step returns a single rectangular pulse of the given amplitude and duration.
func Step() Family {
	return Family{Name: "step", Arity: 2, build: func(p []float64) models.Waveform {
		amplitude, duration := p[0], p[1]
		return func(t float64) float64 {
			if t > EventStart && t < EventStart+duration {
				return amplitude
			}
			return 0
		}
	}}
}

// Sine returns a*sin(f*t).
func Sine() Family {
	return Family{Name: "sine", Arity: 2, build: func(p []float64) models.Waveform {
		amplitude, frequency := p[0], p[1]
		return func(t float64) float64 { return amplitude * math.Sin(frequency*t) }
	}}
}

// MultiSine returns a sum of n sines, parameterized as (a1..an, f1..fn).
func MultiSine(n int) Family {
	return Family{Name: "multisine", Arity: 2 * n, build: func(p []float64) models.Waveform {
		amplitudes, frequencies := p[:n], p[n:]
		return func(t float64) float64 {
			sum := 0.0
			for i := range amplitudes {
				sum += amplitudes[i] * math.Sin(frequencies[i]*t)
			}
			return sum
		}
	}}
}

// Events returns n consecutive rectangular events, parameterized as (d1..dn, a1..an).
func Events(n int) Family {
	return Family{Name: "events", Arity: 2 * n, build: func(p []float64) models.Waveform {
		return eventWaveform(p[:n], p[n:])
	}}
}

// NewEventProtocol builds an event waveform from parallel duration and amplitude
// slices. Mismatched lengths fail with InputShapeError.
func NewEventProtocol(durations, amplitudes []float64) (models.Waveform, error) {
	if len(durations) != len(amplitudes) {
		return nil, &models.InputShapeError{Op: "event protocol", Field: "amplitudes", Want: len(durations), Got: len(amplitudes)}
	}
	d := append([]float64(nil), durations...)
	a := append([]float64(nil), amplitudes...)
	return eventWaveform(d, a), nil
}

func eventWaveform(durations, amplitudes []float64) models.Waveform {
	return func(t float64) float64 {
		value := 0.0
		start := EventStart
		for i, d := range durations {
			end := start + d
			if t > start && t < end {
				value += amplitudes[i]
			}
			start = end
		}
		return value
	}
}

// Interpolated returns a piecewise-linear waveform through n knots evenly spaced on
// [0, span]. Outside the span the end values are held.
func Interpolated(n int, span float64) Family {
	if span <= 0 {
		span = DefaultInterpolationSpan
	}
	return Family{Name: "interpolated", Arity: n, build: func(p []float64) models.Waveform {
		knots := make([]float64, n)
		for i := range knots {
			if n > 1 {
				knots[i] = span * float64(i) / float64(n-1)
			}
		}
		return func(t float64) float64 {
			if n == 1 || t <= knots[0] {
				return p[0]
			}
			if t >= knots[n-1] {
				return p[n-1]
			}
			hi := sort.SearchFloat64s(knots, t)
			lo := hi - 1
			w := (t - knots[lo]) / (knots[hi] - knots[lo])
			return p[lo]*(1-w) + p[hi]*w
		}
	}}
}

// Lookup resolves a family by name for a protocol parameter vector of the given
// length. Paired families (multisine, events) require an even length.
func Lookup(name string, numParams int) (Family, error) {
	if numParams <= 0 {
		return Family{}, &models.InputShapeError{Op: "protocol " + name, Field: "params", Want: 1, Got: numParams}
	}
	switch name {
	case "constant":
		return Constant(), nil
	case "step":
		return Step(), nil
	case "sine":
		return Sine(), nil
	case "multisine", "events":
		if numParams%2 != 0 {
			return Family{}, &models.InputShapeError{Op: "protocol " + name, Field: "params", Want: numParams + 1, Got: numParams}
		}
		if name == "events" {
			return Events(numParams / 2), nil
		}
		return MultiSine(numParams / 2), nil
	case "interpolated":
		return Interpolated(numParams, DefaultInterpolationSpan), nil
	default:
		return Family{}, fmt.Errorf("unknown protocol family: %s", name)
	}
}

// Names lists the supported family names.
func Names() []string {
	return []string{"constant", "step", "sine", "multisine", "events", "interpolated"}
}

// Package sensitivity computes output sensitivities of a simulator with respect to
// each model parameter using central finite differences.
package sensitivity

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// DefaultStep is the finite-difference step in parameter units.
const DefaultStep = 1e-2

// Perturbation identifies one coordinate of a base parameter vector to vary.
type Perturbation struct {
	Index int
	Base  []float64
	Step  float64
}

// At returns a copy of Base with coordinate Index shifted by delta.
func (p Perturbation) At(delta float64) []float64 {
	point := make([]float64, len(p.Base))
	copy(point, p.Base)
	point[p.Index] += delta
	return point
}

// Engine evaluates sensitivity trajectories against a Simulator Adapter.
type Engine struct {
	simulate     models.Simulator
	step         float64
	relativeStep bool
	workers      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStep sets the finite-difference step. Non-positive values are ignored.
func WithStep(step float64) Option {
	return func(e *Engine) {
		if step > 0 {
			e.step = step
		}
	}
}

// WithRelativeStep scales the step by each parameter's magnitude. A zero-valued
// parameter keeps the absolute step. Off by default: it changes objective values.
func WithRelativeStep(enabled bool) Option {
	return func(e *Engine) {
		e.relativeStep = enabled
	}
}

// WithWorkers bounds the number of concurrent perturbation evaluations.
// Zero or negative means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// NewEngine creates a sensitivity engine around simulate.
func NewEngine(simulate models.Simulator, opts ...Option) *Engine {
	e := &Engine{
		simulate: simulate,
		step:     DefaultStep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	return e
}

// Step returns the configured absolute step.
func (e *Engine) Step() float64 {
	return e.step
}

// Perturbations returns one perturbation record per model parameter.
func (e *Engine) Perturbations(modelParams []float64) []Perturbation {
	base := make([]float64, len(modelParams))
	copy(base, modelParams)

	out := make([]Perturbation, len(base))
	for i := range base {
		h := e.step
		if e.relativeStep && base[i] != 0 {
			h = e.step * math.Abs(base[i])
		}
		out[i] = Perturbation{Index: i, Base: base, Step: h}
	}
	return out
}

// Derivative evaluates the central difference (f(x+h) - f(x-h)) / 2h of the simulator
// output along one perturbation, pointwise over the time grid.
func (e *Engine) Derivative(p Perturbation, protocol models.Waveform, times []float64, x0 float64) (models.Trajectory, error) {
	if p.Index < 0 || p.Index >= len(p.Base) {
		return nil, fmt.Errorf("sensitivity: perturbation index %d out of range for %d parameters", p.Index, len(p.Base))
	}
	op := fmt.Sprintf("sensitivity of parameter %d", p.Index)

	plus, err := e.simulate.Simulate(op, p.At(p.Step), protocol, times, x0)
	metrics.ObserveSimulation(err)
	if err != nil {
		return nil, err
	}
	minus, err := e.simulate.Simulate(op, p.At(-p.Step), protocol, times, x0)
	metrics.ObserveSimulation(err)
	if err != nil {
		return nil, err
	}

	d := make([]float64, len(plus))
	floats.SubTo(d, plus, minus)
	floats.Scale(1/(2*p.Step), d)
	return models.Trajectory(d), nil
}

// Sensitivities returns one derivative trajectory per model parameter, in parameter
// order. Perturbations are evaluated concurrently; the first simulator failure is
// returned and pending perturbations are skipped.
func (e *Engine) Sensitivities(modelParams []float64, protocol models.Waveform, times []float64, x0 float64) ([]models.Trajectory, error) {
	if len(modelParams) == 0 {
		return nil, &models.InputShapeError{Op: "sensitivities", Field: "model params", Want: 1, Got: 0}
	}

	perturbations := e.Perturbations(modelParams)
	out := make([]models.Trajectory, len(perturbations))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(e.workers)
	for _, p := range perturbations {
		p := p
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			d, err := e.Derivative(p, protocol, times, x0)
			if err != nil {
				return err
			}
			out[p.Index] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

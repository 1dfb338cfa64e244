package simulator

import (
	"fmt"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// Model is a scalar-output ODE system. The observed output is the first state
// component; any further components start at zero.
type Model struct {
	Name       string
	NumParams  int
	Dim        int
	Derivative Derivative
	// Prepare maps raw parameters to the values used for integration, e.g. to keep
	// finite-difference probes out of unphysical regions. Optional.
	Prepare func(params []float64) []float64
}

// Simulator binds the model to an integrator. Every call allocates its own state, so
// the returned adapter is safe for concurrent use.
func (m Model) Simulator(integrator RK4) models.Simulator {
	return func(modelParams []float64, protocol models.Waveform, times []float64, x0 float64) ([]float64, error) {
		if len(modelParams) != m.NumParams {
			return nil, &models.InputShapeError{Op: "simulate " + m.Name, Field: "model params", Want: m.NumParams, Got: len(modelParams)}
		}
		if protocol == nil {
			return nil, fmt.Errorf("simulate %s: protocol is required", m.Name)
		}
		params := make([]float64, len(modelParams))
		copy(params, modelParams)
		if m.Prepare != nil {
			params = m.Prepare(params)
		}
		state := make([]float64, m.Dim)
		state[0] = x0
		return integrator.Integrate(m.Derivative, params, protocol, times, state)
	}
}

// ExponentialGrowth: dx/dt = a*x + u(t).
func ExponentialGrowth() Model {
	return Model{
		Name:      "exponential",
		NumParams: 1,
		Dim:       1,
		Derivative: func(p []float64, u models.Waveform, t float64, x, dx []float64) {
			dx[0] = p[0]*x[0] + u(t)
		},
	}
}

// LinearResponse: dx/dt = -k*x + g*u(t), a first-order system with gain g.
func LinearResponse() Model {
	return Model{
		Name:      "linear_response",
		NumParams: 2,
		Dim:       1,
		Derivative: func(p []float64, u models.Waveform, t float64, x, dx []float64) {
			dx[0] = -p[0]*x[0] + p[1]*u(t)
		},
	}
}

// LogisticGrowth: dx/dt = alpha*x + beta*x^2 + u(t), with alpha clamped to >= 0 and
// beta to <= 0.
func LogisticGrowth() Model {
	return Model{
		Name:      "logistic",
		NumParams: 2,
		Dim:       1,
		Prepare: func(p []float64) []float64 {
			if p[0] < 0 {
				p[0] = 0
			}
			if p[1] > 0 {
				p[1] = 0
			}
			return p
		},
		Derivative: func(p []float64, u models.Waveform, t float64, x, dx []float64) {
			dx[0] = p[0]*x[0] + p[1]*x[0]*x[0] + u(t)
		},
	}
}

// DampedOscillator: m*x'' + c*x' + k*x + beta*x^3 = u(t), parameters (c, k, m, beta).
// The mass falls back to 0.1 when negative; damping and stiffness are clamped at 0.
func DampedOscillator() Model {
	return Model{
		Name:      "damped_oscillator",
		NumParams: 4,
		Dim:       2,
		Prepare: func(p []float64) []float64 {
			if p[0] < 0 {
				p[0] = 0
			}
			if p[1] < 0 {
				p[1] = 0
			}
			if p[2] < 0 {
				p[2] = 0.1
			}
			return p
		},
		Derivative: func(p []float64, u models.Waveform, t float64, x, dx []float64) {
			c, k, m, beta := p[0], p[1], p[2], p[3]
			dx[0] = x[1]
			dx[1] = (u(t) - c*x[1] - k*x[0] - beta*x[0]*x[0]*x[0]) / m
		},
	}
}

// Lookup returns a model by name.
func Lookup(name string) (Model, error) {
	switch name {
	case "exponential":
		return ExponentialGrowth(), nil
	case "linear_response":
		return LinearResponse(), nil
	case "logistic":
		return LogisticGrowth(), nil
	case "damped_oscillator":
		return DampedOscillator(), nil
	default:
		return Model{}, fmt.Errorf("unknown model: %s", name)
	}
}

// Names lists the built-in model names.
func Names() []string {
	return []string{"exponential", "linear_response", "logistic", "damped_oscillator"}
}

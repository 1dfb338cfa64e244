package simulator

import (
	"errors"
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// DefaultMaxStep bounds the integration step between output samples.
const DefaultMaxStep = 0.1

// ErrDiverged is returned when the integrated state stops being finite.
var ErrDiverged = errors.New("integration diverged")

// Derivative writes dx/dt at (t, x) into dx.
type Derivative func(params []float64, u models.Waveform, t float64, x, dx []float64)

// RK4 is a classic fourth-order Runge-Kutta integrator. Each interval of the output
// grid is split into equal sub-steps no longer than MaxStep.
type RK4 struct {
	MaxStep float64
}

// Integrate advances state from times[0] through every grid point and returns the
// first state component at each point. state is used as scratch and overwritten.
func (r RK4) Integrate(f Derivative, params []float64, u models.Waveform, times []float64, state []float64) ([]float64, error) {
	maxStep := r.MaxStep
	if maxStep <= 0 {
		maxStep = DefaultMaxStep
	}

	dim := len(state)
	k1 := make([]float64, dim)
	k2 := make([]float64, dim)
	k3 := make([]float64, dim)
	k4 := make([]float64, dim)
	tmp := make([]float64, dim)

	out := make([]float64, len(times))
	if len(times) == 0 {
		return out, nil
	}
	out[0] = state[0]

	for i := 1; i < len(times); i++ {
		span := times[i] - times[i-1]
		steps := int(math.Ceil(span / maxStep))
		if steps < 1 {
			steps = 1
		}
		h := span / float64(steps)
		t := times[i-1]

		for s := 0; s < steps; s++ {
			f(params, u, t, state, k1)
			for j := range tmp {
				tmp[j] = state[j] + 0.5*h*k1[j]
			}
			f(params, u, t+0.5*h, tmp, k2)
			for j := range tmp {
				tmp[j] = state[j] + 0.5*h*k2[j]
			}
			f(params, u, t+0.5*h, tmp, k3)
			for j := range tmp {
				tmp[j] = state[j] + h*k3[j]
			}
			f(params, u, t+h, tmp, k4)
			for j := range state {
				state[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
			}
			t += h
		}

		for j, v := range state {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w at t=%g (state %d)", ErrDiverged, times[i], j)
			}
		}
		out[i] = state[0]
	}
	return out, nil
}

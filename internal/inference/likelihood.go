package inference

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// ForwardModel is a single-output model with the protocol, time grid and initial
// condition held fixed, so only the model parameters vary.
type ForwardModel struct {
	Simulate models.Simulator
	Protocol models.Waveform
	Times    []float64
	X0       float64
	NumParam int
}

// NParameters returns the number of model parameters.
func (f ForwardModel) NParameters() int {
	return f.NumParam
}

// Evaluate simulates the model at params.
func (f ForwardModel) Evaluate(params []float64) (models.Trajectory, error) {
	if len(params) != f.NumParam {
		return nil, &models.InputShapeError{Op: "forward model", Field: "model params", Want: f.NumParam, Got: len(params)}
	}
	out, err := f.Simulate.Simulate("forward model", params, f.Protocol, f.Times, f.X0)
	metrics.ObserveSimulation(err)
	return out, err
}

// GaussianLogLikelihood scores observations under i.i.d. Gaussian noise of known sigma.
type GaussianLogLikelihood struct {
	Model ForwardModel
	Data  models.Trajectory
	Sigma float64
}

// Evaluate returns sum_k log N(data_k | model_k(params), sigma^2).
func (l GaussianLogLikelihood) Evaluate(params []float64) (float64, error) {
	predicted, err := l.Model.Evaluate(params)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for k, y := range l.Data {
		total += distuv.Normal{Mu: predicted[k], Sigma: l.Sigma}.LogProb(y)
	}
	if math.IsNaN(total) {
		return math.Inf(-1), nil
	}
	return total, nil
}

// UniformLogPrior is an independent uniform prior per parameter.
type UniformLogPrior struct {
	Lower []float64
	Upper []float64
}

// Evaluate returns the log prior density, -Inf outside the box.
func (p UniformLogPrior) Evaluate(params []float64) float64 {
	total := 0.0
	for i, x := range params {
		total += distuv.Uniform{Min: p.Lower[i], Max: p.Upper[i]}.LogProb(x)
	}
	return total
}

// Contains reports whether params lies inside the prior box.
func (p UniformLogPrior) Contains(params []float64) bool {
	return !math.IsInf(p.Evaluate(params), -1)
}

// Clamp projects params into the prior box.
func (p UniformLogPrior) Clamp(params []float64) []float64 {
	out := make([]float64, len(params))
	for i, x := range params {
		out[i] = math.Min(math.Max(x, p.Lower[i]), p.Upper[i])
	}
	return out
}

// LogPosterior combines a prior and a likelihood. Points outside the prior are rejected
// without running the simulator.
type LogPosterior struct {
	Prior      UniformLogPrior
	Likelihood GaussianLogLikelihood
}

// Evaluate returns log prior + log likelihood.
func (lp LogPosterior) Evaluate(params []float64) (float64, error) {
	prior := lp.Prior.Evaluate(params)
	if math.IsInf(prior, -1) {
		return prior, nil
	}
	ll, err := lp.Likelihood.Evaluate(params)
	if err != nil {
		return 0, err
	}
	return prior + ll, nil
}

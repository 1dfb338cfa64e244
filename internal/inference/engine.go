// Package inference generates synthetic observations under a protocol and samples the
// posterior over model parameters with adaptive MCMC.
package inference

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

const (
	DefaultIterations = 4000
	DefaultNoiseSigma = 0.1
	DefaultInitJitter = 0.1
	DefaultPriorLower = 0.0
	DefaultPriorUpper = 100.0
)

// Result is the outcome of one inference run.
type Result struct {
	Noiseless      models.Trajectory `json:"noiseless,omitempty"`
	Data           models.Trajectory `json:"data"`
	Start          []float64         `json:"start"`
	Posterior      *models.Posterior `json:"posterior"`
	AcceptanceRate float64           `json:"acceptance_rate"`
}

// Medians returns the post-burn-in posterior medians, the point estimate used to
// update the model parameters.
func (r *Result) Medians() []float64 {
	return r.Posterior.Medians()
}

// Engine runs synthetic-data inference against a Simulator Adapter.
type Engine struct {
	simulate        models.Simulator
	iterations      int
	noiseSigma      float64
	likelihoodSigma float64
	initJitter      float64
	lower, upper    []float64
	initialPhase    int
	rnd             *utils.RandSource
	logger          *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIterations sets the chain length.
func WithIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.iterations = n
		}
	}
}

// WithNoiseSigma sets the standard deviation of the noise added to synthetic data.
// Zero produces noiseless data.
func WithNoiseSigma(sigma float64) Option {
	return func(e *Engine) {
		if sigma >= 0 {
			e.noiseSigma = sigma
		}
	}
}

// WithLikelihoodSigma sets the known noise level assumed by the likelihood.
func WithLikelihoodSigma(sigma float64) Option {
	return func(e *Engine) {
		if sigma > 0 {
			e.likelihoodSigma = sigma
		}
	}
}

// WithInitJitter sets the relative Gaussian perturbation of the chain's starting point.
func WithInitJitter(jitter float64) Option {
	return func(e *Engine) {
		if jitter >= 0 {
			e.initJitter = jitter
		}
	}
}

// WithPriorBounds sets per-parameter uniform prior bounds.
func WithPriorBounds(lower, upper []float64) Option {
	return func(e *Engine) {
		e.lower = utils.Clone(lower)
		e.upper = utils.Clone(upper)
	}
}

// WithInitialPhase sets the number of non-adaptive iterations.
func WithInitialPhase(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.initialPhase = n
		}
	}
}

// WithSeed fixes the random source used for noise, jitter and sampling.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.rnd = utils.NewRandSource(seed)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an inference engine around simulate.
func NewEngine(simulate models.Simulator, opts ...Option) *Engine {
	e := &Engine{
		simulate:        simulate,
		iterations:      DefaultIterations,
		noiseSigma:      DefaultNoiseSigma,
		likelihoodSigma: DefaultNoiseSigma,
		initJitter:      DefaultInitJitter,
		initialPhase:    DefaultInitialPhase,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rnd == nil {
		e.rnd = utils.NewRandSource(0)
	}
	e.logger = logger.OrDefault(e.logger)
	return e
}

// prior expands the configured bounds to n parameters.
func (e *Engine) prior(n int) (UniformLogPrior, error) {
	lower, upper := e.lower, e.upper
	if lower == nil {
		lower = filled(n, DefaultPriorLower)
	}
	if upper == nil {
		upper = filled(n, DefaultPriorUpper)
	}
	if len(lower) != n {
		return UniformLogPrior{}, &models.InputShapeError{Op: "inference prior", Field: "lower bounds", Want: n, Got: len(lower)}
	}
	if len(upper) != n {
		return UniformLogPrior{}, &models.InputShapeError{Op: "inference prior", Field: "upper bounds", Want: n, Got: len(upper)}
	}
	return UniformLogPrior{Lower: lower, Upper: upper}, nil
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// SyntheticData simulates trueParams under protocol and adds i.i.d. Gaussian noise.
func (e *Engine) SyntheticData(protocol models.Waveform, trueParams, times []float64, x0 float64) (noiseless, observed models.Trajectory, err error) {
	noiseless, err = e.simulate.Simulate("generate synthetic data", trueParams, protocol, times, x0)
	metrics.ObserveSimulation(err)
	if err != nil {
		return nil, nil, err
	}
	observed = make(models.Trajectory, len(noiseless))
	for k, v := range noiseless {
		observed[k] = v
		if e.noiseSigma > 0 {
			observed[k] += e.rnd.NormFloat64(0, e.noiseSigma)
		}
	}
	return noiseless, observed, nil
}

// Infer generates synthetic data at trueParams and samples the posterior, starting the
// chain at trueParams perturbed by the configured relative jitter.
func (e *Engine) Infer(protocol models.Waveform, trueParams, times []float64, x0 float64) (*Result, error) {
	if len(trueParams) == 0 {
		return nil, &models.InputShapeError{Op: "infer", Field: "true params", Want: 1, Got: 0}
	}
	if err := models.TimeGrid(times).Validate(); err != nil {
		return nil, err
	}

	noiseless, observed, err := e.SyntheticData(protocol, trueParams, times, x0)
	if err != nil {
		return nil, err
	}

	std := utils.Abs(trueParams)
	for i := range std {
		std[i] *= e.initJitter
	}
	start := e.rnd.NormVector(trueParams, std)

	result, err := e.Fit(protocol, observed, times, x0, start)
	if err != nil {
		return nil, err
	}
	result.Noiseless = noiseless
	return result, nil
}

// Fit samples the posterior of the model parameters given observed data.
func (e *Engine) Fit(protocol models.Waveform, data models.Trajectory, times []float64, x0 float64, start []float64) (*Result, error) {
	if len(data) != len(times) {
		return nil, &models.InputShapeError{Op: "fit", Field: "data", Want: len(times), Got: len(data)}
	}
	prior, err := e.prior(len(start))
	if err != nil {
		return nil, err
	}
	start = prior.Clamp(start)

	posterior := LogPosterior{
		Prior: prior,
		Likelihood: GaussianLogLikelihood{
			Model: ForwardModel{
				Simulate: e.simulate,
				Protocol: protocol,
				Times:    times,
				X0:       x0,
				NumParam: len(start),
			},
			Data:  data,
			Sigma: e.likelihoodSigma,
		},
	}

	sampler := NewAdaptiveMetropolis(e.rnd)
	sampler.InitialPhase = e.initialPhase

	started := time.Now()
	chain, err := sampler.Run(posterior.Evaluate, start, InitialCovariance(start), e.iterations)
	if err != nil {
		return nil, fmt.Errorf("mcmc: %w", err)
	}
	elapsed := time.Since(started)

	result := &Result{
		Data:           data,
		Start:          start,
		Posterior:      models.NewPosterior(chain.Samples),
		AcceptanceRate: chain.AcceptanceRate(),
	}
	metrics.ObserveInference(elapsed, result.AcceptanceRate)
	e.logger.Info("mcmc finished",
		"iterations", e.iterations,
		"acceptance_rate", math.Round(result.AcceptanceRate*1000)/1000,
		"medians", result.Medians(),
		"duration", elapsed)
	return result, nil
}

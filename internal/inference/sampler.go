package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

const (
	// DefaultInitialPhase is the number of non-adaptive iterations run with the
	// starting proposal covariance.
	DefaultInitialPhase = 200
	// TargetAcceptance is the acceptance rate the proposal scale is tuned towards.
	TargetAcceptance = 0.234
	// adaptationEta is the decay exponent of the adaptation rate gamma = t^-eta.
	adaptationEta = 0.6
)

// LogDensity returns an unnormalized log target density. -Inf marks an impossible point.
type LogDensity func(x []float64) (float64, error)

// Chain is the output of one sampler run.
type Chain struct {
	Samples  [][]float64
	Accepted int
}

// AcceptanceRate returns the fraction of accepted proposals.
func (c *Chain) AcceptanceRate() float64 {
	if len(c.Samples) < 2 {
		return 0
	}
	return float64(c.Accepted) / float64(len(c.Samples)-1)
}

// AdaptiveMetropolis is a single-chain random-walk Metropolis sampler whose Gaussian
// proposal adapts its mean, covariance and global log scale after an initial phase
// (Haario-Bardenet adaptive covariance MCMC).
type AdaptiveMetropolis struct {
	InitialPhase int
	rnd          *utils.RandSource
}

// NewAdaptiveMetropolis creates a sampler drawing from rnd.
func NewAdaptiveMetropolis(rnd *utils.RandSource) *AdaptiveMetropolis {
	return &AdaptiveMetropolis{InitialPhase: DefaultInitialPhase, rnd: rnd}
}

// InitialCovariance returns diag((|x0|/10)^2), using 1 for zero coordinates.
func InitialCovariance(x0 []float64) *mat.SymDense {
	sigma := mat.NewSymDense(len(x0), nil)
	for i, v := range x0 {
		s := math.Abs(v) / 10
		if s == 0 {
			s = 1
		}
		sigma.SetSym(i, i, s*s)
	}
	return sigma
}

// Run draws iterations samples starting at x0, which is recorded as the first sample.
func (a *AdaptiveMetropolis) Run(target LogDensity, x0 []float64, sigma0 *mat.SymDense, iterations int) (*Chain, error) {
	d := len(x0)
	if d == 0 {
		return nil, fmt.Errorf("mcmc: starting point is empty")
	}
	if r, _ := sigma0.Dims(); r != d {
		return nil, fmt.Errorf("mcmc: covariance is %dx%d, expected %dx%d", r, r, d, d)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("mcmc: iterations must be at least 1, got %d", iterations)
	}

	current := utils.Clone(x0)
	currentLogP, err := target(current)
	if err != nil {
		return nil, err
	}
	if math.IsInf(currentLogP, 0) || math.IsNaN(currentLogP) {
		return nil, fmt.Errorf("mcmc: starting point %v has log density %g", x0, currentLogP)
	}

	mu := mat.NewVecDense(d, utils.Clone(x0))
	sigma := mat.NewSymDense(d, nil)
	sigma.CopySym(sigma0)
	logLambda := 0.0
	adaptations := 2.0

	chain := &Chain{Samples: make([][]float64, 0, iterations)}
	chain.Samples = append(chain.Samples, utils.Clone(current))

	for t := 1; t < iterations; t++ {
		proposal := a.propose(current, sigma, math.Exp(logLambda))
		proposalLogP, err := target(proposal)
		if err != nil {
			return nil, err
		}

		accepted := 0.0
		if !math.IsInf(proposalLogP, -1) && !math.IsNaN(proposalLogP) {
			if math.Log(a.rnd.Float64()) < proposalLogP-currentLogP {
				current, currentLogP = proposal, proposalLogP
				accepted = 1
				chain.Accepted++
			}
		}
		chain.Samples = append(chain.Samples, utils.Clone(current))

		if t < a.InitialPhase {
			continue
		}
		gamma := math.Pow(adaptations, -adaptationEta)
		adaptations++

		x := mat.NewVecDense(d, utils.Clone(current))
		var dev mat.VecDense
		dev.SubVec(x, mu)
		sigma.ScaleSym(1-gamma, sigma)
		sigma.SymRankOne(sigma, gamma, &dev)
		mu.ScaleVec(1-gamma, mu)
		mu.AddScaledVec(mu, gamma, x)
		logLambda += gamma * (accepted - TargetAcceptance)
	}
	return chain, nil
}

// propose draws x + L z with L L^T = scale*sigma and z ~ N(0, I).
func (a *AdaptiveMetropolis) propose(x []float64, sigma *mat.SymDense, scale float64) []float64 {
	d := len(x)
	l := choleskyFactor(sigma, scale)

	z := mat.NewVecDense(d, a.rnd.StandardNormalVector(d))
	var step mat.VecDense
	step.MulVec(l, z)

	out := make([]float64, d)
	for i := range out {
		out[i] = x[i] + step.AtVec(i)
	}
	return out
}

// choleskyFactor returns the lower factor of scale*sigma, adding diagonal jitter when
// adaptation has made the covariance numerically indefinite.
func choleskyFactor(sigma *mat.SymDense, scale float64) mat.Matrix {
	d, _ := sigma.Dims()
	scaled := mat.NewSymDense(d, nil)
	scaled.ScaleSym(scale, sigma)

	jitter := 1e-12
	for attempt := 0; attempt < 8; attempt++ {
		var chol mat.Cholesky
		if chol.Factorize(scaled) {
			var l mat.TriDense
			chol.LTo(&l)
			return &l
		}
		for i := 0; i < d; i++ {
			scaled.SetSym(i, i, scaled.At(i, i)+jitter)
		}
		jitter *= 100
	}

	diag := mat.NewDiagDense(d, nil)
	for i := 0; i < d; i++ {
		diag.SetDiag(i, math.Sqrt(math.Max(scaled.At(i, i), 1e-12)))
	}
	return diag
}

package search

import (
	"math"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

// DefaultInitSpread scales the initial sampling spread by each coordinate's magnitude.
const DefaultInitSpread = 5.0

// Initializer places the swarm before the first iteration
type Initializer interface {
	// InitialPositions returns n positions; the first must equal initial
	InitialPositions(initial []float64, n int, rnd *utils.RandSource) [][]float64
	// Name returns the name of the initialization strategy
	Name() string
}

// GaussianInitializer samples every particle but the first from N(p, spread*|p|)
// per coordinate. Coordinates equal to zero stay at zero.
type GaussianInitializer struct {
	spread float64
}

// NewGaussianInitializer creates a Gaussian initializer. Negative spreads are treated
// as zero.
func NewGaussianInitializer(spread float64) *GaussianInitializer {
	return &GaussianInitializer{spread: math.Max(0, spread)}
}

func (g *GaussianInitializer) Name() string {
	return "gaussian"
}

func (g *GaussianInitializer) InitialPositions(initial []float64, n int, rnd *utils.RandSource) [][]float64 {
	if n <= 0 {
		return nil
	}
	positions := make([][]float64, n)
	positions[0] = utils.Clone(initial)

	std := utils.Abs(initial)
	for d := range std {
		std[d] *= g.spread
	}
	for i := 1; i < n; i++ {
		positions[i] = rnd.NormVector(initial, std)
	}
	return positions
}

// InitializerFunc adapts a function to the Initializer interface
type InitializerFunc func(initial []float64, n int, rnd *utils.RandSource) [][]float64

func (f InitializerFunc) InitialPositions(initial []float64, n int, rnd *utils.RandSource) [][]float64 {
	return f(initial, n, rnd)
}

func (f InitializerFunc) Name() string {
	return "custom"
}

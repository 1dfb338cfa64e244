// Package search drives a derivative-free particle swarm over protocol parameter space.
package search

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

// Swarm defaults.
const (
	DefaultParticles  = 25
	DefaultIterations = 100
	DefaultC1         = 0.9
	DefaultC2         = 0.2
	DefaultInertia    = 0.9
)

// BatchObjective scores every row of candidates and returns the scores in row order.
// Lower is better.
type BatchObjective func(candidates [][]float64) ([]float64, error)

// ProgressReporter is called after every iteration with the global best score.
type ProgressReporter func(iteration int, bestScore float64)

// Particle is one swarm member.
type Particle struct {
	Position     []float64
	Velocity     []float64
	Score        float64
	BestPosition []float64
	BestScore    float64
}

// OptimizationStep records the global best after one iteration.
type OptimizationStep struct {
	Iteration int
	Score     float64
	Position  []float64
}

// OptimizationResult contains the final search result
type OptimizationResult struct {
	BestPosition      []float64
	BestScore         float64
	InitialScore      float64
	Iterations        int
	Evaluations       int
	History           []OptimizationStep
	Converged         bool
	ConvergenceReason string
}

// Swarm implements global-best particle swarm optimization
type Swarm struct {
	particles     int
	maxIterations int
	c1, c2, w     float64
	seed          int64
	initializer   Initializer
	convergence   ConvergenceStrategy
	progress      ProgressReporter
	logger        *slog.Logger

	mu           sync.RWMutex
	bestScore    float64
	bestPosition []float64
	iteration    int
	history      []OptimizationStep
}

// NewSwarm creates a swarm with the default coefficients. Non-positive sizes fall back
// to the defaults.
func NewSwarm(particles, maxIterations int) *Swarm {
	if particles <= 0 {
		particles = DefaultParticles
	}
	if maxIterations <= 0 {
		maxIterations = DefaultIterations
	}
	return &Swarm{
		particles:     particles,
		maxIterations: maxIterations,
		c1:            DefaultC1,
		c2:            DefaultC2,
		w:             DefaultInertia,
		initializer:   NewGaussianInitializer(DefaultInitSpread),
		bestScore:     math.MaxFloat64,
	}
}

// WithCoefficients sets the cognitive, social and inertia coefficients
func (s *Swarm) WithCoefficients(c1, c2, w float64) *Swarm {
	s.c1, s.c2, s.w = c1, c2, w
	return s
}

// WithSeed fixes the random source. Zero seeds from the clock.
func (s *Swarm) WithSeed(seed int64) *Swarm {
	s.seed = seed
	return s
}

// WithInitializer sets a custom initial placement strategy
func (s *Swarm) WithInitializer(initializer Initializer) *Swarm {
	s.initializer = initializer
	return s
}

// WithConvergence enables early stopping. A nil strategy keeps the fixed budget.
func (s *Swarm) WithConvergence(strategy ConvergenceStrategy) *Swarm {
	s.convergence = strategy
	return s
}

// WithProgressReporter registers a per-iteration callback
func (s *Swarm) WithProgressReporter(fn ProgressReporter) *Swarm {
	s.progress = fn
	return s
}

// WithLogger sets the logger
func (s *Swarm) WithLogger(l *slog.Logger) *Swarm {
	s.logger = l
	return s
}

// Optimize runs the swarm from initial. The first particle starts exactly at initial,
// so the result is never worse than the initial score.
func (s *Swarm) Optimize(initial []float64, objective BatchObjective) (*OptimizationResult, error) {
	if len(initial) == 0 {
		return nil, fmt.Errorf("initial protocol parameters are required")
	}
	if objective == nil {
		return nil, fmt.Errorf("objective function is required")
	}
	log := logger.OrDefault(s.logger)
	started := time.Now()

	rnd := utils.NewRandSource(s.seed)
	positions := s.initializer.InitialPositions(initial, s.particles, rnd)
	if len(positions) != s.particles {
		return nil, fmt.Errorf("initializer %s returned %d positions, expected %d", s.initializer.Name(), len(positions), s.particles)
	}

	swarm := make([]Particle, s.particles)
	for i := range swarm {
		swarm[i] = Particle{
			Position:  positions[i],
			Velocity:  rnd.UniformVector(len(initial)),
			BestScore: math.Inf(1),
		}
	}

	s.mu.Lock()
	s.bestScore = math.Inf(1)
	s.bestPosition = utils.Clone(initial)
	s.iteration = 0
	s.history = make([]OptimizationStep, 0, s.maxIterations)
	s.mu.Unlock()

	var (
		initialScore float64
		evaluations  int
		converged    bool
		reason       = "max iterations reached"
	)

	for iteration := 1; iteration <= s.maxIterations; iteration++ {
		candidates := make([][]float64, len(swarm))
		for i := range swarm {
			candidates[i] = swarm[i].Position
		}
		scores, err := objective(candidates)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		if len(scores) != len(candidates) {
			return nil, fmt.Errorf("iteration %d: objective returned %d scores for %d candidates", iteration, len(scores), len(candidates))
		}
		evaluations += len(scores)
		if iteration == 1 {
			initialScore = scores[0]
		}

		s.mu.Lock()
		for i := range swarm {
			p := &swarm[i]
			p.Score = scores[i]
			if p.Score < p.BestScore {
				p.BestScore = p.Score
				p.BestPosition = utils.Clone(p.Position)
			}
			if p.BestScore < s.bestScore {
				s.bestScore = p.BestScore
				s.bestPosition = utils.Clone(p.BestPosition)
			}
		}
		s.iteration = iteration
		s.history = append(s.history, OptimizationStep{
			Iteration: iteration,
			Score:     s.bestScore,
			Position:  utils.Clone(s.bestPosition),
		})
		best := s.bestScore
		gbest := utils.Clone(s.bestPosition)
		history := s.history
		s.mu.Unlock()

		log.Debug("swarm iteration", "iteration", iteration, "best_score", best)
		if s.progress != nil {
			s.progress(iteration, best)
		}

		if s.convergence != nil {
			if ok, why := s.convergence.CheckConvergence(history); ok {
				converged, reason = true, why
				break
			}
		}
		if iteration == s.maxIterations {
			break
		}

		for i := range swarm {
			s.move(&swarm[i], gbest, rnd)
		}
	}

	result := s.buildResult(initialScore, evaluations, converged, reason)
	metrics.ObserveSearch(time.Since(started), result.BestScore)
	log.Info("protocol search finished",
		"iterations", result.Iterations,
		"evaluations", result.Evaluations,
		"initial_score", result.InitialScore,
		"best_score", result.BestScore,
		"converged", result.Converged,
		"reason", result.ConvergenceReason)
	return result, nil
}

// move applies v = w*v + c1*r1*(pbest - x) + c2*r2*(gbest - x), then x += v.
func (s *Swarm) move(p *Particle, gbest []float64, rnd *utils.RandSource) {
	pbest := p.BestPosition
	if pbest == nil {
		pbest = p.Position
	}
	for d := range p.Position {
		r1, r2 := rnd.Float64(), rnd.Float64()
		p.Velocity[d] = s.w*p.Velocity[d] +
			s.c1*r1*(pbest[d]-p.Position[d]) +
			s.c2*r2*(gbest[d]-p.Position[d])
	}
	next := make([]float64, len(p.Position))
	for d := range next {
		next[d] = p.Position[d] + p.Velocity[d]
	}
	p.Position = next
}

// buildResult constructs the optimization result
func (s *Swarm) buildResult(initialScore float64, evaluations int, converged bool, reason string) *OptimizationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]OptimizationStep, len(s.history))
	copy(history, s.history)
	return &OptimizationResult{
		BestPosition:      utils.Clone(s.bestPosition),
		BestScore:         s.bestScore,
		InitialScore:      initialScore,
		Iterations:        s.iteration,
		Evaluations:       evaluations,
		History:           history,
		Converged:         converged,
		ConvergenceReason: reason,
	}
}

// GetBestPosition returns the best position found so far
func (s *Swarm) GetBestPosition() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return utils.Clone(s.bestPosition)
}

// GetBestScore returns the best score found so far
func (s *Swarm) GetBestScore() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestScore
}

// GetIteration returns the current iteration number
func (s *Swarm) GetIteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

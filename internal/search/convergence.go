package search

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ConvergenceStrategy decides from the global-best history whether the swarm may stop
// before its iteration budget is spent.
type ConvergenceStrategy interface {
	// CheckConvergence checks if the search has converged based on history
	CheckConvergence(history []OptimizationStep) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementIterations is the number of iterations without a new global best before stopping
	NoImprovementIterations int
	// ImprovementThreshold is the minimum relative improvement to consider significant
	ImprovementThreshold float64
	// ScoreTolerance is the absolute tolerance for best scores to be considered equal
	ScoreTolerance float64
	// MinIterations is the minimum number of iterations before convergence can be detected
	MinIterations int
	// PlateauIterations is the window of iterations inspected for a plateau
	PlateauIterations int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementIterations: 15,
		ImprovementThreshold:    0.001,
		ScoreTolerance:          1e-9,
		MinIterations:           20,
		PlateauIterations:       10,
	}
}

// NewConvergenceStrategy returns the strategy registered under name.
func NewConvergenceStrategy(name string, config *ConvergenceConfig) (ConvergenceStrategy, error) {
	switch name {
	case "no_improvement":
		return NewNoImprovementStrategy(config), nil
	case "plateau":
		return NewPlateauStrategy(config), nil
	case "improvement_threshold":
		return NewThresholdStrategy(config), nil
	case "variance":
		return NewVarianceStrategy(config), nil
	case "combined":
		return NewCombinedStrategy(config), nil
	default:
		return nil, fmt.Errorf("unknown convergence strategy: %s", name)
	}
}

func orDefault(config *ConvergenceConfig) *ConvergenceConfig {
	if config == nil {
		return DefaultConvergenceConfig()
	}
	return config
}

// window returns the last n steps, or nil when history is shorter than n.
func window(history []OptimizationStep, n int) []OptimizationStep {
	if n <= 0 || len(history) < n {
		return nil
	}
	return history[len(history)-n:]
}

// NoImprovementStrategy stops when the global best has not changed for N iterations
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	return &NoImprovementStrategy{config: orDefault(config)}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if len(history) < s.config.MinIterations || len(history) == 0 {
		return false, ""
	}

	bestIteration := 0
	for i, step := range history {
		if step.Score < history[bestIteration].Score {
			bestIteration = i
		}
	}

	since := len(history) - 1 - bestIteration
	if since >= s.config.NoImprovementIterations {
		return true, fmt.Sprintf("no improvement for %d iterations (best at iteration %d)", since, history[bestIteration].Iteration)
	}
	return false, ""
}

// PlateauStrategy stops when the best score moved less than ScoreTolerance over the window
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	return &PlateauStrategy{config: orDefault(config)}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}
	recent := window(history, s.config.PlateauIterations)
	if recent == nil {
		return false, ""
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, step := range recent {
		lo = math.Min(lo, step.Score)
		hi = math.Max(hi, step.Score)
	}
	if spread := hi - lo; spread <= s.config.ScoreTolerance {
		return true, fmt.Sprintf("score plateaued for %d iterations (range: %.6g)", len(recent), spread)
	}
	return false, ""
}

// ThresholdStrategy stops when every recent relative improvement is below threshold
type ThresholdStrategy struct {
	config *ConvergenceConfig
}

// NewThresholdStrategy creates a new improvement threshold convergence strategy
func NewThresholdStrategy(config *ConvergenceConfig) *ThresholdStrategy {
	return &ThresholdStrategy{config: orDefault(config)}
}

func (s *ThresholdStrategy) Name() string {
	return "improvement_threshold"
}

func (s *ThresholdStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}
	recent := window(history, s.config.NoImprovementIterations)
	if len(recent) < 2 {
		return false, ""
	}

	largest := math.Inf(-1)
	for i := 1; i < len(recent); i++ {
		prev := recent[i-1].Score
		if prev <= 0 {
			return false, ""
		}
		largest = math.Max(largest, (prev-recent[i].Score)/prev)
	}
	if largest <= s.config.ImprovementThreshold {
		return true, fmt.Sprintf("improvements below threshold (max: %.4f%%, threshold: %.4f%%)", largest*100, s.config.ImprovementThreshold*100)
	}
	return false, ""
}

// VarianceStrategy stops when the relative standard deviation of recent best scores is low
type VarianceStrategy struct {
	config *ConvergenceConfig
}

// NewVarianceStrategy creates a new variance-based convergence strategy
func NewVarianceStrategy(config *ConvergenceConfig) *VarianceStrategy {
	return &VarianceStrategy{config: orDefault(config)}
}

func (s *VarianceStrategy) Name() string {
	return "variance"
}

func (s *VarianceStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}
	size := s.config.PlateauIterations
	if size > len(history) {
		size = len(history)
	}
	recent := window(history, size)
	if len(recent) < 2 {
		return false, ""
	}

	scores := make([]float64, len(recent))
	for i, step := range recent {
		scores[i] = step.Score
	}
	mean, std := stat.PopMeanStdDev(scores, nil)
	if mean > 0 {
		if rel := std / mean; rel < s.config.ImprovementThreshold {
			return true, fmt.Sprintf("low score variance (relative stddev: %.4f%%)", rel*100)
		}
	}
	return false, ""
}

// CombinedStrategy converges as soon as any member strategy does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy combines the no-improvement, plateau and threshold strategies
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	config = orDefault(config)
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
			NewThresholdStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}

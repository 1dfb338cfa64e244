package config

import "github.com/GoSim-25-26J-441/experiment-design/pkg/utils"

// Numeric defaults of a design run.
const (
	DefaultNoiseSigma      = 0.1
	DefaultStep            = 1e-2
	DefaultSingularPenalty = 1e10
	DefaultRegularization  = 1e-3

	DefaultParticles  = 25
	DefaultC1         = 0.9
	DefaultC2         = 0.2
	DefaultInertia    = 0.9
	DefaultIterations = 100
	DefaultInitSpread = 5.0

	DefaultMCMCIterations = 4000
	DefaultInitJitter     = 0.1
	DefaultPriorLower     = 0.0
	DefaultPriorUpper     = 100.0
)

// DesignConfig describes one experiment design run.
type DesignConfig struct {
	LogLevel  string          `yaml:"log_level"`
	Model     ModelConfig     `yaml:"model"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	TimeGrid  TimeGridConfig  `yaml:"time_grid"`
	Objective ObjectiveConfig `yaml:"objective"`
	Search    SearchConfig    `yaml:"search"`
	Inference InferenceConfig `yaml:"inference"`
	Session   SessionConfig   `yaml:"session"`
	Server    ServerConfig    `yaml:"server"`
}

// ModelConfig selects the simulator and the model parameter vectors.
type ModelConfig struct {
	Name       string    `yaml:"name"`
	ParamNames []string  `yaml:"param_names,omitempty"`
	Params     []float64 `yaml:"params"`      // starting linearization point
	TrueParams []float64 `yaml:"true_params"` // used to generate synthetic data
	X0         float64   `yaml:"x0"`
}

// ProtocolConfig selects the protocol family and the starting protocol parameters.
type ProtocolConfig struct {
	Family string    `yaml:"family"`
	Params []float64 `yaml:"params"`
	Span   float64   `yaml:"span,omitempty"` // interpolated family only
}

// TimeGridConfig is either an explicit list of times or an evenly spaced grid.
type TimeGridConfig struct {
	Times  []float64 `yaml:"times,omitempty"`
	Start  float64   `yaml:"start"`
	Stop   float64   `yaml:"stop"`
	Points int       `yaml:"points"`
}

// Resolve returns the sample times described by the grid.
func (g TimeGridConfig) Resolve() []float64 {
	if len(g.Times) > 0 {
		out := make([]float64, len(g.Times))
		copy(out, g.Times)
		return out
	}
	return utils.Linspace(g.Start, g.Stop, g.Points)
}

// ObjectiveConfig parameterizes the identifiability objective.
type ObjectiveConfig struct {
	NoiseSigma      float64 `yaml:"noise_sigma"`
	Step            float64 `yaml:"step"`
	RelativeStep    bool    `yaml:"relative_step"`
	SingularPenalty float64 `yaml:"singular_penalty"`
	Regularization  float64 `yaml:"regularization"`
	Workers         int     `yaml:"workers"` // 0 means GOMAXPROCS
}

// SearchConfig parameterizes the particle swarm.
type SearchConfig struct {
	Particles   int                `yaml:"particles"`
	C1          float64            `yaml:"c1"`
	C2          float64            `yaml:"c2"`
	W           float64            `yaml:"w"`
	Iterations  int                `yaml:"iterations"`
	InitSpread  float64            `yaml:"init_spread"`
	Seed        int64              `yaml:"seed"`
	Convergence *ConvergenceConfig `yaml:"convergence,omitempty"`
}

// ConvergenceConfig enables optional early stopping of the swarm.
type ConvergenceConfig struct {
	Strategy                string  `yaml:"strategy"` // no_improvement, plateau, improvement_threshold, variance, combined
	NoImprovementIterations int     `yaml:"no_improvement_iterations"`
	ImprovementThreshold    float64 `yaml:"improvement_threshold"`
	ScoreTolerance          float64 `yaml:"score_tolerance"`
	MinIterations           int     `yaml:"min_iterations"`
	PlateauIterations       int     `yaml:"plateau_iterations"`
}

// InferenceConfig parameterizes synthetic data generation and the MCMC chain.
type InferenceConfig struct {
	Iterations      int     `yaml:"iterations"`
	NoiseSigma      float64 `yaml:"noise_sigma"`
	LikelihoodSigma float64 `yaml:"likelihood_sigma"`
	InitJitter      float64 `yaml:"init_jitter"`
	// PriorLower and PriorUpper hold one bound for all parameters or one per parameter.
	PriorLower []float64 `yaml:"prior_lower"`
	PriorUpper []float64 `yaml:"prior_upper"`
	Seed       int64     `yaml:"seed"`
}

// Bounds expands the prior bounds to n parameters.
func (c InferenceConfig) Bounds(n int) (lower, upper []float64) {
	return broadcast(c.PriorLower, n, DefaultPriorLower), broadcast(c.PriorUpper, n, DefaultPriorUpper)
}

func broadcast(values []float64, n int, fallback float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch len(values) {
		case 0:
			out[i] = fallback
		case 1:
			out[i] = values[0]
		default:
			out[i] = values[i]
		}
	}
	return out
}

// SessionConfig controls the design loop.
type SessionConfig struct {
	DesignIterations int  `yaml:"design_iterations"`
	Baseline         bool `yaml:"baseline"`
}

// ServerConfig holds the daemon listen addresses.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"` // empty serves /metrics on HTTPAddr
}

// DefaultDesignConfig returns a config populated with every numeric default.
func DefaultDesignConfig() DesignConfig {
	return DesignConfig{
		LogLevel: "info",
		TimeGrid: TimeGridConfig{Start: 0, Stop: 10, Points: 100},
		Objective: ObjectiveConfig{
			NoiseSigma:      DefaultNoiseSigma,
			Step:            DefaultStep,
			SingularPenalty: DefaultSingularPenalty,
			Regularization:  DefaultRegularization,
		},
		Search: SearchConfig{
			Particles:  DefaultParticles,
			C1:         DefaultC1,
			C2:         DefaultC2,
			W:          DefaultInertia,
			Iterations: DefaultIterations,
			InitSpread: DefaultInitSpread,
		},
		Inference: InferenceConfig{
			Iterations:      DefaultMCMCIterations,
			NoiseSigma:      DefaultNoiseSigma,
			LikelihoodSigma: DefaultNoiseSigma,
			InitJitter:      DefaultInitJitter,
		},
		Session: SessionConfig{DesignIterations: 1, Baseline: true},
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":50051",
		},
	}
}

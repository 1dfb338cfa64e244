package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// Environment variables that override values from the design file.
const (
	EnvLogLevel    = "DESIGND_LOG_LEVEL"
	EnvHTTPAddr    = "DESIGND_HTTP_ADDR"
	EnvGRPCAddr    = "DESIGND_GRPC_ADDR"
	EnvMetricsAddr = "DESIGND_METRICS_ADDR"
)

// LoadDesign loads and parses a design file, then applies environment overrides.
func LoadDesign(path string) (*DesignConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("design file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read design file %s: %w", path, err)
	}
	cfg, err := ParseDesignYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse design file %s: %w", path, err)
	}
	ApplyEnvOverrides(cfg)
	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces logging and server settings with any DESIGND_* values set
// in the environment.
func ApplyEnvOverrides(cfg *DesignConfig) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv(EnvGRPCAddr); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Server.MetricsAddr = v
	}
}

// validateDesign performs validation on the design configuration. Missing true
// parameters default to the starting parameters.
func validateDesign(cfg *DesignConfig) error {
	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	if len(cfg.Model.TrueParams) == 0 {
		cfg.Model.TrueParams = append([]float64(nil), cfg.Model.Params...)
	}
	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := validateProtocol(&cfg.Protocol); err != nil {
		return fmt.Errorf("protocol validation failed: %w", err)
	}
	if err := validateTimeGrid(&cfg.TimeGrid); err != nil {
		return fmt.Errorf("time_grid validation failed: %w", err)
	}
	if err := validateObjective(&cfg.Objective); err != nil {
		return fmt.Errorf("objective validation failed: %w", err)
	}
	if err := validateSearch(&cfg.Search); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}
	if err := validateInference(&cfg.Inference, len(cfg.Model.Params)); err != nil {
		return fmt.Errorf("inference validation failed: %w", err)
	}
	if cfg.Session.DesignIterations < 1 {
		return fmt.Errorf("session: design_iterations must be at least 1, got %d", cfg.Session.DesignIterations)
	}
	return nil
}

func validateLogLevel(level string) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[level] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", level)
	}
	return nil
}

// validateModel validates the model section
func validateModel(m *ModelConfig) error {
	if m.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if len(m.Params) == 0 {
		return &models.InputShapeError{Op: "model config", Field: "params", Want: 1, Got: 0}
	}
	if len(m.TrueParams) != len(m.Params) {
		return &models.InputShapeError{Op: "model config", Field: "true_params", Want: len(m.Params), Got: len(m.TrueParams)}
	}
	if len(m.ParamNames) > 0 {
		named := models.NamedParameters{Names: m.ParamNames, Values: m.Params}
		if err := named.Validate(); err != nil {
			return err
		}
	}
	for i, p := range m.Params {
		if p == 0 {
			return fmt.Errorf("params[%d] cannot be zero (identifiability scores are normalized by parameter value)", i)
		}
	}
	return nil
}

// validateProtocol validates the protocol section
func validateProtocol(p *ProtocolConfig) error {
	if p.Family == "" {
		return fmt.Errorf("protocol family cannot be empty")
	}
	if len(p.Params) == 0 {
		return &models.InputShapeError{Op: "protocol config", Field: "params", Want: 1, Got: 0}
	}
	if p.Span < 0 {
		return fmt.Errorf("span cannot be negative")
	}
	return nil
}

// validateTimeGrid validates the time grid section
func validateTimeGrid(g *TimeGridConfig) error {
	if len(g.Times) == 0 {
		if g.Points < 2 {
			return fmt.Errorf("points must be at least 2, got %d", g.Points)
		}
		if g.Stop <= g.Start {
			return fmt.Errorf("stop (%g) must be greater than start (%g)", g.Stop, g.Start)
		}
	}
	return models.TimeGrid(g.Resolve()).Validate()
}

// validateObjective validates the objective section
func validateObjective(o *ObjectiveConfig) error {
	if o.NoiseSigma <= 0 {
		return fmt.Errorf("noise_sigma must be positive")
	}
	if o.Step <= 0 {
		return fmt.Errorf("step must be positive")
	}
	if o.SingularPenalty <= 0 {
		return fmt.Errorf("singular_penalty must be positive")
	}
	if o.Regularization < 0 {
		return fmt.Errorf("regularization cannot be negative")
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	return nil
}

// validateSearch validates the search section
func validateSearch(s *SearchConfig) error {
	if s.Particles < 1 {
		return fmt.Errorf("particles must be at least 1, got %d", s.Particles)
	}
	if s.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", s.Iterations)
	}
	if s.C1 < 0 || s.C2 < 0 || s.W < 0 {
		return fmt.Errorf("c1, c2 and w cannot be negative")
	}
	if s.InitSpread < 0 {
		return fmt.Errorf("init_spread cannot be negative")
	}
	if s.Convergence != nil {
		validStrategies := map[string]bool{
			"no_improvement":        true,
			"plateau":               true,
			"improvement_threshold": true,
			"variance":              true,
			"combined":              true,
		}
		if !validStrategies[s.Convergence.Strategy] {
			return fmt.Errorf("invalid convergence strategy: %s", s.Convergence.Strategy)
		}
		if s.Convergence.MinIterations < 0 || s.Convergence.NoImprovementIterations < 0 || s.Convergence.PlateauIterations < 0 {
			return fmt.Errorf("convergence iteration counts cannot be negative")
		}
	}
	return nil
}

// validateInference validates the inference section
func validateInference(i *InferenceConfig, numParams int) error {
	if i.Iterations < 2 {
		return fmt.Errorf("iterations must be at least 2, got %d", i.Iterations)
	}
	if i.NoiseSigma < 0 {
		return fmt.Errorf("noise_sigma cannot be negative")
	}
	if i.LikelihoodSigma <= 0 {
		return fmt.Errorf("likelihood_sigma must be positive")
	}
	if i.InitJitter < 0 {
		return fmt.Errorf("init_jitter cannot be negative")
	}
	for field, bounds := range map[string][]float64{"prior_lower": i.PriorLower, "prior_upper": i.PriorUpper} {
		if len(bounds) > 1 && len(bounds) != numParams {
			return &models.InputShapeError{Op: "inference config", Field: field, Want: numParams, Got: len(bounds)}
		}
	}
	lower, upper := i.Bounds(numParams)
	for k := range lower {
		if lower[k] >= upper[k] {
			return fmt.Errorf("prior bounds for parameter %d are empty: [%g, %g]", k, lower[k], upper[k])
		}
	}
	return nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

const minimalDesign = `
model:
  name: exponential
  params: [1.0]
protocol:
  family: constant
  params: [0]
`

func TestParseDesignYAMLAppliesDefaults(t *testing.T) {
	cfg, err := ParseDesignYAMLString(minimalDesign)
	if err != nil {
		t.Fatalf("ParseDesignYAMLString failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Search.Particles != DefaultParticles || cfg.Search.Iterations != DefaultIterations {
		t.Errorf("expected default swarm budget, got %+v", cfg.Search)
	}
	if cfg.Search.C1 != 0.9 || cfg.Search.C2 != 0.2 || cfg.Search.W != 0.9 {
		t.Errorf("unexpected swarm coefficients: %+v", cfg.Search)
	}
	if cfg.Objective.NoiseSigma != 0.1 || cfg.Objective.Step != 1e-2 {
		t.Errorf("unexpected objective defaults: %+v", cfg.Objective)
	}
	if cfg.Objective.SingularPenalty != 1e10 || cfg.Objective.Regularization != 1e-3 {
		t.Errorf("unexpected objective defaults: %+v", cfg.Objective)
	}
	if cfg.Inference.NoiseSigma != 0.1 || cfg.Inference.LikelihoodSigma != 0.1 {
		t.Errorf("unexpected inference sigmas: %+v", cfg.Inference)
	}
	if len(cfg.Model.TrueParams) != 1 || cfg.Model.TrueParams[0] != 1.0 {
		t.Errorf("expected true params to default to params, got %v", cfg.Model.TrueParams)
	}
	if cfg.Search.Convergence != nil {
		t.Errorf("expected no convergence strategy by default")
	}
	if !cfg.Session.Baseline || cfg.Session.DesignIterations != 1 {
		t.Errorf("unexpected session defaults: %+v", cfg.Session)
	}
}

func TestParseDesignYAMLKeepsExplicitZeroNoise(t *testing.T) {
	cfg, err := ParseDesignYAMLString(minimalDesign + `
inference:
  noise_sigma: 0
`)
	if err != nil {
		t.Fatalf("ParseDesignYAMLString failed: %v", err)
	}
	if cfg.Inference.NoiseSigma != 0 {
		t.Fatalf("expected explicit zero noise to be kept, got %g", cfg.Inference.NoiseSigma)
	}
	if cfg.Inference.LikelihoodSigma != DefaultNoiseSigma {
		t.Fatalf("expected likelihood sigma to keep its default, got %g", cfg.Inference.LikelihoodSigma)
	}
}

func TestParseDesignYAMLInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
	}{
		{"Malformed yaml", "model: [unterminated"},
		{"Missing model name", `
model:
  params: [1]
protocol: {family: constant, params: [0]}`},
		{"Missing params", `
model:
  name: exponential
protocol: {family: constant, params: [0]}`},
		{"Zero parameter", `
model:
  name: exponential
  params: [0]
protocol: {family: constant, params: [0]}`},
		{"Missing protocol family", `
model: {name: exponential, params: [1]}
protocol: {params: [0]}`},
		{"Bad log level", minimalDesign + "log_level: verbose\n"},
		{"Decreasing explicit times", minimalDesign + "time_grid: {times: [0, 2, 1]}\n"},
		{"Empty linspace", minimalDesign + "time_grid: {start: 1, stop: 1, points: 10}\n"},
		{"Negative step", minimalDesign + "objective: {step: -1}\n"},
		{"Zero particles", minimalDesign + "search: {particles: 0}\n"},
		{"Unknown convergence", minimalDesign + "search: {convergence: {strategy: magic}}\n"},
		{"Empty prior", minimalDesign + "inference: {prior_lower: [5], prior_upper: [5]}\n"},
		{"Zero likelihood sigma", minimalDesign + "inference: {likelihood_sigma: 0}\n"},
		{"No design iterations", minimalDesign + "session: {design_iterations: 0}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDesignYAMLString(tt.yamlText); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestParseDesignYAMLShapeErrors(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
		field    string
	}{
		{"True params length", `
model: {name: linear_response, params: [1, 2], true_params: [1]}
protocol: {family: step, params: [1, 1]}`, "true_params"},
		{"Names and values", `
model: {name: linear_response, param_names: [k], params: [1, 2]}
protocol: {family: step, params: [1, 1]}`, "values"},
		{"Per-parameter prior", `
model: {name: linear_response, params: [1, 2, 3]}
protocol: {family: step, params: [1, 1]}
inference: {prior_upper: [1, 2]}`, "prior_upper"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDesignYAMLString(tt.yamlText)
			var shapeErr *models.InputShapeError
			if !errors.As(err, &shapeErr) {
				t.Fatalf("expected InputShapeError, got %v", err)
			}
			if shapeErr.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, shapeErr.Field)
			}
		})
	}
}

func TestInferenceBounds(t *testing.T) {
	lower, upper := InferenceConfig{}.Bounds(2)
	if lower[0] != 0 || lower[1] != 0 || upper[0] != 100 || upper[1] != 100 {
		t.Fatalf("expected default [0,100] bounds, got %v %v", lower, upper)
	}

	lower, upper = InferenceConfig{PriorLower: []float64{1}, PriorUpper: []float64{10, 20}}.Bounds(2)
	if lower[1] != 1 || upper[0] != 10 || upper[1] != 20 {
		t.Fatalf("unexpected bounds %v %v", lower, upper)
	}
}

func TestTimeGridResolve(t *testing.T) {
	times := TimeGridConfig{Start: 0, Stop: 1, Points: 5}.Resolve()
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	if len(times) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(times))
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("times[%d] = %g, want %g", i, times[i], want[i])
		}
	}

	explicit := TimeGridConfig{Times: []float64{0, 3}, Points: 50}.Resolve()
	if len(explicit) != 2 || explicit[1] != 3 {
		t.Fatalf("expected explicit times to win, got %v", explicit)
	}
}

func TestLoadDesignSampleFile(t *testing.T) {
	cfg, err := LoadDesign(filepath.Join("..", "..", "config", "design.yaml"))
	if err != nil {
		t.Fatalf("LoadDesign failed: %v", err)
	}
	if cfg.Model.Name != "linear_response" {
		t.Errorf("expected linear_response model, got %q", cfg.Model.Name)
	}
	if v, ok := (models.NamedParameters{Names: cfg.Model.ParamNames, Values: cfg.Model.TrueParams}).Lookup("g"); !ok || v != 10 {
		t.Errorf("expected true g=10, got %v (found=%v)", v, ok)
	}
	if cfg.Session.DesignIterations != 2 {
		t.Errorf("expected 2 design iterations, got %d", cfg.Session.DesignIterations)
	}
}

func TestLoadDesignMissingFile(t *testing.T) {
	_, err := LoadDesign(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadDesignEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "design.yaml")
	if err := os.WriteFile(path, []byte(minimalDesign), 0o600); err != nil {
		t.Fatalf("write design: %v", err)
	}
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvHTTPAddr, ":9090")
	t.Setenv(EnvGRPCAddr, ":9091")
	t.Setenv(EnvMetricsAddr, ":9092")

	cfg, err := LoadDesign(path)
	if err != nil {
		t.Fatalf("LoadDesign failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Server.HTTPAddr != ":9090" || cfg.Server.GRPCAddr != ":9091" || cfg.Server.MetricsAddr != ":9092" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.LogLevel, cfg.Server)
	}

	t.Setenv(EnvLogLevel, "loud")
	if _, err := LoadDesign(path); err == nil {
		t.Fatal("expected invalid log level from environment to fail")
	}
}

func TestMarshalRoundTripKeepsSearch(t *testing.T) {
	cfg, err := ParseDesignYAMLString(minimalDesign + "search: {particles: 7, seed: 3}\n")
	if err != nil {
		t.Fatalf("ParseDesignYAMLString failed: %v", err)
	}
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	again, err := ParseDesignYAML(data)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if again.Search.Particles != 7 || again.Search.Seed != 3 {
		t.Fatalf("expected search settings to survive, got %+v", again.Search)
	}
}

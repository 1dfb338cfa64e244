package session

import (
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/experiment-design/internal/identifiability"
	"github.com/GoSim-25-26J-441/experiment-design/internal/inference"
	"github.com/GoSim-25-26J-441/experiment-design/internal/protocol"
	"github.com/GoSim-25-26J-441/experiment-design/internal/search"
	"github.com/GoSim-25-26J-441/experiment-design/internal/sensitivity"
	"github.com/GoSim-25-26J-441/experiment-design/internal/simulator"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/config"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
)

// Hooks are optional observers attached to a session built from config.
type Hooks struct {
	ID               string
	Logger           *slog.Logger
	OnSearchProgress func(designIteration, swarmIteration int, bestScore float64)
	OnStateChange    func(State)
}

// FromConfig assembles the simulator, protocol family, objective, swarm and inference
// engine described by cfg into a new session. cfg must already be validated.
func FromConfig(cfg *config.DesignConfig, hooks Hooks) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session: config is nil")
	}
	log := logger.OrDefault(hooks.Logger)

	model, err := simulator.Lookup(cfg.Model.Name)
	if err != nil {
		return nil, err
	}
	simulate := model.Simulator(simulator.RK4{})

	family, err := protocol.Lookup(cfg.Protocol.Family, len(cfg.Protocol.Params))
	if err != nil {
		return nil, err
	}
	if cfg.Protocol.Family == "interpolated" && cfg.Protocol.Span > 0 {
		family = protocol.Interpolated(len(cfg.Protocol.Params), cfg.Protocol.Span)
	}

	times := cfg.TimeGrid.Resolve()
	trueParams := cfg.Model.TrueParams
	if len(trueParams) == 0 {
		trueParams = cfg.Model.Params
	}

	engine := sensitivity.NewEngine(simulate,
		sensitivity.WithStep(cfg.Objective.Step),
		sensitivity.WithRelativeStep(cfg.Objective.RelativeStep),
		sensitivity.WithWorkers(cfg.Objective.Workers))

	objective, err := identifiability.NewObjective(engine, family.Factory(), cfg.Model.Params, times, cfg.Model.X0,
		identifiability.WithNoiseSigma(cfg.Objective.NoiseSigma),
		identifiability.WithSingularPenalty(cfg.Objective.SingularPenalty),
		identifiability.WithRegularization(cfg.Objective.Regularization),
		identifiability.WithWorkers(cfg.Objective.Workers),
		identifiability.WithLogger(log))
	if err != nil {
		return nil, err
	}

	var convergence search.ConvergenceStrategy
	if cc := cfg.Search.Convergence; cc != nil {
		convergence, err = search.NewConvergenceStrategy(cc.Strategy, &search.ConvergenceConfig{
			NoImprovementIterations: cc.NoImprovementIterations,
			ImprovementThreshold:    cc.ImprovementThreshold,
			ScoreTolerance:          cc.ScoreTolerance,
			MinIterations:           cc.MinIterations,
			PlateauIterations:       cc.PlateauIterations,
		})
		if err != nil {
			return nil, err
		}
	}
	sc := cfg.Search
	newSwarm := func(iteration int) *search.Swarm {
		swarm := search.NewSwarm(sc.Particles, sc.Iterations).
			WithCoefficients(sc.C1, sc.C2, sc.W).
			WithInitializer(search.NewGaussianInitializer(sc.InitSpread)).
			WithConvergence(convergence)
		if sc.Seed != 0 {
			// Each design iteration draws a distinct but reproducible swarm.
			swarm = swarm.WithSeed(sc.Seed + int64(iteration) - 1)
		}
		return swarm
	}

	ic := cfg.Inference
	lower, upper := ic.Bounds(len(cfg.Model.Params))
	inferOpts := []inference.Option{
		inference.WithIterations(ic.Iterations),
		inference.WithNoiseSigma(ic.NoiseSigma),
		inference.WithLikelihoodSigma(ic.LikelihoodSigma),
		inference.WithInitJitter(ic.InitJitter),
		inference.WithPriorBounds(lower, upper),
		inference.WithLogger(log),
	}
	if ic.Seed != 0 {
		inferOpts = append(inferOpts, inference.WithSeed(ic.Seed))
	}

	return New(Setup{
		ID:               hooks.ID,
		Protocols:        family.Factory(),
		Objective:        objective,
		NewSwarm:         newSwarm,
		Inference:        inference.NewEngine(simulate, inferOpts...),
		ParamNames:       cfg.Model.ParamNames,
		ModelParams:      cfg.Model.Params,
		TrueParams:       trueParams,
		ProtocolParams:   cfg.Protocol.Params,
		Times:            times,
		X0:               cfg.Model.X0,
		Logger:           log,
		OnSearchProgress: hooks.OnSearchProgress,
		OnStateChange:    hooks.OnStateChange,
	})
}

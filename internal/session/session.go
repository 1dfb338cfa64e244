// Package session runs the experiment design loop: evaluate a baseline, optimize the
// protocol for identifiability, refit the model under the new protocol, and repeat.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoSim-25-26J-441/experiment-design/internal/identifiability"
	"github.com/GoSim-25-26J-441/experiment-design/internal/inference"
	"github.com/GoSim-25-26J-441/experiment-design/internal/search"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

// State is a phase of the design loop.
type State string

const (
	StateInitial           State = "INITIAL"
	StateBaselineEvaluated State = "BASELINE_EVALUATED"
	StateProtocolOptimized State = "PROTOCOL_OPTIMIZED"
	StateModelRefit        State = "MODEL_REFIT"
)

// ErrInvalidTransition is returned when a phase is requested from a state that does
// not allow it.
var ErrInvalidTransition = errors.New("invalid session transition")

// Setup wires the collaborators of a session. Every component is injected; the session
// holds no global simulator state.
type Setup struct {
	ID         string
	Protocols  models.ProtocolFactory
	Objective  *identifiability.Objective
	NewSwarm   func(iteration int) *search.Swarm
	Inference  *inference.Engine
	ParamNames []string
	// ModelParams is the starting linearization point; TrueParams generate the data.
	ModelParams    []float64
	TrueParams     []float64
	ProtocolParams []float64
	Times          []float64
	X0             float64
	Logger         *slog.Logger
	// OnSearchProgress receives swarm progress for the current design iteration.
	OnSearchProgress func(designIteration, swarmIteration int, bestScore float64)
	// OnStateChange is called after every successful transition.
	OnStateChange func(State)
}

// Snapshot pairs a protocol with the inference run performed under it.
type Snapshot struct {
	ProtocolParams []float64         `json:"protocol_params"`
	Result         *inference.Result `json:"result"`
}

// IterationRecord summarizes one optimize-and-refit cycle.
type IterationRecord struct {
	Iteration      int       `json:"iteration"`
	ProtocolParams []float64 `json:"protocol_params"`
	InitialScore   float64   `json:"initial_score"`
	BestScore      float64   `json:"best_score"`
	SwarmSteps     int       `json:"swarm_iterations"`
	Converged      bool      `json:"converged"`
	Medians        []float64 `json:"medians,omitempty"`
	AcceptanceRate float64   `json:"acceptance_rate,omitempty"`
}

// Session is one experiment design run.
type Session struct {
	id        string
	protocols models.ProtocolFactory
	objective *identifiability.Objective
	newSwarm  func(iteration int) *search.Swarm
	inference *inference.Engine
	names     []string
	times     []float64
	x0        float64
	logger    *slog.Logger
	onSearch  func(designIteration, swarmIteration int, bestScore float64)
	onState   func(State)

	mu              sync.RWMutex
	state           State
	iteration       int
	trueParams      []float64
	modelParams     []float64
	initialProtocol []float64
	protocolParams  []float64
	baseline        *Snapshot
	latest          *Snapshot
	records         []IterationRecord
}

// New validates the setup and returns a session in StateInitial.
func New(s Setup) (*Session, error) {
	if s.Protocols == nil || s.Objective == nil || s.NewSwarm == nil || s.Inference == nil {
		return nil, fmt.Errorf("session: protocols, objective, swarm and inference are required")
	}
	if len(s.ModelParams) == 0 {
		return nil, &models.InputShapeError{Op: "new session", Field: "model params", Want: 1, Got: 0}
	}
	if len(s.TrueParams) != len(s.ModelParams) {
		return nil, &models.InputShapeError{Op: "new session", Field: "true params", Want: len(s.ModelParams), Got: len(s.TrueParams)}
	}
	if len(s.ParamNames) > 0 {
		if err := (models.NamedParameters{Names: s.ParamNames, Values: s.ModelParams}).Validate(); err != nil {
			return nil, err
		}
	}
	if len(s.ProtocolParams) == 0 {
		return nil, &models.InputShapeError{Op: "new session", Field: "protocol params", Want: 1, Got: 0}
	}
	if _, err := s.Protocols(s.ProtocolParams); err != nil {
		return nil, err
	}
	if err := models.TimeGrid(s.Times).Validate(); err != nil {
		return nil, err
	}

	id := s.ID
	if id == "" {
		id = utils.GenerateSessionID()
	}
	return &Session{
		id:              id,
		protocols:       s.Protocols,
		objective:       s.Objective,
		newSwarm:        s.NewSwarm,
		inference:       s.Inference,
		names:           append([]string(nil), s.ParamNames...),
		times:           utils.Clone(s.Times),
		x0:              s.X0,
		logger:          logger.OrDefault(s.Logger).With("session_id", id),
		onSearch:        s.OnSearchProgress,
		onState:         s.OnStateChange,
		state:           StateInitial,
		trueParams:      utils.Clone(s.TrueParams),
		modelParams:     utils.Clone(s.ModelParams),
		initialProtocol: utils.Clone(s.ProtocolParams),
		protocolParams:  utils.Clone(s.ProtocolParams),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Iteration returns the number of completed refits.
func (s *Session) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// ModelParams returns a copy of the current model parameter vector.
func (s *Session) ModelParams() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return utils.Clone(s.modelParams)
}

// ProtocolParams returns a copy of the current protocol parameter vector.
func (s *Session) ProtocolParams() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return utils.Clone(s.protocolParams)
}

// Baseline returns the "before" snapshot, or nil if no baseline was evaluated.
func (s *Session) Baseline() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline
}

// Latest returns the most recent refit snapshot.
func (s *Session) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Records returns the per-iteration history.
func (s *Session) Records() []IterationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IterationRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Session) require(op string, allowed ...State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s from state %s", ErrInvalidTransition, op, s.state)
}

// transition must be called with s.mu held.
func (s *Session) transition(next State) {
	prev := s.state
	s.state = next
	s.logger.Info("session state changed", "from", prev, "to", next, "iteration", s.iteration)
}

func (s *Session) notify(state State) {
	if s.onState != nil {
		s.onState(state)
	}
}

func (s *Session) infer(protocolParams []float64) (*inference.Result, error) {
	waveform, err := s.protocols(protocolParams)
	if err != nil {
		return nil, err
	}
	return s.inference.Infer(waveform, s.trueParams, s.times, s.x0)
}

// EvaluateBaseline runs inference under the starting protocol and keeps the result as
// the "before" reference. It is only allowed from StateInitial.
func (s *Session) EvaluateBaseline() error {
	if err := s.require("evaluate baseline", StateInitial); err != nil {
		return err
	}
	protocolParams := s.ProtocolParams()
	result, err := s.infer(protocolParams)
	if err != nil {
		return fmt.Errorf("baseline inference: %w", err)
	}

	s.mu.Lock()
	s.baseline = &Snapshot{ProtocolParams: protocolParams, Result: result}
	s.transition(StateBaselineEvaluated)
	s.mu.Unlock()
	s.notify(StateBaselineEvaluated)
	return nil
}

// OptimizeProtocol searches for the protocol that minimizes the identifiability score
// at the current model parameters and adopts it.
func (s *Session) OptimizeProtocol() (*search.OptimizationResult, error) {
	if err := s.require("optimize protocol", StateInitial, StateBaselineEvaluated, StateModelRefit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	designIteration := s.iteration + 1
	modelParams := utils.Clone(s.modelParams)
	start := utils.Clone(s.protocolParams)
	s.mu.RUnlock()

	objective, err := s.objective.AtModelParams(modelParams)
	if err != nil {
		return nil, err
	}
	swarm := s.newSwarm(designIteration).WithLogger(s.logger)
	if s.onSearch != nil {
		swarm = swarm.WithProgressReporter(func(iteration int, best float64) {
			s.onSearch(designIteration, iteration, best)
		})
	}

	result, err := swarm.Optimize(start, objective.EvaluateBatch)
	if err != nil {
		return nil, fmt.Errorf("protocol search: %w", err)
	}
	if len(result.BestPosition) != len(start) {
		return nil, &models.InputShapeError{Op: "optimize protocol", Field: "protocol params", Want: len(start), Got: len(result.BestPosition)}
	}

	s.mu.Lock()
	s.protocolParams = utils.Clone(result.BestPosition)
	s.records = append(s.records, IterationRecord{
		Iteration:      designIteration,
		ProtocolParams: utils.Clone(result.BestPosition),
		InitialScore:   result.InitialScore,
		BestScore:      result.BestScore,
		SwarmSteps:     result.Iterations,
		Converged:      result.Converged,
	})
	s.transition(StateProtocolOptimized)
	s.mu.Unlock()
	s.notify(StateProtocolOptimized)
	return result, nil
}

// Refit runs inference under the optimized protocol and replaces the model parameters
// with the posterior medians.
func (s *Session) Refit() error {
	if err := s.require("refit model", StateProtocolOptimized); err != nil {
		return err
	}
	protocolParams := s.ProtocolParams()
	result, err := s.infer(protocolParams)
	if err != nil {
		return fmt.Errorf("refit inference: %w", err)
	}
	medians := result.Medians()

	s.mu.Lock()
	s.latest = &Snapshot{ProtocolParams: protocolParams, Result: result}
	s.modelParams = medians
	s.iteration++
	if n := len(s.records); n > 0 {
		s.records[n-1].Medians = utils.Clone(medians)
		s.records[n-1].AcceptanceRate = result.AcceptanceRate
	}
	s.transition(StateModelRefit)
	s.mu.Unlock()
	s.notify(StateModelRefit)
	return nil
}

// RunIteration performs one optimize-and-refit cycle.
func (s *Session) RunIteration() error {
	if _, err := s.OptimizeProtocol(); err != nil {
		return err
	}
	return s.Refit()
}

// Run evaluates the baseline (when requested and still in StateInitial) and then
// performs designIterations cycles. ctx is checked between phases only: a search or
// chain already in flight runs to completion.
func (s *Session) Run(ctx context.Context, designIterations int, baseline bool) error {
	if designIterations < 1 {
		return fmt.Errorf("session: design iterations must be at least 1, got %d", designIterations)
	}
	if baseline && s.State() == StateInitial {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.EvaluateBaseline(); err != nil {
			return err
		}
	}
	for i := 0; i < designIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.OptimizeProtocol(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Refit(); err != nil {
			return err
		}
	}
	return nil
}

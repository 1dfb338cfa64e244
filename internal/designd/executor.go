package designd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/internal/session"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrRunExists    = errors.New("run already exists")
)

// RunExecutor runs design sessions asynchronously and handles per-run cancellation.
// Cancellation takes effect between session phases.
type RunExecutor struct {
	store  *RunStore
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunExecutor(store *RunStore, l *slog.Logger) *RunExecutor {
	return &RunExecutor{
		store:   store,
		logger:  logger.OrDefault(l),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start begins executing a pending run. Starting a running run is a no-op.
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}
	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch {
	case rec.Run.Status == StatusRunning:
		return rec, nil
	case rec.Run.Status.Terminal():
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	updated, err := e.store.SetStatus(runID, StatusRunning, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if old, exists := e.cancels[runID]; exists {
		old()
	}
	e.cancels[runID] = cancel
	e.mu.Unlock()

	metrics.RunStarted()
	e.wg.Add(1)
	go e.runDesign(ctx, runID, rec)
	return updated, nil
}

// Stop cancels a pending or running run.
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return e.store.SetStatus(runID, StatusCancelled, "")
}

// Wait blocks until every started run has returned.
func (e *RunExecutor) Wait() {
	e.wg.Wait()
}

// Shutdown cancels all running runs and waits for them, or for ctx to expire.
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *RunExecutor) cleanup(runID string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	e.mu.Unlock()
}

func (e *RunExecutor) runDesign(ctx context.Context, runID string, rec *RunRecord) {
	defer e.wg.Done()
	defer e.cleanup(runID)

	log := e.logger.With("run_id", runID)
	outcome := metrics.OutcomeError
	defer func() { metrics.RunFinished(outcome) }()

	sess, err := session.FromConfig(rec.Config, session.Hooks{
		ID:     runID,
		Logger: log,
		OnStateChange: func(state session.State) {
			e.store.UpdateProgress(runID, func(p *Progress) { p.State = state })
		},
		OnSearchProgress: func(design, swarm int, best float64) {
			e.store.UpdateProgress(runID, func(p *Progress) {
				p.DesignIteration, p.SwarmIteration, p.BestScore = design, swarm, best
			})
		},
	})
	if err != nil {
		log.Error("failed to build design session", "error", err)
		e.fail(runID, fmt.Sprintf("invalid design: %v", err))
		return
	}

	log.Info("starting design run",
		"model", rec.Config.Model.Name,
		"protocol", rec.Config.Protocol.Family,
		"design_iterations", rec.Config.Session.DesignIterations)
	if err := sess.Run(ctx, rec.Config.Session.DesignIterations, rec.Config.Session.Baseline); err != nil {
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
			log.Info("design run cancelled", "state", sess.State())
			return
		}
		log.Error("design run failed", "state", sess.State(), "error", err)
		e.fail(runID, err.Error())
		return
	}

	report, err := sess.Report()
	if err != nil {
		log.Error("failed to build design report", "error", err)
		e.fail(runID, err.Error())
		return
	}
	if err := e.store.SetReport(runID, report); err != nil {
		log.Error("failed to store design report", "error", err)
	}
	if _, err := e.store.SetStatus(runID, StatusCompleted, ""); err != nil {
		// Stopped after the last phase finished.
		outcome = metrics.OutcomeCancelled
		log.Info("design run finished after stop", "error", err)
		return
	}
	outcome = metrics.OutcomeSuccess
	log.Info("design run completed",
		"protocol_params", report.ProtocolParams,
		"model_params", report.ModelParams,
		"improvement_percent", report.Improvement)
}

func (e *RunExecutor) fail(runID, msg string) {
	if _, err := e.store.SetStatus(runID, StatusFailed, msg); err != nil {
		e.logger.Error("failed to set failed status", "run_id", runID, "error", err)
	}
}

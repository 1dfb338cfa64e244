package designd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/experiment-design/internal/session"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/config"
)

func newExecutor() (*RunStore, *RunExecutor) {
	store := NewRunStore()
	return store, NewRunExecutor(store, nil)
}

func TestRunExecutorCompletesDesign(t *testing.T) {
	store, executor := newExecutor()
	if _, err := store.Create("run-1", tinyConfig(t)); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rec, err := executor.Start("run-1")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if rec.Run.Status != StatusRunning {
		t.Fatalf("expected RUNNING, got %s", rec.Run.Status)
	}
	executor.Wait()

	final, _ := store.Get("run-1")
	if final.Run.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", final.Run.Status, final.Run.Error)
	}
	if final.Run.EndedAtUnixMs == 0 {
		t.Fatalf("expected ended timestamp")
	}
	if final.Run.Progress.State != session.StateModelRefit {
		t.Fatalf("expected last state MODEL_REFIT, got %s", final.Run.Progress.State)
	}
	if final.Run.Progress.DesignIteration != 1 {
		t.Fatalf("expected design iteration 1, got %d", final.Run.Progress.DesignIteration)
	}
	if final.Report == nil {
		t.Fatalf("expected report")
	}
	if len(final.Report.ProtocolParams) != 1 || len(final.Report.Parameters) != 1 {
		t.Fatalf("unexpected report shape: %+v", final.Report)
	}
}

func TestRunExecutorStartErrors(t *testing.T) {
	store, executor := newExecutor()

	if _, err := executor.Start(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing, got %v", err)
	}
	if _, err := executor.Start("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if _, err := store.Create("run-1", tinyConfig(t)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Stop("run-1"); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if _, err := executor.Start("run-1"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := executor.Stop(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing, got %v", err)
	}
}

func TestRunExecutorStopWhileRunning(t *testing.T) {
	store, executor := newExecutor()
	cfg := tinyConfig(t)
	cfg.Session.DesignIterations = 5
	if _, err := store.Create("run-1", cfg); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	_, stopErr := executor.Stop("run-1")
	executor.Wait()

	final, _ := store.Get("run-1")
	switch {
	case stopErr == nil && final.Run.Status != StatusCancelled:
		t.Fatalf("expected CANCELLED after stop, got %s", final.Run.Status)
	case stopErr != nil && !errors.Is(stopErr, ErrRunTerminal):
		t.Fatalf("unexpected stop error: %v", stopErr)
	}
}

func TestRunExecutorMarksFailedDesign(t *testing.T) {
	store, executor := newExecutor()
	cfg := tinyConfig(t)
	// exp(800 t) overflows long before t = 10.
	cfg.Model.Params = []float64{800}
	cfg.Model.TrueParams = []float64{800}
	cfg.TimeGrid = config.TimeGridConfig{Start: 0, Stop: 10, Points: 20}
	cfg.Model.X0 = 1
	if _, err := store.Create("run-1", cfg); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	executor.Wait()

	final, _ := store.Get("run-1")
	if final.Run.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Run.Status)
	}
	if final.Run.Error == "" {
		t.Fatalf("expected error message")
	}
}

func TestRunExecutorShutdown(t *testing.T) {
	store, executor := newExecutor()
	if _, err := store.Create("run-1", tinyConfig(t)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := executor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

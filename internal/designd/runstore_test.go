package designd

import (
	"errors"
	"testing"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/config"
)

// tinyDesign runs in well under a second: one parameter, few particles, short chain.
const tinyDesign = `
model:
  name: exponential
  params: [1.0]
  true_params: [1.0]
protocol:
  family: constant
  params: [0.5]
time_grid:
  start: 0
  stop: 1
  points: 20
search:
  particles: 4
  iterations: 3
  seed: 3
inference:
  iterations: 150
  seed: 5
session:
  design_iterations: 1
  baseline: true
`

func tinyConfig(t *testing.T) *config.DesignConfig {
	t.Helper()
	cfg, err := config.ParseDesignYAMLString(tinyDesign)
	if err != nil {
		t.Fatalf("parse tiny design: %v", err)
	}
	return cfg
}

func TestRunStoreCreateGet(t *testing.T) {
	store := NewRunStore()
	rec, err := store.Create("", tinyConfig(t))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Run.ID == "" {
		t.Fatalf("expected generated run id")
	}
	if rec.Run.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", rec.Run.Status)
	}

	got, ok := store.Get(rec.Run.ID)
	if !ok {
		t.Fatalf("expected run to exist")
	}
	if got.Config == nil || got.Config.Model.Name != "exponential" {
		t.Fatalf("expected config to be stored")
	}

	if _, ok := store.Get("missing"); ok {
		t.Fatalf("expected missing run")
	}
}

func TestRunStoreCreateRejectsDuplicatesAndBadIDs(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("a", tinyConfig(t)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.Create("a", tinyConfig(t)); !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	if _, err := store.Create("a:b", tinyConfig(t)); err == nil {
		t.Fatalf("expected error for id containing ':'")
	}
	if _, err := store.Create("b", nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestRunStoreGetReturnsCopy(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("a", tinyConfig(t)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	rec, _ := store.Get("a")
	rec.Run.Status = StatusFailed

	again, _ := store.Get("a")
	if again.Run.Status != StatusPending {
		t.Fatalf("mutating a returned record changed the store: %s", again.Run.Status)
	}
}

func TestRunStoreStatusLifecycle(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("a", tinyConfig(t)); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rec, err := store.SetStatus("a", StatusRunning, "")
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if rec.Run.StartedAtUnixMs == 0 {
		t.Fatalf("expected started timestamp")
	}

	rec, err = store.SetStatus("a", StatusFailed, "boom")
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if rec.Run.EndedAtUnixMs == 0 || rec.Run.Error != "boom" {
		t.Fatalf("expected ended timestamp and error, got %+v", rec.Run)
	}

	if _, err := store.SetStatus("a", StatusCompleted, ""); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := store.SetStatus("missing", StatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreListFiltersAndPaginates(t *testing.T) {
	store := NewRunStore()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Create(id, tinyConfig(t)); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if _, err := store.SetStatus("b", StatusRunning, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	if got := store.List(0, 0, ""); len(got) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(got))
	}
	if got := store.List(2, 0, ""); len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
	if got := store.List(10, 5, ""); len(got) != 0 {
		t.Fatalf("expected empty page, got %d", len(got))
	}
	running := store.List(10, 0, StatusRunning)
	if len(running) != 1 || running[0].Run.ID != "b" {
		t.Fatalf("expected only run b, got %+v", running)
	}
}

func TestParseRunStatus(t *testing.T) {
	if ParseRunStatus("running") != StatusRunning {
		t.Fatalf("expected case-insensitive parse")
	}
	if ParseRunStatus("bogus") != "" {
		t.Fatalf("expected empty status for unknown input")
	}
	if !StatusCancelled.Terminal() || StatusRunning.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
}

// Package designd serves experiment design runs over HTTP and gRPC.
package designd

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/experiment-design/internal/session"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/config"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

// RunStatus is the lifecycle status of a design run.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseRunStatus parses a status filter, case-insensitively. Unknown values return "".
func ParseRunStatus(s string) RunStatus {
	switch st := RunStatus(strings.ToUpper(s)); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st
	}
	return ""
}

// Progress is the latest position of a running design loop.
type Progress struct {
	State           session.State `json:"state,omitempty"`
	DesignIteration int           `json:"design_iteration"`
	SwarmIteration  int           `json:"swarm_iteration"`
	BestScore       float64       `json:"best_score"`
}

// DesignRun is the externally visible state of a run.
type DesignRun struct {
	ID              string    `json:"id"`
	Status          RunStatus `json:"status"`
	CreatedAtUnixMs int64     `json:"created_at_unix_ms"`
	StartedAtUnixMs int64     `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64     `json:"ended_at_unix_ms,omitempty"`
	Error           string    `json:"error,omitempty"`
	Progress        Progress  `json:"progress"`
}

// RunRecord couples a run with its validated config and, once finished, its report.
type RunRecord struct {
	Run    DesignRun            `json:"run"`
	Config *config.DesignConfig `json:"-"`
	Report *session.Report      `json:"report,omitempty"`
}

// RunStore is an in-memory registry of design runs. Getters return copies.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

func (r *RunRecord) clone() *RunRecord {
	out := *r
	return &out
}

// Create registers a pending run. An empty runID is generated.
func (s *RunStore) Create(runID string, cfg *config.DesignConfig) (*RunRecord, error) {
	if cfg == nil {
		return nil, fmt.Errorf("design config is required")
	}
	if strings.ContainsAny(runID, "/:") {
		return nil, fmt.Errorf("run id cannot contain '/' or ':': %s", runID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = utils.GenerateSessionID()
	}
	if _, exists := s.runs[runID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: DesignRun{
			ID:              runID,
			Status:          StatusPending,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Config: cfg,
	}
	s.runs[runID] = rec
	return rec.clone(), nil
}

func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns up to limit runs, oldest first, skipping offset and keeping only runs
// with the given status when status is non-empty.
func (s *RunStore) List(limit, offset int, status RunStatus) []*RunRecord {
	s.mu.RLock()
	all := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if status == "" || rec.Run.Status == status {
			all = append(all, rec.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Run.CreatedAtUnixMs != all[j].Run.CreatedAtUnixMs {
			return all[i].Run.CreatedAtUnixMs < all[j].Run.CreatedAtUnixMs
		}
		return all[i].Run.ID < all[j].Run.ID
	})

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 || offset >= len(all) {
		return []*RunRecord{}
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// SetStatus moves a run to status. Terminal runs cannot change status.
func (s *RunStore) SetStatus(runID string, status RunStatus, errMsg string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, rec.Run.Status)
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
	}
	switch status {
	case StatusRunning:
		if rec.Run.StartedAtUnixMs == 0 {
			rec.Run.StartedAtUnixMs = nowUnixMs()
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		rec.Run.EndedAtUnixMs = nowUnixMs()
	}
	return rec.clone(), nil
}

// UpdateProgress applies fn to the run's progress.
func (s *RunStore) UpdateProgress(runID string, fn func(*Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.runs[runID]; ok {
		fn(&rec.Run.Progress)
	}
}

func (s *RunStore) SetReport(runID string, report *session.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Report = report
	return nil
}

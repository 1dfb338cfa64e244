package designd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/config"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
)

// maxConfigBytes bounds the size of a posted design YAML document.
const maxConfigBytes = 1 << 20

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
}

// NewHTTPServer wires the design API. When gatherer is non-nil its metrics are served
// on /metrics.
func NewHTTPServer(store *RunStore, executor *RunExecutor, gatherer prometheus.Gatherer) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/designs", s.handleDesigns)
	s.mux.HandleFunc("/v1/designs/", s.handleDesignByID)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDesigns handles /v1/designs
func (s *HTTPServer) handleDesigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateDesign(w, r)
	case http.MethodGet:
		s.handleListDesigns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleDesignByID handles /v1/designs/{id}, {id}:start and {id}:stop
func (s *HTTPServer) handleDesignByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/designs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	if id, action, ok := strings.Cut(path, ":"); ok {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch action {
		case "start":
			s.handleStartDesign(w, id)
		case "stop":
			s.handleStopDesign(w, id)
		default:
			s.writeError(w, http.StatusNotFound, "unknown action: "+action)
		}
		return
	}

	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleGetDesign(w, path)
}

// handleCreateDesign handles POST /v1/designs. The body is a design YAML document;
// ?id= sets the run ID and ?start=true starts it immediately.
func (s *HTTPServer) handleCreateDesign(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cfg, err := config.ParseDesignYAML(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid design: "+err.Error())
		return
	}

	rec, err := s.store.Create(r.URL.Query().Get("id"), cfg)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunExists):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	logger.Info("design run created (HTTP)", "run_id", rec.Run.ID)

	if start, _ := strconv.ParseBool(r.URL.Query().Get("start")); start {
		if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"run": rec.Run})
}

// handleListDesigns handles GET /v1/designs?limit=&offset=&status=
func (s *HTTPServer) handleListDesigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if parsed, err := strconv.Atoi(q.Get("limit")); err == nil && parsed > 0 {
		limit = min(parsed, 1000)
	}
	offset := 0
	if parsed, err := strconv.Atoi(q.Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}
	var status RunStatus
	if raw := q.Get("status"); raw != "" {
		if status = ParseRunStatus(raw); status == "" {
			s.writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
	}

	recs := s.store.List(limit, offset, status)
	runs := make([]DesignRun, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(runs),
		},
	})
}

// handleGetDesign handles GET /v1/designs/{id}
func (s *HTTPServer) handleGetDesign(w http.ResponseWriter, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleStartDesign handles POST /v1/designs/{id}:start
func (s *HTTPServer) handleStartDesign(w http.ResponseWriter, runID string) {
	updated, err := s.Executor.Start(runID)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	logger.Info("design run started (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

// handleStopDesign handles POST /v1/designs/{id}:stop
func (s *HTTPServer) handleStopDesign(w http.ResponseWriter, runID string) {
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	logger.Info("design run cancelled (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrRunIDMissing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mkaravia/gridcast/internal/forecast"
	"github.com/mkaravia/gridcast/internal/orchestrator"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// handleSubmitJob accepts a forecast configuration and starts a job.
// Responds 202 with polling handles, 400 with the full validation error
// list, or 429 when the concurrency ceiling is reached.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var cfg forecast.JobConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	jobID, err := s.orchestrator.Submit(&cfg)
	if err != nil {
		var verrs orchestrator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"errors": verrs,
			})
		case errors.Is(err, orchestrator.ErrTooManyJobs):
			s.writeError(w, http.StatusTooManyRequests, "too many concurrent jobs, retry later")
		default:
			s.log.Error().Err(err).Msg("Job submission failed")
			s.writeError(w, http.StatusInternalServerError, "job submission failed")
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"status_url": fmt.Sprintf("/api/forecast/jobs/%s", jobID),
		"cancel_url": fmt.Sprintf("/api/forecast/jobs/%s/cancel", jobID),
	})
}

// handleGetJob returns the enriched job snapshot, or 404 for unknown or
// expired ids.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	view, ok := s.manager.GetJob(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleCancelJob requests cooperative cancellation. 409 when the job is
// not cancellable (unknown or already terminal).
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.manager.CancelJob(jobID) {
		s.writeError(w, http.StatusConflict, "job is not cancellable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    jobID,
		"cancelled": true,
	})
}

// handleJobsSummary returns the aggregate job statistics.
func (s *Server) handleJobsSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.GetJobsSummary())
}

// handleGetScenario returns the persisted artifacts of a named scenario.
func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	scenario := chi.URLParam(r, "scenario")
	artifacts, err := s.orchestrator.LoadScenario(scenario)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("scenario %q not found", scenario))
		return
	}
	s.writeJSON(w, http.StatusOK, artifacts)
}

// handleGetSectorResult returns one sector's persisted result document.
func (s *Server) handleGetSectorResult(w http.ResponseWriter, r *http.Request) {
	scenario := chi.URLParam(r, "scenario")
	sector := chi.URLParam(r, "sector")
	doc, err := s.orchestrator.LoadSectorResultFor(scenario, sector)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "sector result not found")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleHistory returns recent finished runs across all scenarios.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "run history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	records, err := s.history.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load run history")
		s.writeError(w, http.StatusInternalServerError, "failed to load run history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

// handleHistoryByScenario returns all recorded runs of one scenario.
func (s *Server) handleHistoryByScenario(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "run history is disabled")
		return
	}
	scenario := chi.URLParam(r, "scenario")
	records, err := s.history.ByScenario(scenario)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load run history")
		s.writeError(w, http.StatusInternalServerError, "failed to load run history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scenario": scenario, "runs": records})
}

// handleSystemStatus reports host and engine health for dashboards.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"active_jobs": s.manager.ActiveJobs(),
		"goroutines":  runtime.NumGoroutine(),
		"go_version":  runtime.Version(),
		"time":        time.Now().UTC(),
	}
	if info, err := host.Info(); err == nil {
		status["hostname"] = info.Hostname
		status["platform"] = info.Platform
		status["uptime_seconds"] = info.Uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_used_percent"] = vm.UsedPercent
		status["memory_total_mb"] = vm.Total / 1024 / 1024
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

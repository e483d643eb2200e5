package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/store"
)

const defaultPageSize = 50

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	stats.ActiveJobs = s.jobs.ActiveJobs()
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.store.ListJobs(limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	jobRow, err := s.store.GetJob(jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tasks, err := s.store.GetJobTasks(jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": jobRow, "tasks": tasks})
}

// handleJobCheckpoints reports per-task checkpoint progress for one job
func (s *Server) handleJobCheckpoints(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := s.store.GetJob(jobID); err != nil {
		s.writeError(w, err)
		return
	}
	tasks, err := s.store.GetJobTasks(jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	infos := make([]checkpoint.Info, 0, len(tasks))
	for _, task := range tasks {
		if !task.Checkpoint.HasBase() {
			continue
		}
		info, err := s.checkpoints.LatestCheckpointInfo(task.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("checkpoint info lookup failed")
			continue
		}
		infos = append(infos, info)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "checkpoints": infos})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.store.ListWorkers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var recent []*events.Event
	if s.ring != nil {
		recent = s.ring.Recent()
	}
	if recent == nil {
		recent = []*events.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": recent})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if store.IsNotFound(err) {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

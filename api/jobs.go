package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/store"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if fields := validateJobRequest(req); len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	id, err := job.GenerateID()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Runner, "failed to generate job id", err))
		return
	}

	j := &job.Job{
		ID:              id,
		Command:         req.Command,
		ArtifactID:      req.ArtifactID,
		Priority:        req.Priority,
		NumGPUs:         req.NumGPUs,
		GPUIdxs:         req.GPUIdxs,
		IgnoreBlacklist: req.IgnoreBlacklist,
		Status:          job.Queued,
		CreatedAt:       time.Now(),
		Env:             req.Env,
		Jobrc:           req.Jobrc,
		Integrations:    req.Integrations,
		Notifications:   req.Notifications,
		User:            req.User,
		GitRepoURL:      req.GitRepoURL,
		GitBranch:       req.GitBranch,
	}
	if req.SearchWandb {
		j.Integrations = append(j.Integrations, "wandb")
	}

	if err := s.Store.AddJob(r.Context(), j); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{CommandRegex: q.Get("command_regex")}
	if statusParam := q.Get("status"); statusParam != "" {
		status, err := job.ParseStatus(statusParam)
		if err != nil {
			writeBadRequest(w, "invalid status: "+statusParam)
			return
		}
		filter.Status = status
	}
	if idxParam := q.Get("gpu_idx"); idxParam != "" {
		idx, err := strconv.Atoi(idxParam)
		if err != nil {
			writeBadRequest(w, "invalid gpu_idx: "+idxParam)
			return
		}
		filter.GPUIdx = &idx
	}
	if filter.CommandRegex != "" {
		if _, err := regexp.Compile(filter.CommandRegex); err != nil {
			writeValidationError(w, map[string]string{"command_regex": "invalid regular expression"})
			return
		}
	}

	jobs, err := s.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	j, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type patchJobRequest struct {
	Command  *string `json:"command,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// handlePatchJob updates command/priority on a queued job only, per
// spec §4.F; a non-queued job yields 400.
func (s *Server) handlePatchJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req patchJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	var result *job.Job
	err := s.Store.WithTx(r.Context(), func(ctx context.Context, tx store.Store) error {
		j, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if j.Status != job.Queued {
			return apperr.New(apperr.InvalidState, "job "+id+" is not queued")
		}
		if req.Command != nil {
			j.Command = *req.Command
		}
		if req.Priority != nil {
			j.Priority = *req.Priority
		}
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		result = j
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDeleteJob removes a queued job, also removing its artifact if
// unreferenced afterwards, per spec §4.F. DeleteQueuedJob performs
// both steps, inside the request's transaction.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.Store.WithTx(r.Context(), func(ctx context.Context, tx store.Store) error {
		return tx.DeleteQueuedJob(ctx, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleKillJob marks a running job for termination; the scheduler
// observes marked_for_kill on its next tick and actually kills the
// process, per spec §4.F/§5.
func (s *Server) handleKillJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.Store.WithTx(r.Context(), func(ctx context.Context, tx store.Store) error {
		j, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if j.Status != job.Running {
			return apperr.New(apperr.InvalidState, "job "+id+" is not running")
		}
		j.MarkedForKill = true
		return tx.UpdateJob(ctx, j)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobLogsResponse struct {
	Logs string `json:"logs"`
}

// handleJobLogs returns the job's output.log contents, or an empty
// string if the job has not produced one yet.
func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	j, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if j.Dir == "" {
		writeJSON(w, http.StatusOK, jobLogsResponse{})
		return
	}
	content, err := os.ReadFile(filepath.Join(j.Dir, "output.log"))
	if err != nil {
		writeJSON(w, http.StatusOK, jobLogsResponse{})
		return
	}
	writeJSON(w, http.StatusOK, jobLogsResponse{Logs: string(content)})
}

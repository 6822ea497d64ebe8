package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/store"
)

// handleListGPUs returns the local GPU inventory snapshot.
func (s *Server) handleListGPUs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	running, err := s.Store.ListJobs(ctx, store.ListFilter{Status: job.Running})
	if err != nil {
		writeError(w, err)
		return
	}
	var runningHere []gpuinfo.RunningJob
	for _, j := range running {
		if j.Node != s.Node {
			continue
		}
		for _, idx := range j.GPUIdxsAssigned {
			runningHere = append(runningHere, gpuinfo.RunningJob{GPUIdx: idx, JobID: j.ID})
		}
	}
	blacklist, err := s.Store.ListBlacklist(ctx, s.Node)
	if err != nil {
		writeError(w, err)
		return
	}
	gpus, err := s.GPUs.List(ctx, runningHere, blacklist)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gpus)
}

type blacklistResponse struct {
	Changed bool `json:"changed"`
}

func parseGPUIdx(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(mux.Vars(r)["idx"])
	if err != nil {
		writeBadRequest(w, "invalid gpu index")
		return 0, false
	}
	return idx, true
}

// handleAddBlacklist idempotently blacklists a GPU index on this
// node, reporting whether the entry was newly added.
func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseGPUIdx(w, r)
	if !ok {
		return
	}
	changed, err := s.Store.AddBlacklist(r.Context(), s.Node, idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blacklistResponse{Changed: changed})
}

// handleRemoveBlacklist idempotently un-blacklists a GPU index.
func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseGPUIdx(w, r)
	if !ok {
		return
	}
	changed, err := s.Store.RemoveBlacklist(r.Context(), s.Node, idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blacklistResponse{Changed: changed})
}

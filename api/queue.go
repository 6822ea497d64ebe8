package api

import (
	"net/http"

	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/scheduler"
	"github.com/nexuscluster/nexus/store"
)

// handleQueue returns queued jobs ordered the way the scheduler would
// consider them: highest priority first, ties broken by creation time.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.ListJobs(r.Context(), store.ListFilter{Status: job.Queued})
	if err != nil {
		writeError(w, err)
		return
	}
	scheduler.SortQueue(jobs)
	writeJSON(w, http.StatusOK, jobs)
}

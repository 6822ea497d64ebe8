package api

import (
	"net/http"
	"os"
	"time"

	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/store"
)

type serverStatusResponse struct {
	Node        string         `json:"node"`
	Version     string         `json:"version"`
	UptimeSecs  float64        `json:"uptime_seconds"`
	JobsByState map[string]int `json:"jobs_by_state"`
	GPUCount    int            `json:"gpu_count"`
}

// handleServerStatus reports this node's identity, version, uptime,
// job counts by status, and local GPU count, per spec §4.F.
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts := map[string]int{}
	for _, status := range []job.Status{job.Queued, job.Running, job.Completed, job.Failed, job.Killed} {
		jobs, err := s.Store.ListJobs(ctx, store.ListFilter{Status: status})
		if err != nil {
			writeError(w, err)
			return
		}
		counts[status.String()] = len(jobs)
	}

	blacklist, err := s.Store.ListBlacklist(ctx, s.Node)
	if err != nil {
		writeError(w, err)
		return
	}
	gpus, err := s.GPUs.List(ctx, nil, blacklist)
	if err != nil {
		writeError(w, err)
		return
	}

	uptime := 0.0
	if !s.StartedAt.IsZero() {
		uptime = time.Since(s.StartedAt).Seconds()
	}

	writeJSON(w, http.StatusOK, serverStatusResponse{
		Node:        s.Node,
		Version:     s.Version,
		UptimeSecs:  uptime,
		JobsByState: counts,
		GPUCount:    len(gpus),
	})
}

const serverLogsTail = 64 * 1024

// handleServerLogs returns the tail of the file named by s.LogFile, or
// an empty string if none is configured / readable, mirroring the
// best-effort semantics of handleJobLogs. The daemon's own logger
// writes to stdout, not to this file.
func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request) {
	if s.LogFile == "" {
		writeJSON(w, http.StatusOK, jobLogsResponse{})
		return
	}
	f, err := os.Open(s.LogFile)
	if err != nil {
		writeJSON(w, http.StatusOK, jobLogsResponse{})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSON(w, http.StatusOK, jobLogsResponse{})
		return
	}
	var offset int64
	if info.Size() > serverLogsTail {
		offset = info.Size() - serverLogsTail
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		writeJSON(w, http.StatusOK, jobLogsResponse{})
		return
	}
	writeJSON(w, http.StatusOK, jobLogsResponse{Logs: string(buf)})
}

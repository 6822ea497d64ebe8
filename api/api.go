// Package api exposes the daemon's HTTP/JSON surface described in
// spec §4.F. Routing follows ClusterCockpit-cc-backend's RestApi
// pattern: a struct holding the server's dependencies, a MountRoutes
// method wiring gorilla/mux, and handlers/CustomLoggingHandler plus
// handlers/RecoveryHandler wrapping the router for access logging and
// panic recovery.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/metrics"
	"github.com/nexuscluster/nexus/notify"
	"github.com/nexuscluster/nexus/runner"
	"github.com/nexuscluster/nexus/store"
	"github.com/nexuscluster/nexus/tracker"
)

// Server holds every dependency the HTTP surface needs to serve a
// request. Handlers hang off Server as methods, mirroring
// ClusterCockpit-cc-backend's RestApi.
type Server struct {
	Store     store.Store
	Runner    *runner.Runner
	GPUs      gpuinfo.Source
	Notifier  notify.Hook
	Tracker   tracker.Hook
	Metrics   *metrics.Collector
	Node      string
	Version   string
	APIKey    string
	LogFile   string
	StartedAt time.Time

	Log *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Router builds the full mux.Router, with auth middleware applied to
// every route except /v1/health, and access logging and panic recovery
// wrapping the whole router.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	secured := v1.PathPrefix("/").Subrouter()
	secured.Use(s.authMiddleware)

	secured.HandleFunc("/server/status", s.handleServerStatus).Methods(http.MethodGet)
	secured.HandleFunc("/server/logs", s.handleServerLogs).Methods(http.MethodGet)

	secured.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	secured.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	secured.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	secured.HandleFunc("/jobs/{id}", s.handlePatchJob).Methods(http.MethodPatch)
	secured.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods(http.MethodDelete)
	secured.HandleFunc("/jobs/{id}/logs", s.handleJobLogs).Methods(http.MethodGet)
	secured.HandleFunc("/jobs/{id}/kill", s.handleKillJob).Methods(http.MethodPost)

	secured.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)

	secured.HandleFunc("/gpus", s.handleListGPUs).Methods(http.MethodGet)
	secured.HandleFunc("/gpus/{idx}/blacklist", s.handleAddBlacklist).Methods(http.MethodPut)
	secured.HandleFunc("/gpus/{idx}/blacklist", s.handleRemoveBlacklist).Methods(http.MethodDelete)

	secured.HandleFunc("/artifacts", s.handleCreateArtifact).Methods(http.MethodPost)

	secured.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)

	logged := handlers.CustomLoggingHandler(logWriter{s.logger()}, r, accessLogFormatter)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)
}

func accessLogFormatter(w io.Writer, params handlers.LogFormatterParams) {
	slog.Default().Info("request",
		"method", params.Request.Method,
		"uri", params.URL.RequestURI(),
		"status", params.StatusCode,
		"size", params.Size,
	)
}

// logWriter adapts slog to the io.Writer CustomLoggingHandler wants;
// actual formatting happens in accessLogFormatter, so writes here are
// no-ops kept only to satisfy the gorilla/handlers signature.
type logWriter struct{ log *slog.Logger }

func (logWriter) Write(p []byte) (int, error) { return len(p), nil }

// errorBody is the structured JSON error shape every endpoint returns
// on failure, per spec §4.F: "{error, message, status_code, …}".
type errorBody struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// metricsHandler refreshes the collector's gauges from current store
// and GPU state, then delegates to the standard Prometheus exposition
// handler, so a scrape never sees stale numbers.
func (s *Server) metricsHandler() http.Handler {
	promHandler := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics != nil {
			if err := s.Metrics.Refresh(r.Context()); err != nil {
				s.logger().Warn("metrics refresh failed", "error", err)
			}
		}
		promHandler.ServeHTTP(w, r)
	})
}

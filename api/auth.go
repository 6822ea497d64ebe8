package api

import (
	"net/http"
	"strings"

	"github.com/nexuscluster/nexus/apperr"
)

// authMiddleware enforces the shared bearer credential spec §6
// describes; it guards every route except /v1/health.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, apperr.New(apperr.Auth, "missing bearer credential"))
			return
		}
		if token != s.APIKey {
			writeError(w, apperr.New(apperr.Auth, "invalid bearer credential"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

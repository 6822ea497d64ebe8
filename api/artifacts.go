package api

import (
	"io"
	"net/http"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/job"
)

type artifactResponse struct {
	Data string `json:"data"`
}

// handleCreateArtifact stores the raw request body as a new artifact
// under a freshly generated id (not derived from the content) and
// returns that id, per spec
// §4.B ("the API layer assigns the id; PutArtifact never invents one
// itself").
func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeValidationError(w, map[string]string{"body": "artifact payload must not be empty"})
		return
	}

	id, err := job.GenerateID()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Store, "failed to generate artifact id", err))
		return
	}
	if err := s.Store.PutArtifact(r.Context(), id, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifactResponse{Data: id})
}

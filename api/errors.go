package api

import (
	"errors"
	"net/http"

	"github.com/nexuscluster/nexus/apperr"
)

// statusForKind is the single table mapping an apperr.Kind to its
// stable HTTP status, replacing the ad-hoc exception-to-HTTP mapping
// the spec's REDESIGN FLAGS call out.
var statusForKind = map[apperr.Kind]int{
	apperr.Validation:   http.StatusUnprocessableEntity,
	apperr.NotFound:      http.StatusNotFound,
	apperr.InvalidState:  http.StatusBadRequest,
	apperr.Store:         http.StatusInternalServerError,
	apperr.GPU:           http.StatusInternalServerError,
	apperr.Runner:        http.StatusInternalServerError,
	apperr.Notification:  http.StatusInternalServerError,
	apperr.Auth:          http.StatusUnauthorized,
}

// writeError maps err to its HTTP status and writes the structured
// body every endpoint returns on failure.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	kind := apperr.Store
	message := err.Error()
	if errors.As(err, &appErr) {
		kind = appErr.Kind
		message = appErr.Message
	}
	status, ok := statusForKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{
		Error:      string(kind),
		Message:    message,
		StatusCode: status,
	})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorBody{
		Error:      string(apperr.Validation),
		Message:    "validation failed",
		StatusCode: http.StatusUnprocessableEntity,
		Fields:     fields,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:      "bad_request",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	})
}

// internal/controller/responses.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
)

// envelope is the uniform response shape for every external operation.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respond(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}

// failMapped picks the status code from the error kind: validation and
// transition problems are the caller's fault, everything else is ours.
func failMapped(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		fail(w, http.StatusUnprocessableEntity, err)
	default:
		var nf *appErrors.ErrCampaignNotFound
		if errors.As(err, &nf) {
			fail(w, http.StatusNotFound, err)
			return
		}
		fail(w, http.StatusInternalServerError, err)
	}
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/modelserver/internal/core/domain"
)

type errorEnvelope struct {
	Error *domain.APIError `json:"error"`
}

// writeError answers with the JSON error envelope and records the failure on
// the request log line.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.ToAPIError(err)
	AddError(r.Context(), err)
	AddLogField(r.Context(), "error_type", string(apiErr.Type))
	AddLogField(r.Context(), "stage", apiErr.Stage)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(apiErr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiErr})
}

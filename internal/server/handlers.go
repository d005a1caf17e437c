package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tjfontaine/modelserver/internal/core/domain"
)

// WelcomeMessage is the body of GET /.
const WelcomeMessage = "Welcome to ModelServer!"

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, WelcomeMessage)
}

// handlePredict decodes one record, runs it through the pipeline and answers
// with the prediction's string form as a JSON string.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, r, &domain.DecodeError{Err: err})
		return
	}

	rec, err := domain.ParseRecord(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	pred, err := s.runner.Run(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := json.Marshal(pred.String())
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

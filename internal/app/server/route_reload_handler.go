package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"geoipd/internal/jobs/runtime"
)

func (s *server) triggerReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, "reload is not available", http.StatusServiceUnavailable)
		return
	}

	// the run continues after this response is written
	ctx := context.WithoutCancel(r.Context())
	err := s.reload(ctx, "api")
	switch {
	case errors.Is(err, runtime.ErrJobRunning):
		writeError(w, "an ingestion job is already running", http.StatusConflict)
	case err != nil:
		log.Error("Failed to start reload", "error", err)
		writeError(w, "failed to start reload", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

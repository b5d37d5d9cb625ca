package server

import (
	"net/http"

	"github.com/charmbracelet/log"

	"geoipd/internal/app/version"
)

func getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	if s.instances != nil {
		if count, err := s.instances(r.Context()); err == nil {
			payload["instances"] = count
		} else {
			log.Debug("Instance count unavailable", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

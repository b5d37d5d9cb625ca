package server

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"geoipd/internal/database"
	"geoipd/internal/geolite"
	"geoipd/internal/metrics"
)

func (s *server) lookup(w http.ResponseWriter, r *http.Request) {
	s.respondLookup(w, r, r.PathValue("ip"))
}

// lookupClient resolves the caller's own address.
func (s *server) lookupClient(w http.ResponseWriter, r *http.Request) {
	s.respondLookup(w, r, clientIP(r))
}

func (s *server) respondLookup(w http.ResponseWriter, r *http.Request, ip string) {
	result, err := s.locator.Lookup(r.Context(), ip, r.URL.Query().Get("lang"))
	switch {
	case errors.Is(err, geolite.ErrInvalidIP):
		metrics.ObserveLookup("http", "invalid")
		writeError(w, "invalid IPv4 address", http.StatusBadRequest)
	case errors.Is(err, database.ErrNotFound):
		metrics.ObserveLookup("http", "not_found")
		writeError(w, "address not found", http.StatusNotFound)
	case err != nil:
		metrics.ObserveLookup("http", "error")
		log.Error("Lookup failed", "ip", ip, "error", err)
		writeError(w, "lookup failed", http.StatusInternalServerError)
	default:
		metrics.ObserveLookup("http", "found")
		writeJSON(w, http.StatusOK, result)
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoipd/internal/auth"
	gqlschema "geoipd/internal/graphql"
	"geoipd/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Options wires the handlers to the lookup path and the reload trigger.
// Reload may be nil, in which case POST /reload answers 503. Instances is
// optional and adds the number of live serve instances to /health.
type Options struct {
	Locator   gqlschema.Locator
	Reload    func(ctx context.Context, reason string) error
	Instances func(ctx context.Context) (int, error)
}

type server struct {
	locator   gqlschema.Locator
	reload    func(ctx context.Context, reason string) error
	instances func(ctx context.Context) (int, error)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter registers every route and returns the CORS-wrapped handler.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Locator == nil {
		return nil, errors.New("server: locator is required")
	}
	metrics.Init()

	s := &server{locator: opts.Locator, reload: opts.Reload, instances: opts.Instances}

	graphQL, err := newGraphQLHandler(opts.Locator)
	if err != nil {
		return nil, fmt.Errorf("server: graphql schema: %w", err)
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /lookup", s.lookupClient)
	router.HandleFunc("GET /lookup/{ip}", s.lookup)
	router.Handle("POST /graphql", graphQL)
	router.Handle("POST /reload", auth.IsAdmin(http.HandlerFunc(s.triggerReload)))
	router.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	router.HandleFunc("GET /version", getVersion)
	router.HandleFunc("GET /health", s.health)

	log.Debug("Routes opened")
	return enableCORS(router), nil
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting geoipd server", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"geoipd/internal/auth"
	"geoipd/internal/database"
	"geoipd/internal/domain"
	"geoipd/internal/geolite"
	"geoipd/internal/jobs/runtime"
)

type stubResolver struct{}

func (stubResolver) LookupIP(_ context.Context, ip uint32, lang string) (*domain.GeoIP, error) {
	if ip>>8 != 0x010203 {
		return nil, database.ErrNotFound
	}
	id := uint64(10)
	country := "FR"
	result := &domain.GeoIP{
		Block:    domain.Block{StartIP: 0x01020300, EndIP: 0x010203FF, Network: "1.2.3.0/24", LocationID: &id},
		Location: &domain.Location{ID: id, CountryCode: &country},
	}
	if lang == "de" {
		name := "Frankreich"
		result.Names = &domain.LocationNames{Language: lang, Country: &name}
	}
	return result, nil
}

func newTestRouter(t *testing.T, reload func(context.Context, string) error) http.Handler {
	t.Helper()
	locator, err := geolite.NewLocator(stubResolver{}, 16)
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	router, err := NewRouter(Options{Locator: locator, Reload: reload})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func TestLookupRoute(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"found", "/lookup/1.2.3.200", http.StatusOK},
		{"not found", "/lookup/1.2.5.1", http.StatusNotFound},
		{"invalid", "/lookup/1.2.3", http.StatusBadRequest},
		{"ipv6", "/lookup/::1", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}

func TestLookupRouteBody(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lookup/1.2.3.4?lang=de", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body domain.GeoIP
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.IP != "1.2.3.4" || body.Block.Network != "1.2.3.0/24" {
		t.Fatalf("body = %+v", body)
	}
	if body.Names == nil || body.Names.Country == nil || *body.Names.Country != "Frankreich" {
		t.Fatalf("names = %+v", body.Names)
	}
}

func TestLookupRouteUsesClientAddress(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/lookup", nil)
	req.RemoteAddr = "1.2.3.9:5555"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/lookup", nil)
	req.Header.Set("X-Forwarded-For", "1.2.9.9, 1.2.3.9")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("forwarded status = %d, want 404", rec.Code)
	}
}

func TestGraphQLRoute(t *testing.T) {
	router := newTestRouter(t, nil)

	payload := `{"query":"{ lookup(ip: \"1.2.3.4\", lang: \"de\") { network names { country } } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data struct {
			Lookup struct {
				Network string `json:"network"`
				Names   struct {
					Country string `json:"country"`
				} `json:"names"`
			} `json:"lookup"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Errors) > 0 || body.Data.Lookup.Network != "1.2.3.0/24" || body.Data.Lookup.Names.Country != "Frankreich" {
		t.Fatalf("body = %+v", body)
	}
}

func TestReloadRoute(t *testing.T) {
	t.Setenv("GEOIPD_JWT_SECRET", "test-secret")
	admin, err := auth.GenerateJWT("ops", auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		reload func(context.Context, string) error
		status int
	}{
		{"no token", "", func(context.Context, string) error { return nil }, http.StatusUnauthorized},
		{"started", admin, func(context.Context, string) error { return nil }, http.StatusAccepted},
		{"already running", admin, func(context.Context, string) error {
			return &geolite.StageError{Stage: geolite.StageLock, Err: runtime.ErrJobRunning}
		}, http.StatusConflict},
		{"failure", admin, func(context.Context, string) error { return fmt.Errorf("boom") }, http.StatusInternalServerError},
		{"disabled", admin, nil, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(t, tc.reload)
			req := httptest.NewRequest(http.MethodPost, "/reload", bytes.NewReader(nil))
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}
}

func TestOperationalRoutes(t *testing.T) {
	router := newTestRouter(t, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/lookup/1.2.3.4", nil))

	for _, path := range []string{"/health", "/version", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "geoipd_lookup_requests_total") {
		t.Fatal("metrics output misses lookup counter")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHealthReportsInstances(t *testing.T) {
	locator, err := geolite.NewLocator(stubResolver{}, 0)
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	router, err := NewRouter(Options{
		Locator:   locator,
		Instances: func(context.Context) (int, error) { return 3, nil },
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Status    string `json:"status"`
		Instances int    `json:"instances"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Instances != 3 {
		t.Fatalf("health = %+v", body)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadSettingsCreatesDefaults(t *testing.T) {
	origCfg := GetConfig()
	origPath := settingsFilePath
	t.Cleanup(func() {
		configValue.Store(origCfg)
		settingsFilePath = origPath
	})

	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	SetSettingsPath(path)

	if err := ReadSettings(); err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file was not created: %v", err)
	}

	cfg := GetConfig()
	if cfg.DefaultStore != DefaultStoreAlias {
		t.Fatalf("default store = %q, want %q", cfg.DefaultStore, DefaultStoreAlias)
	}
	if cfg.GeoLite.BatchSize != DefaultBatchSize {
		t.Fatalf("batch size = %d, want %d", cfg.GeoLite.BatchSize, DefaultBatchSize)
	}
}

func TestReadSettingsInvalidJSON(t *testing.T) {
	origPath := settingsFilePath
	t.Cleanup(func() { settingsFilePath = origPath })

	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	SetSettingsPath(path)

	if err := ReadSettings(); err == nil {
		t.Fatal("expected error for malformed settings file")
	}
}

func TestResolveStore(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	cfg := Config{
		DefaultStore: "MAIN",
		Stores: map[string]StoreConfig{
			"MAIN":  {DSN: "postgres://main"},
			"Other": {DSN: "sqlite://other.db"},
			"EMPTY": {},
		},
	}
	configValue.Store(cfg)

	tests := []struct {
		name    string
		alias   string
		want    string
		wantErr error
	}{
		{name: "default alias", alias: "", want: "postgres://main"},
		{name: "case insensitive", alias: "other", want: "sqlite://other.db"},
		{name: "unknown alias", alias: "missing", wantErr: ErrUnknownStore},
		{name: "empty dsn", alias: "EMPTY", wantErr: ErrUnknownStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveStore(tt.alias)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveStore(%q) error = %v, want %v", tt.alias, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveStore(%q): %v", tt.alias, err)
			}
			if got.DSN != tt.want {
				t.Fatalf("ResolveStore(%q) = %q, want %q", tt.alias, got.DSN, tt.want)
			}
		})
	}
}

func TestResolveStoreEnvOverride(t *testing.T) {
	t.Setenv("GEOIPD_DSN", "sqlite://override.db")

	got, err := ResolveStore("does-not-matter")
	if err != nil {
		t.Fatalf("ResolveStore: %v", err)
	}
	if got.DSN != "sqlite://override.db" {
		t.Fatalf("ResolveStore returned %q, want env override", got.DSN)
	}
}

func TestGeoLiteSourceURLFillsLicenseKey(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	cfg := Config{}
	cfg.GeoLite.SourceURL = "https://example.test/download?key={license_key}"
	cfg.GeoLite.LicenseKey = "from-settings"
	configValue.Store(cfg)

	if got := GeoLiteSourceURL(); got != "https://example.test/download?key=from-settings" {
		t.Fatalf("GeoLiteSourceURL returned %q", got)
	}

	t.Setenv("GEOIPD_LICENSE_KEY", "from-env")
	if got := GeoLiteSourceURL(); got != "https://example.test/download?key=from-env" {
		t.Fatalf("GeoLiteSourceURL returned %q with env override", got)
	}
}

func TestGeoLiteSourceReady(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })
	t.Setenv("GEOIPD_LICENSE_KEY", "")

	cfg := Config{}
	configValue.Store(cfg)
	if GeoLiteSourceReady() {
		t.Fatal("empty source reported ready")
	}

	cfg.GeoLite.SourceURL = "https://example.test/download?key={license_key}"
	configValue.Store(cfg)
	if GeoLiteSourceReady() {
		t.Fatal("source without license key reported ready")
	}

	cfg.GeoLite.LicenseKey = "abc"
	configValue.Store(cfg)
	if !GeoLiteSourceReady() {
		t.Fatal("source with license key reported not ready")
	}

	cfg.GeoLite.SourceURL = "/srv/geo/GeoLite2-City-CSV.zip"
	cfg.GeoLite.LicenseKey = ""
	configValue.Store(cfg)
	if !GeoLiteSourceReady() {
		t.Fatal("local file source reported not ready")
	}
}

package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"geoipd/internal/support"
)

type Config struct {
	DefaultStore string                 `json:"default_store"`
	Stores       map[string]StoreConfig `json:"stores"`

	GeoLite struct {
		SourceURL     string `json:"source_url"`
		LicenseKey    string `json:"license_key"`
		Proxy         string `json:"proxy"`
		BatchSize     int    `json:"batch_size"`
		Parallelism   int    `json:"parallelism"`
		FetchTimeout  Timer  `json:"fetch_timeout"`
		AutoUpdate    bool   `json:"auto_update"`
		UpdateTimer   Timer  `json:"update_timer"`
		WatchPath     string `json:"watch_path"`
		LastUpdatedAt string `json:"last_updated_at,omitempty"`
	} `json:"geolite"`

	Lookup struct {
		CacheSize int `json:"cache_size"`
	} `json:"lookup"`
}

// StoreConfig describes one named data store. DSN accepts postgres key/value
// strings as well as postgres://, mysql:// and sqlite:// URLs.
type StoreConfig struct {
	DSN string `json:"dsn"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const (
	DefaultStoreAlias = "MAXMIND"
	DefaultBatchSize  = 5000

	licenseKeyPlaceholder = "{license_key}"
)

var ErrUnknownStore = errors.New("config: unknown store alias")

var (
	//go:embed default_settings.json
	defaultConfig []byte

	settingsFilePath = "data/settings.json"

	configValue atomic.Value
	configMu    sync.Mutex
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		cfg = Config{}
	}
	configValue.Store(cfg)
}

// ReadSettings loads the settings file, creating it from the embedded
// defaults when it does not exist yet.
func ReadSettings() error {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read settings: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", settingsFilePath)
		if err := os.MkdirAll(filepath.Dir(settingsFilePath), 0o755); err != nil {
			return fmt.Errorf("config: create settings dir: %w", err)
		}
		if err := os.WriteFile(settingsFilePath, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: parse settings: %w", err)
	}

	applyConfig(newConfig)
	log.Debug("Settings file loaded successfully", "path", settingsFilePath)
	return nil
}

// SetSettingsPath points ReadSettings and persisted updates at another file.
func SetSettingsPath(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	if path != "" {
		settingsFilePath = path
	}
}

func SetConfig(newConfig Config) {
	applyConfig(newConfig)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// MarkGeoLiteUpdated records the time of the last successful load and
// persists it to the settings file.
func MarkGeoLiteUpdated(ts time.Time) error {
	cfg := GetConfig()
	cfg.GeoLite.LastUpdatedAt = ts.UTC().Format(time.RFC3339)
	applyConfig(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: serialize settings: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	if err := os.WriteFile(settingsFilePath, data, 0o644); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	return nil
}

func applyConfig(newConfig Config) {
	configMu.Lock()
	configValue.Store(newConfig)
	configMu.Unlock()

	SetBetweenTime()
}

// ResolveStore returns the DSN for alias. An empty alias selects the
// configured default store. GEOIPD_DSN overrides whatever the settings say.
func ResolveStore(alias string) (StoreConfig, error) {
	if dsn := strings.TrimSpace(support.GetEnv("GEOIPD_DSN", "")); dsn != "" {
		return StoreConfig{DSN: dsn}, nil
	}

	cfg := GetConfig()
	if alias == "" {
		alias = cfg.DefaultStore
	}
	if alias == "" {
		alias = DefaultStoreAlias
	}

	for name, store := range cfg.Stores {
		if strings.EqualFold(name, alias) {
			if strings.TrimSpace(store.DSN) == "" {
				return StoreConfig{}, fmt.Errorf("%w: %s has no dsn", ErrUnknownStore, alias)
			}
			return store, nil
		}
	}

	return StoreConfig{}, fmt.Errorf("%w: %s", ErrUnknownStore, alias)
}

// GeoLiteSourceURL returns the archive source with the license key filled in.
// Local file paths are returned unchanged.
func GeoLiteSourceURL() string {
	cfg := GetConfig()
	source := strings.TrimSpace(cfg.GeoLite.SourceURL)

	return strings.ReplaceAll(source, licenseKeyPlaceholder, licenseKey(cfg))
}

// licenseKey prefers a non-empty GEOIPD_LICENSE_KEY over the settings file.
func licenseKey(cfg Config) string {
	if key := strings.TrimSpace(support.GetEnv("GEOIPD_LICENSE_KEY", "")); key != "" {
		return key
	}
	return strings.TrimSpace(cfg.GeoLite.LicenseKey)
}

// GeoLiteSourceReady is false when no source is set or the download URL still
// needs a license key.
func GeoLiteSourceReady() bool {
	cfg := GetConfig()
	source := strings.TrimSpace(cfg.GeoLite.SourceURL)
	if source == "" {
		return false
	}
	if strings.Contains(source, licenseKeyPlaceholder) {
		return licenseKey(cfg) != ""
	}
	return true
}

func GetBatchSize() int {
	if size := GetConfig().GeoLite.BatchSize; size > 0 {
		return size
	}
	return DefaultBatchSize
}

func GetParallelism() int {
	if n := GetConfig().GeoLite.Parallelism; n > 0 {
		return n
	}
	return 1
}

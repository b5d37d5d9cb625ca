package bootstrap

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"geoipd/internal/config"
	"geoipd/internal/database"
	"geoipd/internal/support"
)

const logFileMaxSizeMB = 100

// logCloser holds the rotating log file while one is open.
var logCloser io.Closer

// Setup loads .env, configures logging and reads the settings file.
func Setup(settingsPath string) error {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found. Falling back to system environment variables.")
	}

	configureLogging()

	if settingsPath != "" {
		config.SetSettingsPath(settingsPath)
	}
	if err := config.ReadSettings(); err != nil {
		return err
	}
	return nil
}

// Teardown closes the log file and the shared redis client.
func Teardown() {
	if err := support.CloseRedisClient(); err != nil {
		log.Warn("Failed to close redis client", "error", err)
	}
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

func configureLogging() {
	level, err := log.ParseLevel(strings.ToLower(support.GetEnv("LOG_LEVEL", "info")))
	if err != nil {
		log.Warn("Unknown LOG_LEVEL, using info", "value", support.GetEnv("LOG_LEVEL", ""))
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)

	path := strings.TrimSpace(support.GetEnv("LOG_FILE", ""))
	if path == "" {
		log.SetOutput(os.Stderr)
		return
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: support.GetEnvInt("LOG_FILE_BACKUPS", 5),
		Compress:   true,
	}
	logCloser = writer
	log.SetOutput(writer)
	log.Debug("Logging to file", "path", path)
}

// OpenStore opens and migrates the store registered under alias. A
// batchSize <= 0 falls back to the configured batch size.
func OpenStore(alias string, batchSize int) (*database.Store, error) {
	storeCfg, err := config.ResolveStore(alias)
	if err != nil {
		return nil, err
	}

	dialector, err := database.Dialector(storeCfg.DSN)
	if err != nil {
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = config.GetBatchSize()
	}

	opts := []database.Option{
		database.WithDialector(dialector),
		database.WithBatchSize(batchSize),
	}
	if log.GetLevel() <= log.DebugLevel {
		opts = append(opts, database.WithLogger(database.VerboseLogger()))
	}

	store, err := database.SetupDB(opts...)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", alias, err)
	}
	return store, nil
}

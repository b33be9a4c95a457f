package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/richinex/morph/config"
	"github.com/richinex/morph/storage"
)

// LogPath returns where a nickname's log goes unless configured otherwise.
func LogPath(settings config.Settings, nickname string) string {
	if settings.Log.File != "" {
		return settings.Log.File
	}
	return filepath.Join(settings.Storage.DataDir, nickname, "morph.log")
}

// newLogger builds a JSON logger writing to the log file only: stdout is the
// channel a master reads this process through.
func newLogger(settings config.Settings, nickname string, verbose bool) (*zap.Logger, func(), error) {
	path := LogPath(settings, nickname)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	cfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(settings.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", settings.Log.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.InitialFields = map[string]any{
		"nickname": nickname,
		"run_id":   uuid.NewString(),
		"pid":      os.Getpid(),
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// openStore opens the configured backend.
func openStore(settings config.Settings) (storage.Store, error) {
	switch settings.Storage.Backend {
	case config.BackendMemory:
		return storage.NewInMemoryStorage(), nil
	case config.BackendSqlite:
		return storage.OpenSqlite(filepath.Join(settings.Storage.DataDir, "morph.db"))
	case config.BackendFile:
		return storage.NewFileStorage(settings.Storage.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", settings.Storage.Backend)
	}
}

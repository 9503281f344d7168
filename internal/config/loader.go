package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Backend names a document store implementation.
type Backend string

const (
	// BackendFiles stores documents as JSON files under the data directory.
	BackendFiles Backend = "files"
	// BackendSQLite stores documents in a single SQLite database.
	BackendSQLite Backend = "sqlite"
)

const defaultEnvFile = ".env"

// Config captures environment driven configuration values for roomflow.
type Config struct {
	DataDir          string
	Backend          Backend
	SQLiteDSN        string
	LockTimeout      time.Duration
	LockStale        time.Duration
	Location         *time.Location
	SweepSchedule    string
	LogLevel         slog.Level
	ProvisioningFile string
}

// Load parses configuration values from the current process environment.
//
// A dotenv file named by ROOMFLOW_ENV_FILE (default .env) is loaded first when
// present; variables already set in the environment take precedence.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ROOMFLOW_ENV_FILE"))
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	cfg := Config{
		Backend:       BackendFiles,
		LockTimeout:   5 * time.Second,
		LockStale:     20 * time.Second,
		Location:      time.Local,
		SweepSchedule: "@every 1m",
		LogLevel:      slog.LevelInfo,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if dir := strings.TrimSpace(os.Getenv("ROOMFLOW_DATA_DIR")); dir == "" {
		missing = append(missing, "ROOMFLOW_DATA_DIR")
	} else {
		cfg.DataDir = dir
	}

	if backend := strings.ToLower(strings.TrimSpace(os.Getenv("ROOMFLOW_BACKEND"))); backend != "" {
		switch Backend(backend) {
		case BackendFiles, BackendSQLite:
			cfg.Backend = Backend(backend)
		default:
			invalid = append(invalid, "ROOMFLOW_BACKEND")
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("ROOMFLOW_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if value := strings.TrimSpace(os.Getenv("ROOMFLOW_LOCK_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "ROOMFLOW_LOCK_TIMEOUT")
		} else {
			cfg.LockTimeout = timeout
		}
	}

	if value := strings.TrimSpace(os.Getenv("ROOMFLOW_LOCK_STALE")); value != "" {
		stale, err := time.ParseDuration(value)
		if err != nil || stale <= 0 {
			invalid = append(invalid, "ROOMFLOW_LOCK_STALE")
		} else {
			cfg.LockStale = stale
		}
	}

	if name := strings.TrimSpace(os.Getenv("ROOMFLOW_TIMEZONE")); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			invalid = append(invalid, "ROOMFLOW_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	if spec := strings.TrimSpace(os.Getenv("ROOMFLOW_SWEEP_SCHEDULE")); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			invalid = append(invalid, "ROOMFLOW_SWEEP_SCHEDULE")
		} else {
			cfg.SweepSchedule = spec
		}
	}

	if level := strings.TrimSpace(os.Getenv("ROOMFLOW_LOG_LEVEL")); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			invalid = append(invalid, "ROOMFLOW_LOG_LEVEL")
		}
	}

	cfg.ProvisioningFile = strings.TrimSpace(os.Getenv("ROOMFLOW_PROVISIONING_FILE"))

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

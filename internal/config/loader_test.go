package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func unsetRoomflowEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ROOMFLOW_DATA_DIR",
		"ROOMFLOW_BACKEND",
		"ROOMFLOW_SQLITE_DSN",
		"ROOMFLOW_LOCK_TIMEOUT",
		"ROOMFLOW_LOCK_STALE",
		"ROOMFLOW_TIMEZONE",
		"ROOMFLOW_SWEEP_SCHEDULE",
		"ROOMFLOW_LOG_LEVEL",
		"ROOMFLOW_PROVISIONING_FILE",
	} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
	t.Setenv("ROOMFLOW_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		unsetRoomflowEnv(t)
		t.Setenv("ROOMFLOW_DATA_DIR", "/var/lib/roomflow")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.DataDir != "/var/lib/roomflow" {
			t.Fatalf("expected data dir to be set, got %q", cfg.DataDir)
		}
		if cfg.Backend != BackendFiles {
			t.Fatalf("expected files backend by default, got %q", cfg.Backend)
		}
		if cfg.LockTimeout != 5*time.Second || cfg.LockStale != 20*time.Second {
			t.Fatalf("unexpected lock defaults: %v / %v", cfg.LockTimeout, cfg.LockStale)
		}
		if cfg.SweepSchedule != "@every 1m" {
			t.Fatalf("unexpected sweep schedule: %q", cfg.SweepSchedule)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Fatalf("expected info log level, got %v", cfg.LogLevel)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		unsetRoomflowEnv(t)

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required environment variables are not set: ROOMFLOW_DATA_DIR"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("errors when values are invalid", func(t *testing.T) {
		unsetRoomflowEnv(t)
		t.Setenv("ROOMFLOW_DATA_DIR", "data")
		t.Setenv("ROOMFLOW_BACKEND", "postgres")
		t.Setenv("ROOMFLOW_LOCK_TIMEOUT", "soon")
		t.Setenv("ROOMFLOW_TIMEZONE", "Mars/Olympus")
		t.Setenv("ROOMFLOW_SWEEP_SCHEDULE", "every minute")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"ROOMFLOW_BACKEND", "ROOMFLOW_LOCK_TIMEOUT", "ROOMFLOW_TIMEZONE", "ROOMFLOW_SWEEP_SCHEDULE"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in error, got %q", key, err.Error())
			}
		}
	})

	t.Run("parses explicit values", func(t *testing.T) {
		unsetRoomflowEnv(t)
		t.Setenv("ROOMFLOW_DATA_DIR", "data")
		t.Setenv("ROOMFLOW_BACKEND", "SQLite")
		t.Setenv("ROOMFLOW_SQLITE_DSN", "data/roomflow.db")
		t.Setenv("ROOMFLOW_LOCK_TIMEOUT", "2s")
		t.Setenv("ROOMFLOW_LOCK_STALE", "1m")
		t.Setenv("ROOMFLOW_TIMEZONE", "America/Sao_Paulo")
		t.Setenv("ROOMFLOW_SWEEP_SCHEDULE", "*/5 * * * *")
		t.Setenv("ROOMFLOW_LOG_LEVEL", "debug")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Backend != BackendSQLite || cfg.SQLiteDSN != "data/roomflow.db" {
			t.Fatalf("unexpected backend config: %+v", cfg)
		}
		if cfg.LockTimeout != 2*time.Second || cfg.LockStale != time.Minute {
			t.Fatalf("unexpected lock timings: %v / %v", cfg.LockTimeout, cfg.LockStale)
		}
		if cfg.Location.String() != "America/Sao_Paulo" {
			t.Fatalf("unexpected location: %v", cfg.Location)
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("expected debug log level, got %v", cfg.LogLevel)
		}
	})

	t.Run("loads values from the env file", func(t *testing.T) {
		unsetRoomflowEnv(t)
		envFile := filepath.Join(t.TempDir(), "roomflow.env")
		if err := os.WriteFile(envFile, []byte("ROOMFLOW_DATA_DIR=/srv/rooms\nROOMFLOW_BACKEND=files\n"), 0o600); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}
		t.Setenv("ROOMFLOW_ENV_FILE", envFile)
		t.Cleanup(func() {
			os.Unsetenv("ROOMFLOW_DATA_DIR")
			os.Unsetenv("ROOMFLOW_BACKEND")
		})

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.DataDir != "/srv/rooms" {
			t.Fatalf("expected data dir from env file, got %q", cfg.DataDir)
		}
	})
}

func TestLoadProvisioning(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		p, err := LoadProvisioning("")
		if err != nil {
			t.Fatalf("LoadProvisioning returned error: %v", err)
		}
		if len(p.Rooms) != 3 || len(p.Sectors) != 4 {
			t.Fatalf("unexpected defaults: %+v", p)
		}
	})

	t.Run("reads rooms and sectors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rooms.yaml")
		body := "sectors: [financeiro, ti]\nrooms:\n  - id: aud_1\n    name: Auditorio\n    capacity_label: Grande\n    capacity: 80\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		p, err := LoadProvisioning(path)
		if err != nil {
			t.Fatalf("LoadProvisioning returned error: %v", err)
		}
		if len(p.Rooms) != 1 || p.Rooms[0].Capacity != 80 || p.Rooms[0].CapacityLabel != "Grande" {
			t.Fatalf("unexpected rooms: %+v", p.Rooms)
		}
		if len(p.Sectors) != 2 || p.Sectors[0] != "financeiro" {
			t.Fatalf("unexpected sectors: %+v", p.Sectors)
		}
	})

	t.Run("rejects duplicate rooms", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rooms.yaml")
		body := "rooms:\n  - {id: a, name: A}\n  - {id: a, name: B}\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		if _, err := LoadProvisioning(path); err == nil {
			t.Fatalf("expected duplicate id error")
		}
	})
}

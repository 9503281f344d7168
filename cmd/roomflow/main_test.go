package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ROOMFLOW_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("ROOMFLOW_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("ROOMFLOW_BACKEND", backend)
	t.Setenv("ROOMFLOW_TIMEZONE", "UTC")
	t.Setenv("ROOMFLOW_LOG_LEVEL", "error")
	t.Setenv("ROOMFLOW_SQLITE_DSN", "")
	t.Setenv("ROOMFLOW_PROVISIONING_FILE", "")
	return dir
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCommand(t, args...)
	if err != nil {
		t.Fatalf("%s returned error: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestRun_Dispatch(t *testing.T) {
	setupEnv(t, "files")

	if _, err := runCommand(t); err == nil {
		t.Fatalf("expected error without a command")
	}
	if _, err := runCommand(t, "reboot"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if _, err := runCommand(t, "help"); err != nil {
		t.Fatalf("expected help to succeed, got %v", err)
	}
}

func TestRun_RequiresDataDir(t *testing.T) {
	setupEnv(t, "files")
	t.Setenv("ROOMFLOW_DATA_DIR", "")

	_, err := runCommand(t, "sweep")
	if err == nil || !strings.Contains(err.Error(), "ROOMFLOW_DATA_DIR") {
		t.Fatalf("expected missing ROOMFLOW_DATA_DIR error, got %v", err)
	}
}

func TestRun_SeedAndQuery(t *testing.T) {
	for _, backend := range []string{"files", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			setupEnv(t, backend)

			out := mustRun(t, "seed")
			if !strings.Contains(out, "users created: u_0001, u_0002, u_0003, u_0004, u_0005") {
				t.Fatalf("unexpected seed output:\n%s", out)
			}
			if !strings.Contains(out, "rooms created: room_1, room_2, room_3") {
				t.Fatalf("unexpected seed output:\n%s", out)
			}

			again := mustRun(t, "seed")
			if !strings.Contains(again, "users created: none") || !strings.Contains(again, "rooms created: none") {
				t.Fatalf("expected second seed to create nothing:\n%s", again)
			}

			audit := mustRun(t, "audit", "--action", "USER_CREATED")
			if lines := strings.Count(audit, "\n"); lines != 5 {
				t.Fatalf("expected 5 USER_CREATED events, got %d:\n%s", lines, audit)
			}

			verdict := mustRun(t, "semaphore", "--room", "room_1", "--date", "2099-01-05", "--start", "09:00", "--end", "10:00")
			if !strings.HasPrefix(verdict, "GREEN") {
				t.Fatalf("expected green verdict, got %q", verdict)
			}

			slots := mustRun(t, "suggest", "--room", "room_1", "--date", "2099-01-05", "--duration", "60", "--limit", "2")
			if lines := strings.Count(slots, "\n"); lines != 2 {
				t.Fatalf("expected 2 suggestions, got:\n%s", slots)
			}

			if out := mustRun(t, "sweep"); out != "expired 0 booking(s)\n" {
				t.Fatalf("unexpected sweep output %q", out)
			}

			inbox := mustRun(t, "notifications", "--user", "admin")
			if !strings.HasPrefix(inbox, "0 unread") {
				t.Fatalf("unexpected notifications output %q", inbox)
			}

			grid := mustRun(t, "schedule", "--room", "room_2", "--date", "2099-01-05", "--as", "rh")
			if !strings.Contains(grid, "07:00") || !strings.Contains(grid, "free") {
				t.Fatalf("unexpected schedule output:\n%s", grid)
			}
		})
	}
}

func TestRun_SeedProvisioningFile(t *testing.T) {
	dir := setupEnv(t, "files")
	path := filepath.Join(dir, "rooms.yaml")
	doc := "sectors:\n  - financeiro\nrooms:\n  - id: room_9\n    name: Lab\n    capacity_label: Pequena\n    capacity: 4\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("failed to write provisioning file: %v", err)
	}

	out := mustRun(t, "seed", "--provision", path)
	if !strings.Contains(out, "sectors created: FINANCEIRO") || !strings.Contains(out, "rooms created: room_9") {
		t.Fatalf("unexpected seed output:\n%s", out)
	}
}

func TestRun_FlagErrors(t *testing.T) {
	setupEnv(t, "files")

	cases := [][]string{
		{"semaphore", "--room", "room_1", "--start", "09:00"},
		{"suggest", "--date", "2099-01-05"},
		{"notifications"},
		{"sweep", "--bogus"},
	}
	for _, args := range cases {
		if _, err := runCommand(t, args...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

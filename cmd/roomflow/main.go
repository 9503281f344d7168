// roomflow is the operator command line for the meeting-room reservation
// engine. It provisions a data directory, runs the check-in expiry sweep and
// answers availability questions against the configured document store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/example/roomflow/internal/application"
	"github.com/example/roomflow/internal/config"
	"github.com/example/roomflow/internal/logging"
	"github.com/example/roomflow/internal/persistence"
	"github.com/example/roomflow/internal/persistence/filedb"
	"github.com/example/roomflow/internal/persistence/sharded"
	"github.com/example/roomflow/internal/persistence/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"seed":          {"provision sectors, rooms and default accounts", runSeed},
	"sweep":         {"expire bookings whose check-in window has passed", runSweep},
	"schedule":      {"print a room's day grid", runSchedule},
	"semaphore":     {"evaluate a candidate interval", runSemaphore},
	"suggest":       {"suggest free slots of a given duration", runSuggest},
	"audit":         {"list audit events of a month", runAudit},
	"notifications": {"list a user's notifications", runNotifications},
}

// environment is what every command runs against.
type environment struct {
	cfg      config.Config
	logger   *slog.Logger
	services *application.Services
	stdout   io.Writer
	stderr   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		if len(args) == 0 {
			return fmt.Errorf("a command is required")
		}
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("command", args[0])
	ctx = logging.ContextWithLogger(ctx, logger)

	docs, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	settings, err := sharded.New(docs, cfg.Location).LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	repo := sharded.New(docs, cfg.Location, sharded.WithCheckinGrace(settings.CheckinGraceMinutes))
	services, err := application.NewServices(repo, settings, application.Options{
		Location: cfg.Location,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	return cmd.run(ctx, &environment{
		cfg:      cfg,
		logger:   logger,
		services: services,
		stdout:   stdout,
		stderr:   stderr,
	}, args[1:])
}

// openStore opens the configured document store and returns its closer.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Documents, func() error, error) {
	lock := persistence.LockOptions{Timeout: cfg.LockTimeout, Stale: cfg.LockStale}
	switch cfg.Backend {
	case config.BackendSQLite:
		path := cfg.SQLiteDSN
		if path == "" {
			path = filepath.Join(cfg.DataDir, "roomflow.db")
		}
		sqlCfg := sqlite.DefaultConfig(path)
		sqlCfg.Lock = lock
		if err := sqlCfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("sqlite configuration: %w", err)
		}
		storage, err := sqlite.Open(ctx, sqlCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, nil, fmt.Errorf("migrate sqlite storage: %w", err)
		}
		return storage, storage.Close, nil
	default:
		store, err := filedb.Open(cfg.DataDir, filedb.Options{Lock: lock, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: roomflow <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "configuration is read from ROOMFLOW_* environment variables and an optional .env file")
}

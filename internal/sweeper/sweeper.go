// Package sweeper runs the check-in expiry sweep on a cron schedule so that
// EXPIRED notifications go out even when nobody reads the affected shards.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Expirer expires bookings whose check-in deadline has passed.
type Expirer interface {
	ExpireDueCheckins(ctx context.Context) (int, error)
}

// Options configures a Sweeper.
type Options struct {
	// Schedule is a standard cron spec or descriptor such as "@every 1m".
	Schedule string
	// Timeout bounds a single sweep run.
	Timeout  time.Duration
	Location *time.Location
	Logger   *slog.Logger
}

// Sweeper periodically calls ExpireDueCheckins. Overlapping runs are skipped.
type Sweeper struct {
	expirer Expirer
	opts    Options
	logger  *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	runs int
}

// New constructs a Sweeper. The schedule is validated immediately.
func New(expirer Expirer, opts Options) (*Sweeper, error) {
	if expirer == nil {
		return nil, fmt.Errorf("sweeper: expirer is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 1m"
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", opts.Schedule, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		expirer: expirer,
		opts:    opts,
		logger:  logger.With("component", "sweeper"),
	}, nil
}

// RunOnce performs a single sweep and returns the number of expired bookings.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	expired, err := s.expirer.ExpireDueCheckins(ctx)

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		return expired, err
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "sweep expired bookings", "expired", expired)
	} else {
		s.logger.DebugContext(ctx, "sweep found nothing to expire")
	}
	return expired, nil
}

// Runs reports how many sweeps have completed.
func (s *Sweeper) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Start schedules sweeps until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper: already started")
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.opts.Schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("sweeper: schedule job: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.InfoContext(ctx, "sweeper started", "schedule", s.opts.Schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

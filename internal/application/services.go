package application

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/scheduler"
)

// Options tunes the wiring performed by NewServices. Zero values select
// production defaults.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	GroupID  func() string
	Hasher   PasswordHasher
	Logger   *slog.Logger
}

// Services is the full set of application services sharing one store.
type Services struct {
	Identity      *IdentityService
	Notifications *NotificationService
	Availability  *AvailabilityService
	Requests      *RequestService
	Bookings      *BookingService
	Blocks        *BlockService
	Directory     *DirectoryService
	Dashboards    *DashboardService
	Seeder        *Seeder
}

// NewServices compiles settings into booking rules and wires every service
// over store.
func NewServices(store Store, settings domain.Settings, opts Options) (*Services, error) {
	if store == nil {
		return nil, fmt.Errorf("application: store is required")
	}
	rules, err := scheduler.CompileRules(settings.WithDefaults())
	if err != nil {
		return nil, fmt.Errorf("application: compile settings: %w", err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := defaultLogger(opts.Logger)

	identity := NewIdentityServiceWithLogger(store, store, now, loc, logger)
	notifications := NewNotificationServiceWithLogger(store, identity, now, logger)
	availability := NewAvailabilityServiceWithLogger(store, store, rules, loc, now, logger)
	requests := NewRequestServiceWithLogger(store, availability, identity, notifications, opts.GroupID, now, logger)
	bookings := NewBookingServiceWithLogger(store, availability, identity, notifications, now, logger)
	blocks := NewBlockServiceWithLogger(store, identity, rules, loc, now, logger)
	directory := NewDirectoryServiceWithLogger(store, identity, opts.Hasher, nil, now, logger)

	return &Services{
		Identity:      identity,
		Notifications: notifications,
		Availability:  availability,
		Requests:      requests,
		Bookings:      bookings,
		Blocks:        blocks,
		Directory:     directory,
		Dashboards:    NewDashboardServiceWithLogger(bookings, requests, notifications, loc, now, logger),
		Seeder:        NewSeederWithLogger(store, directory, blocks, requests, identity, loc, now, logger),
	}, nil
}

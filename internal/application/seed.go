package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/scheduler"
)

// SeedPlan lists the sectors and rooms provisioned by EnsureSeed.
type SeedPlan struct {
	Sectors []string
	Rooms   []domain.Room
	// Demo adds a sample booking, block and request the first time the
	// default accounts are created.
	Demo bool
}

// DefaultSeedPlan returns the stock sectors and rooms.
func DefaultSeedPlan() SeedPlan {
	return SeedPlan{
		Sectors: []string{"RH", "TI", "DESENVOLVIMENTO", "ENGENHARIA"},
		Rooms: []domain.Room{
			{ID: "room_1", Name: "Sala 1", CapacityLabel: "Menor", Capacity: 6},
			{ID: "room_2", Name: "Sala 2", CapacityLabel: "Maior", Capacity: 14},
			{ID: "room_3", Name: "Sala 3", CapacityLabel: "Média", Capacity: 10},
		},
	}
}

type seedAccount struct {
	username string
	sector   string
	role     domain.Role
	password string
}

var defaultAccounts = []seedAccount{
	{"admin", "RH", domain.RoleAdmin, "admin123"},
	{"rh", "RH", domain.RoleRH, "rh123"},
	{"dev1", "DESENVOLVIMENTO", domain.RoleUser, "dev123"},
	{"eng1", "ENGENHARIA", domain.RoleUser, "eng123"},
	{"ti1", "TI", domain.RoleUser, "ti123"},
}

// SeedReport summarises what EnsureSeed created.
type SeedReport struct {
	Sectors  []string
	Rooms    []string
	Users    []string
	Migrated []string
	Demo     bool
}

// Seeder prepares a fresh data directory. Every step is idempotent.
type Seeder struct {
	store     Store
	directory *DirectoryService
	blocks    *BlockService
	requests  *RequestService
	identity  *IdentityService
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(store Store, directory *DirectoryService, blocks *BlockService, requests *RequestService, identity *IdentityService, loc *time.Location, now func() time.Time) *Seeder {
	return NewSeederWithLogger(store, directory, blocks, requests, identity, loc, now, nil)
}

// NewSeederWithLogger constructs a Seeder with a specified logger.
func NewSeederWithLogger(store Store, directory *DirectoryService, blocks *BlockService, requests *RequestService, identity *IdentityService, loc *time.Location, now func() time.Time, logger *slog.Logger) *Seeder {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Seeder{
		store:     store,
		directory: directory,
		blocks:    blocks,
		requests:  requests,
		identity:  identity,
		loc:       loc,
		now:       now,
		logger:    defaultLogger(logger),
	}
}

func (s *Seeder) configured() error {
	if s == nil || s.store == nil || s.directory == nil || s.identity == nil {
		return fmt.Errorf("Seeder is not configured")
	}
	return nil
}

// EnsureSeed creates the counters and settings documents, the planned sectors
// and rooms, migrates the legacy ADMIN sector and, when no admin account
// exists, the default accounts together with their sectors.
func (s *Seeder) EnsureSeed(ctx context.Context, plan SeedPlan) (report SeedReport, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := serviceLogger(ctx, s.logger, "Seeder", "EnsureSeed")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "seed complete",
			"sectors", len(report.Sectors),
			"rooms", len(report.Rooms),
			"users", len(report.Users),
			"migrated", len(report.Migrated),
		)
	}()

	if err = s.store.EnsureCounters(ctx, CounterKinds...); err != nil {
		return
	}
	if err = s.store.EnsureSettings(ctx); err != nil {
		return
	}

	for _, name := range plan.Sectors {
		sector, sErr := s.directory.ensureSector(ctx, name)
		switch {
		case sErr == nil:
			report.Sectors = append(report.Sectors, sector)
		case errors.Is(sErr, ErrAlreadyExists):
		default:
			err = fmt.Errorf("seed sector %q: %w", name, sErr)
			return
		}
	}

	if report.Migrated, err = s.directory.MigrateLegacyAdminSector(ctx); err != nil {
		return
	}

	for _, room := range plan.Rooms {
		var created bool
		if created, err = s.directory.EnsureRoom(ctx, room); err != nil {
			err = fmt.Errorf("seed room %s: %w", room.ID, err)
			return
		}
		if created {
			report.Rooms = append(report.Rooms, room.ID)
		}
	}

	if _, findErr := s.directory.FindUserByUsername(ctx, "admin"); findErr == nil {
		return
	} else if !errors.Is(findErr, ErrNotFound) {
		err = findErr
		return
	}

	// A provisioning file may list other sectors; the default accounts
	// still need theirs.
	for _, account := range defaultAccounts {
		sector, sErr := s.directory.ensureSector(ctx, account.sector)
		switch {
		case sErr == nil:
			report.Sectors = append(report.Sectors, sector)
		case errors.Is(sErr, ErrAlreadyExists):
		default:
			err = fmt.Errorf("seed sector %q: %w", account.sector, sErr)
			return
		}
	}

	users := make(map[string]domain.User, len(defaultAccounts))
	for _, account := range defaultAccounts {
		var user domain.User
		user, err = s.directory.createUser(ctx, UserInput{
			Username: account.username,
			Sector:   account.sector,
			Role:     account.role,
			Password: account.password,
		}, domain.SystemActor)
		if err != nil {
			err = fmt.Errorf("seed user %s: %w", account.username, err)
			return
		}
		users[account.username] = user
		report.Users = append(report.Users, user.ID)
	}

	if plan.Demo {
		if err = s.seedDemo(ctx, users); err != nil {
			return
		}
		report.Demo = true
	}
	return
}

// seedDemo writes a booking for dev1, a lunch block on room_2 and a request
// from eng1 that overlaps the booking.
func (s *Seeder) seedDemo(ctx context.Context, users map[string]domain.User) error {
	dev, rh, eng := users["dev1"], users["rh"], users["eng1"]
	now := s.now()
	today := now.In(s.loc).Format(scheduler.DateLayout)

	id, err := s.identity.NextID(ctx, KindBookings, PrefixBooking)
	if err != nil {
		return err
	}
	booking := domain.Booking{
		ID:                id,
		RoomID:            "room_1",
		Date:              today,
		Start:             "09:00",
		End:               "10:00",
		Sector:            dev.Sector,
		CreatedBy:         dev.ID,
		CreatedByUsername: dev.Username,
		ApprovedBy:        rh.ID,
		Status:            domain.BookingActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.store.MutateBookings(ctx, today, booking.RoomID, func(items []domain.Booking) ([]domain.Booking, bool, error) {
		return append(items, booking), true, nil
	})
	if err != nil {
		return err
	}

	if s.blocks != nil {
		_, err = s.blocks.CreateBlock(ctx, BlockInput{
			RoomID:    "room_2",
			StartDate: today,
			EndDate:   today,
			Start:     "12:00",
			End:       "13:00",
			Reason:    "Lunch",
			Weekdays:  []int{scheduler.ISOWeekday(now.In(s.loc))},
		}, rh)
		if err != nil {
			return fmt.Errorf("seed demo block: %w", err)
		}
	}

	if s.requests != nil {
		_, err = s.requests.CreateRequest(ctx, RequestInput{
			RoomID: "room_1",
			Date:   today,
			Start:  "09:30",
			End:    "10:30",
			Reason: "Conflicting request (demo)",
		}, eng)
		if err != nil && !isDomainRejection(err) {
			return fmt.Errorf("seed demo request: %w", err)
		}
		if err != nil {
			serviceLogger(ctx, s.logger, "Seeder", "seedDemo").
				InfoContext(ctx, "demo request rejected", "reason", err.Error())
		}
	}
	return nil
}

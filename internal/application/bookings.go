package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/persistence/sharded"
	"github.com/example/roomflow/internal/scheduler"
)

// Audit actions recorded by the booking lifecycle.
const (
	ActionBookingCancelled        = "BOOKING_CANCELLED"
	ActionBookingCheckin          = "BOOKING_CHECKIN"
	ActionBookingExpiredAuto      = "BOOKING_EXPIRED_AUTO"
	ActionEmergencyBookingCreated = "EMERGENCY_BOOKING_CREATED"
)

// BookingService manages confirmed bookings: cancellation, check-in,
// emergencies and time-driven status reconciliation.
type BookingService struct {
	store         BookingStore
	availability  *AvailabilityService
	identity      *IdentityService
	notifications *NotificationService
	now           func() time.Time
	logger        *slog.Logger
}

// NewBookingService constructs a BookingService.
func NewBookingService(store BookingStore, availability *AvailabilityService, identity *IdentityService, notifications *NotificationService, now func() time.Time) *BookingService {
	return NewBookingServiceWithLogger(store, availability, identity, notifications, now, nil)
}

// NewBookingServiceWithLogger constructs a BookingService with a specified logger.
func NewBookingServiceWithLogger(store BookingStore, availability *AvailabilityService, identity *IdentityService, notifications *NotificationService, now func() time.Time, logger *slog.Logger) *BookingService {
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		store:         store,
		availability:  availability,
		identity:      identity,
		notifications: notifications,
		now:           now,
		logger:        defaultLogger(logger),
	}
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

func (s *BookingService) configured() error {
	if s == nil || s.store == nil || s.availability == nil || s.identity == nil || s.notifications == nil {
		return fmt.Errorf("BookingService is not configured")
	}
	return nil
}

func (s *BookingService) rules() scheduler.Rules {
	return s.availability.rules
}

func (s *BookingService) location() *time.Location {
	return s.availability.loc
}

func (s *BookingService) today() string {
	return s.now().In(s.location()).Format(scheduler.DateLayout)
}

// reconcileShard applies DeriveStatus to every booking of one shard under its
// lock, then notifies and audits each booking that became EXPIRED. Because
// the transition is persisted before any notification, each expiry is
// reported exactly once.
func (s *BookingService) reconcileShard(ctx context.Context, date, roomID string) (int, error) {
	now := s.now()
	var expired []domain.Booking
	err := s.store.MutateBookings(ctx, date, roomID, func(items []domain.Booking) ([]domain.Booking, bool, error) {
		changed := false
		for i := range items {
			next := scheduler.DeriveStatus(items[i], now, s.location())
			if next == items[i].Status {
				continue
			}
			items[i].Status = next
			items[i].UpdatedAt = now
			changed = true
			if next == domain.BookingExpired {
				expired = append(expired, items[i])
			}
		}
		return items, changed, nil
	})
	if err != nil {
		return 0, err
	}

	for _, b := range expired {
		if _, err := s.notifications.Notify(ctx, b.CreatedBy, NotifyBookingExpired, "Booking expired",
			fmt.Sprintf("Booking on %s %s-%s expired without check-in.", b.Date, b.Start, b.End)); err != nil {
			return 0, err
		}
		if _, err := s.identity.Audit(ctx, domain.SystemActor, ActionBookingExpiredAuto, TargetBooking, b.ID, nil); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// ExpireDueCheckins reconciles every booking shard up to today and returns
// the number of bookings that expired during this pass. It is idempotent.
func (s *BookingService) ExpireDueCheckins(ctx context.Context) (expired int, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ExpireDueCheckins")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "expiry sweep failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if expired > 0 {
			logger.With("expired", expired).InfoContext(ctx, "expiry sweep completed")
		}
	}()

	var shards []sharded.BookingShard
	shards, err = s.store.BookingShards(ctx)
	if err != nil {
		return
	}
	today := s.today()
	for _, shard := range shards {
		if shard.Date > today {
			continue
		}
		var n int
		n, err = s.reconcileShard(ctx, shard.Date, shard.RoomID)
		if err != nil {
			return
		}
		expired += n
	}
	return
}

// locate finds the shard holding booking id.
func (s *BookingService) locate(ctx context.Context, id string) (domain.Booking, error) {
	shards, err := s.store.BookingShards(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	for _, shard := range shards {
		bookings, err := s.store.LoadBookings(ctx, shard.Date, shard.RoomID)
		if err != nil {
			return domain.Booking{}, err
		}
		for _, b := range bookings {
			if b.ID == id {
				return b, nil
			}
		}
	}
	return domain.Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, id)
}

// GetBooking returns the booking with id after reconciling its shard.
func (s *BookingService) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	if err := s.configured(); err != nil {
		return domain.Booking{}, err
	}
	b, err := s.locate(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if _, err := s.reconcileShard(ctx, b.Date, b.RoomID); err != nil {
		return domain.Booking{}, err
	}
	return s.locateIn(ctx, b.Date, b.RoomID, id)
}

func (s *BookingService) locateIn(ctx context.Context, date, roomID, id string) (domain.Booking, error) {
	bookings, err := s.store.LoadBookings(ctx, date, roomID)
	if err != nil {
		return domain.Booking{}, err
	}
	for _, b := range bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, id)
}

// updateBooking reconciles the booking's shard, then applies fn to the stored
// booking under the shard lock.
func (s *BookingService) updateBooking(ctx context.Context, id string, fn func(*domain.Booking) error) (domain.Booking, error) {
	located, err := s.locate(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if _, err := s.reconcileShard(ctx, located.Date, located.RoomID); err != nil {
		return domain.Booking{}, err
	}

	var updated domain.Booking
	err = s.store.MutateBookings(ctx, located.Date, located.RoomID, func(items []domain.Booking) ([]domain.Booking, bool, error) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			if err := fn(&items[i]); err != nil {
				return nil, false, err
			}
			updated = items[i]
			return items, true, nil
		}
		return nil, false, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	})
	return updated, err
}

func requireOccupying(b *domain.Booking) error {
	if !b.Status.Occupying() {
		return fmt.Errorf("%w: booking %s is %s", ErrInvalidState, b.ID, b.Status)
	}
	return nil
}

// CancelBooking cancels an ACTIVE or IN_PROGRESS booking. Without force only
// the creator may cancel, and only while the configured lead time remains.
func (s *BookingService) CancelBooking(ctx context.Context, id string, actor domain.User, reason string, force bool) (booking domain.Booking, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelBooking",
		"actor_id", actor.ID,
		"booking_id", id,
		"force", force,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking cancelled")
	}()

	if force && !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}

	reason = strings.TrimSpace(reason)
	now := s.now()
	limit := s.rules().UserCancelLimitMinutes
	booking, err = s.updateBooking(ctx, id, func(b *domain.Booking) error {
		if err := requireOccupying(b); err != nil {
			return err
		}
		if reason == "" {
			return fieldError("reason", "a cancellation reason is required")
		}
		if !force {
			if b.CreatedBy != actor.ID {
				return ErrUnauthorized
			}
			left, err := scheduler.MinutesUntilStart(*b, now, s.location())
			if err != nil {
				return err
			}
			if left < limit {
				return fmt.Errorf("%w: cancellation requires at least %d minutes notice", ErrInvalidState, limit)
			}
		}
		b.Status = domain.BookingCancelled
		b.CancelReason = reason
		b.CancelledBy = actor.ID
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return
	}

	if _, err = s.notifications.Notify(ctx, booking.CreatedBy, NotifyBookingCancelled, "Booking cancelled",
		fmt.Sprintf("Booking on %s %s-%s was cancelled.", booking.Date, booking.Start, booking.End)); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionBookingCancelled, TargetBooking, booking.ID, map[string]any{
		"reason": reason,
		"force":  force,
	})
	return
}

// Checkin records the creator's presence between the booking start and its
// check-in deadline, both inclusive.
func (s *BookingService) Checkin(ctx context.Context, id string, actor domain.User) (booking domain.Booking, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Checkin",
		"actor_id", actor.ID,
		"booking_id", id,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking checked in")
	}()

	now := s.now()
	booking, err = s.updateBooking(ctx, id, func(b *domain.Booking) error {
		if b.CreatedBy != actor.ID {
			return ErrUnauthorized
		}
		if err := requireOccupying(b); err != nil {
			return err
		}
		if b.CheckedInAt != nil {
			return fmt.Errorf("%w: check-in already recorded", ErrInvalidState)
		}
		start, deadline, err := scheduler.CheckinWindow(*b, s.rules().CheckinGraceMinutes, s.location())
		if err != nil {
			return err
		}
		if now.Before(start) || now.After(deadline) {
			return fmt.Errorf("%w: check-in is accepted from %s until %s",
				ErrInvalidState, start.Format(scheduler.ClockLayout), deadline.Format(scheduler.ClockLayout))
		}
		b.CheckedInAt = &now
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return
	}

	_, err = s.identity.Audit(ctx, actor.Actor(), ActionBookingCheckin, TargetBooking, booking.ID, nil)
	return
}

// EmergencyBooking claims a room for an approval authority. Every occupying
// booking that overlaps the interval is cancelled with the emergency reason
// in the same shard write that adds the new booking.
func (s *BookingService) EmergencyBooking(ctx context.Context, input EmergencyInput, actor domain.User) (result EmergencyResult, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "EmergencyBooking",
		"actor_id", actor.ID,
		"room_id", input.RoomID,
		"date", input.Date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create emergency booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"booking_id", result.Booking.ID,
			"displaced", len(result.Displaced),
		).InfoContext(ctx, "emergency booking created")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}
	if _, _, err = s.rules().ValidateWindow(input.Date, input.Start, input.End); err != nil {
		err = windowValidation(err)
		return
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		err = fieldError("reason", "an emergency reason is required")
		return
	}
	start, _ := scheduler.NormalizeClock(input.Start)
	end, _ := scheduler.NormalizeClock(input.End)

	if _, err = s.reconcileShard(ctx, input.Date, input.RoomID); err != nil {
		return
	}

	now := s.now()
	err = s.store.MutateBookings(ctx, input.Date, input.RoomID, func(items []domain.Booking) ([]domain.Booking, bool, error) {
		displaced := make(map[string]bool)
		for _, b := range s.availability.conflictingBookings(items, start, end) {
			displaced[b.ID] = true
		}
		for i := range items {
			if !displaced[items[i].ID] {
				continue
			}
			items[i].Status = domain.BookingCancelledByEmergency
			items[i].CancelReason = reason
			items[i].CancelledBy = actor.ID
			items[i].UpdatedAt = now
			result.Displaced = append(result.Displaced, items[i])
		}

		id, err := s.identity.NextID(ctx, KindBookings, PrefixBooking)
		if err != nil {
			return nil, false, err
		}
		result.Booking = domain.Booking{
			ID:                id,
			RoomID:            input.RoomID,
			Date:              input.Date,
			Start:             start,
			End:               end,
			Sector:            actor.Sector,
			CreatedBy:         actor.ID,
			CreatedByUsername: actor.Username,
			ApprovedBy:        actor.ID,
			Status:            domain.BookingActive,
			IsEmergency:       true,
			EmergencyReason:   reason,
			RequiresCheckin:   false,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return append(items, result.Booking), true, nil
	})
	if err != nil {
		result = EmergencyResult{}
		return
	}

	impacted := make([]string, 0, len(result.Displaced))
	for _, b := range result.Displaced {
		impacted = append(impacted, b.ID)
		if _, err = s.notifications.Notify(ctx, b.CreatedBy, NotifyBookingEmergency, "Booking cancelled by emergency",
			fmt.Sprintf("Your booking on %s %s-%s was cancelled by an emergency booking.", b.Date, b.Start, b.End)); err != nil {
			return
		}
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionEmergencyBookingCreated, TargetBooking, result.Booking.ID, map[string]any{
		"impacted": impacted,
		"room_id":  input.RoomID,
		"date":     input.Date,
		"start":    start,
		"end":      end,
	})
	return
}

// ListBookings runs the expiry sweep, then returns the bookings matching
// filter ordered by date and start.
func (s *BookingService) ListBookings(ctx context.Context, filter BookingFilter) ([]domain.Booking, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	if _, err := s.ExpireDueCheckins(ctx); err != nil {
		return nil, err
	}

	shards, err := s.store.BookingShards(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Booking
	for _, shard := range shards {
		if !filter.coversShard(shard) {
			continue
		}
		bookings, err := s.store.LoadBookings(ctx, shard.Date, shard.RoomID)
		if err != nil {
			return nil, err
		}
		for _, b := range bookings {
			if filter.matches(b) {
				out = append(out, b)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (f BookingFilter) coversShard(shard sharded.BookingShard) bool {
	switch {
	case f.Date != "" && shard.Date != f.Date:
		return false
	case f.Month != "" && sharded.MonthOf(shard.Date) != f.Month:
		return false
	case f.DateFrom != "" && shard.Date < f.DateFrom:
		return false
	case f.DateTo != "" && shard.Date > f.DateTo:
		return false
	case f.RoomID != "" && shard.RoomID != f.RoomID:
		return false
	}
	return true
}

func (f BookingFilter) matches(b domain.Booking) bool {
	switch {
	case f.CreatedBy != "" && b.CreatedBy != f.CreatedBy:
		return false
	case f.Status != "" && b.Status != f.Status:
		return false
	case f.Sector != "" && b.Sector != f.Sector:
		return false
	case f.IsEmergency != nil && b.IsEmergency != *f.IsEmergency:
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		haystack := strings.ToLower(b.CancelReason + " " + b.EmergencyReason)
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

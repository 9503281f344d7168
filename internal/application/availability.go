package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/recurrence"
	"github.com/example/roomflow/internal/scheduler"
)

// AvailabilityService answers conflict and free-slot questions for one room and date.
type AvailabilityService struct {
	bookings BookingStore
	blocks   BlockStore
	rules    scheduler.Rules
	engine   *recurrence.Engine
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewAvailabilityService constructs an AvailabilityService bound to rules.
func NewAvailabilityService(bookings BookingStore, blocks BlockStore, rules scheduler.Rules, loc *time.Location, now func() time.Time) *AvailabilityService {
	return NewAvailabilityServiceWithLogger(bookings, blocks, rules, loc, now, nil)
}

// NewAvailabilityServiceWithLogger constructs an AvailabilityService with a specified logger.
func NewAvailabilityServiceWithLogger(bookings BookingStore, blocks BlockStore, rules scheduler.Rules, loc *time.Location, now func() time.Time, logger *slog.Logger) *AvailabilityService {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &AvailabilityService{
		bookings: bookings,
		blocks:   blocks,
		rules:    rules,
		engine:   recurrence.NewEngine(loc),
		loc:      loc,
		now:      now,
		logger:   defaultLogger(logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

// Rules returns the booking rules the service was built with.
func (s *AvailabilityService) Rules() scheduler.Rules {
	return s.rules
}

// TimeOptions lists the selectable clock values of the business window.
func (s *AvailabilityService) TimeOptions() []string {
	return s.rules.TimeOptions()
}

// occupying reports whether b holds its room at the service clock.
func (s *AvailabilityService) occupying(b domain.Booking) bool {
	return scheduler.DeriveStatus(b, s.now(), s.loc).Occupying()
}

// FindConflictingBookings returns the occupying bookings of the room+date
// shard that overlap [start, end).
func (s *AvailabilityService) FindConflictingBookings(ctx context.Context, roomID, date, start, end string) ([]domain.Booking, error) {
	bookings, err := s.bookings.LoadBookings(ctx, date, roomID)
	if err != nil {
		return nil, err
	}
	return s.conflictingBookings(bookings, start, end), nil
}

func (s *AvailabilityService) conflictingBookings(bookings []domain.Booking, start, end string) []domain.Booking {
	var out []domain.Booking
	for _, b := range bookings {
		if !s.occupying(b) {
			continue
		}
		if scheduler.ClockOverlaps(start, end, b.Start, b.End) {
			out = append(out, b)
		}
	}
	return out
}

// ActiveBlocks returns the ACTIVE blocks of room that apply on date, ordered by start.
func (s *AvailabilityService) ActiveBlocks(ctx context.Context, roomID, date string) ([]domain.Block, error) {
	blocks, err := s.blocks.LoadBlocks(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Block, 0, len(blocks))
	for _, blk := range blocks {
		if blk.Status == domain.BlockActive && s.engine.BlockApplies(blk, date) {
			out = append(out, blk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// FindConflictingBlocks returns the active blocks applicable on date that overlap [start, end).
func (s *AvailabilityService) FindConflictingBlocks(ctx context.Context, roomID, date, start, end string) ([]domain.Block, error) {
	blocks, err := s.ActiveBlocks(ctx, roomID, date)
	if err != nil {
		return nil, err
	}
	var out []domain.Block
	for _, blk := range blocks {
		if scheduler.ClockOverlaps(start, end, blk.Start, blk.End) {
			out = append(out, blk)
		}
	}
	return out, nil
}

// Semaphore evaluates a candidate interval: window validation first, then
// block conflicts, then booking conflicts. Only a green verdict may be submitted.
func (s *AvailabilityService) Semaphore(ctx context.Context, roomID, date, start, end string) (Verdict, error) {
	if _, _, err := s.rules.ValidateWindow(date, start, end); err != nil {
		return Verdict{Color: ColorRed, Message: err.Error(), Err: windowValidation(err)}, nil
	}

	blocks, err := s.FindConflictingBlocks(ctx, roomID, date, start, end)
	if err != nil {
		return Verdict{}, err
	}
	if len(blocks) > 0 {
		return Verdict{
			Color:   ColorRed,
			Message: fmt.Sprintf("Conflict with block: %s", blocks[0].Reason),
			Err:     fmt.Errorf("%w: blocked (%s)", ErrConflict, blocks[0].Reason),
		}, nil
	}

	bookings, err := s.FindConflictingBookings(ctx, roomID, date, start, end)
	if err != nil {
		return Verdict{}, err
	}
	if len(bookings) > 0 {
		return Verdict{
			Color:   ColorRed,
			Message: fmt.Sprintf("Conflict with active booking of sector %s", bookings[0].Sector),
			Err:     fmt.Errorf("%w: booked by sector %s", ErrConflict, bookings[0].Sector),
		}, nil
	}

	return Verdict{Color: ColorGreen, Message: "No conflict detected", CanSubmit: true}, nil
}

// BlockedTimePoints returns the sorted grid points covered by active blocks.
func (s *AvailabilityService) BlockedTimePoints(ctx context.Context, roomID, date string) ([]string, error) {
	blocks, err := s.ActiveBlocks(ctx, roomID, date)
	if err != nil {
		return nil, err
	}
	points := make(map[int]struct{})
	for _, blk := range blocks {
		s.addPoints(points, blk.Start, blk.End)
	}
	return formatPoints(points), nil
}

// ReservedTimePoints returns the sorted grid points covered by occupying bookings.
func (s *AvailabilityService) ReservedTimePoints(ctx context.Context, roomID, date string) ([]string, error) {
	bookings, err := s.bookings.LoadBookings(ctx, date, roomID)
	if err != nil {
		return nil, err
	}
	points := make(map[int]struct{})
	for _, b := range bookings {
		if s.occupying(b) {
			s.addPoints(points, b.Start, b.End)
		}
	}
	return formatPoints(points), nil
}

func (s *AvailabilityService) addPoints(points map[int]struct{}, start, end string) {
	from, err := scheduler.ParseClock(start)
	if err != nil {
		return
	}
	to, err := scheduler.ParseClock(end)
	if err != nil {
		return
	}
	for _, p := range s.rules.SlotPoints(from, to) {
		points[p] = struct{}{}
	}
}

func formatPoints(points map[int]struct{}) []string {
	minutes := make([]int, 0, len(points))
	for p := range points {
		minutes = append(minutes, p)
	}
	sort.Ints(minutes)
	out := make([]string, 0, len(minutes))
	for _, m := range minutes {
		if label, err := scheduler.FormatClock(m); err == nil {
			out = append(out, label)
		}
	}
	return out
}

// SuggestFreeSlots walks business hours in slot steps and returns up to limit
// intervals of the given duration that have neither a block nor a booking.
func (s *AvailabilityService) SuggestFreeSlots(ctx context.Context, roomID, date string, duration, limit int) ([]Slot, error) {
	if duration <= 0 {
		return nil, fieldError("duration", "duration must be greater than zero")
	}
	if limit <= 0 {
		limit = 5
	}
	blocks, err := s.ActiveBlocks(ctx, roomID, date)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.LoadBookings(ctx, date, roomID)
	if err != nil {
		return nil, err
	}

	var out []Slot
	for _, start := range s.rules.Candidates(duration) {
		if len(out) >= limit {
			break
		}
		if s.taken(blocks, bookings, start, start+duration) {
			continue
		}
		from, errFrom := scheduler.FormatClock(start)
		to, errTo := scheduler.FormatClock(start + duration)
		if errFrom != nil || errTo != nil {
			continue
		}
		out = append(out, Slot{Start: from, End: to})
	}

	s.loggerWith(ctx, "SuggestFreeSlots", "room_id", roomID, "date", date).
		DebugContext(ctx, "free slots computed", "count", len(out))
	return out, nil
}

func (s *AvailabilityService) taken(blocks []domain.Block, bookings []domain.Booking, start, end int) bool {
	for _, blk := range blocks {
		if overlapsClock(start, end, blk.Start, blk.End) {
			return true
		}
	}
	for _, b := range bookings {
		if s.occupying(b) && overlapsClock(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

func overlapsClock(start, end int, otherStart, otherEnd string) bool {
	from, err := scheduler.ParseClock(otherStart)
	if err != nil {
		return false
	}
	to, err := scheduler.ParseClock(otherEnd)
	if err != nil {
		return false
	}
	return scheduler.Overlaps(start, end, from, to)
}

// ScheduleForRoom renders one entry per grid slot of the business window.
// Privileged viewers see who holds a slot; others see only the sector or
// that the slot is theirs.
func (s *AvailabilityService) ScheduleForRoom(ctx context.Context, roomID, date string, viewer domain.User) ([]ScheduleEntry, error) {
	if _, err := scheduler.ParseDate(date, s.loc); err != nil {
		return nil, fieldError("date", err.Error())
	}
	blocks, err := s.ActiveBlocks(ctx, roomID, date)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.LoadBookings(ctx, date, roomID)
	if err != nil {
		return nil, err
	}
	occupying := bookings[:0:0]
	for _, b := range bookings {
		if s.occupying(b) {
			occupying = append(occupying, b)
		}
	}

	step := s.rules.Step()
	points := s.rules.SlotPoints(s.rules.BusinessStart, s.rules.BusinessEnd)
	entries := make([]ScheduleEntry, 0, len(points))
	for _, cur := range points {
		label, err := scheduler.FormatClock(cur)
		if err != nil {
			return nil, err
		}
		entry := ScheduleEntry{Time: label, Kind: SlotFree, Detail: "Free"}
		if blk, ok := firstBlock(blocks, cur, cur+step); ok {
			entry.Kind = SlotBlocked
			entry.Detail = "Block - " + blk.Reason
			entry.BlockID = blk.ID
		} else if b, ok := firstBooking(occupying, cur, cur+step); ok {
			mine := b.CreatedBy == viewer.ID
			entry.Kind = SlotReserved
			if mine {
				entry.Kind = SlotMine
			}
			switch {
			case viewer.Role.Privileged():
				entry.Detail = fmt.Sprintf("Reserved - %s (%s)", b.CreatedByUsername, b.Sector)
			case mine:
				entry.Detail = "My booking"
			default:
				entry.Detail = "Reserved - " + b.Sector
			}
			entry.BookingID = b.ID
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func firstBlock(blocks []domain.Block, start, end int) (domain.Block, bool) {
	for _, blk := range blocks {
		if overlapsClock(start, end, blk.Start, blk.End) {
			return blk, true
		}
	}
	return domain.Block{}, false
}

func firstBooking(bookings []domain.Booking, start, end int) (domain.Booking, bool) {
	for _, b := range bookings {
		if overlapsClock(start, end, b.Start, b.End) {
			return b, true
		}
	}
	return domain.Booking{}, false
}

// EmergencyPreview lists the bookings an emergency over [start, end) would displace.
func (s *AvailabilityService) EmergencyPreview(ctx context.Context, roomID, date, start, end string) ([]domain.Booking, error) {
	return s.FindConflictingBookings(ctx, roomID, date, start, end)
}

package scheduler

import (
	"time"

	"github.com/example/roomflow/internal/domain"
)

// DeriveStatus recomputes the time-driven status of a booking at now.
//
// Only occupying bookings (ACTIVE or IN_PROGRESS) move; terminal states are
// returned unchanged. Before start the booking is ACTIVE, during [start, end)
// it is IN_PROGRESS, and at or after end it becomes EXPIRED when a required
// check-in never happened, DONE otherwise. Applying it twice is a no-op.
func DeriveStatus(b domain.Booking, now time.Time, loc *time.Location) domain.BookingStatus {
	if !b.Status.Occupying() {
		return b.Status
	}
	if loc == nil {
		loc = now.Location()
	}
	start, err := At(b.Date, b.Start, loc)
	if err != nil {
		return b.Status
	}
	end, err := At(b.Date, b.End, loc)
	if err != nil {
		return b.Status
	}
	switch {
	case now.Before(start):
		return domain.BookingActive
	case now.Before(end):
		return domain.BookingInProgress
	case b.RequiresCheckin && b.CheckedInAt == nil:
		return domain.BookingExpired
	default:
		return domain.BookingDone
	}
}

// CheckinWindow returns the inclusive instants during which check-in is accepted.
func CheckinWindow(b domain.Booking, graceDefault int, loc *time.Location) (time.Time, time.Time, error) {
	start, err := At(b.Date, b.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	grace := b.CheckinDeadlineMinutes
	if grace <= 0 {
		grace = graceDefault
	}
	return start, start.Add(time.Duration(grace) * time.Minute), nil
}

// MinutesUntilStart returns the whole minutes remaining before the booking
// starts, rounded toward negative infinity.
func MinutesUntilStart(b domain.Booking, now time.Time, loc *time.Location) (int, error) {
	start, err := At(b.Date, b.Start, loc)
	if err != nil {
		return 0, err
	}
	diff := start.Sub(now)
	minutes := int(diff / time.Minute)
	if diff < 0 && diff%time.Minute != 0 {
		minutes--
	}
	return minutes, nil
}

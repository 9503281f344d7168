package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/scheduler"
)

const dashboardListLimit = 5

// DashboardService assembles the personal and approval overviews.
type DashboardService struct {
	bookings      *BookingService
	requests      *RequestService
	notifications *NotificationService
	loc           *time.Location
	now           func() time.Time
	logger        *slog.Logger
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(bookings *BookingService, requests *RequestService, notifications *NotificationService, loc *time.Location, now func() time.Time) *DashboardService {
	return NewDashboardServiceWithLogger(bookings, requests, notifications, loc, now, nil)
}

// NewDashboardServiceWithLogger constructs a DashboardService with a specified logger.
func NewDashboardServiceWithLogger(bookings *BookingService, requests *RequestService, notifications *NotificationService, loc *time.Location, now func() time.Time, logger *slog.Logger) *DashboardService {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &DashboardService{
		bookings:      bookings,
		requests:      requests,
		notifications: notifications,
		loc:           loc,
		now:           now,
		logger:        defaultLogger(logger),
	}
}

func (s *DashboardService) configured() error {
	if s == nil || s.bookings == nil || s.requests == nil || s.notifications == nil {
		return fmt.Errorf("DashboardService is not configured")
	}
	return nil
}

// MyDashboard returns the overview shown to user: bookings holding a room today, the
// next upcoming bookings, pending requests and the latest notifications.
func (s *DashboardService) MyDashboard(ctx context.Context, user domain.User) (MyDashboard, error) {
	if err := s.configured(); err != nil {
		return MyDashboard{}, err
	}
	now := s.now().In(s.loc)
	today := now.Format(scheduler.DateLayout)
	clock := now.Format(scheduler.ClockLayout)

	mine, err := s.bookings.ListBookings(ctx, BookingFilter{CreatedBy: user.ID})
	if err != nil {
		return MyDashboard{}, err
	}
	var dash MyDashboard
	for _, b := range mine {
		if b.Date == today && b.Status.Occupying() {
			dash.BookingsToday = append(dash.BookingsToday, b)
		}
		if b.Status == domain.BookingActive && (b.Date > today || (b.Date == today && b.Start >= clock)) {
			if len(dash.Upcoming) < dashboardListLimit {
				dash.Upcoming = append(dash.Upcoming, b)
			}
		}
	}

	pending, err := s.requests.ListRequests(ctx, RequestFilter{RequestedBy: user.ID, Status: domain.RequestPending})
	if err != nil {
		return MyDashboard{}, err
	}
	if len(pending) > dashboardListLimit {
		pending = pending[:dashboardListLimit]
	}
	dash.Pending = pending

	if dash.Notifications, err = s.notifications.List(ctx, user.ID, dashboardListLimit); err != nil {
		return MyDashboard{}, err
	}
	return dash, nil
}

// AdminDashboard returns the approval authority overview. Only privileged users may
// read it.
func (s *DashboardService) AdminDashboard(ctx context.Context, actor domain.User) (AdminDashboard, error) {
	if err := s.configured(); err != nil {
		return AdminDashboard{}, err
	}
	if !actor.Role.Privileged() {
		return AdminDashboard{}, ErrUnauthorized
	}
	today := s.now().In(s.loc).Format(scheduler.DateLayout)

	pending, err := s.requests.ListRequests(ctx, RequestFilter{Status: domain.RequestPending})
	if err != nil {
		return AdminDashboard{}, err
	}
	dash := AdminDashboard{PendingRequests: len(pending), TodayByRoom: map[string]int{}}
	for _, req := range pending {
		if req.HasConflict {
			dash.ConflictsPending++
		}
	}

	month, err := s.bookings.ListBookings(ctx, BookingFilter{Month: today[:7]})
	if err != nil {
		return AdminDashboard{}, err
	}
	for _, b := range month {
		if b.Status == domain.BookingExpired {
			dash.NoShows++
		}
		if b.Date == today && b.Status.Occupying() {
			dash.TodayByRoom[b.RoomID]++
		}
	}

	serviceLogger(ctx, s.logger, "DashboardService", "AdminDashboard", "actor_id", actor.ID).
		DebugContext(ctx, "admin dashboard assembled", "pending", dash.PendingRequests, "no_shows", dash.NoShows)
	return dash, nil
}

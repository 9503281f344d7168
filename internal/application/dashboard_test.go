package application

import (
	"context"
	"testing"
)

func TestDashboardService_MyDashboard(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	ctx := context.Background()

	todays := app.booking(t, app.dev, "room_1", today, "09:00", "10:00")
	app.booking(t, app.dev, "room_1", futureDate, "10:00", "11:00")
	app.request(t, app.dev, "room_3", "2024-05-09", "14:00", "15:00")
	app.booking(t, app.eng, "room_2", today, "11:00", "12:00")

	dash, err := app.Dashboards.MyDashboard(ctx, app.dev)
	if err != nil {
		t.Fatalf("MyDashboard returned error: %v", err)
	}
	if len(dash.BookingsToday) != 1 || dash.BookingsToday[0].ID != todays.ID {
		t.Fatalf("expected today's booking %s, got %+v", todays.ID, dash.BookingsToday)
	}
	if len(dash.Upcoming) != 2 {
		t.Fatalf("expected 2 upcoming bookings, got %d", len(dash.Upcoming))
	}
	if len(dash.Pending) != 1 || dash.Pending[0].Date != "2024-05-09" {
		t.Fatalf("expected one pending request, got %+v", dash.Pending)
	}
	if len(dash.Notifications) != 2 {
		t.Fatalf("expected 2 approval notifications, got %d", len(dash.Notifications))
	}

	app.h.Clock.SetAt(today, "09:30")
	later, err := app.Dashboards.MyDashboard(ctx, app.dev)
	if err != nil {
		t.Fatalf("MyDashboard returned error: %v", err)
	}
	if len(later.Upcoming) != 1 || later.Upcoming[0].Date != futureDate {
		t.Fatalf("expected only the future booking to be upcoming, got %+v", later.Upcoming)
	}
}

func TestDashboardService_AdminDashboard(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	ctx := context.Background()

	app.booking(t, app.dev, "room_1", today, "09:00", "10:00")
	app.booking(t, app.eng, "room_2", today, "11:00", "12:00")
	app.booking(t, app.ti, "room_2", today, "14:00", "15:00")
	app.request(t, app.ti, "room_3", futureDate, "09:00", "10:00")
	app.request(t, app.eng, "room_3", futureDate, "10:00", "11:00")

	app.h.Clock.SetAt(today, "09:16")
	during, err := app.Dashboards.AdminDashboard(ctx, app.rh)
	if err != nil {
		t.Fatalf("AdminDashboard returned error: %v", err)
	}
	if during.NoShows != 0 || during.TodayByRoom["room_1"] != 1 {
		t.Fatalf("expected the unconfirmed booking to still hold room_1, got no-shows=%d occupancy=%v", during.NoShows, during.TodayByRoom)
	}

	app.h.Clock.SetAt(today, "10:00")
	if _, err := app.Bookings.ExpireDueCheckins(ctx); err != nil {
		t.Fatalf("ExpireDueCheckins returned error: %v", err)
	}

	dash, err := app.Dashboards.AdminDashboard(ctx, app.rh)
	if err != nil {
		t.Fatalf("AdminDashboard returned error: %v", err)
	}
	if dash.PendingRequests != 2 {
		t.Fatalf("expected 2 pending requests, got %d", dash.PendingRequests)
	}
	if dash.ConflictsPending != 0 {
		t.Fatalf("expected no flagged requests, got %d", dash.ConflictsPending)
	}
	if dash.NoShows != 1 {
		t.Fatalf("expected 1 no-show, got %d", dash.NoShows)
	}
	if dash.TodayByRoom["room_2"] != 2 || dash.TodayByRoom["room_1"] != 0 {
		t.Fatalf("unexpected occupancy %v", dash.TodayByRoom)
	}

	_, err = app.Dashboards.AdminDashboard(ctx, app.dev)
	expectKind(t, err, ErrUnauthorized)
}

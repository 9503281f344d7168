package application

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/testfixtures"
)

func newEmptyServices(t *testing.T) (*Services, *testfixtures.Harness) {
	t.Helper()
	h := testfixtures.NewFileHarness(t)
	services, err := NewServices(h.Repo, domain.DefaultSettings(), Options{
		Location: h.Location,
		Now:      h.Clock.NowFunc(),
		GroupID:  h.GroupIDs.NextFunc(),
		Hasher:   fastHasher,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewServices returned error: %v", err)
	}
	return services, h
}

func TestSeeder_EnsureSeed(t *testing.T) {
	t.Parallel()

	t.Run("fresh store is provisioned once", func(t *testing.T) {
		t.Parallel()
		services, _ := newEmptyServices(t)
		ctx := context.Background()

		report, err := services.Seeder.EnsureSeed(ctx, DefaultSeedPlan())
		if err != nil {
			t.Fatalf("EnsureSeed returned error: %v", err)
		}
		if len(report.Sectors) != 4 || len(report.Rooms) != 3 || len(report.Users) != 5 {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.Users[0] != "u_0001" || report.Demo {
			t.Fatalf("unexpected report %+v", report)
		}

		admin, err := services.Directory.Authenticate(ctx, "admin", "admin123")
		if err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		if admin.Role != domain.RoleAdmin || admin.Sector != "RH" || !admin.MustChangePassword {
			t.Fatalf("unexpected admin %+v", admin)
		}

		again, err := services.Seeder.EnsureSeed(ctx, DefaultSeedPlan())
		if err != nil {
			t.Fatalf("second EnsureSeed returned error: %v", err)
		}
		if len(again.Sectors)+len(again.Rooms)+len(again.Users)+len(again.Migrated) != 0 {
			t.Fatalf("expected second run to be a no-op, got %+v", again)
		}
		users, err := services.Directory.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers returned error: %v", err)
		}
		if len(users) != 5 {
			t.Fatalf("expected 5 users, got %d", len(users))
		}
	})

	t.Run("legacy ADMIN sector is migrated", func(t *testing.T) {
		t.Parallel()
		services, h := newEmptyServices(t)
		ctx := context.Background()
		legacy := testfixtures.NewUser(testfixtures.WithSector("ADMIN"))
		if err := h.Repo.SaveSector(ctx, domain.Sector{Name: "ADMIN"}); err != nil {
			t.Fatalf("SaveSector returned error: %v", err)
		}
		if err := h.Repo.SaveUser(ctx, legacy); err != nil {
			t.Fatalf("SaveUser returned error: %v", err)
		}

		report, err := services.Seeder.EnsureSeed(ctx, DefaultSeedPlan())
		if err != nil {
			t.Fatalf("EnsureSeed returned error: %v", err)
		}
		if len(report.Migrated) != 1 || report.Migrated[0] != legacy.ID {
			t.Fatalf("expected %s to be migrated, got %v", legacy.ID, report.Migrated)
		}
		sectors, _ := services.Directory.ListSectors(ctx)
		for _, name := range sectors {
			if name == "ADMIN" {
				t.Fatalf("expected ADMIN sector to be removed, got %v", sectors)
			}
		}
	})

	t.Run("custom sectors keep the default account sectors", func(t *testing.T) {
		t.Parallel()
		services, _ := newEmptyServices(t)
		ctx := context.Background()
		plan := DefaultSeedPlan()
		plan.Sectors = []string{"financeiro"}

		report, err := services.Seeder.EnsureSeed(ctx, plan)
		if err != nil {
			t.Fatalf("EnsureSeed returned error: %v", err)
		}
		if len(report.Users) != 5 {
			t.Fatalf("expected 5 default accounts, got %v", report.Users)
		}
		sectors, err := services.Directory.ListSectors(ctx)
		if err != nil {
			t.Fatalf("ListSectors returned error: %v", err)
		}
		want := []string{"DESENVOLVIMENTO", "ENGENHARIA", "FINANCEIRO", "RH", "TI"}
		if strings.Join(sectors, ",") != strings.Join(want, ",") {
			t.Fatalf("expected sectors %v, got %v", want, sectors)
		}
	})

	t.Run("demo data", func(t *testing.T) {
		t.Parallel()
		services, _ := newEmptyServices(t)
		ctx := context.Background()
		plan := DefaultSeedPlan()
		plan.Demo = true

		report, err := services.Seeder.EnsureSeed(ctx, plan)
		if err != nil {
			t.Fatalf("EnsureSeed returned error: %v", err)
		}
		if !report.Demo {
			t.Fatalf("expected demo data to be reported")
		}

		bookings, err := services.Bookings.ListBookings(ctx, BookingFilter{Date: testfixtures.ReferenceDate})
		if err != nil {
			t.Fatalf("ListBookings returned error: %v", err)
		}
		if len(bookings) != 1 || bookings[0].RoomID != "room_1" || bookings[0].Start != "09:00" {
			t.Fatalf("unexpected demo bookings %+v", bookings)
		}
		blocks, err := services.Blocks.ListBlocks(ctx, "room_2", testfixtures.ReferenceDate, true)
		if err != nil {
			t.Fatalf("ListBlocks returned error: %v", err)
		}
		if len(blocks) != 1 || blocks[0].Weekdays[0] != 1 {
			t.Fatalf("unexpected demo blocks %+v", blocks)
		}
		requests, err := services.Requests.ListRequests(ctx, RequestFilter{})
		if err != nil {
			t.Fatalf("ListRequests returned error: %v", err)
		}
		if len(requests) != 0 {
			t.Fatalf("expected overlapping demo request to be rejected, got %+v", requests)
		}
	})
}

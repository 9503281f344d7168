package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/testfixtures"
)

func TestIdentityService_NextIDIsDenseUnderContention(t *testing.T) {
	t.Parallel()

	for name, open := range map[string]func(testing.TB, ...testfixtures.HarnessOption) *testfixtures.Harness{
		"files":  testfixtures.NewFileHarness,
		"sqlite": testfixtures.NewSQLiteHarness,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := open(t)
			identity := NewIdentityService(h.Repo, h.Repo, h.Clock.NowFunc(), h.Location)

			const callers = 100
			var (
				mu  sync.Mutex
				ids = make(map[string]struct{}, callers)
			)
			var g errgroup.Group
			for i := 0; i < callers; i++ {
				g.Go(func() error {
					id, err := identity.NextID(context.Background(), KindBookings, PrefixBooking)
					if err != nil {
						return err
					}
					mu.Lock()
					ids[id] = struct{}{}
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("NextID returned error: %v", err)
			}
			if len(ids) != callers {
				t.Fatalf("expected %d unique ids, got %d", callers, len(ids))
			}
			for i := 1; i <= callers; i++ {
				if _, ok := ids[fmt.Sprintf("b_%04d", i)]; !ok {
					t.Fatalf("expected dense ids, missing b_%04d", i)
				}
			}
		})
	}
}

func TestIdentityService_Audit(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	ctx := context.Background()

	first, err := app.Identity.Audit(ctx, app.rh.Actor(), ActionBlockCreated, TargetBlock, "blk_0001", nil)
	if err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}
	if first.ID != "aud_0001" || first.Details == nil || first.ActorUsername != "rh" {
		t.Fatalf("unexpected event %+v", first)
	}
	app.h.Clock.Advance(time.Minute)
	if _, err := app.Identity.Audit(ctx, domain.SystemActor, ActionBookingExpiredAuto, TargetBooking, "b_0001", nil); err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}
	app.h.Clock.Set(time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC))
	if _, err := app.Identity.Audit(ctx, domain.SystemActor, ActionBookingExpiredAuto, TargetBooking, "b_0002", nil); err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}

	may, err := app.Identity.ListAuditEvents(ctx, "2024-05", "")
	if err != nil {
		t.Fatalf("ListAuditEvents returned error: %v", err)
	}
	if len(may) != 2 || may[0].Action != ActionBookingExpiredAuto {
		t.Fatalf("expected two May events newest first, got %+v", may)
	}

	current, err := app.Identity.ListAuditEvents(ctx, "", ActionBookingExpiredAuto)
	if err != nil {
		t.Fatalf("ListAuditEvents returned error: %v", err)
	}
	if len(current) != 1 || current[0].TargetID != "b_0002" {
		t.Fatalf("expected the June event, got %+v", current)
	}
}

func TestCompareIDs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"notif_9999", "notif_10000", -1},
		{"notif_10000", "notif_9999", 1},
		{"booking_7", "booking_7", 0},
		{"audit_2", "booking_1", -1},
		{"user_abc", "user_abd", -1},
		{"plain", "plain_1", -1},
	}
	for _, tc := range cases {
		t.Run(tc.a+" vs "+tc.b, func(t *testing.T) {
			t.Parallel()
			if got := CompareIDs(tc.a, tc.b); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/testfixtures"
)

var fastHasher = NewArgon2idHasher(Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  8,
	KeyLength:   16,
})

type testApp struct {
	*Services
	h     *testfixtures.Harness
	admin domain.User
	rh    domain.User
	dev   domain.User
	eng   domain.User
	ti    domain.User
}

func newTestApp(t *testing.T, opts ...testfixtures.HarnessOption) *testApp {
	t.Helper()
	return newTestAppOn(t, testfixtures.NewFileHarness(t, opts...))
}

func newTestAppOn(t *testing.T, h *testfixtures.Harness) *testApp {
	t.Helper()
	app := &testApp{
		h:     h,
		admin: testfixtures.AdminUser(),
		rh:    testfixtures.RHUser(),
		dev:   testfixtures.NewUser(testfixtures.WithUsername("dev1"), testfixtures.WithSector("DESENVOLVIMENTO")),
		eng:   testfixtures.NewUser(testfixtures.WithUsername("eng1"), testfixtures.WithSector("ENGENHARIA")),
		ti:    testfixtures.NewUser(testfixtures.WithUsername("ti1"), testfixtures.WithSector("TI")),
	}
	testfixtures.SeedDirectory(t, h.Repo, app.admin, app.rh, app.dev, app.eng, app.ti)

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
	app.Services = services
	return app
}

func (a *testApp) request(t *testing.T, user domain.User, room, date, start, end string) domain.BookingRequest {
	t.Helper()
	req, err := a.Requests.CreateRequest(context.Background(), RequestInput{
		RoomID: room,
		Date:   date,
		Start:  start,
		End:    end,
		Reason: "team sync",
	}, user)
	if err != nil {
		t.Fatalf("CreateRequest(%s %s-%s) returned error: %v", date, start, end, err)
	}
	return req
}

func (a *testApp) booking(t *testing.T, user domain.User, room, date, start, end string) domain.Booking {
	t.Helper()
	req := a.request(t, user, room, date, start, end)
	booking, err := a.Requests.ApproveRequest(context.Background(), req.ID, a.rh)
	if err != nil {
		t.Fatalf("ApproveRequest(%s) returned error: %v", req.ID, err)
	}
	return booking
}

func (a *testApp) auditActions(t *testing.T, month string) map[string]int {
	t.Helper()
	events, err := a.Identity.ListAuditEvents(context.Background(), month, "")
	if err != nil {
		t.Fatalf("ListAuditEvents returned error: %v", err)
	}
	counts := map[string]int{}
	for _, e := range events {
		counts[e.Action]++
	}
	return counts
}

func expectKind(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectValidation(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if field != "" && vErr.Message(field) == "" {
		t.Fatalf("expected %s field error, got %v", field, vErr.FieldErrors)
	}
}

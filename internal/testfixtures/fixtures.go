package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/roomflow/internal/domain"
)

// ReferenceDate is the Monday all fixtures are anchored on.
const ReferenceDate = "2024-05-06"

var userCounter uint64

var referenceTime = time.Date(2024, time.May, 6, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns 08:00 UTC on ReferenceDate.
func ReferenceTime() time.Time {
	return referenceTime
}

// UserOption configures a generated user.
type UserOption func(*domain.User)

// WithRole overrides the user's access level.
func WithRole(role domain.Role) UserOption {
	return func(u *domain.User) { u.Role = role }
}

// WithSector overrides the user's sector.
func WithSector(sector string) UserOption {
	return func(u *domain.User) { u.Sector = sector }
}

// WithUsername overrides the generated username.
func WithUsername(username string) UserOption {
	return func(u *domain.User) { u.Username = username }
}

// WithPasswordHash sets the stored credential.
func WithPasswordHash(hash string) UserOption {
	return func(u *domain.User) { u.PasswordHash = hash }
}

// Inactive marks the account as disabled.
func Inactive() UserOption {
	return func(u *domain.User) { u.Active = false }
}

// NewUser returns a deterministic active USER in sector TI.
func NewUser(opts ...UserOption) domain.User {
	idx := atomic.AddUint64(&userCounter, 1)
	user := domain.User{
		ID:        fmt.Sprintf("u_%04d", 9000+idx),
		Username:  fmt.Sprintf("user%03d", idx),
		Role:      domain.RoleUser,
		Sector:    "TI",
		Active:    true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&user)
	}
	return user
}

// AdminUser returns an administrator in sector RH.
func AdminUser() domain.User {
	return NewUser(WithUsername("admin"), WithRole(domain.RoleAdmin), WithSector("RH"))
}

// RHUser returns an approval authority in sector RH.
func RHUser() domain.User {
	return NewUser(WithUsername("rh"), WithRole(domain.RoleRH), WithSector("RH"))
}

// Sectors returns the stock sector names.
func Sectors() []string {
	return []string{"RH", "TI", "DESENVOLVIMENTO", "ENGENHARIA"}
}

// Rooms returns the three stock rooms.
func Rooms() []domain.Room {
	return []domain.Room{
		{ID: "room_1", Name: "Sala 1", CapacityLabel: "Menor", Capacity: 6, CreatedAt: referenceTime},
		{ID: "room_2", Name: "Sala 2", CapacityLabel: "Maior", Capacity: 14, CreatedAt: referenceTime},
		{ID: "room_3", Name: "Sala 3", CapacityLabel: "Média", Capacity: 10, CreatedAt: referenceTime},
	}
}

// DirectoryWriter persists directory records.
type DirectoryWriter interface {
	SaveUser(ctx context.Context, user domain.User) error
	SaveRoom(ctx context.Context, room domain.Room) error
	SaveSector(ctx context.Context, sector domain.Sector) error
}

// SeedDirectory stores the stock sectors and rooms plus users.
func SeedDirectory(tb testing.TB, store DirectoryWriter, users ...domain.User) {
	tb.Helper()
	ctx := context.Background()
	for _, name := range Sectors() {
		if err := store.SaveSector(ctx, domain.Sector{Name: name, CreatedAt: referenceTime}); err != nil {
			tb.Fatalf("failed to save sector %s: %v", name, err)
		}
	}
	for _, room := range Rooms() {
		if err := store.SaveRoom(ctx, room); err != nil {
			tb.Fatalf("failed to save room %s: %v", room.ID, err)
		}
	}
	for _, user := range users {
		if err := store.SaveUser(ctx, user); err != nil {
			tb.Fatalf("failed to save user %s: %v", user.Username, err)
		}
	}
}

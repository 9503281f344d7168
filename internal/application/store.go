package application

import (
	"context"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/persistence/sharded"
)

// CounterStore issues per-kind sequence numbers.
type CounterStore interface {
	NextCounter(ctx context.Context, kind string) (int, error)
}

// AuditStore appends and reads month-sharded audit events.
type AuditStore interface {
	AppendAudit(ctx context.Context, event domain.AuditEvent) error
	LoadAudit(ctx context.Context, month string) ([]domain.AuditEvent, error)
}

// NotificationStore reads and mutates per-user mailboxes.
type NotificationStore interface {
	LoadNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	MutateNotifications(ctx context.Context, userID string, fn func([]domain.Notification) ([]domain.Notification, bool, error)) error
}

// BookingStore reads and mutates room+date booking shards.
type BookingStore interface {
	LoadBookings(ctx context.Context, date, roomID string) ([]domain.Booking, error)
	MutateBookings(ctx context.Context, date, roomID string, fn func([]domain.Booking) ([]domain.Booking, bool, error)) error
	BookingShards(ctx context.Context) ([]sharded.BookingShard, error)
}

// BlockStore reads and mutates per-room block shards.
type BlockStore interface {
	LoadBlocks(ctx context.Context, roomID string) ([]domain.Block, error)
	MutateBlocks(ctx context.Context, roomID string, fn func([]domain.Block) ([]domain.Block, bool, error)) error
	BlockRooms(ctx context.Context) ([]string, error)
}

// RequestStore reads and mutates month-sharded requests.
type RequestStore interface {
	LoadRequests(ctx context.Context, month string) ([]domain.BookingRequest, error)
	MutateRequests(ctx context.Context, month string, fn func([]domain.BookingRequest) ([]domain.BookingRequest, bool, error)) error
	RequestMonths(ctx context.Context) ([]string, error)
}

// DirectoryStore persists users, rooms and sectors.
type DirectoryStore interface {
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SaveUser(ctx context.Context, user domain.User) error
	CreateUserUnique(ctx context.Context, user domain.User) (bool, error)
	DeleteUser(ctx context.Context, id string) error
	GetRoom(ctx context.Context, id string) (domain.Room, bool, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	SaveRoom(ctx context.Context, room domain.Room) error
	ListSectors(ctx context.Context) ([]domain.Sector, error)
	SaveSector(ctx context.Context, sector domain.Sector) error
	RemoveSector(ctx context.Context, name string) (bool, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	CounterStore
	AuditStore
	NotificationStore
	BookingStore
	BlockStore
	RequestStore
	DirectoryStore
	AuditMonths(ctx context.Context) ([]string, error)
	EnsureCounters(ctx context.Context, kinds ...string) error
	EnsureSettings(ctx context.Context) error
}

var _ Store = (*sharded.Repository)(nil)

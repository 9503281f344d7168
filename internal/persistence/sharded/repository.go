// Package sharded maps domain entities onto small per-shard documents of a
// persistence.Documents store and normalizes legacy record shapes on load.
package sharded

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/persistence"
)

// Repository provides typed, shard-aware access to the document store.
type Repository struct {
	docs  persistence.Documents
	codec codec
}

// Option customises a Repository.
type Option func(*Repository)

// WithCheckinGrace sets the check-in deadline assumed for bookings stored
// without one.
func WithCheckinGrace(minutes int) Option {
	return func(r *Repository) {
		if minutes > 0 {
			r.codec.checkinGrace = minutes
		}
	}
}

// New constructs a Repository over docs. Timestamps are rendered in loc.
func New(docs persistence.Documents, loc *time.Location, opts ...Option) *Repository {
	if loc == nil {
		loc = time.Local
	}
	repo := &Repository{
		docs:  docs,
		codec: codec{loc: loc, checkinGrace: domain.DefaultSettings().CheckinGraceMinutes},
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Documents exposes the underlying store.
func (r *Repository) Documents() persistence.Documents {
	return r.docs
}

// Location returns the zone used for timestamps.
func (r *Repository) Location() *time.Location {
	return r.codec.loc
}

// mutateShard holds key's lock across read, fn and write. fn reports whether
// the shard changed; unchanged shards are not rewritten.
func mutateShard[S any](ctx context.Context, docs persistence.Documents, key string, shard *S, fn func(*S) (bool, error)) error {
	return docs.WithLock(ctx, key, func(ctx context.Context) error {
		if _, err := docs.Read(ctx, key, shard); err != nil {
			return err
		}
		changed, err := fn(shard)
		if err != nil || !changed {
			return err
		}
		return docs.WriteAtomicUnlocked(ctx, key, shard)
	})
}

// --- counters ---

// NextCounter increments and returns the named counter under the counters lock.
func (r *Repository) NextCounter(ctx context.Context, kind string) (int, error) {
	var next int
	counters := map[string]int{}
	err := mutateShard(ctx, r.docs, CountersKey, &counters, func(c *map[string]int) (bool, error) {
		if *c == nil {
			*c = map[string]int{}
		}
		(*c)[kind]++
		next = (*c)[kind]
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// EnsureCounters writes the counters document when it does not exist yet.
func (r *Repository) EnsureCounters(ctx context.Context, kinds ...string) error {
	counters := map[string]int{}
	return mutateShard(ctx, r.docs, CountersKey, &counters, func(c *map[string]int) (bool, error) {
		if *c == nil {
			*c = map[string]int{}
		}
		changed := false
		for _, kind := range kinds {
			if _, ok := (*c)[kind]; !ok {
				(*c)[kind] = 0
				changed = true
			}
		}
		return changed, nil
	})
}

// --- users ---

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var rec userRecord
	found, err := r.docs.Read(ctx, UserKey(id), &rec)
	if err != nil || !found {
		return domain.User{}, false, err
	}
	return r.codec.decodeUser(rec), true, nil
}

// ListUsers returns every user ordered by key.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	keys, err := r.docs.List(ctx, UsersCollection)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(keys))
	for _, key := range keys {
		var rec userRecord
		found, err := r.docs.Read(ctx, key, &rec)
		if err != nil {
			return nil, err
		}
		if found && rec.ID != "" {
			users = append(users, r.codec.decodeUser(rec))
		}
	}
	return users, nil
}

// SaveUser replaces the user document.
func (r *Repository) SaveUser(ctx context.Context, user domain.User) error {
	return r.docs.WriteAtomic(ctx, UserKey(user.ID), r.codec.encodeUser(user))
}

// CreateUserUnique stores user unless another account already has its
// username. It reports false, without writing, when the username is taken.
func (r *Repository) CreateUserUnique(ctx context.Context, user domain.User) (created bool, err error) {
	err = r.docs.WithLock(ctx, UsernamesLockKey, func(ctx context.Context) error {
		users, err := r.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, existing := range users {
			if existing.Username == user.Username {
				return nil
			}
		}
		if err := r.SaveUser(ctx, user); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// DeleteUser removes the user document.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	return r.docs.Remove(ctx, UserKey(id))
}

// --- rooms ---

// GetRoom loads a room by id.
func (r *Repository) GetRoom(ctx context.Context, id string) (domain.Room, bool, error) {
	var rec roomRecord
	found, err := r.docs.Read(ctx, RoomKey(id), &rec)
	if err != nil || !found {
		return domain.Room{}, false, err
	}
	return r.decodeRoom(rec), true, nil
}

func (r *Repository) decodeRoom(rec roomRecord) domain.Room {
	return domain.Room{
		ID:            rec.ID,
		Name:          rec.Name,
		CapacityLabel: rec.CapacityLabel,
		Capacity:      rec.Capacity,
		CreatedAt:     r.codec.parseTime(rec.CreatedAt),
	}
}

// ListRooms returns every provisioned room ordered by id.
func (r *Repository) ListRooms(ctx context.Context) ([]domain.Room, error) {
	keys, err := r.docs.List(ctx, RoomsCollection)
	if err != nil {
		return nil, err
	}
	rooms := make([]domain.Room, 0, len(keys))
	for _, key := range keys {
		var rec roomRecord
		found, err := r.docs.Read(ctx, key, &rec)
		if err != nil {
			return nil, err
		}
		if found && rec.ID != "" {
			rooms = append(rooms, r.decodeRoom(rec))
		}
	}
	return rooms, nil
}

// SaveRoom replaces the room document.
func (r *Repository) SaveRoom(ctx context.Context, room domain.Room) error {
	return r.docs.WriteAtomic(ctx, RoomKey(room.ID), roomRecord{
		ID:            room.ID,
		Name:          room.Name,
		CapacityLabel: room.CapacityLabel,
		Capacity:      room.Capacity,
		CreatedAt:     r.codec.formatTime(room.CreatedAt),
	})
}

// --- sectors ---

// ListSectors returns every stored sector ordered by name.
func (r *Repository) ListSectors(ctx context.Context) ([]domain.Sector, error) {
	keys, err := r.docs.List(ctx, SectorsCollection)
	if err != nil {
		return nil, err
	}
	sectors := make([]domain.Sector, 0, len(keys))
	for _, key := range keys {
		var rec sectorRecord
		found, err := r.docs.Read(ctx, key, &rec)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		name := rec.Name
		if name == "" {
			name = lastSegment(key)
		}
		sectors = append(sectors, domain.Sector{Name: name, CreatedAt: r.codec.parseTime(rec.CreatedAt)})
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i].Name < sectors[j].Name })
	return sectors, nil
}

// SaveSector writes the sector document.
func (r *Repository) SaveSector(ctx context.Context, sector domain.Sector) error {
	return r.docs.WriteAtomic(ctx, SectorKey(sector.Name), sectorRecord{
		Name:      sector.Name,
		CreatedAt: r.codec.formatTime(sector.CreatedAt),
	})
}

// RemoveSector deletes a sector document; an absent sector is not an error.
func (r *Repository) RemoveSector(ctx context.Context, name string) (bool, error) {
	err := r.docs.Remove(ctx, SectorKey(name))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// --- bookings ---

type bookingShardDoc struct {
	Date   string          `json:"date"`
	RoomID string          `json:"room_id"`
	Items  []bookingRecord `json:"items"`
}

// LoadBookings returns the bookings of room on date.
func (r *Repository) LoadBookings(ctx context.Context, date, roomID string) ([]domain.Booking, error) {
	var doc bookingShardDoc
	if _, err := r.docs.Read(ctx, BookingShardKey(date, roomID), &doc); err != nil {
		return nil, err
	}
	return r.decodeBookings(doc.Items), nil
}

func (r *Repository) decodeBookings(items []bookingRecord) []domain.Booking {
	out := make([]domain.Booking, 0, len(items))
	for _, item := range items {
		out = append(out, r.codec.decodeBooking(item))
	}
	return out
}

// MutateBookings runs fn on the room+date shard while holding its lock and
// persists the returned slice when fn reports a change.
func (r *Repository) MutateBookings(ctx context.Context, date, roomID string, fn func([]domain.Booking) ([]domain.Booking, bool, error)) error {
	doc := bookingShardDoc{Date: date, RoomID: roomID}
	return mutateShard(ctx, r.docs, BookingShardKey(date, roomID), &doc, func(d *bookingShardDoc) (bool, error) {
		updated, changed, err := fn(r.decodeBookings(d.Items))
		if err != nil || !changed {
			return false, err
		}
		d.Date, d.RoomID = date, roomID
		d.Items = make([]bookingRecord, 0, len(updated))
		for _, b := range updated {
			d.Items = append(d.Items, r.codec.encodeBooking(b))
		}
		return true, nil
	})
}

// BookingShards lists every booking shard in key order.
func (r *Repository) BookingShards(ctx context.Context) ([]BookingShard, error) {
	keys, err := r.docs.List(ctx, BookingsCollection)
	if err != nil {
		return nil, err
	}
	shards := make([]BookingShard, 0, len(keys))
	for _, key := range keys {
		if shard, ok := parseBookingShardKey(key); ok {
			shards = append(shards, shard)
		}
	}
	return shards, nil
}

// FindBooking scans all booking shards for id.
func (r *Repository) FindBooking(ctx context.Context, id string) (domain.Booking, bool, error) {
	shards, err := r.BookingShards(ctx)
	if err != nil {
		return domain.Booking{}, false, err
	}
	for _, shard := range shards {
		bookings, err := r.LoadBookings(ctx, shard.Date, shard.RoomID)
		if err != nil {
			return domain.Booking{}, false, err
		}
		for _, b := range bookings {
			if b.ID == id {
				return b, true, nil
			}
		}
	}
	return domain.Booking{}, false, nil
}

// --- requests ---

type requestShardDoc struct {
	Month string          `json:"month"`
	Items []requestRecord `json:"items"`
}

// LoadRequests returns the requests whose date falls in month.
func (r *Repository) LoadRequests(ctx context.Context, month string) ([]domain.BookingRequest, error) {
	var doc requestShardDoc
	if _, err := r.docs.Read(ctx, RequestShardKey(month), &doc); err != nil {
		return nil, err
	}
	return r.decodeRequests(doc.Items), nil
}

func (r *Repository) decodeRequests(items []requestRecord) []domain.BookingRequest {
	out := make([]domain.BookingRequest, 0, len(items))
	for _, item := range items {
		out = append(out, r.codec.decodeRequest(item))
	}
	return out
}

// RequestMonths lists the months holding request shards, ascending.
func (r *Repository) RequestMonths(ctx context.Context) ([]string, error) {
	keys, err := r.docs.List(ctx, RequestsCollection)
	if err != nil {
		return nil, err
	}
	months := make([]string, 0, len(keys))
	for _, key := range keys {
		months = append(months, lastSegment(key))
	}
	return months, nil
}

// MutateRequests runs fn on a month shard while holding its lock.
func (r *Repository) MutateRequests(ctx context.Context, month string, fn func([]domain.BookingRequest) ([]domain.BookingRequest, bool, error)) error {
	doc := requestShardDoc{Month: month}
	return mutateShard(ctx, r.docs, RequestShardKey(month), &doc, func(d *requestShardDoc) (bool, error) {
		updated, changed, err := fn(r.decodeRequests(d.Items))
		if err != nil || !changed {
			return false, err
		}
		d.Month = month
		d.Items = make([]requestRecord, 0, len(updated))
		for _, req := range updated {
			d.Items = append(d.Items, r.codec.encodeRequest(req))
		}
		return true, nil
	})
}

// FindRequest scans request shards for id.
func (r *Repository) FindRequest(ctx context.Context, id string) (domain.BookingRequest, bool, error) {
	months, err := r.RequestMonths(ctx)
	if err != nil {
		return domain.BookingRequest{}, false, err
	}
	for _, month := range months {
		requests, err := r.LoadRequests(ctx, month)
		if err != nil {
			return domain.BookingRequest{}, false, err
		}
		for _, req := range requests {
			if req.ID == id {
				return req, true, nil
			}
		}
	}
	return domain.BookingRequest{}, false, nil
}

// --- blocks ---

type blockShardDoc struct {
	RoomID string        `json:"room_id"`
	Items  []blockRecord `json:"items"`
}

// LoadBlocks returns every block of a room.
func (r *Repository) LoadBlocks(ctx context.Context, roomID string) ([]domain.Block, error) {
	var doc blockShardDoc
	if _, err := r.docs.Read(ctx, BlockShardKey(roomID), &doc); err != nil {
		return nil, err
	}
	return r.decodeBlocks(roomID, doc.Items), nil
}

func (r *Repository) decodeBlocks(roomID string, items []blockRecord) []domain.Block {
	out := make([]domain.Block, 0, len(items))
	for _, item := range items {
		if item.RoomID == "" {
			item.RoomID = roomID
		}
		out = append(out, r.codec.decodeBlock(item))
	}
	return out
}

// MutateBlocks runs fn on a room's block shard while holding its lock.
func (r *Repository) MutateBlocks(ctx context.Context, roomID string, fn func([]domain.Block) ([]domain.Block, bool, error)) error {
	doc := blockShardDoc{RoomID: roomID}
	return mutateShard(ctx, r.docs, BlockShardKey(roomID), &doc, func(d *blockShardDoc) (bool, error) {
		updated, changed, err := fn(r.decodeBlocks(roomID, d.Items))
		if err != nil || !changed {
			return false, err
		}
		d.RoomID = roomID
		d.Items = make([]blockRecord, 0, len(updated))
		for _, b := range updated {
			d.Items = append(d.Items, r.codec.encodeBlock(b))
		}
		return true, nil
	})
}

// BlockRooms lists the room ids that own a block shard.
func (r *Repository) BlockRooms(ctx context.Context) ([]string, error) {
	keys, err := r.docs.List(ctx, BlocksCollection)
	if err != nil {
		return nil, err
	}
	rooms := make([]string, 0, len(keys))
	for _, key := range keys {
		rooms = append(rooms, lastSegment(key))
	}
	return rooms, nil
}

// --- notifications ---

type notificationShardDoc struct {
	UserID string               `json:"user_id"`
	Items  []notificationRecord `json:"items"`
}

// LoadNotifications returns the mailbox of a user in stored order.
func (r *Repository) LoadNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	var doc notificationShardDoc
	if _, err := r.docs.Read(ctx, NotificationShardKey(userID), &doc); err != nil {
		return nil, err
	}
	return r.decodeNotifications(doc.Items), nil
}

func (r *Repository) decodeNotifications(items []notificationRecord) []domain.Notification {
	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		out = append(out, r.codec.decodeNotification(item))
	}
	return out
}

// MutateNotifications runs fn on a user's mailbox while holding its lock.
func (r *Repository) MutateNotifications(ctx context.Context, userID string, fn func([]domain.Notification) ([]domain.Notification, bool, error)) error {
	doc := notificationShardDoc{UserID: userID}
	return mutateShard(ctx, r.docs, NotificationShardKey(userID), &doc, func(d *notificationShardDoc) (bool, error) {
		updated, changed, err := fn(r.decodeNotifications(d.Items))
		if err != nil || !changed {
			return false, err
		}
		d.UserID = userID
		d.Items = make([]notificationRecord, 0, len(updated))
		for _, n := range updated {
			d.Items = append(d.Items, r.codec.encodeNotification(n))
		}
		return true, nil
	})
}

// --- audit ---

type auditShardDoc struct {
	Month string        `json:"month"`
	Items []auditRecord `json:"items"`
}

// AppendAudit adds event to the shard of the month it was created in.
func (r *Repository) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	month := event.CreatedAt.In(r.codec.loc).Format("2006-01")
	doc := auditShardDoc{Month: month}
	return mutateShard(ctx, r.docs, AuditShardKey(month), &doc, func(d *auditShardDoc) (bool, error) {
		d.Month = month
		d.Items = append(d.Items, r.codec.encodeAudit(event))
		return true, nil
	})
}

// LoadAudit returns the audit events of month in stored order.
func (r *Repository) LoadAudit(ctx context.Context, month string) ([]domain.AuditEvent, error) {
	var doc auditShardDoc
	if _, err := r.docs.Read(ctx, AuditShardKey(month), &doc); err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(doc.Items))
	for _, item := range doc.Items {
		out = append(out, r.codec.decodeAudit(item))
	}
	return out, nil
}

// AuditMonths lists the months holding audit shards, ascending.
func (r *Repository) AuditMonths(ctx context.Context) ([]string, error) {
	keys, err := r.docs.List(ctx, LogsCollection)
	if err != nil {
		return nil, err
	}
	months := make([]string, 0, len(keys))
	for _, key := range keys {
		name := lastSegment(key)
		if strings.HasPrefix(name, auditPrefix) {
			months = append(months, strings.TrimPrefix(name, auditPrefix))
		}
	}
	return months, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}

// Describe renders a short human label for logs.
func (s BookingShard) Describe() string {
	return fmt.Sprintf("%s@%s", s.RoomID, s.Date)
}

package application

import (
	"sync"
	"time"

	"github.com/example/roomflow/internal/domain"
)

// roomCache keeps the provisioned room list for a short time. Rooms change
// only through seeding, so most lookups are served from memory.
type roomCache struct {
	mu        sync.RWMutex
	now       func() time.Time
	ttl       time.Duration
	rooms     []domain.Room
	byID      map[string]domain.Room
	expiresAt time.Time
}

func newRoomCache(ttl time.Duration, now func() time.Time) *roomCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &roomCache{now: now, ttl: ttl}
}

func (c *roomCache) List() ([]domain.Room, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rooms == nil || c.now().After(c.expiresAt) {
		return nil, false
	}
	return cloneRooms(c.rooms), true
}

func (c *roomCache) Get(id string) (domain.Room, bool, bool) {
	if c == nil {
		return domain.Room{}, false, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rooms == nil || c.now().After(c.expiresAt) {
		return domain.Room{}, false, false
	}
	room, ok := c.byID[id]
	return room, ok, true
}

func (c *roomCache) Store(rooms []domain.Room) {
	if c == nil {
		return
	}
	cloned := cloneRooms(rooms)
	if cloned == nil {
		cloned = []domain.Room{}
	}
	byID := make(map[string]domain.Room, len(cloned))
	for _, room := range cloned {
		byID[room.ID] = room
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = cloned
	c.byID = byID
	c.expiresAt = c.now().Add(c.ttl)
}

func (c *roomCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rooms = nil
	c.byID = nil
	c.mu.Unlock()
}

func cloneRooms(rooms []domain.Room) []domain.Room {
	if len(rooms) == 0 {
		return nil
	}
	out := make([]domain.Room, len(rooms))
	copy(out, rooms)
	return out
}

package application

import (
	"testing"
	"time"

	"github.com/example/roomflow/internal/testfixtures"
)

func TestRoomCache(t *testing.T) {
	t.Parallel()

	clock := testfixtures.NewClock(time.Time{})
	cache := newRoomCache(time.Minute, clock.Now)

	if _, ok := cache.List(); ok {
		t.Fatalf("expected empty cache to miss")
	}

	rooms := testfixtures.Rooms()
	cache.Store(rooms)
	rooms[0].Name = "mutated"

	cached, ok := cache.List()
	if !ok || len(cached) != 3 {
		t.Fatalf("expected 3 cached rooms, got %d (hit %v)", len(cached), ok)
	}
	if cached[0].Name != "Sala 1" {
		t.Fatalf("expected cache to hold a copy, got %q", cached[0].Name)
	}

	room, found, hit := cache.Get("room_3")
	if !hit || !found || room.Capacity != 10 {
		t.Fatalf("unexpected lookup result %+v found=%v hit=%v", room, found, hit)
	}
	if _, found, hit := cache.Get("room_9"); !hit || found {
		t.Fatalf("expected cached miss for unknown room, found=%v hit=%v", found, hit)
	}

	clock.Advance(2 * time.Minute)
	if _, ok := cache.List(); ok {
		t.Fatalf("expected entry to expire")
	}

	cache.Store(nil)
	if empty, ok := cache.List(); !ok || len(empty) != 0 {
		t.Fatalf("expected empty room list to be cached, got %v (hit %v)", empty, ok)
	}
	cache.Invalidate()
	if _, _, hit := cache.Get("room_1"); hit {
		t.Fatalf("expected invalidated cache to miss")
	}
}

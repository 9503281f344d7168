package testfixtures

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/roomflow/internal/scheduler"
)

// Clock is a controllable time source. Time only moves when a test says so.
type Clock struct {
	mu       sync.Mutex
	current  time.Time
	location *time.Location
}

// NewClock returns a clock set to start. A zero start means ReferenceTime.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start, location: start.Location()}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now for injection into services.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// SetAt moves the clock to the HH:MM wall time on date in the clock's location.
func (c *Clock) SetAt(date, clock string) time.Time {
	t, err := scheduler.At(date, clock, c.location)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: SetAt(%q, %q): %v", date, clock, err))
	}
	c.Set(t)
	return t
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

// Today returns the current calendar date as YYYY-MM-DD.
func (c *Clock) Today() string {
	return c.Now().In(c.location).Format(scheduler.DateLayout)
}

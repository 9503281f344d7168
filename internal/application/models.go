package application

import "github.com/example/roomflow/internal/domain"

// Color is the traffic-light verdict of an availability check.
type Color string

const (
	// ColorGreen allows the request to be submitted.
	ColorGreen Color = "green"
	// ColorAmber is reserved for advisory, non-blocking conflicts and is never produced.
	ColorAmber Color = "amber"
	// ColorRed blocks submission.
	ColorRed Color = "red"
)

// Verdict is the outcome of a semaphore check for one candidate interval.
type Verdict struct {
	Color     Color
	Message   string
	CanSubmit bool
	// Err carries the validation failure behind a red verdict, if any.
	Err error
}

// Slot is a free interval suggested to the user.
type Slot struct {
	Start string
	End   string
}

// SlotKind classifies one grid slot of a room schedule.
type SlotKind string

const (
	SlotFree     SlotKind = "free"
	SlotBlocked  SlotKind = "blocked"
	SlotMine     SlotKind = "mine"
	SlotReserved SlotKind = "reserved"
)

// ScheduleEntry describes one slot of a room's day.
type ScheduleEntry struct {
	Time      string
	Kind      SlotKind
	Detail    string
	BookingID string
	BlockID   string
}

// RequestInput captures caller provided request fields.
type RequestInput struct {
	RoomID string
	Date   string
	Start  string
	End    string
	Reason string
}

// RecurringResult reports the outcome of a weekly recurring submission.
// Failures maps each rejected date to the reason it was rejected.
type RecurringResult struct {
	GroupID  string
	Created  []domain.BookingRequest
	Failures map[string]string
}

// GroupApprovalResult summarises an approve-group run.
type GroupApprovalResult struct {
	Total    int
	Approved int
	Failed   int
}

// GroupDenialResult summarises a deny-group run.
type GroupDenialResult struct {
	Total  int
	Denied int
	Failed int
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	Month       string
	Status      domain.RequestStatus
	RoomID      string
	Sector      string
	Date        string
	RequestedBy string
	HasConflict *bool
}

// RequestGroup is a display bucket of requests sharing a recurrence group,
// or a single ungrouped request keyed by its own id.
type RequestGroup struct {
	Key      string
	Requests []domain.BookingRequest
}

// BookingFilter narrows ListBookings. Zero fields match everything.
type BookingFilter struct {
	Date        string
	Month       string
	DateFrom    string
	DateTo      string
	RoomID      string
	CreatedBy   string
	Status      domain.BookingStatus
	Sector      string
	IsEmergency *bool
	// Search matches cancel and emergency reasons case-insensitively.
	Search string
}

// EmergencyInput captures the fields of an emergency booking.
type EmergencyInput struct {
	RoomID string
	Date   string
	Start  string
	End    string
	Reason string
}

// EmergencyResult lists the booking created and those it displaced.
type EmergencyResult struct {
	Booking   domain.Booking
	Displaced []domain.Booking
}

// BlockInput captures caller provided block fields.
type BlockInput struct {
	RoomID    string
	StartDate string
	EndDate   string
	Start     string
	End       string
	Reason    string
	Weekdays  []int
}

// UserInput captures the fields of a new user account.
type UserInput struct {
	Username string
	Sector   string
	Role     domain.Role
	Password string
}

// MyDashboard is the personal overview of a user.
type MyDashboard struct {
	BookingsToday []domain.Booking
	Upcoming      []domain.Booking
	Pending       []domain.BookingRequest
	Notifications []domain.Notification
}

// AdminDashboard is the approval authority overview.
type AdminDashboard struct {
	PendingRequests  int
	ConflictsPending int
	NoShows          int
	TodayByRoom      map[string]int
}

package domain

import "time"

// Role identifies the access level of a user account.
type Role string

const (
	// RoleAdmin manages users and sectors in addition to RH privileges.
	RoleAdmin Role = "ADMIN"
	// RoleRH approves requests, manages blocks and issues emergency bookings.
	RoleRH Role = "RH"
	// RoleUser requests rooms and manages their own bookings.
	RoleUser Role = "USER"
)

// Privileged reports whether the role acts as an approval authority.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleRH
}

// Valid reports whether the role is one of the known access levels.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleRH, RoleUser:
		return true
	}
	return false
}

// RequestStatus tracks the decision state of a booking request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestDenied    RequestStatus = "DENIED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// BookingStatus tracks the lifecycle state of a booking.
type BookingStatus string

const (
	BookingActive               BookingStatus = "ACTIVE"
	BookingInProgress           BookingStatus = "IN_PROGRESS"
	BookingCancelled            BookingStatus = "CANCELLED"
	BookingCancelledByEmergency BookingStatus = "CANCELLED_BY_EMERGENCY"
	BookingExpired              BookingStatus = "EXPIRED"
	BookingDone                 BookingStatus = "DONE"
)

// Occupying reports whether a booking in this status holds its room.
func (s BookingStatus) Occupying() bool {
	return s == BookingActive || s == BookingInProgress
}

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	return !s.Occupying()
}

// BlockStatus tracks whether a room block is enforced.
type BlockStatus string

const (
	BlockActive   BlockStatus = "ACTIVE"
	BlockInactive BlockStatus = "INACTIVE"
)

// User represents an employee account.
type User struct {
	ID                 string
	Username           string
	Role               Role
	Sector             string
	PasswordHash       string
	MustChangePassword bool
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Actor returns the audit identity of the user.
func (u User) Actor() Actor {
	return Actor{UserID: u.ID, Username: u.Username}
}

// Room represents a provisioned meeting room.
type Room struct {
	ID            string
	Name          string
	CapacityLabel string
	Capacity      int
	CreatedAt     time.Time
}

// Sector represents an organisational unit users belong to.
type Sector struct {
	Name      string
	CreatedAt time.Time
}

// BookingRequest represents a user's ask for a room slot awaiting a decision.
type BookingRequest struct {
	ID                string
	RequestedBy       string
	Username          string
	Sector            string
	RoomID            string
	Date              string
	Start             string
	End               string
	Reason            string
	Status            RequestStatus
	CreatedAt         time.Time
	DecidedAt         *time.Time
	DecidedBy         string
	DecisionReason    string
	HasConflict       bool
	ConflictSummary   string
	RecurrenceGroupID string
}

// Booking represents a confirmed room reservation.
type Booking struct {
	ID                     string
	RoomID                 string
	Date                   string
	Start                  string
	End                    string
	Sector                 string
	CreatedBy              string
	CreatedByUsername      string
	ApprovedBy             string
	Status                 BookingStatus
	RequestID              string
	IsEmergency            bool
	EmergencyReason        string
	RequiresCheckin        bool
	CheckinDeadlineMinutes int
	CheckedInAt            *time.Time
	RecurrenceGroupID      string
	CancelReason           string
	CancelledBy            string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Block represents an administrative closure of a room over a date range.
type Block struct {
	ID        string
	RoomID    string
	StartDate string
	EndDate   string
	// Date is set only for legacy single-date blocks and must match exactly.
	Date      string
	Weekdays  []int
	Start     string
	End       string
	Reason    string
	CreatedBy string
	Status    BlockStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification represents a mailbox entry addressed to one user.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// Unread reports whether the notification has not been read yet.
func (n Notification) Unread() bool {
	return n.ReadAt == nil
}

// Actor identifies who performed an audited action.
type Actor struct {
	UserID   string
	Username string
}

// SystemActor is recorded for actions triggered by the engine itself.
var SystemActor = Actor{UserID: "system", Username: "system"}

// AuditEvent represents an append-only record of a state change.
type AuditEvent struct {
	ID            string
	ActorUserID   string
	ActorUsername string
	Action        string
	TargetType    string
	TargetID      string
	Details       map[string]any
	CreatedAt     time.Time
}

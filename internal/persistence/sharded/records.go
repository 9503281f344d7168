package sharded

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/recurrence"
)

// Stored records carry the current field names plus the legacy v0 aliases
// accepted on read. Every decode normalizes to the canonical domain shape,
// and every encode writes the current shape only.

const naiveTimestamp = "2006-01-02T15:04:05"

type codec struct {
	loc          *time.Location
	checkinGrace int
}

func (c codec) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(c.loc).Format(time.RFC3339Nano)
}

func (c codec) formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return c.formatTime(*t)
}

// parseTime accepts RFC 3339 and the naive local timestamps of older files.
func (c codec) parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.In(c.loc)
	}
	for _, layout := range []string{naiveTimestamp, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, value, c.loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (c codec) parseTimePtr(value string) *time.Time {
	t := c.parseTime(value)
	if t.IsZero() {
		return nil
	}
	return &t
}

var requestStatusAliases = map[string]domain.RequestStatus{
	"PENDENTE":  domain.RequestPending,
	"APROVADA":  domain.RequestApproved,
	"NEGADA":    domain.RequestDenied,
	"RECUSADA":  domain.RequestDenied,
	"CANCELADA": domain.RequestCancelled,
}

var bookingStatusAliases = map[string]domain.BookingStatus{
	"ATIVA":                    domain.BookingActive,
	"EM_ANDAMENTO":             domain.BookingInProgress,
	"CANCELADA":                domain.BookingCancelled,
	"CANCELADA_POR_EMERGENCIA": domain.BookingCancelledByEmergency,
	"EXPIRADA":                 domain.BookingExpired,
	"CONCLUIDA":                domain.BookingDone,
}

var blockStatusAliases = map[string]domain.BlockStatus{
	"ATIVO":   domain.BlockActive,
	"INATIVO": domain.BlockInactive,
}

func normalizeRequestStatus(value string) domain.RequestStatus {
	if value == "" {
		return domain.RequestPending
	}
	if s, ok := requestStatusAliases[value]; ok {
		return s
	}
	return domain.RequestStatus(value)
}

func normalizeBookingStatus(value string) domain.BookingStatus {
	if value == "" {
		return domain.BookingActive
	}
	if s, ok := bookingStatusAliases[value]; ok {
		return s
	}
	return domain.BookingStatus(value)
}

func normalizeBlockStatus(value string) domain.BlockStatus {
	if value == "" {
		return domain.BlockActive
	}
	if s, ok := blockStatusAliases[value]; ok {
		return s
	}
	return domain.BlockStatus(value)
}

type userRecord struct {
	ID                 string          `json:"id"`
	Username           string          `json:"username"`
	Role               string          `json:"role"`
	Sector             string          `json:"sector"`
	Password           json.RawMessage `json:"password"`
	MustChangePassword bool            `json:"must_change_password"`
	IsActive           *bool           `json:"is_active,omitempty"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
}

// legacyPassword is the PBKDF2 credential dictionary of older user files.
type legacyPassword struct {
	Algo       string `json:"algo"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Hash       string `json:"hash"`
}

// LegacyPasswordPrefix marks PBKDF2 credentials converted from older files:
// "$pbkdf2-<algo>$<iterations>$<salt b64>$<hash b64>".
const LegacyPasswordPrefix = "$pbkdf2-"

func decodePassword(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return encoded
	}
	var legacy legacyPassword
	if err := json.Unmarshal(raw, &legacy); err != nil || legacy.Hash == "" {
		return ""
	}
	if legacy.Algo == "" {
		legacy.Algo = "sha256"
	}
	if legacy.Iterations <= 0 {
		legacy.Iterations = 220000
	}
	return fmt.Sprintf("%s%s$%d$%s$%s", LegacyPasswordPrefix, legacy.Algo, legacy.Iterations, legacy.Salt, legacy.Hash)
}

func (c codec) decodeUser(r userRecord) domain.User {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return domain.User{
		ID:                 r.ID,
		Username:           r.Username,
		Role:               domain.Role(r.Role),
		Sector:             r.Sector,
		PasswordHash:       decodePassword(r.Password),
		MustChangePassword: r.MustChangePassword,
		Active:             active,
		CreatedAt:          c.parseTime(r.CreatedAt),
		UpdatedAt:          c.parseTime(r.UpdatedAt),
	}
}

func (c codec) encodeUser(u domain.User) userRecord {
	password, _ := json.Marshal(u.PasswordHash)
	active := u.Active
	return userRecord{
		ID:                 u.ID,
		Username:           u.Username,
		Role:               string(u.Role),
		Sector:             u.Sector,
		Password:           password,
		MustChangePassword: u.MustChangePassword,
		IsActive:           &active,
		CreatedAt:          c.formatTime(u.CreatedAt),
		UpdatedAt:          c.formatTime(u.UpdatedAt),
	}
}

type roomRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CapacityLabel string `json:"capacity_label"`
	Capacity      int    `json:"capacity"`
	CreatedAt     string `json:"created_at"`
}

type sectorRecord struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type requestRecord struct {
	ID                string `json:"id"`
	RequestedBy       string `json:"requested_by,omitempty"`
	Username          string `json:"username"`
	Sector            string `json:"sector"`
	RoomID            string `json:"room_id"`
	Date              string `json:"date"`
	Start             string `json:"start,omitempty"`
	End               string `json:"end,omitempty"`
	Reason            string `json:"reason"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`
	DecidedAt         string `json:"decided_at,omitempty"`
	DecidedBy         string `json:"decided_by,omitempty"`
	DecisionReason    string `json:"decision_reason"`
	HasConflict       *bool  `json:"has_conflict,omitempty"`
	ConflictSummary   string `json:"conflict_summary"`
	RecurrenceGroupID string `json:"recurrence_group_id,omitempty"`

	// v0 aliases
	UserID                string `json:"user_id,omitempty"`
	StartTime             string `json:"start_time,omitempty"`
	EndTime               string `json:"end_time,omitempty"`
	IsConflictingOnCreate *bool  `json:"is_conflicting_on_create,omitempty"`
	RecurringGroup        string `json:"recurring_group,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c codec) decodeRequest(r requestRecord) domain.BookingRequest {
	if r.RequestedBy == "" {
		r = requestRecord{
			ID:                r.ID,
			RequestedBy:       r.UserID,
			Username:          r.Username,
			Sector:            r.Sector,
			RoomID:            r.RoomID,
			Date:              r.Date,
			Start:             firstNonEmpty(r.Start, r.StartTime),
			End:               firstNonEmpty(r.End, r.EndTime),
			Reason:            r.Reason,
			Status:            r.Status,
			CreatedAt:         r.CreatedAt,
			DecidedAt:         r.DecidedAt,
			DecidedBy:         r.DecidedBy,
			DecisionReason:    r.DecisionReason,
			HasConflict:       firstBool(r.HasConflict, r.IsConflictingOnCreate),
			ConflictSummary:   r.ConflictSummary,
			RecurrenceGroupID: firstNonEmpty(r.RecurrenceGroupID, r.RecurringGroup),
		}
	}
	return domain.BookingRequest{
		ID:                r.ID,
		RequestedBy:       r.RequestedBy,
		Username:          r.Username,
		Sector:            r.Sector,
		RoomID:            r.RoomID,
		Date:              r.Date,
		Start:             r.Start,
		End:               r.End,
		Reason:            r.Reason,
		Status:            normalizeRequestStatus(r.Status),
		CreatedAt:         c.parseTime(r.CreatedAt),
		DecidedAt:         c.parseTimePtr(r.DecidedAt),
		DecidedBy:         r.DecidedBy,
		DecisionReason:    r.DecisionReason,
		HasConflict:       r.HasConflict != nil && *r.HasConflict,
		ConflictSummary:   r.ConflictSummary,
		RecurrenceGroupID: r.RecurrenceGroupID,
	}
}

func firstBool(values ...*bool) *bool {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func (c codec) encodeRequest(r domain.BookingRequest) requestRecord {
	hasConflict := r.HasConflict
	return requestRecord{
		ID:                r.ID,
		RequestedBy:       r.RequestedBy,
		Username:          r.Username,
		Sector:            r.Sector,
		RoomID:            r.RoomID,
		Date:              r.Date,
		Start:             r.Start,
		End:               r.End,
		Reason:            r.Reason,
		Status:            string(r.Status),
		CreatedAt:         c.formatTime(r.CreatedAt),
		DecidedAt:         c.formatTimePtr(r.DecidedAt),
		DecidedBy:         r.DecidedBy,
		DecisionReason:    r.DecisionReason,
		HasConflict:       &hasConflict,
		ConflictSummary:   r.ConflictSummary,
		RecurrenceGroupID: r.RecurrenceGroupID,
	}
}

type bookingRecord struct {
	ID                     string `json:"id"`
	RoomID                 string `json:"room_id"`
	Date                   string `json:"date"`
	Start                  string `json:"start,omitempty"`
	End                    string `json:"end,omitempty"`
	Sector                 string `json:"sector"`
	CreatedBy              string `json:"created_by,omitempty"`
	CreatedByUsername      string `json:"created_by_username,omitempty"`
	ApprovedBy             string `json:"approved_by"`
	Status                 string `json:"status"`
	RequestID              string `json:"request_id,omitempty"`
	IsEmergency            bool   `json:"is_emergency"`
	EmergencyReason        string `json:"emergency_reason"`
	RequiresCheckin        *bool  `json:"requires_checkin,omitempty"`
	CheckinDeadlineMinutes *int   `json:"checkin_deadline_minutes,omitempty"`
	CheckedInAt            string `json:"checked_in_at,omitempty"`
	RecurrenceGroupID      string `json:"recurrence_group_id,omitempty"`
	CancelReason           string `json:"cancel_reason"`
	CancelledBy            string `json:"cancelled_by"`
	CreatedAt              string `json:"created_at"`
	UpdatedAt              string `json:"updated_at"`

	// v0 aliases
	UserID             string `json:"user_id,omitempty"`
	Username           string `json:"username,omitempty"`
	StartTime          string `json:"start_time,omitempty"`
	EndTime            string `json:"end_time,omitempty"`
	CheckinConfirmedAt string `json:"checkin_confirmed_at,omitempty"`
}

func (c codec) decodeBooking(r bookingRecord) domain.Booking {
	if r.CreatedBy == "" {
		r.CreatedBy = r.UserID
		r.CreatedByUsername = firstNonEmpty(r.CreatedByUsername, r.Username)
		r.Start = firstNonEmpty(r.Start, r.StartTime)
		r.End = firstNonEmpty(r.End, r.EndTime)
		r.CheckedInAt = firstNonEmpty(r.CheckedInAt, r.CheckinConfirmedAt)
	}
	requiresCheckin := true
	if r.RequiresCheckin != nil {
		requiresCheckin = *r.RequiresCheckin
	}
	deadline := c.checkinGrace
	if r.CheckinDeadlineMinutes != nil {
		deadline = *r.CheckinDeadlineMinutes
	}
	return domain.Booking{
		ID:                     r.ID,
		RoomID:                 r.RoomID,
		Date:                   r.Date,
		Start:                  r.Start,
		End:                    r.End,
		Sector:                 r.Sector,
		CreatedBy:              r.CreatedBy,
		CreatedByUsername:      r.CreatedByUsername,
		ApprovedBy:             r.ApprovedBy,
		Status:                 normalizeBookingStatus(r.Status),
		RequestID:              r.RequestID,
		IsEmergency:            r.IsEmergency,
		EmergencyReason:        r.EmergencyReason,
		RequiresCheckin:        requiresCheckin,
		CheckinDeadlineMinutes: deadline,
		CheckedInAt:            c.parseTimePtr(r.CheckedInAt),
		RecurrenceGroupID:      r.RecurrenceGroupID,
		CancelReason:           r.CancelReason,
		CancelledBy:            r.CancelledBy,
		CreatedAt:              c.parseTime(r.CreatedAt),
		UpdatedAt:              c.parseTime(r.UpdatedAt),
	}
}

func (c codec) encodeBooking(b domain.Booking) bookingRecord {
	requiresCheckin := b.RequiresCheckin
	deadline := b.CheckinDeadlineMinutes
	return bookingRecord{
		ID:                     b.ID,
		RoomID:                 b.RoomID,
		Date:                   b.Date,
		Start:                  b.Start,
		End:                    b.End,
		Sector:                 b.Sector,
		CreatedBy:              b.CreatedBy,
		CreatedByUsername:      b.CreatedByUsername,
		ApprovedBy:             b.ApprovedBy,
		Status:                 string(b.Status),
		RequestID:              b.RequestID,
		IsEmergency:            b.IsEmergency,
		EmergencyReason:        b.EmergencyReason,
		RequiresCheckin:        &requiresCheckin,
		CheckinDeadlineMinutes: &deadline,
		CheckedInAt:            c.formatTimePtr(b.CheckedInAt),
		RecurrenceGroupID:      b.RecurrenceGroupID,
		CancelReason:           b.CancelReason,
		CancelledBy:            b.CancelledBy,
		CreatedAt:              c.formatTime(b.CreatedAt),
		UpdatedAt:              c.formatTime(b.UpdatedAt),
	}
}

type blockRecord struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Weekdays  []int  `json:"weekdays"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Reason    string `json:"reason"`
	CreatedBy string `json:"created_by"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	// v0 single-date, single-weekday shape
	Date    string `json:"date,omitempty"`
	Weekday *int   `json:"weekday,omitempty"`
}

func (c codec) decodeBlock(r blockRecord) domain.Block {
	weekdays := append([]int(nil), r.Weekdays...)
	if len(weekdays) == 0 && r.Weekday != nil {
		weekdays = []int{recurrence.LegacyWeekday(*r.Weekday)}
	}
	updated := firstNonEmpty(r.UpdatedAt, r.CreatedAt)
	return domain.Block{
		ID:        r.ID,
		RoomID:    r.RoomID,
		StartDate: firstNonEmpty(r.StartDate, r.Date),
		EndDate:   firstNonEmpty(r.EndDate, r.Date),
		Date:      r.Date,
		Weekdays:  weekdays,
		Start:     r.Start,
		End:       r.End,
		Reason:    r.Reason,
		CreatedBy: r.CreatedBy,
		Status:    normalizeBlockStatus(r.Status),
		CreatedAt: c.parseTime(r.CreatedAt),
		UpdatedAt: c.parseTime(updated),
	}
}

func (c codec) encodeBlock(b domain.Block) blockRecord {
	weekdays := b.Weekdays
	if weekdays == nil {
		weekdays = []int{}
	}
	return blockRecord{
		ID:        b.ID,
		RoomID:    b.RoomID,
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		Date:      b.Date,
		Weekdays:  weekdays,
		Start:     b.Start,
		End:       b.End,
		Reason:    b.Reason,
		CreatedBy: b.CreatedBy,
		Status:    string(b.Status),
		CreatedAt: c.formatTime(b.CreatedAt),
		UpdatedAt: c.formatTime(b.UpdatedAt),
	}
}

type notificationRecord struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
	ReadAt    string `json:"read_at,omitempty"`
}

func (c codec) decodeNotification(r notificationRecord) domain.Notification {
	return domain.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      r.Type,
		Title:     r.Title,
		Message:   r.Message,
		CreatedAt: c.parseTime(r.CreatedAt),
		ReadAt:    c.parseTimePtr(r.ReadAt),
	}
}

func (c codec) encodeNotification(n domain.Notification) notificationRecord {
	return notificationRecord{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: c.formatTime(n.CreatedAt),
		ReadAt:    c.formatTimePtr(n.ReadAt),
	}
}

type auditRecord struct {
	ID            string         `json:"id"`
	ActorUserID   string         `json:"actor_user_id"`
	ActorUsername string         `json:"actor_username"`
	Action        string         `json:"action"`
	TargetType    string         `json:"target_type"`
	TargetID      string         `json:"target_id"`
	Details       map[string]any `json:"details"`
	CreatedAt     string         `json:"created_at"`
}

func (c codec) decodeAudit(r auditRecord) domain.AuditEvent {
	details := r.Details
	if details == nil {
		details = map[string]any{}
	}
	return domain.AuditEvent{
		ID:            r.ID,
		ActorUserID:   r.ActorUserID,
		ActorUsername: r.ActorUsername,
		Action:        r.Action,
		TargetType:    r.TargetType,
		TargetID:      r.TargetID,
		Details:       details,
		CreatedAt:     c.parseTime(r.CreatedAt),
	}
}

func (c codec) encodeAudit(e domain.AuditEvent) auditRecord {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return auditRecord{
		ID:            e.ID,
		ActorUserID:   e.ActorUserID,
		ActorUsername: e.ActorUsername,
		Action:        e.Action,
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		Details:       details,
		CreatedAt:     c.formatTime(e.CreatedAt),
	}
}

package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/roomflow/internal/domain"
)

// Counter kinds and id prefixes.
const (
	KindUsers         = "users"
	KindBookings      = "bookings"
	KindRequests      = "requests"
	KindAudit         = "audit"
	KindNotifications = "notifications"
	KindBlocks        = "blocks"

	PrefixUser         = "u"
	PrefixBooking      = "b"
	PrefixRequest      = "r"
	PrefixAudit        = "aud"
	PrefixNotification = "n"
	PrefixBlock        = "blk"
)

// CounterKinds lists every counter seeded into a fresh store.
var CounterKinds = []string{KindUsers, KindBookings, KindRequests, KindAudit, KindNotifications, KindBlocks}

// Audit target types.
const (
	TargetUser         = "USER"
	TargetSector       = "SECTOR"
	TargetRequest      = "REQUEST"
	TargetRequestGroup = "REQUEST_GROUP"
	TargetBooking      = "BOOKING"
	TargetBlock        = "BLOCK"
)

// IdentityService issues entity ids and records audit events.
type IdentityService struct {
	counters CounterStore
	audit    AuditStore
	now      func() time.Time
	loc      *time.Location
	logger   *slog.Logger
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(counters CounterStore, audit AuditStore, now func() time.Time, loc *time.Location) *IdentityService {
	return NewIdentityServiceWithLogger(counters, audit, now, loc, nil)
}

// NewIdentityServiceWithLogger constructs an IdentityService with a specified logger.
func NewIdentityServiceWithLogger(counters CounterStore, audit AuditStore, now func() time.Time, loc *time.Location, logger *slog.Logger) *IdentityService {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &IdentityService{counters: counters, audit: audit, now: now, loc: loc, logger: defaultLogger(logger)}
}

func (s *IdentityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "IdentityService", operation, attrs...)
}

// NextID returns prefix_NNNN for the next value of the kind's counter.
func (s *IdentityService) NextID(ctx context.Context, kind, prefix string) (string, error) {
	if s == nil || s.counters == nil {
		return "", fmt.Errorf("IdentityService is not configured")
	}
	n, err := s.counters.NextCounter(ctx, kind)
	if err != nil {
		s.loggerWith(ctx, "NextID", "kind", kind).
			ErrorContext(ctx, "failed to issue id", "error", err, "error_kind", ErrorKind(err))
		return "", err
	}
	return fmt.Sprintf("%s_%04d", prefix, n), nil
}

// CompareIDs orders issued ids by prefix, then by numeric sequence, so that
// "b_10000" follows "b_9999". Ids without a numeric suffix compare as strings.
func CompareIDs(a, b string) int {
	pa, na, okA := splitID(a)
	pb, nb, okB := splitID(b)
	if !okA || !okB || pa != pb {
		return strings.Compare(a, b)
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}

func splitID(id string) (string, int, bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}

// Audit appends an event to the shard of the month it happens in.
func (s *IdentityService) Audit(ctx context.Context, actor domain.Actor, action, targetType, targetID string, details map[string]any) (event domain.AuditEvent, err error) {
	if s == nil || s.audit == nil {
		err = fmt.Errorf("IdentityService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "Audit",
		"action", action,
		"target_id", targetID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to record audit event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("audit_id", event.ID).DebugContext(ctx, "audit event recorded")
	}()

	var id string
	id, err = s.NextID(ctx, KindAudit, PrefixAudit)
	if err != nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	event = domain.AuditEvent{
		ID:            id,
		ActorUserID:   actor.UserID,
		ActorUsername: actor.Username,
		Action:        action,
		TargetType:    targetType,
		TargetID:      targetID,
		Details:       details,
		CreatedAt:     s.now().In(s.loc),
	}
	err = s.audit.AppendAudit(ctx, event)
	return
}

// ListAuditEvents returns the events of month, newest first. An empty month
// means the current one; an empty action matches every event.
func (s *IdentityService) ListAuditEvents(ctx context.Context, month, action string) ([]domain.AuditEvent, error) {
	if s == nil || s.audit == nil {
		return nil, fmt.Errorf("IdentityService is not configured")
	}
	if month == "" {
		month = s.now().In(s.loc).Format("2006-01")
	}
	events, err := s.audit.LoadAudit(ctx, month)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(events))
	for _, event := range events {
		if action == "" || event.Action == action {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return CompareIDs(out[i].ID, out[j].ID) > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

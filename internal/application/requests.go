package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/persistence/sharded"
	"github.com/example/roomflow/internal/recurrence"
	"github.com/example/roomflow/internal/scheduler"
)

// Audit actions recorded by the request lifecycle.
const (
	ActionRequestCreated          = "REQUEST_CREATED"
	ActionRequestRecurringCreated = "REQUEST_RECURRING_CREATED"
	ActionRequestApproved         = "REQUEST_APPROVED"
	ActionRequestDenied           = "REQUEST_DENIED"
	ActionRequestCancelled        = "REQUEST_CANCELLED"
)

// RequestLifecycleStore is the persistence needed to move a request into a booking.
type RequestLifecycleStore interface {
	RequestStore
	BookingStore
}

// RequestService drives booking requests from submission to decision.
type RequestService struct {
	store         RequestLifecycleStore
	availability  *AvailabilityService
	identity      *IdentityService
	notifications *NotificationService
	recurrence    *recurrence.Engine
	groupID       func() string
	now           func() time.Time
	logger        *slog.Logger
}

// NewRecurrenceGroupID returns "rec_" followed by eight hex characters.
func NewRecurrenceGroupID() string {
	return "rec_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewRequestService constructs a RequestService.
func NewRequestService(store RequestLifecycleStore, availability *AvailabilityService, identity *IdentityService, notifications *NotificationService, groupID func() string, now func() time.Time) *RequestService {
	return NewRequestServiceWithLogger(store, availability, identity, notifications, groupID, now, nil)
}

// NewRequestServiceWithLogger constructs a RequestService with a specified logger.
func NewRequestServiceWithLogger(store RequestLifecycleStore, availability *AvailabilityService, identity *IdentityService, notifications *NotificationService, groupID func() string, now func() time.Time, logger *slog.Logger) *RequestService {
	if groupID == nil {
		groupID = NewRecurrenceGroupID
	}
	if now == nil {
		now = time.Now
	}
	var engine *recurrence.Engine
	if availability != nil {
		engine = availability.engine
	}
	return &RequestService{
		store:         store,
		availability:  availability,
		identity:      identity,
		notifications: notifications,
		recurrence:    engine,
		groupID:       groupID,
		now:           now,
		logger:        defaultLogger(logger),
	}
}

func (s *RequestService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RequestService", operation, attrs...)
}

func (s *RequestService) configured() error {
	if s == nil || s.store == nil || s.availability == nil || s.identity == nil || s.notifications == nil {
		return fmt.Errorf("RequestService is not configured")
	}
	return nil
}

// CreateRequest submits a PENDING request when the semaphore is green.
func (s *RequestService) CreateRequest(ctx context.Context, input RequestInput, user domain.User) (req domain.BookingRequest, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateRequest",
		"user_id", user.ID,
		"room_id", input.RoomID,
		"date", input.Date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create request", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("request_id", req.ID).InfoContext(ctx, "request created")
	}()

	req, err = s.submit(ctx, input, user, "")
	if err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, user.Actor(), ActionRequestCreated, TargetRequest, req.ID, map[string]any{
		"room_id": req.RoomID,
		"date":    req.Date,
	})
	return
}

// submit runs the semaphore and persists one PENDING request.
func (s *RequestService) submit(ctx context.Context, input RequestInput, user domain.User, groupID string) (domain.BookingRequest, error) {
	verdict, err := s.availability.Semaphore(ctx, input.RoomID, input.Date, input.Start, input.End)
	if err != nil {
		return domain.BookingRequest{}, err
	}
	if !verdict.CanSubmit {
		return domain.BookingRequest{}, verdict.Err
	}
	start, _ := scheduler.NormalizeClock(input.Start)
	end, _ := scheduler.NormalizeClock(input.End)

	id, err := s.identity.NextID(ctx, KindRequests, PrefixRequest)
	if err != nil {
		return domain.BookingRequest{}, err
	}
	req := domain.BookingRequest{
		ID:                id,
		RequestedBy:       user.ID,
		Username:          user.Username,
		Sector:            user.Sector,
		RoomID:            input.RoomID,
		Date:              input.Date,
		Start:             start,
		End:               end,
		Reason:            strings.TrimSpace(input.Reason),
		Status:            domain.RequestPending,
		CreatedAt:         s.now(),
		HasConflict:       verdict.Color == ColorAmber,
		RecurrenceGroupID: groupID,
	}
	if req.HasConflict {
		req.ConflictSummary = verdict.Message
	}
	err = s.store.MutateRequests(ctx, sharded.MonthOf(req.Date), func(items []domain.BookingRequest) ([]domain.BookingRequest, bool, error) {
		return append(items, req), true, nil
	})
	if err != nil {
		return domain.BookingRequest{}, err
	}
	return req, nil
}

// CreateRecurringWeeklyRequests submits one request per week starting at
// input.Date. Each week is checked and persisted on its own; weeks that fail
// validation or conflict are reported in the result without stopping the rest.
func (s *RequestService) CreateRecurringWeeklyRequests(ctx context.Context, input RequestInput, user domain.User, occurrences int) (result RecurringResult, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateRecurringWeeklyRequests",
		"user_id", user.ID,
		"room_id", input.RoomID,
		"occurrences", occurrences,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create recurring requests", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"group_id", result.GroupID,
			"created", len(result.Created),
			"failed", len(result.Failures),
		).InfoContext(ctx, "recurring requests created")
	}()

	if occurrences <= 0 {
		err = fieldError("occurrences", "number of occurrences must be greater than zero")
		return
	}
	var dates []string
	dates, err = s.recurrence.WeeklyDates(input.Date, occurrences)
	if err != nil {
		err = fieldError("date", err.Error())
		return
	}

	result = RecurringResult{GroupID: s.groupID(), Failures: map[string]string{}}
	for _, date := range dates {
		week := input
		week.Date = date
		req, createErr := s.submit(ctx, week, user, result.GroupID)
		if createErr != nil {
			if !isDomainRejection(createErr) {
				err = createErr
				return
			}
			result.Failures[date] = createErr.Error()
			continue
		}
		result.Created = append(result.Created, req)
	}

	_, err = s.identity.Audit(ctx, user.Actor(), ActionRequestRecurringCreated, TargetRequestGroup, result.GroupID, map[string]any{
		"count": len(result.Created),
	})
	return
}

// isDomainRejection reports whether err is a per-item validation or conflict
// failure rather than an infrastructure error.
func isDomainRejection(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrUnauthorized)
}

// GetRequest returns the request with id.
func (s *RequestService) GetRequest(ctx context.Context, id string) (domain.BookingRequest, error) {
	if err := s.configured(); err != nil {
		return domain.BookingRequest{}, err
	}
	months, err := s.store.RequestMonths(ctx)
	if err != nil {
		return domain.BookingRequest{}, err
	}
	for _, month := range months {
		requests, err := s.store.LoadRequests(ctx, month)
		if err != nil {
			return domain.BookingRequest{}, err
		}
		for _, req := range requests {
			if req.ID == id {
				return req, nil
			}
		}
	}
	return domain.BookingRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
}

// updateRequest applies fn to the stored request under its month shard lock.
func (s *RequestService) updateRequest(ctx context.Context, req domain.BookingRequest, fn func(*domain.BookingRequest) error) (domain.BookingRequest, error) {
	var updated domain.BookingRequest
	err := s.store.MutateRequests(ctx, sharded.MonthOf(req.Date), func(items []domain.BookingRequest) ([]domain.BookingRequest, bool, error) {
		for i := range items {
			if items[i].ID != req.ID {
				continue
			}
			if err := fn(&items[i]); err != nil {
				return nil, false, err
			}
			updated = items[i]
			return items, true, nil
		}
		return nil, false, fmt.Errorf("%w: request %s", ErrNotFound, req.ID)
	})
	return updated, err
}

func requirePending(req *domain.BookingRequest) error {
	if req.Status != domain.RequestPending {
		return fmt.Errorf("%w: request %s is %s, not PENDING", ErrInvalidState, req.ID, req.Status)
	}
	return nil
}

// ApproveRequest turns a PENDING request into an ACTIVE booking. Conflicts
// are checked again at approval time; the booking check runs under the
// booking shard lock.
func (s *RequestService) ApproveRequest(ctx context.Context, id string, actor domain.User) (booking domain.Booking, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ApproveRequest",
		"actor_id", actor.ID,
		"request_id", id,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to approve request", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID).InfoContext(ctx, "request approved")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}

	var req domain.BookingRequest
	req, err = s.GetRequest(ctx, id)
	if err != nil {
		return
	}
	if err = requirePending(&req); err != nil {
		return
	}

	var blocks []domain.Block
	blocks, err = s.availability.FindConflictingBlocks(ctx, req.RoomID, req.Date, req.Start, req.End)
	if err != nil {
		return
	}
	if len(blocks) > 0 {
		err = fmt.Errorf("%w: request conflicts with an active block (%s)", ErrConflict, blocks[0].Reason)
		return
	}

	now := s.now()
	err = s.store.MutateBookings(ctx, req.Date, req.RoomID, func(items []domain.Booking) ([]domain.Booking, bool, error) {
		if conflicts := s.availability.conflictingBookings(items, req.Start, req.End); len(conflicts) > 0 {
			return nil, false, fmt.Errorf("%w: conflicts with active booking %s", ErrConflict, conflicts[0].ID)
		}
		bookingID, err := s.identity.NextID(ctx, KindBookings, PrefixBooking)
		if err != nil {
			return nil, false, err
		}
		booking = domain.Booking{
			ID:                     bookingID,
			RoomID:                 req.RoomID,
			Date:                   req.Date,
			Start:                  req.Start,
			End:                    req.End,
			Sector:                 req.Sector,
			CreatedBy:              req.RequestedBy,
			CreatedByUsername:      req.Username,
			ApprovedBy:             actor.ID,
			Status:                 domain.BookingActive,
			RequestID:              req.ID,
			RequiresCheckin:        true,
			CheckinDeadlineMinutes: s.availability.rules.CheckinGraceMinutes,
			RecurrenceGroupID:      req.RecurrenceGroupID,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		return append(items, booking), true, nil
	})
	if err != nil {
		return
	}

	req, err = s.updateRequest(ctx, req, func(stored *domain.BookingRequest) error {
		if err := requirePending(stored); err != nil {
			return err
		}
		stored.Status = domain.RequestApproved
		stored.DecidedAt = &now
		stored.DecidedBy = actor.ID
		return nil
	})
	if err != nil {
		s.withdrawBooking(ctx, booking)
		booking = domain.Booking{}
		return
	}

	if _, err = s.notifications.Notify(ctx, req.RequestedBy, NotifyRequestApproved, "Request approved",
		fmt.Sprintf("Booking created for %s %s-%s.", req.Date, req.Start, req.End)); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionRequestApproved, TargetRequest, req.ID, map[string]any{
		"booking_id": booking.ID,
	})
	return
}

// withdrawBooking removes a booking whose request lost a concurrent decision race.
func (s *RequestService) withdrawBooking(ctx context.Context, booking domain.Booking) {
	err := s.store.MutateBookings(ctx, booking.Date, booking.RoomID, func(items []domain.Booking) ([]domain.Booking, bool, error) {
		for i := range items {
			if items[i].ID == booking.ID {
				return append(items[:i], items[i+1:]...), true, nil
			}
		}
		return nil, false, nil
	})
	if err != nil {
		s.loggerWith(ctx, "ApproveRequest", "booking_id", booking.ID).
			ErrorContext(ctx, "failed to withdraw orphaned booking", "error", err, "error_kind", ErrorKind(err))
	}
}

// DenyRequest moves a PENDING request to DENIED and tells the requester why.
func (s *RequestService) DenyRequest(ctx context.Context, id string, actor domain.User, reason string) (req domain.BookingRequest, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DenyRequest",
		"actor_id", actor.ID,
		"request_id", id,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to deny request", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "request denied")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}
	req, err = s.GetRequest(ctx, id)
	if err != nil {
		return
	}

	reason = strings.TrimSpace(reason)
	now := s.now()
	req, err = s.updateRequest(ctx, req, func(stored *domain.BookingRequest) error {
		if err := requirePending(stored); err != nil {
			return err
		}
		stored.Status = domain.RequestDenied
		stored.DecidedAt = &now
		stored.DecidedBy = actor.ID
		stored.DecisionReason = reason
		return nil
	})
	if err != nil {
		return
	}

	shown := reason
	if shown == "" {
		shown = "Not provided"
	}
	if _, err = s.notifications.Notify(ctx, req.RequestedBy, NotifyRequestDenied, "Request denied", "Reason: "+shown); err != nil {
		return
	}
	_, err = s.identity.Audit(ctx, actor.Actor(), ActionRequestDenied, TargetRequest, req.ID, map[string]any{
		"reason": reason,
	})
	return
}

// pendingGroup returns the PENDING members of a recurrence group.
func (s *RequestService) pendingGroup(ctx context.Context, groupID string) ([]domain.BookingRequest, error) {
	requests, err := s.ListRequests(ctx, RequestFilter{Status: domain.RequestPending})
	if err != nil {
		return nil, err
	}
	var out []domain.BookingRequest
	for _, req := range requests {
		if req.RecurrenceGroupID == groupID {
			out = append(out, req)
		}
	}
	return out, nil
}

func distinctRequesters(requests []domain.BookingRequest) []string {
	seen := make(map[string]struct{}, len(requests))
	var out []string
	for _, req := range requests {
		if _, ok := seen[req.RequestedBy]; ok {
			continue
		}
		seen[req.RequestedBy] = struct{}{}
		out = append(out, req.RequestedBy)
	}
	sort.Strings(out)
	return out
}

// ApproveRequestGroup approves every PENDING member of a recurrence group.
// Individual failures are counted and do not stop the remaining members.
func (s *RequestService) ApproveRequestGroup(ctx context.Context, groupID string, actor domain.User) (result GroupApprovalResult, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ApproveRequestGroup",
		"actor_id", actor.ID,
		"group_id", groupID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to approve request group", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("approved", result.Approved, "failed", result.Failed).InfoContext(ctx, "request group approved")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}
	var members []domain.BookingRequest
	members, err = s.pendingGroup(ctx, groupID)
	if err != nil {
		return
	}

	result.Total = len(members)
	for _, req := range members {
		if _, approveErr := s.ApproveRequest(ctx, req.ID, actor); approveErr != nil {
			result.Failed++
			continue
		}
		result.Approved++
	}

	message := fmt.Sprintf("Group %s: %d approved, %d failed.", groupID, result.Approved, result.Failed)
	for _, userID := range distinctRequesters(members) {
		if _, err = s.notifications.Notify(ctx, userID, NotifyRequestGroupApproved, "Recurrence processed", message); err != nil {
			return
		}
	}
	return
}

// DenyRequestGroup denies every PENDING member of a recurrence group.
func (s *RequestService) DenyRequestGroup(ctx context.Context, groupID string, actor domain.User, reason string) (result GroupDenialResult, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DenyRequestGroup",
		"actor_id", actor.ID,
		"group_id", groupID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to deny request group", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("denied", result.Denied, "failed", result.Failed).InfoContext(ctx, "request group denied")
	}()

	if !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}
	var members []domain.BookingRequest
	members, err = s.pendingGroup(ctx, groupID)
	if err != nil {
		return
	}

	result.Total = len(members)
	for _, req := range members {
		if _, denyErr := s.DenyRequest(ctx, req.ID, actor, reason); denyErr != nil {
			result.Failed++
			continue
		}
		result.Denied++
	}

	message := fmt.Sprintf("Group %s: %d denied. Reason: %s", groupID, result.Denied, strings.TrimSpace(reason))
	for _, userID := range distinctRequesters(members) {
		if _, err = s.notifications.Notify(ctx, userID, NotifyRequestGroupDenied, "Recurrence denied", message); err != nil {
			return
		}
	}
	return
}

// CancelRequest withdraws a PENDING request. Without force only the requester
// may cancel; force is reserved to approval authorities.
func (s *RequestService) CancelRequest(ctx context.Context, id string, actor domain.User, reason string, force bool) (req domain.BookingRequest, err error) {
	if err = s.configured(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelRequest",
		"actor_id", actor.ID,
		"request_id", id,
		"force", force,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel request", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "request cancelled")
	}()

	if force && !actor.Role.Privileged() {
		err = ErrUnauthorized
		return
	}
	req, err = s.GetRequest(ctx, id)
	if err != nil {
		return
	}

	reason = strings.TrimSpace(reason)
	now := s.now()
	req, err = s.updateRequest(ctx, req, func(stored *domain.BookingRequest) error {
		if err := requirePending(stored); err != nil {
			return err
		}
		if !force && stored.RequestedBy != actor.ID {
			return ErrUnauthorized
		}
		stored.Status = domain.RequestCancelled
		stored.DecisionReason = reason
		stored.DecidedAt = &now
		stored.DecidedBy = actor.ID
		return nil
	})
	if err != nil {
		return
	}

	_, err = s.identity.Audit(ctx, actor.Actor(), ActionRequestCancelled, TargetRequest, req.ID, map[string]any{
		"reason": reason,
		"force":  force,
	})
	return
}

// ListRequests returns the requests matching filter ordered by date and start.
func (s *RequestService) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.BookingRequest, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}

	var months []string
	switch {
	case filter.Month != "":
		months = []string{filter.Month}
	case filter.Date != "":
		months = []string{sharded.MonthOf(filter.Date)}
	default:
		var err error
		if months, err = s.store.RequestMonths(ctx); err != nil {
			return nil, err
		}
	}

	var out []domain.BookingRequest
	for _, month := range months {
		requests, err := s.store.LoadRequests(ctx, month)
		if err != nil {
			return nil, err
		}
		for _, req := range requests {
			if filter.matches(req) {
				out = append(out, req)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (f RequestFilter) matches(req domain.BookingRequest) bool {
	switch {
	case f.Status != "" && req.Status != f.Status:
		return false
	case f.RoomID != "" && req.RoomID != f.RoomID:
		return false
	case f.Sector != "" && req.Sector != f.Sector:
		return false
	case f.Date != "" && req.Date != f.Date:
		return false
	case f.RequestedBy != "" && req.RequestedBy != f.RequestedBy:
		return false
	case f.HasConflict != nil && req.HasConflict != *f.HasConflict:
		return false
	}
	return true
}

// GroupRequests buckets requests by recurrence group for display. Requests
// without a group form their own bucket keyed by request id. Buckets keep the
// order in which their first member appears.
func GroupRequests(requests []domain.BookingRequest) []RequestGroup {
	index := make(map[string]int)
	var groups []RequestGroup
	for _, req := range requests {
		key := req.RecurrenceGroupID
		if key == "" {
			key = req.ID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, RequestGroup{Key: key})
		}
		groups[i].Requests = append(groups[i].Requests, req)
	}
	return groups
}

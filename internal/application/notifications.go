package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/roomflow/internal/domain"
)

// Notification types.
const (
	NotifyRequestApproved      = "REQUEST_APPROVED"
	NotifyRequestDenied        = "REQUEST_DENIED"
	NotifyRequestGroupApproved = "REQUEST_GROUP_APPROVED"
	NotifyRequestGroupDenied   = "REQUEST_GROUP_DENIED"
	NotifyBookingCancelled     = "BOOKING_CANCELLED"
	NotifyBookingEmergency     = "BOOKING_EMERGENCY"
	NotifyBookingExpired       = "BOOKING_EXPIRED"
)

// NotificationService manages per-user mailboxes.
type NotificationService struct {
	store    NotificationStore
	identity *IdentityService
	now      func() time.Time
	logger   *slog.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(store NotificationStore, identity *IdentityService, now func() time.Time) *NotificationService {
	return NewNotificationServiceWithLogger(store, identity, now, nil)
}

// NewNotificationServiceWithLogger constructs a NotificationService with a specified logger.
func NewNotificationServiceWithLogger(store NotificationStore, identity *IdentityService, now func() time.Time, logger *slog.Logger) *NotificationService {
	if now == nil {
		now = time.Now
	}
	return &NotificationService{store: store, identity: identity, now: now, logger: defaultLogger(logger)}
}

func (s *NotificationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "NotificationService", operation, attrs...)
}

// Notify appends an entry to the user's mailbox.
func (s *NotificationService) Notify(ctx context.Context, userID, kind, title, message string) (n domain.Notification, err error) {
	if s == nil || s.store == nil || s.identity == nil {
		err = fmt.Errorf("NotificationService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "Notify",
		"user_id", userID,
		"type", kind,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to notify user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("notification_id", n.ID).InfoContext(ctx, "notification queued")
	}()

	var id string
	id, err = s.identity.NextID(ctx, KindNotifications, PrefixNotification)
	if err != nil {
		return
	}
	n = domain.Notification{
		ID:        id,
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: s.now(),
	}
	err = s.store.MutateNotifications(ctx, userID, func(items []domain.Notification) ([]domain.Notification, bool, error) {
		return append(items, n), true, nil
	})
	return
}

// List returns the user's notifications newest first. A positive limit caps the result.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("NotificationService is not configured")
	}
	items, err := s.store.LoadNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return CompareIDs(items[i].ID, items[j].ID) > 0
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// UnreadCount returns the number of unread notifications. An empty user id counts zero.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	items, err := s.List(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range items {
		if n.Unread() {
			count++
		}
	}
	return count, nil
}

// MarkRead sets the read timestamp of one notification.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (err error) {
	if s == nil || s.store == nil {
		return fmt.Errorf("NotificationService is not configured")
	}

	logger := s.loggerWith(ctx, "MarkRead",
		"user_id", userID,
		"notification_id", notificationID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to mark notification read", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	readAt := s.now()
	err = s.store.MutateNotifications(ctx, userID, func(items []domain.Notification) ([]domain.Notification, bool, error) {
		for i := range items {
			if items[i].ID == notificationID {
				items[i].ReadAt = &readAt
				return items, true, nil
			}
		}
		return nil, false, fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
	})
	return
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("NotificationService is not configured")
	}
	readAt := s.now()
	marked := 0
	err := s.store.MutateNotifications(ctx, userID, func(items []domain.Notification) ([]domain.Notification, bool, error) {
		for i := range items {
			if items[i].ReadAt == nil {
				items[i].ReadAt = &readAt
				marked++
			}
		}
		return items, marked > 0, nil
	})
	if err != nil {
		s.loggerWith(ctx, "MarkAllRead", "user_id", userID).
			ErrorContext(ctx, "failed to mark notifications read", "error", err, "error_kind", ErrorKind(err))
		return 0, err
	}
	return marked, nil
}

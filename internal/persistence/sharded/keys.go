package sharded

import (
	"strings"
)

// Collections of the document tree.
const (
	UsersCollection         = "users"
	RoomsCollection         = "rooms"
	SectorsCollection       = "sectors"
	BookingsCollection      = "bookings"
	BlocksCollection        = "blocks"
	RequestsCollection      = "requests"
	LogsCollection          = "logs"
	NotificationsCollection = "notifications"
	MetaCollection          = "_meta"

	// CountersKey holds the per-kind id counters.
	CountersKey = MetaCollection + "/counters"
	// SettingsKey holds the runtime-tunable booking settings.
	SettingsKey = MetaCollection + "/config"
	// UsernamesLockKey serializes username uniqueness checks. No document is
	// stored under it.
	UsernamesLockKey = MetaCollection + "/usernames"

	auditPrefix = "audit_"
	dateLength  = len("2006-01-02")
)

// UserKey returns the document key of a user.
func UserKey(id string) string { return UsersCollection + "/" + id }

// RoomKey returns the document key of a room.
func RoomKey(id string) string { return RoomsCollection + "/" + id }

// SectorKey returns the document key of a sector.
func SectorKey(name string) string { return SectorsCollection + "/" + name }

// BookingShardKey returns the shard holding bookings of room on date.
func BookingShardKey(date, roomID string) string {
	return BookingsCollection + "/" + date + "_" + roomID
}

// BlockShardKey returns the shard holding every block of a room.
func BlockShardKey(roomID string) string { return BlocksCollection + "/" + roomID }

// RequestShardKey returns the shard holding requests for dates in month (YYYY-MM).
func RequestShardKey(month string) string { return RequestsCollection + "/" + month }

// AuditShardKey returns the shard holding audit events created in month.
func AuditShardKey(month string) string { return LogsCollection + "/" + auditPrefix + month }

// NotificationShardKey returns the mailbox shard of a user.
func NotificationShardKey(userID string) string {
	return NotificationsCollection + "/" + userID
}

// MonthOf returns the YYYY-MM prefix of a date string.
func MonthOf(date string) string {
	if len(date) < 7 {
		return date
	}
	return date[:7]
}

// BookingShard identifies one room+date booking document.
type BookingShard struct {
	Key    string
	Date   string
	RoomID string
}

// parseBookingShardKey splits "bookings/<date>_<room>".
func parseBookingShardKey(key string) (BookingShard, bool) {
	name := strings.TrimPrefix(key, BookingsCollection+"/")
	if len(name) < dateLength+2 || name[dateLength] != '_' {
		return BookingShard{}, false
	}
	return BookingShard{Key: key, Date: name[:dateLength], RoomID: name[dateLength+1:]}, true
}

func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

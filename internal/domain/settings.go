package domain

// Settings captures the runtime-tunable booking rules shared by all rooms.
type Settings struct {
	BusinessStart          string `json:"business_start"`
	BusinessEnd            string `json:"business_end"`
	SlotMinutes            int    `json:"slot_minutes"`
	MinBookingMinutes      int    `json:"min_booking_minutes"`
	CheckinGraceMinutes    int    `json:"checkin_grace_minutes"`
	UserCancelLimitMinutes int    `json:"user_cancel_limit_minutes"`
}

// DefaultSettings returns the rules applied when no settings document exists.
func DefaultSettings() Settings {
	return Settings{
		BusinessStart:          "07:00",
		BusinessEnd:            "18:30",
		SlotMinutes:            15,
		MinBookingMinutes:      15,
		CheckinGraceMinutes:    15,
		UserCancelLimitMinutes: 30,
	}
}

// WithDefaults fills zero-valued fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	def := DefaultSettings()
	if s.BusinessStart == "" {
		s.BusinessStart = def.BusinessStart
	}
	if s.BusinessEnd == "" {
		s.BusinessEnd = def.BusinessEnd
	}
	if s.SlotMinutes <= 0 {
		s.SlotMinutes = def.SlotMinutes
	}
	if s.MinBookingMinutes <= 0 {
		s.MinBookingMinutes = def.MinBookingMinutes
	}
	if s.CheckinGraceMinutes <= 0 {
		s.CheckinGraceMinutes = def.CheckinGraceMinutes
	}
	if s.UserCancelLimitMinutes <= 0 {
		s.UserCancelLimitMinutes = def.UserCancelLimitMinutes
	}
	return s
}

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/roomflow/internal/domain"
)

// WindowError reports why a candidate interval was rejected.
type WindowError struct {
	Field   string
	Message string
}

func (e *WindowError) Error() string {
	return e.Message
}

// IsWindowError reports whether err came from window validation.
func IsWindowError(err error) bool {
	var target *WindowError
	return errors.As(err, &target)
}

// Rules is the parsed, minute-based form of domain.Settings.
type Rules struct {
	BusinessStart          int
	BusinessEnd            int
	SlotMinutes            int
	MinBookingMinutes      int
	CheckinGraceMinutes    int
	UserCancelLimitMinutes int
}

// CompileRules validates settings and converts them into minute arithmetic.
func CompileRules(settings domain.Settings) (Rules, error) {
	settings = settings.WithDefaults()
	start, err := ParseClock(settings.BusinessStart)
	if err != nil {
		return Rules{}, fmt.Errorf("business_start: %w", err)
	}
	end, err := ParseClock(settings.BusinessEnd)
	if err != nil {
		return Rules{}, fmt.Errorf("business_end: %w", err)
	}
	if end <= start {
		return Rules{}, fmt.Errorf("business_end must be after business_start")
	}
	return Rules{
		BusinessStart:          start,
		BusinessEnd:            end,
		SlotMinutes:            settings.SlotMinutes,
		MinBookingMinutes:      settings.MinBookingMinutes,
		CheckinGraceMinutes:    settings.CheckinGraceMinutes,
		UserCancelLimitMinutes: settings.UserCancelLimitMinutes,
	}, nil
}

// DefaultRules returns the compiled form of domain.DefaultSettings.
func DefaultRules() Rules {
	rules, err := CompileRules(domain.DefaultSettings())
	if err != nil {
		panic(err)
	}
	return rules
}

// ValidateWindow checks that date is a calendar date and that [start, end)
// lies inside business hours and lasts at least the minimum booking length.
// It returns the parsed minute bounds on success.
func (r Rules) ValidateWindow(date, start, end string) (int, int, error) {
	if _, err := ParseDate(date, time.UTC); err != nil {
		return 0, 0, &WindowError{Field: "date", Message: err.Error()}
	}
	s, err := ParseClock(start)
	if err != nil {
		return 0, 0, &WindowError{Field: "start", Message: err.Error()}
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0, 0, &WindowError{Field: "end", Message: err.Error()}
	}
	if s >= e {
		return 0, 0, &WindowError{Field: "end", Message: "start time must be before end time"}
	}
	if e-s < r.MinBookingMinutes {
		return 0, 0, &WindowError{Field: "end", Message: fmt.Sprintf("minimum duration is %d minutes", r.MinBookingMinutes)}
	}
	if s < r.BusinessStart || e > r.BusinessEnd {
		return 0, 0, &WindowError{Field: "start", Message: "interval is outside business hours"}
	}
	return s, e, nil
}

// Overlaps reports whether half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// ClockOverlaps is Overlaps over HH:MM values; unparsable input never overlaps.
func ClockOverlaps(aStart, aEnd, bStart, bEnd string) bool {
	as, err1 := ParseClock(aStart)
	ae, err2 := ParseClock(aEnd)
	bs, err3 := ParseClock(bStart)
	be, err4 := ParseClock(bEnd)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	return Overlaps(as, ae, bs, be)
}

// SlotPoints enumerates grid points in [start, end) using the slot step.
func (r Rules) SlotPoints(start, end int) []int {
	step := r.Step()
	points := make([]int, 0, (end-start)/step+1)
	for cur := start; cur < end; cur += step {
		points = append(points, cur)
	}
	return points
}

// TimeOptions lists every grid point of the business window, end inclusive.
func (r Rules) TimeOptions() []string {
	step := r.Step()
	options := make([]string, 0, (r.BusinessEnd-r.BusinessStart)/step+1)
	for cur := r.BusinessStart; cur <= r.BusinessEnd; cur += step {
		options = append(options, mustFormat(cur))
	}
	return options
}

// Candidates walks business hours in slot steps and returns every start
// minute for which [start, start+duration) stays inside the window.
func (r Rules) Candidates(duration int) []int {
	if duration <= 0 {
		return nil
	}
	step := r.Step()
	var out []int
	for cur := r.BusinessStart; cur+duration <= r.BusinessEnd; cur += step {
		out = append(out, cur)
	}
	return out
}

// Step returns the slot granularity in minutes.
func (r Rules) Step() int {
	if r.SlotMinutes <= 0 {
		return 15
	}
	return r.SlotMinutes
}

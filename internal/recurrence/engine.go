package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/roomflow/internal/domain"
	"github.com/example/roomflow/internal/scheduler"
)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily matches every day within the range, optionally filtered by weekday.
	FrequencyDaily
	// FrequencyWeekly matches only the selected weekdays.
	FrequencyWeekly
)

// Rule describes a date pattern. Weekdays use ISO numbering, 1=Monday..7=Sunday.
type Rule struct {
	Frequency Frequency
	Weekdays  []int
	StartsOn  time.Time
	EndsOn    *time.Time
	// Count caps the number of generated dates when positive.
	Count int
}

// Engine expands recurrence rules into calendar dates.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that interprets dates in loc.
// If loc is nil, time.Local is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{location: loc}
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the generation window is unbounded.
var ErrInvalidWindow = errors.New("recurrence: generation requires an end date or a count")

// ErrInvalidWeekday indicates a weekday outside 1..7.
var ErrInvalidWeekday = errors.New("recurrence: weekdays must be between 1 and 7")

// GenerateDates produces the calendar days matched by rule, in order.
//
// Generation stops at EndsOn (inclusive) or after Count matches, whichever
// comes first. All days are normalized to midnight in the engine's location.
func (e *Engine) GenerateDates(rule Rule) ([]time.Time, error) {
	if rule.EndsOn == nil && rule.Count <= 0 {
		return nil, ErrInvalidWindow
	}
	set, err := weekdaySet(rule.Weekdays)
	if err != nil {
		return nil, err
	}

	current := e.midnight(rule.StartsOn)
	var upper time.Time
	if rule.EndsOn != nil {
		upper = e.midnight(*rule.EndsOn)
		if current.After(upper) {
			return nil, nil
		}
	}

	dates := make([]time.Time, 0, rule.Count)
	for rule.EndsOn == nil || !current.After(upper) {
		include, err := shouldInclude(rule.Frequency, set, scheduler.ISOWeekday(current))
		if err != nil {
			return nil, err
		}
		if include {
			dates = append(dates, current)
			if rule.Count > 0 && len(dates) == rule.Count {
				break
			}
		}
		current = current.AddDate(0, 0, 1)
	}
	return dates, nil
}

// Covers reports whether day falls inside the rule's range and weekday filter.
func (e *Engine) Covers(rule Rule, day time.Time) (bool, error) {
	set, err := weekdaySet(rule.Weekdays)
	if err != nil {
		return false, err
	}
	day = e.midnight(day)
	if !rule.StartsOn.IsZero() && day.Before(e.midnight(rule.StartsOn)) {
		return false, nil
	}
	if rule.EndsOn != nil && day.After(e.midnight(*rule.EndsOn)) {
		return false, nil
	}
	return shouldInclude(rule.Frequency, set, scheduler.ISOWeekday(day))
}

// WeeklyDates returns occurrences dates, seven days apart, starting at startDate.
func (e *Engine) WeeklyDates(startDate string, occurrences int) ([]string, error) {
	if occurrences <= 0 {
		return nil, fmt.Errorf("recurrence: occurrences must be greater than zero")
	}
	start, err := scheduler.ParseDate(startDate, e.location)
	if err != nil {
		return nil, err
	}
	days, err := e.GenerateDates(Rule{
		Frequency: FrequencyWeekly,
		Weekdays:  []int{scheduler.ISOWeekday(start)},
		StartsOn:  start,
		Count:     occurrences,
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format(scheduler.DateLayout)
	}
	return out, nil
}

// BlockApplies reports whether block is in force on date. Range blocks match
// by date range and weekday set; legacy single-date blocks match only that date.
func (e *Engine) BlockApplies(block domain.Block, date string) bool {
	if block.Date != "" && block.Date != date {
		return false
	}
	day, err := scheduler.ParseDate(date, e.location)
	if err != nil {
		return false
	}
	rule := Rule{Frequency: FrequencyDaily, Weekdays: block.Weekdays}
	startDate, endDate := block.StartDate, block.EndDate
	if startDate == "" {
		startDate = block.Date
	}
	if endDate == "" {
		endDate = block.Date
	}
	if startDate != "" {
		if rule.StartsOn, err = scheduler.ParseDate(startDate, e.location); err != nil {
			return false
		}
	}
	if endDate != "" {
		end, err := scheduler.ParseDate(endDate, e.location)
		if err != nil {
			return false
		}
		rule.EndsOn = &end
	}
	ok, err := e.Covers(rule, day)
	return err == nil && ok
}

// NormalizeWeekdays sorts and deduplicates ISO weekdays, rejecting out-of-range values.
func NormalizeWeekdays(weekdays []int) ([]int, error) {
	set, err := weekdaySet(weekdays)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

// LegacyWeekday maps the historical 0..6 weekday encoding onto 1..7.
// Values outside 0..6 are returned unchanged.
func LegacyWeekday(w int) int {
	if w >= 0 && w <= 6 {
		return w + 1
	}
	return w
}

func (e *Engine) midnight(t time.Time) time.Time {
	loc := e.location
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func weekdaySet(weekdays []int) (map[int]struct{}, error) {
	set := make(map[int]struct{}, len(weekdays))
	for _, d := range weekdays {
		if d < 1 || d > 7 {
			return nil, ErrInvalidWeekday
		}
		set[d] = struct{}{}
	}
	return set, nil
}

func shouldInclude(freq Frequency, set map[int]struct{}, day int) (bool, error) {
	switch freq {
	case FrequencyDaily:
		if len(set) == 0 {
			return true, nil
		}
		_, ok := set[day]
		return ok, nil
	case FrequencyWeekly:
		if len(set) == 0 {
			return false, nil
		}
		_, ok := set[day]
		return ok, nil
	case FrequencyUnspecified:
		fallthrough
	default:
		return false, ErrInvalidFrequency
	}
}

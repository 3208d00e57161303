package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"cfgvault/internal/model"

	"github.com/robfig/cron/v3"
)

// searchDays bounds the day-by-day search of field matching rules; four
// years covers every leap-day combination.
const searchDays = 4 * 366

var ErrNoOccurrence = errors.New("schedule has no future occurrence")

// RecurrenceRule yields the next firing strictly after a reference time.
type RecurrenceRule interface {
	Next(after time.Time) (time.Time, error)
}

// RuleFactory builds the rule of a custom schedule.
type RuleFactory func(s model.Schedule) (RecurrenceRule, error)

type cronRule struct {
	schedule cron.Schedule
}

func (r cronRule) Next(after time.Time) (time.Time, error) {
	next := r.schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, ErrNoOccurrence
	}
	return next, nil
}

// fieldRule fires at the start time on days matching every non-empty
// field.
type fieldRule struct {
	hour, minute int
	weekdays     []int
	days         []int
	months       []int
}

func (r fieldRule) Next(after time.Time) (time.Time, error) {
	y, m, d := after.Date()
	for i := range searchDays {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, after.Location())
		if !r.matches(day) {
			continue
		}

		candidate := at(day, r.hour, r.minute)
		if candidate.After(after) {
			return candidate, nil
		}
	}
	return time.Time{}, ErrNoOccurrence
}

func (r fieldRule) matches(day time.Time) bool {
	return matchAny(r.weekdays, weekday(day)) &&
		matchAny(r.days, day.Day()) &&
		matchAny(r.months, int(day.Month()))
}

func matchAny(set []int, v int) bool {
	return len(set) == 0 || slices.Contains(set, v)
}

// DefaultRules parses Rule as a standard five-field cron expression, or
// falls back to field matching when Rule is empty.
func DefaultRules(s model.Schedule) (RecurrenceRule, error) {
	if strings.TrimSpace(s.Rule) != "" {
		sched, err := cron.ParseStandard(s.Rule)
		if err != nil {
			return nil, fmt.Errorf("invalid cron rule %q: %w", s.Rule, err)
		}
		return cronRule{schedule: sched}, nil
	}

	hour, minute, err := ParseStartTime(s.StartTime)
	if err != nil {
		return nil, err
	}

	return fieldRule{
		hour:     hour,
		minute:   minute,
		weekdays: s.DaysOfWeek,
		days:     s.DaysOfMonth,
		months:   s.Months,
	}, nil
}

// NextRun returns the first firing of s strictly after ref, evaluated in
// ref's location.
func NextRun(s model.Schedule, ref time.Time) (time.Time, error) {
	return nextRun(s, ref, DefaultRules)
}

func nextRun(s model.Schedule, ref time.Time, rules RuleFactory) (time.Time, error) {
	if s.Type == model.ScheduleCustom {
		rule, err := rules(s)
		if err != nil {
			return time.Time{}, err
		}
		return rule.Next(ref)
	}

	hour, minute, err := ParseStartTime(s.StartTime)
	if err != nil {
		return time.Time{}, err
	}

	switch s.Type {
	case model.ScheduleDaily:
		candidate := at(ref, hour, minute)
		if !candidate.After(ref) {
			candidate = at(ref.AddDate(0, 0, 1), hour, minute)
		}
		return candidate, nil

	case model.ScheduleWeekly:
		if len(s.DaysOfWeek) == 0 {
			return time.Time{}, errors.New("weekly schedule needs days_of_week")
		}
		y, m, d := ref.Date()
		for i := range 8 {
			day := time.Date(y, m, d+i, 0, 0, 0, 0, ref.Location())
			if !slices.Contains(s.DaysOfWeek, weekday(day)) {
				continue
			}
			if candidate := at(day, hour, minute); candidate.After(ref) {
				return candidate, nil
			}
		}
		return time.Time{}, ErrNoOccurrence

	case model.ScheduleMonthly:
		if len(s.DaysOfMonth) == 0 {
			return time.Time{}, errors.New("monthly schedule needs days_of_month")
		}
		return nextMonthly(s, ref, hour, minute)

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// nextMonthly clamps days past the end of a month to its last day.
func nextMonthly(s model.Schedule, ref time.Time, hour, minute int) (time.Time, error) {
	days := slices.Sorted(slices.Values(s.DaysOfMonth))
	y, m, _ := ref.Date()

	for i := range 13 * 4 {
		first := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, ref.Location())
		if !matchAny(s.Months, int(first.Month())) {
			continue
		}

		last := daysIn(first)
		for _, d := range days {
			candidate := at(first.AddDate(0, 0, min(d, last)-1), hour, minute)
			if candidate.After(ref) {
				return candidate, nil
			}
		}
	}
	return time.Time{}, ErrNoOccurrence
}

// ParseStartTime accepts HH:MM or HH:MM:SS; seconds are ignored.
func ParseStartTime(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("invalid start time %q, want HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid start time %q: bad hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid start time %q: bad minute", s)
	}

	return hour, minute, nil
}

// weekday numbers Monday as 0.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func at(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, day.Location())
}

func daysIn(first time.Time) int {
	return first.AddDate(0, 1, -1).Day()
}

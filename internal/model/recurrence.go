package model

import (
	"errors"
	"fmt"
	"time"
)

type RecurrenceKind string

const (
	RecurrenceNone           RecurrenceKind = "none"
	RecurrenceDaily          RecurrenceKind = "daily"
	RecurrenceWeekly         RecurrenceKind = "weekly"
	RecurrenceMonthly        RecurrenceKind = "monthly"
	RecurrenceYearly         RecurrenceKind = "yearly"
	RecurrenceCustomWeekdays RecurrenceKind = "custom_weekdays"
)

func (k RecurrenceKind) IsValid() bool {
	switch k {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly, RecurrenceCustomWeekdays:
		return true
	default:
		return false
	}
}

var ErrInvalidRule = errors.New("model: invalid recurrence rule")

// RecurrenceRule is an immutable description of how a template repeats.
// Interval is the step for daily/weekly/monthly/yearly rules; Weekdays is
// only meaningful for custom_weekdays.
type RecurrenceRule struct {
	Kind     RecurrenceKind
	Interval int
	Weekdays []time.Weekday
}

// NewRule builds a rule, treating a zero interval as 1.
func NewRule(kind RecurrenceKind, interval int, weekdays ...time.Weekday) RecurrenceRule {
	if interval == 0 {
		interval = 1
	}
	days := make([]time.Weekday, len(weekdays))
	copy(days, weekdays)
	return RecurrenceRule{Kind: kind, Interval: interval, Weekdays: days}
}

func (r RecurrenceRule) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval %d", ErrInvalidRule, r.Interval)
	}
	if r.Kind == RecurrenceCustomWeekdays && len(r.Weekdays) == 0 {
		return fmt.Errorf("%w: custom_weekdays requires at least one weekday", ErrInvalidRule)
	}
	if r.Kind != RecurrenceCustomWeekdays && len(r.Weekdays) > 0 {
		return fmt.Errorf("%w: weekdays only apply to custom_weekdays", ErrInvalidRule)
	}
	var seen [7]bool
	for _, d := range r.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate weekday %s", ErrInvalidRule, d)
		}
		seen[d] = true
	}
	return nil
}

// Occurrences lists every occurrence of the rule between from and to
// (inclusive), in ascending order. The anchor fixes the phase of the rule and
// no occurrence ever precedes it. Inputs are reduced to calendar days in the
// anchor's location.
//
// Monthly and yearly rules keep the anchor's day of month; months without that
// day clamp to their last day (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28). Every
// occurrence is derived from the anchor, so a clamp never shifts later months.
func (r RecurrenceRule) Occurrences(anchor, from, to time.Time) ([]time.Time, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	loc := anchor.Location()
	anchor = StartOfDay(anchor)
	from = StartOfDay(from.In(loc))
	to = StartOfDay(to.In(loc))
	if from.Before(anchor) {
		from = anchor
	}
	if from.After(to) {
		return []time.Time{}, nil
	}

	switch r.Kind {
	case RecurrenceDaily:
		return stepDays(anchor, from, to, r.Interval), nil
	case RecurrenceWeekly:
		return stepDays(anchor, from, to, 7*r.Interval), nil
	case RecurrenceMonthly:
		return stepMonths(anchor, from, to, r.Interval), nil
	case RecurrenceYearly:
		return stepMonths(anchor, from, to, 12*r.Interval), nil
	case RecurrenceCustomWeekdays:
		return r.matchWeekdays(from, to), nil
	default:
		return []time.Time{}, nil
	}
}

// Next returns the first occurrence on a day strictly after the given date.
// The boolean is false for rules that never recur.
func (r RecurrenceRule) Next(anchor, after time.Time) (time.Time, bool, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, false, err
	}
	if r.Kind == RecurrenceNone {
		return time.Time{}, false, nil
	}
	from := StartOfDay(after.In(anchor.Location())).AddDate(0, 0, 1)
	if from.Before(StartOfDay(anchor)) {
		from = StartOfDay(anchor)
	}
	list, err := r.Occurrences(anchor, from, r.horizon(from))
	if err != nil {
		return time.Time{}, false, err
	}
	if len(list) == 0 {
		return time.Time{}, false, nil
	}
	return list[0], true, nil
}

// Preview returns up to count upcoming occurrences after the given date.
func (r RecurrenceRule) Preview(anchor, after time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return []time.Time{}, nil
	}
	out := make([]time.Time, 0, count)
	cursor := after
	for i := 0; i < count; i++ {
		next, ok, err := r.Next(anchor, cursor)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// horizon is a window end guaranteed to contain at least one occurrence
// after from.
func (r RecurrenceRule) horizon(from time.Time) time.Time {
	switch r.Kind {
	case RecurrenceDaily:
		return from.AddDate(0, 0, r.Interval)
	case RecurrenceWeekly:
		return from.AddDate(0, 0, 7*r.Interval)
	case RecurrenceMonthly:
		return from.AddDate(0, r.Interval+1, 0)
	case RecurrenceYearly:
		return from.AddDate(r.Interval+1, 0, 0)
	default:
		return from.AddDate(0, 0, 7)
	}
}

func (r RecurrenceRule) matchWeekdays(from, to time.Time) []time.Time {
	var allowed [7]bool
	for _, d := range r.Weekdays {
		allowed[d] = true
	}
	out := make([]time.Time, 0)
	for i := 0; ; i++ {
		day := from.AddDate(0, 0, i)
		if day.After(to) {
			break
		}
		if allowed[day.Weekday()] {
			out = append(out, day)
		}
	}
	return out
}

func stepDays(anchor, from, to time.Time, step int) []time.Time {
	out := make([]time.Time, 0)
	offset := DaysBetween(anchor, from)
	k := (offset + step - 1) / step
	for {
		day := anchor.AddDate(0, 0, k*step)
		if day.After(to) {
			break
		}
		out = append(out, day)
		k++
	}
	return out
}

func stepMonths(anchor, from, to time.Time, step int) []time.Time {
	ay, am, ad := anchor.Date()
	fy, fm, _ := from.Date()
	k := 0
	if elapsed := (fy-ay)*12 + int(fm-am); elapsed > 0 {
		k = elapsed / step
	}
	out := make([]time.Time, 0)
	for {
		day := monthDay(ay, am, ad, k*step, anchor.Location())
		if day.After(to) {
			break
		}
		if !day.Before(from) {
			out = append(out, day)
		}
		k++
	}
	return out
}

// monthDay is the anchor's day of month, months months after the anchor
// month, clamped to the target month's length.
func monthDay(year int, month time.Month, day, months int, loc *time.Location) time.Time {
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, loc)
	if last := DaysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
}

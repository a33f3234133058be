package model

import "time"

// MaxRemindersPerInstance bounds how many offsets one instance may carry and
// therefore how many trigger indices cancellation has to sweep.
const MaxRemindersPerInstance = 10

type SkipReason string

const (
	SkipPast          SkipReason = "past"
	SkipOverLimit     SkipReason = "over_limit"
	SkipInvalidOffset SkipReason = "invalid_offset"
)

type PlanEntry struct {
	InstanceID    string
	OffsetIndex   int
	OffsetMinutes int
	FireAt        time.Time
}

type SkippedEntry struct {
	PlanEntry
	Reason SkipReason
}

// Plan is the derived reminder schedule of one instance. It is never stored;
// rebuild it whenever the due date, time or offsets change.
type Plan struct {
	InstanceID string
	DueAt      time.Time
	Entries    []PlanEntry
	Skipped    []SkippedEntry
}

func (p Plan) Empty() bool {
	return len(p.Entries) == 0
}

// BuildPlan computes absolute fire times for inst's reminder offsets. An
// instance without both a due date and a time of day has no reminders.
// Fire times before now are moved to Skipped rather than fired late.
func BuildPlan(inst TaskInstance, now time.Time) Plan {
	plan := Plan{
		InstanceID: inst.ID,
		Entries:    []PlanEntry{},
		Skipped:    []SkippedEntry{},
	}
	if inst.DueDate == nil || inst.TimeOfDay == nil {
		return plan
	}
	plan.DueAt = inst.TimeOfDay.On(*inst.DueDate)

	for i, m := range inst.ReminderOffsets {
		entry := PlanEntry{
			InstanceID:    inst.ID,
			OffsetIndex:   i,
			OffsetMinutes: m,
			FireAt:        plan.DueAt.Add(-time.Duration(m) * time.Minute),
		}
		switch {
		case i >= MaxRemindersPerInstance:
			plan.Skipped = append(plan.Skipped, SkippedEntry{PlanEntry: entry, Reason: SkipOverLimit})
		case m < 0:
			plan.Skipped = append(plan.Skipped, SkippedEntry{PlanEntry: entry, Reason: SkipInvalidOffset})
		case entry.FireAt.Before(now):
			plan.Skipped = append(plan.Skipped, SkippedEntry{PlanEntry: entry, Reason: SkipPast})
		default:
			plan.Entries = append(plan.Entries, entry)
		}
	}
	return plan
}

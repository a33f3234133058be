package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidDeliveryMode = errors.New("model: invalid delivery mode")
	ErrInvalidOffsets      = errors.New("model: invalid reminder offsets")
)

type DeliveryMode string

const (
	DeliveryNotification DeliveryMode = "notification"
	DeliveryAlarm        DeliveryMode = "alarm"
)

func (d DeliveryMode) IsValid() bool {
	switch d {
	case DeliveryNotification, DeliveryAlarm:
		return true
	default:
		return false
	}
}

// TaskTemplate is the user-authored definition of a recurring task. The
// materializer only reads the rule and advances LastMaterializedDate.
type TaskTemplate struct {
	ID                   string
	Title                string
	Category             string
	Rule                 RecurrenceRule
	Anchor               time.Time
	TimeOfDay            *TimeOfDay
	ReminderOffsets      []int
	DeliveryMode         DeliveryMode
	LockScreenVisible    bool
	LastMaterializedDate *time.Time
	CreatedAt            time.Time
}

func (t TaskTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("model: template id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("model: template title is required")
	}
	if err := t.Rule.Validate(); err != nil {
		return err
	}
	if t.Anchor.IsZero() {
		return errors.New("model: template anchor is required")
	}
	if t.TimeOfDay != nil {
		if err := t.TimeOfDay.Validate(); err != nil {
			return err
		}
	}
	if !t.DeliveryMode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidDeliveryMode, t.DeliveryMode)
	}
	return ValidateOffsets(t.ReminderOffsets)
}

// Instantiate copies the template's defaults into a new instance due on date.
// The instance does not share slices or pointers with the template.
func (t TaskTemplate) Instantiate(id string, date, now time.Time) TaskInstance {
	due := StartOfDay(date)
	inst := TaskInstance{
		ID:                id,
		TemplateID:        t.ID,
		Title:             t.Title,
		Category:          t.Category,
		DueDate:           &due,
		DeliveryMode:      t.DeliveryMode,
		LockScreenVisible: t.LockScreenVisible,
		CreatedAt:         now,
	}
	if t.TimeOfDay != nil {
		tod := *t.TimeOfDay
		inst.TimeOfDay = &tod
	}
	if len(t.ReminderOffsets) > 0 {
		inst.ReminderOffsets = append([]int(nil), t.ReminderOffsets...)
	}
	return inst
}

// TaskInstance is a concrete, dated occurrence. TemplateID is empty for
// one-off tasks.
type TaskInstance struct {
	ID                string
	TemplateID        string
	Title             string
	Category          string
	DueDate           *time.Time
	TimeOfDay         *TimeOfDay
	ReminderOffsets   []int
	DeliveryMode      DeliveryMode
	LockScreenVisible bool
	Completed         bool
	CompletedAt       *time.Time
	CreatedAt         time.Time
}

func (t TaskInstance) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("model: instance id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("model: instance title is required")
	}
	if t.TemplateID != "" && t.DueDate == nil {
		return errors.New("model: due date is required for materialized instances")
	}
	if t.TimeOfDay != nil {
		if err := t.TimeOfDay.Validate(); err != nil {
			return err
		}
	}
	if !t.DeliveryMode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidDeliveryMode, t.DeliveryMode)
	}
	if t.Completed && t.CompletedAt == nil {
		return errors.New("model: completed_at is required when instance is completed")
	}
	if !t.Completed && t.CompletedAt != nil {
		return errors.New("model: completed_at must be nil when instance is not completed")
	}
	return ValidateOffsets(t.ReminderOffsets)
}

// ValidateOffsets checks reminder offsets: non-negative, unique, and no more
// than MaxRemindersPerInstance of them.
func ValidateOffsets(offsets []int) error {
	if len(offsets) > MaxRemindersPerInstance {
		return fmt.Errorf("%w: %d offsets, at most %d allowed", ErrInvalidOffsets, len(offsets), MaxRemindersPerInstance)
	}
	seen := make(map[int]bool, len(offsets))
	for _, m := range offsets {
		if m < 0 {
			return fmt.Errorf("%w: negative offset %d", ErrInvalidOffsets, m)
		}
		if seen[m] {
			return fmt.Errorf("%w: duplicate offset %d", ErrInvalidOffsets, m)
		}
		seen[m] = true
	}
	return nil
}

func (t TaskTemplate) Clone() TaskTemplate {
	out := t
	out.Rule.Weekdays = append([]time.Weekday(nil), t.Rule.Weekdays...)
	out.ReminderOffsets = append([]int(nil), t.ReminderOffsets...)
	if t.TimeOfDay != nil {
		tod := *t.TimeOfDay
		out.TimeOfDay = &tod
	}
	if t.LastMaterializedDate != nil {
		wm := *t.LastMaterializedDate
		out.LastMaterializedDate = &wm
	}
	return out
}

func (t TaskInstance) Clone() TaskInstance {
	out := t
	out.ReminderOffsets = append([]int(nil), t.ReminderOffsets...)
	if t.DueDate != nil {
		due := *t.DueDate
		out.DueDate = &due
	}
	if t.TimeOfDay != nil {
		tod := *t.TimeOfDay
		out.TimeOfDay = &tod
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		out.CompletedAt = &done
	}
	return out
}

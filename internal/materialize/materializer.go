package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/sandeepkv93/tasksched/internal/model"
	"github.com/sandeepkv93/tasksched/internal/storage"
)

// DefaultMaxBackfillDays bounds how far back a single run creates instances.
const DefaultMaxBackfillDays = 365

var ErrStoreWrite = errors.New("materialize: store write failed")

// Window is the inclusive range of calendar days a run covered.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Empty() bool {
	return w.From.IsZero() || w.From.After(w.To)
}

type Result struct {
	TemplateID string
	Window     Window
	Created    []model.TaskInstance
	Skipped    []time.Time
}

// CreatedIDs returns the ids of the instances created by the run.
func (r Result) CreatedIDs() []string {
	out := make([]string, 0, len(r.Created))
	for _, inst := range r.Created {
		out = append(out, inst.ID)
	}
	return out
}

type Failure struct {
	TemplateID string
	Err        error
}

type Report struct {
	Results []Result
	Invalid []Failure
	Failed  []Failure
}

// Created flattens every instance created during the run.
func (r Report) Created() []model.TaskInstance {
	out := make([]model.TaskInstance, 0)
	for _, res := range r.Results {
		out = append(out, res.Created...)
	}
	return out
}

type Option func(*Materializer)

func WithLogger(logger *log.Logger) Option {
	return func(m *Materializer) {
		if logger != nil {
			m.log = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Materializer) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Materializer) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// WithMaxBackfillDays caps the window to the last n days, today included.
// Non-positive values keep the default.
func WithMaxBackfillDays(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.maxBackfill = n
		}
	}
}

// Materializer turns template rules into stored instances. It never touches
// reminders; the caller schedules whatever a run created.
type Materializer struct {
	store       storage.Store
	log         *log.Logger
	now         func() time.Time
	newID       func() string
	maxBackfill int
}

func New(store storage.Store, opts ...Option) *Materializer {
	m := &Materializer{
		store:       store,
		log:         log.New(io.Discard),
		now:         time.Now,
		newID:       uuid.NewString,
		maxBackfill: DefaultMaxBackfillDays,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WindowFor returns the days a run on today would cover for tmpl.
func (m *Materializer) WindowFor(tmpl model.TaskTemplate, today time.Time) Window {
	loc := tmpl.Anchor.Location()
	to := model.StartOfDay(today.In(loc))
	from := model.StartOfDay(tmpl.Anchor)
	if tmpl.LastMaterializedDate != nil {
		next := model.StartOfDay(tmpl.LastMaterializedDate.In(loc)).AddDate(0, 0, 1)
		if next.After(from) {
			from = next
		}
	}
	floor := to.AddDate(0, 0, -(m.maxBackfill - 1))
	if from.Before(floor) {
		from = floor
	}
	return Window{From: from, To: to}
}

// Materialize creates the missing instances of tmpl up to today. The
// watermark moves to today only when every day in the window was written;
// otherwise the error wraps ErrStoreWrite and the next run retries the
// whole window, skipping days that already exist.
func (m *Materializer) Materialize(ctx context.Context, tmpl model.TaskTemplate, today time.Time) (Result, error) {
	res := Result{
		TemplateID: tmpl.ID,
		Created:    []model.TaskInstance{},
		Skipped:    []time.Time{},
	}
	if err := tmpl.Rule.Validate(); err != nil {
		return res, err
	}
	if tmpl.Rule.Kind == model.RecurrenceNone {
		return res, nil
	}
	res.Window = m.WindowFor(tmpl, today)
	if res.Window.Empty() {
		return res, nil
	}

	days, err := tmpl.Rule.Occurrences(tmpl.Anchor, res.Window.From, res.Window.To)
	if err != nil {
		return res, err
	}
	for _, d := range days {
		exists, err := m.store.InstanceExists(ctx, tmpl.ID, d)
		if err != nil {
			return res, fmt.Errorf("%w: check %s %s: %w", ErrStoreWrite, tmpl.ID, d.Format(model.DateLayout), err)
		}
		if exists {
			res.Skipped = append(res.Skipped, d)
			continue
		}
		inst := tmpl.Instantiate(m.newID(), d, m.now())
		id, err := m.store.CreateInstance(ctx, inst)
		if errors.Is(err, storage.ErrDuplicate) {
			res.Skipped = append(res.Skipped, d)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("%w: create %s %s: %w", ErrStoreWrite, tmpl.ID, d.Format(model.DateLayout), err)
		}
		inst.ID = id
		res.Created = append(res.Created, inst)
	}

	if err := m.store.UpdateTemplateWatermark(ctx, tmpl.ID, res.Window.To); err != nil {
		return res, fmt.Errorf("%w: watermark %s: %w", ErrStoreWrite, tmpl.ID, err)
	}
	return res, nil
}

// MaterializeAll runs every recurring template. A bad rule or a failed write
// is recorded in the report and does not stop the other templates.
func (m *Materializer) MaterializeAll(ctx context.Context, today time.Time) (Report, error) {
	report := Report{
		Results: []Result{},
		Invalid: []Failure{},
		Failed:  []Failure{},
	}
	templates, err := m.store.ListTemplatesNeedingMaterialization(ctx)
	if err != nil {
		return report, fmt.Errorf("list templates: %w", err)
	}
	for _, tmpl := range templates {
		res, err := m.Materialize(ctx, tmpl, today)
		switch {
		case errors.Is(err, model.ErrInvalidRule):
			m.log.Warn("skipping template with invalid rule", "template", tmpl.ID, "err", err)
			report.Invalid = append(report.Invalid, Failure{TemplateID: tmpl.ID, Err: err})
			continue
		case err != nil:
			m.log.Warn("materialization failed, watermark kept", "template", tmpl.ID,
				"created", len(res.Created), "err", err)
			report.Failed = append(report.Failed, Failure{TemplateID: tmpl.ID, Err: err})
		}
		if len(res.Created) > 0 {
			m.log.Info("materialized instances", "template", tmpl.ID, "created", len(res.Created),
				"skipped", len(res.Skipped), "from", res.Window.From.Format(model.DateLayout),
				"to", res.Window.To.Format(model.DateLayout))
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

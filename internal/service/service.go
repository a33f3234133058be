// Package service wires materialization, reminder scheduling and delivery
// together and exposes the hooks the edit layer calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sandeepkv93/tasksched/internal/delivery"
	"github.com/sandeepkv93/tasksched/internal/materialize"
	"github.com/sandeepkv93/tasksched/internal/model"
	"github.com/sandeepkv93/tasksched/internal/notify"
	"github.com/sandeepkv93/tasksched/internal/scheduler"
	"github.com/sandeepkv93/tasksched/internal/storage"
)

// Journaled is implemented by gateways that persist registrations, such as
// delivery.Durable.
type Journaled interface {
	Forget(ctx context.Context, key delivery.Key) error
	Restore(ctx context.Context, now time.Time) ([]delivery.Trigger, error)
}

// pruneAfter is how long fired and cancelled trigger states are kept.
const pruneAfter = 24 * time.Hour

type Option func(*Service)

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithJournal(j Journaled) Option {
	return func(s *Service) {
		s.journal = j
	}
}

type Service struct {
	repo         storage.Repository
	materializer *materialize.Materializer
	scheduler    *scheduler.Scheduler
	notifier     notify.Notifier
	journal      Journaled
	log          *log.Logger
	now          func() time.Time

	runMu    sync.Mutex
	requests chan struct{}
}

func New(repo storage.Repository, m *materialize.Materializer, sched *scheduler.Scheduler, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		materializer: m,
		scheduler:    sched,
		log:          log.New(io.Discard),
		now:          time.Now,
		requests:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.log)
	}
	return s
}

func (s *Service) Repository() storage.Repository {
	return s.repo
}

func (s *Service) Now() time.Time {
	return s.now()
}

// RunCatchUp materializes every recurring template up to today and schedules
// reminders for the instances it created. Runs never overlap.
func (s *Service) RunCatchUp(ctx context.Context) (materialize.Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now()
	if n := s.scheduler.Prune(now.Add(-pruneAfter)); n > 0 {
		s.log.Debug("pruned finished triggers", "count", n)
	}
	report, err := s.materializer.MaterializeAll(ctx, now)
	if err != nil {
		return report, err
	}
	scheduled := 0
	for _, inst := range report.Created() {
		if _, err := s.scheduler.Schedule(ctx, inst); err != nil {
			s.log.Warn("scheduling reminders failed", "instance", inst.ID, "err", err)
			continue
		}
		scheduled++
	}
	s.log.Info("catch-up finished", "created", len(report.Created()), "scheduled", scheduled,
		"invalid", len(report.Invalid), "failed", len(report.Failed))
	return report, nil
}

// RequestCatchUp asks the worker loop for a catch-up run. Requests made while
// one is already pending are coalesced.
func (s *Service) RequestCatchUp() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// OnTaskSavedOrEdited reschedules the reminders of inst. Completed instances
// keep no triggers.
func (s *Service) OnTaskSavedOrEdited(ctx context.Context, inst model.TaskInstance) (model.Plan, error) {
	if inst.Completed {
		if err := s.scheduler.Cancel(ctx, inst.ID); err != nil {
			return model.Plan{}, err
		}
		return model.Plan{InstanceID: inst.ID, Entries: []model.PlanEntry{}, Skipped: []model.SkippedEntry{}}, nil
	}
	return s.scheduler.Schedule(ctx, inst)
}

func (s *Service) OnTaskDeleted(ctx context.Context, instanceID string) error {
	return s.scheduler.Cancel(ctx, instanceID)
}

// Restore re-registers journaled triggers after a restart.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	restored, err := s.journal.Restore(ctx, s.now())
	s.scheduler.Adopt(restored...)
	if len(restored) > 0 {
		s.log.Info("restored triggers", "count", len(restored))
	}
	return len(restored), err
}

// Run drains catch-up requests and fired triggers until ctx is done.
func (s *Service) Run(ctx context.Context, fired <-chan delivery.Trigger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.requests:
			if _, err := s.RunCatchUp(ctx); err != nil {
				s.log.Error("catch-up failed", "err", err)
			}
		case tr, ok := <-fired:
			if !ok {
				return nil
			}
			if err := s.handleFired(ctx, tr); err != nil {
				s.log.Warn("fired trigger handling failed", "trigger", tr.Key.String(), "err", err)
			}
		}
	}
}

// handleFired notifies about tr and drops it from the journal. A trigger that
// was superseded by a reschedule after it fired is ignored, so the journal row
// of its replacement survives.
func (s *Service) handleFired(ctx context.Context, tr delivery.Trigger) error {
	if !s.scheduler.MarkFired(tr) {
		s.log.Debug("ignoring superseded trigger", "trigger", tr.Key.String(), "generation", tr.Generation)
		return nil
	}
	var errs []error
	if s.journal != nil {
		if err := s.journal.Forget(ctx, tr.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.notifier.Notify(ctx, tr); err != nil {
		errs = append(errs, fmt.Errorf("notify %s: %w", tr.Key, err))
	}
	return errors.Join(errs...)
}

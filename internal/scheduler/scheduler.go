// Package scheduler keeps the delivery gateway in sync with the reminder plan
// of each instance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sandeepkv93/tasksched/internal/delivery"
	"github.com/sandeepkv93/tasksched/internal/model"
)

type State string

const (
	StateUnscheduled State = "unscheduled"
	StateScheduled   State = "scheduled"
	StateFired       State = "fired"
	StateCancelled   State = "cancelled"
)

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.log = logger
		}
	}
}

type registration struct {
	state      State
	generation uint64
	fireAt     time.Time
}

// instanceLock serializes Schedule and Cancel of one instance. refs counts
// holders and waiters so idle locks can be dropped.
type instanceLock struct {
	mu   sync.Mutex
	refs int
}

type Scheduler struct {
	gateway delivery.Gateway
	now     func() time.Time
	log     *log.Logger

	mu         sync.Mutex
	state      map[delivery.Key]*registration
	locks      map[string]*instanceLock
	generation uint64
}

func New(gateway delivery.Gateway, opts ...Option) *Scheduler {
	s := &Scheduler{
		gateway: gateway,
		now:     time.Now,
		log:     log.New(io.Discard),
		state:   make(map[delivery.Key]*registration),
		locks:   make(map[string]*instanceLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule replaces every trigger of inst with its current reminder plan.
// Prior triggers are cancelled first, so a shrunk offset list or a moved due
// date never leaves a stale trigger behind. Calls for the same instance run
// one at a time. Entries refused exact timing are registered inexact. Other
// registration failures are joined and returned after every entry was
// attempted.
func (s *Scheduler) Schedule(ctx context.Context, inst model.TaskInstance) (model.Plan, error) {
	unlock := s.lockInstance(inst.ID)
	defer unlock()

	if err := s.cancel(ctx, inst.ID); err != nil {
		return model.Plan{}, err
	}

	plan := model.BuildPlan(inst, s.now())
	var errs []error
	for _, entry := range plan.Entries {
		tr := delivery.TriggerFor(inst, entry)
		tr.Generation = s.nextGeneration()
		if err := s.register(ctx, tr); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", tr.Key, err))
			continue
		}
		s.record(tr)
	}
	if len(plan.Skipped) > 0 {
		s.log.Debug("reminders skipped", "instance", inst.ID, "count", len(plan.Skipped))
	}
	return plan, errors.Join(errs...)
}

func (s *Scheduler) register(ctx context.Context, tr delivery.Trigger) error {
	err := s.gateway.RegisterExact(ctx, tr)
	if !errors.Is(err, delivery.ErrPermissionDenied) {
		return err
	}
	s.log.Warn("exact scheduling denied, falling back to inexact", "trigger", tr.Key.String(),
		"fire_at", tr.FireAt.Format(time.RFC3339))
	return s.gateway.RegisterInexact(ctx, tr)
}

// Cancel removes every possible trigger of the instance. Keys are derived, so
// all indices up to the reminder limit are swept without a lookup.
func (s *Scheduler) Cancel(ctx context.Context, instanceID string) error {
	unlock := s.lockInstance(instanceID)
	defer unlock()
	return s.cancel(ctx, instanceID)
}

// cancel moves scheduled keys to cancelled and forgets keys left over from
// earlier rounds. The instance lock must be held.
func (s *Scheduler) cancel(ctx context.Context, instanceID string) error {
	var errs []error
	for i := 0; i < model.MaxRemindersPerInstance; i++ {
		key := delivery.KeyFor(instanceID, i)
		if err := s.gateway.Cancel(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", key, err))
			continue
		}
		s.mu.Lock()
		if reg, ok := s.state[key]; ok {
			if reg.state == StateScheduled {
				reg.state = StateCancelled
			} else {
				delete(s.state, key)
			}
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// MarkFired records that the gateway delivered tr. It reports false when tr
// is not the current registration of its key, for example a trigger that
// fired while the instance was being rescheduled; such triggers leave the
// state untouched.
func (s *Scheduler) MarkFired(tr delivery.Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.state[tr.Key]
	if !ok || reg.state != StateScheduled || reg.generation != tr.Generation {
		return false
	}
	reg.state = StateFired
	return true
}

func (s *Scheduler) State(key delivery.Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.state[key]; ok {
		return reg.state
	}
	return StateUnscheduled
}

// Registered lists the keys of instanceID that are waiting to fire.
func (s *Scheduler) Registered(instanceID string) []delivery.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery.Key, 0)
	for key, reg := range s.state {
		if key.InstanceID == instanceID && reg.state == StateScheduled {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Adopt marks already registered triggers as scheduled, for triggers the
// gateway restored from its journal.
func (s *Scheduler) Adopt(triggers ...delivery.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range triggers {
		if tr.Generation > s.generation {
			s.generation = tr.Generation
		}
		s.state[tr.Key] = &registration{state: StateScheduled, generation: tr.Generation, fireAt: tr.FireAt}
	}
}

// Prune drops fired and cancelled keys whose fire time is before cutoff and
// returns how many were dropped.
func (s *Scheduler) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, reg := range s.state {
		if reg.state != StateScheduled && reg.fireAt.Before(cutoff) {
			delete(s.state, key)
			n++
		}
	}
	return n
}

func (s *Scheduler) record(tr delivery.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[tr.Key] = &registration{state: StateScheduled, generation: tr.Generation, fireAt: tr.FireAt}
}

func (s *Scheduler) nextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

func (s *Scheduler) lockInstance(instanceID string) func() {
	s.mu.Lock()
	l, ok := s.locks[instanceID]
	if !ok {
		l = &instanceLock{}
		s.locks[instanceID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, instanceID)
		}
		s.mu.Unlock()
	}
}

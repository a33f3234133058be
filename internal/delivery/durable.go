package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Journal persists registered triggers so they can be restored after the
// process restarts.
type Journal interface {
	SaveTrigger(ctx context.Context, tr Trigger) error
	DeleteTrigger(ctx context.Context, key Key) error
	PendingTriggers(ctx context.Context) ([]Trigger, error)
}

// Durable records every registration of the wrapped Gateway in a Journal.
type Durable struct {
	inner   Gateway
	journal Journal
	log     *log.Logger
}

func NewDurable(inner Gateway, journal Journal, logger *log.Logger) *Durable {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Durable{inner: inner, journal: journal, log: logger}
}

func (d *Durable) RegisterExact(ctx context.Context, tr Trigger) error {
	if err := d.inner.RegisterExact(ctx, tr); err != nil {
		return err
	}
	tr.Exact = true
	return d.save(ctx, tr)
}

func (d *Durable) RegisterInexact(ctx context.Context, tr Trigger) error {
	if err := d.inner.RegisterInexact(ctx, tr); err != nil {
		return err
	}
	tr.Exact = false
	return d.save(ctx, tr)
}

func (d *Durable) Cancel(ctx context.Context, key Key) error {
	if err := d.inner.Cancel(ctx, key); err != nil {
		return err
	}
	if err := d.journal.DeleteTrigger(ctx, key); err != nil {
		return fmt.Errorf("delivery: forget trigger %s: %w", key, err)
	}
	return nil
}

// Forget drops a trigger that has fired from the journal.
func (d *Durable) Forget(ctx context.Context, key Key) error {
	if err := d.journal.DeleteTrigger(ctx, key); err != nil {
		return fmt.Errorf("delivery: forget trigger %s: %w", key, err)
	}
	return nil
}

// Restore re-registers journaled triggers that are still in the future and
// prunes the ones whose fire time passed while the process was down. It
// returns the triggers that are registered again.
func (d *Durable) Restore(ctx context.Context, now time.Time) ([]Trigger, error) {
	pending, err := d.journal.PendingTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("delivery: load journal: %w", err)
	}
	restored := make([]Trigger, 0, len(pending))
	var errs []error
	for _, tr := range pending {
		if tr.FireAt.Before(now) {
			d.log.Info("pruning missed trigger", "key", tr.Key.String(), "fire_at", tr.FireAt)
			if err := d.journal.DeleteTrigger(ctx, tr.Key); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		tr, err := d.reregister(ctx, tr)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", tr.Key, err))
			continue
		}
		restored = append(restored, tr)
	}
	return restored, errors.Join(errs...)
}

func (d *Durable) reregister(ctx context.Context, tr Trigger) (Trigger, error) {
	if tr.Exact {
		err := d.inner.RegisterExact(ctx, tr)
		if err == nil {
			return tr, nil
		}
		if !errors.Is(err, ErrPermissionDenied) {
			return tr, err
		}
		d.log.Warn("exact scheduling denied on restore, falling back to inexact", "key", tr.Key.String())
		tr.Exact = false
		if err := d.journal.SaveTrigger(ctx, tr); err != nil {
			return tr, err
		}
	}
	return tr, d.inner.RegisterInexact(ctx, tr)
}

func (d *Durable) save(ctx context.Context, tr Trigger) error {
	if err := d.journal.SaveTrigger(ctx, tr); err != nil {
		return fmt.Errorf("delivery: journal trigger %s: %w", tr.Key, err)
	}
	return nil
}

package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngineFiresInTriggerOrder(t *testing.T) {
	engine := NewEngine(8)
	engine.Start()
	defer engine.Stop()

	ctx := context.Background()
	now := time.Now()
	if err := engine.RegisterExact(ctx, Trigger{Key: KeyFor("later", 0), FireAt: now.Add(80 * time.Millisecond)}); err != nil {
		t.Fatalf("register later: %v", err)
	}
	if err := engine.RegisterExact(ctx, Trigger{Key: KeyFor("sooner", 0), FireAt: now.Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("register sooner: %v", err)
	}

	first := waitTrigger(t, engine.C(), time.Second)
	second := waitTrigger(t, engine.C(), time.Second)
	if first.Key.InstanceID != "sooner" || second.Key.InstanceID != "later" {
		t.Fatalf("unexpected order: first=%s second=%s", first.Key, second.Key)
	}
	if !first.Exact {
		t.Fatal("expected exact flag on exact registration")
	}
	if len(engine.Pending()) != 0 {
		t.Fatalf("expected no pending triggers after firing, got %v", engine.Pending())
	}
}

func TestEngineCancelPreventsFiring(t *testing.T) {
	engine := NewEngine(4)
	engine.Start()
	defer engine.Stop()

	ctx := context.Background()
	key := KeyFor("task-1", 0)
	if err := engine.RegisterExact(ctx, Trigger{Key: key, FireAt: time.Now().Add(30 * time.Millisecond)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := engine.Cancel(ctx, key); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := engine.Cancel(ctx, KeyFor("missing", 3)); err != nil {
		t.Fatalf("cancel of absent key should be a no-op, got %v", err)
	}

	select {
	case tr := <-engine.C():
		t.Fatalf("cancelled trigger fired: %s", tr.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineReRegisterReplacesTrigger(t *testing.T) {
	engine := NewEngine(4)
	ctx := context.Background()
	key := KeyFor("task-1", 1)
	first := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if err := engine.RegisterExact(ctx, Trigger{Key: key, FireAt: first}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := engine.RegisterExact(ctx, Trigger{Key: key, FireAt: second}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := engine.Pending(); len(got) != 1 {
		t.Fatalf("expected one pending key, got %v", got)
	}
	tr, ok := engine.Lookup(key)
	if !ok || !tr.FireAt.Equal(second) {
		t.Fatalf("expected replaced fire time %s, got %+v", second, tr)
	}
}

func TestEngineExactPermissionDenied(t *testing.T) {
	engine := NewEngine(1, WithExactPermission(func() bool { return false }), WithInexactWindow(time.Minute))
	ctx := context.Background()
	fireAt := time.Date(2030, 1, 1, 9, 0, 30, 0, time.UTC)

	err := engine.RegisterExact(ctx, Trigger{Key: KeyFor("t", 0), FireAt: fireAt})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := engine.RegisterInexact(ctx, Trigger{Key: KeyFor("t", 0), FireAt: fireAt}); err != nil {
		t.Fatalf("inexact register: %v", err)
	}
	tr, ok := engine.Lookup(KeyFor("t", 0))
	if !ok || tr.Exact {
		t.Fatalf("expected inexact trigger, got %+v", tr)
	}
	if got := tr.FireAt.Format(time.RFC3339); got != "2030-01-01T09:01:00Z" {
		t.Fatalf("expected fire time aligned to window, got %s", got)
	}
}

func TestEngineNonBlockingDropsWhenConsumerIsSlow(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	defer engine.Stop()

	ctx := context.Background()
	at := time.Now().Add(20 * time.Millisecond)
	for i := 0; i < 25; i++ {
		if err := engine.RegisterExact(ctx, Trigger{Key: KeyFor("evt", i), FireAt: at}); err != nil {
			t.Fatalf("register trigger: %v", err)
		}
	}

	time.Sleep(120 * time.Millisecond)
	if engine.Dropped() == 0 {
		t.Fatalf("expected dropped triggers > 0, got %d", engine.Dropped())
	}
}

func TestRegisterValidatesTriggerTime(t *testing.T) {
	engine := NewEngine(1)
	if err := engine.RegisterExact(context.Background(), Trigger{Key: KeyFor("bad", 0)}); !errors.Is(err, ErrInvalidTriggerTime) {
		t.Fatalf("expected ErrInvalidTriggerTime, got %v", err)
	}
}

func TestRegisterAfterStopFails(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	engine.Stop()
	err := engine.RegisterExact(context.Background(), Trigger{Key: KeyFor("late", 0), FireAt: time.Now().Add(time.Hour)})
	if !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}
}

func TestKeyRoundTripAndRequestCode(t *testing.T) {
	key := KeyFor("4f1c#weird", 7)
	parsed, err := ParseKey(key.String())
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if parsed != key {
		t.Fatalf("unexpected parsed key: %+v", parsed)
	}
	if key.RequestCode() != KeyFor("4f1c#weird", 7).RequestCode() {
		t.Fatal("request code must be stable")
	}
	if key.RequestCode() < 0 {
		t.Fatal("request code must be non-negative")
	}
	for _, raw := range []string{"", "#1", "abc", "abc#", "abc#-1", "abc#x"} {
		if _, err := ParseKey(raw); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", raw, err)
		}
	}
}

func waitTrigger(t *testing.T, ch <-chan Trigger, timeout time.Duration) Trigger {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for trigger")
		return Trigger{}
	}
}

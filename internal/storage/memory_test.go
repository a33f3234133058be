package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/tasksched/internal/model"
)

func TestMemoryStoreUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tmpl := sampleTemplate("tmpl-1")
	if err := store.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	id, err := store.CreateInstance(ctx, tmpl.Instantiate("", day(2026, 1, 5), now))
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := store.CreateInstance(ctx, tmpl.Instantiate("", day(2026, 1, 5), now)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	exists, err := store.InstanceExists(ctx, tmpl.ID, day(2026, 1, 5))
	if err != nil || !exists {
		t.Fatalf("expected existing instance, got %v %v", exists, err)
	}
	if err := store.DeleteInstance(ctx, id); err != nil {
		t.Fatalf("delete instance: %v", err)
	}
	exists, err = store.InstanceExists(ctx, tmpl.ID, day(2026, 1, 5))
	if err != nil || exists {
		t.Fatalf("expected day to be free after delete, got %v %v", exists, err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tmpl := sampleTemplate("tmpl-1")
	if err := store.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	got, err := store.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	got.ReminderOffsets[0] = 99
	again, err := store.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if again.ReminderOffsets[0] != 0 {
		t.Fatalf("stored template was mutated through returned copy")
	}
}

func TestMemoryStoreUpdateInstanceConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tmpl := sampleTemplate("tmpl-1")
	if err := store.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	now := time.Now()
	first, err := store.CreateInstance(ctx, tmpl.Instantiate("a", day(2026, 1, 5), now))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := store.CreateInstance(ctx, tmpl.Instantiate("b", day(2026, 1, 8), now)); err != nil {
		t.Fatalf("create b: %v", err)
	}

	moved, err := store.GetInstance(ctx, first)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	target := day(2026, 1, 8)
	moved.DueDate = &target
	if err := store.UpdateInstance(ctx, moved); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	exists, err := store.InstanceExists(ctx, tmpl.ID, day(2026, 1, 5))
	if err != nil || !exists {
		t.Fatalf("expected original day to stay claimed, got %v %v", exists, err)
	}
}

func TestMemoryStoreConcurrentCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tmpl := sampleTemplate("tmpl-race")
	if err := store.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateInstance(ctx, tmpl.Instantiate("", day(2026, 1, 5), time.Now()))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, ErrDuplicate) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one instance, got %d", created)
	}
	items, err := store.ListInstances(ctx, InstanceListFilter{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one stored instance, got %d", len(items))
	}
}

func TestMemoryStoreListTemplatesNeedingMaterialization(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	once := sampleTemplate("tmpl-once")
	once.Rule = model.NewRule(model.RecurrenceNone, 1)
	for _, tmpl := range []model.TaskTemplate{sampleTemplate("tmpl-daily"), once} {
		if err := store.CreateTemplate(ctx, tmpl); err != nil {
			t.Fatalf("create template: %v", err)
		}
	}
	due, err := store.ListTemplatesNeedingMaterialization(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(due) != 1 || due[0].ID != "tmpl-daily" {
		t.Fatalf("unexpected templates: %+v", due)
	}
}

package delivery

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupRedisJournal(t *testing.T) *RedisJournal {
	t.Helper()
	addr := os.Getenv("TASKSCHED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKSCHED_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := NewRedisClient(ctx, addr, os.Getenv("TASKSCHED_TEST_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	prefix := "tasksched-test:" + uuid.NewString()
	t.Cleanup(func() {
		bg := context.Background()
		client.Del(bg, prefix+":timeline", prefix+":payloads")
		_ = client.Close()
	})
	return NewRedisJournal(client, prefix)
}

func TestRedisJournalRoundTrip(t *testing.T) {
	journal := setupRedisJournal(t)
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	later := Trigger{Key: KeyFor("inst", 1), FireAt: base.Add(time.Hour), Title: "later", Exact: true}
	sooner := Trigger{Key: KeyFor("inst", 0), FireAt: base, Title: "sooner"}
	if err := journal.SaveTrigger(ctx, later); err != nil {
		t.Fatalf("save later: %v", err)
	}
	if err := journal.SaveTrigger(ctx, sooner); err != nil {
		t.Fatalf("save sooner: %v", err)
	}

	pending, err := journal.PendingTriggers(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Key != sooner.Key || pending[1].Title != "later" || !pending[1].Exact {
		t.Fatalf("unexpected pending triggers: %+v", pending)
	}

	if err := journal.DeleteTrigger(ctx, sooner.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	pending, err = journal.PendingTriggers(ctx)
	if err != nil {
		t.Fatalf("pending after delete: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != later.Key {
		t.Fatalf("unexpected pending after delete: %+v", pending)
	}
}

func TestRedisJournalDropsOrphanedTimelineEntries(t *testing.T) {
	journal := setupRedisJournal(t)
	ctx := context.Background()
	fireAt := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	if err := journal.SaveTrigger(ctx, Trigger{Key: KeyFor("kept", 0), FireAt: fireAt}); err != nil {
		t.Fatalf("save: %v", err)
	}
	orphan := KeyFor("orphan", 0).String()
	if err := journal.client.ZAdd(ctx, journal.timelineKey(), redis.Z{Score: float64(fireAt.Unix()), Member: orphan}).Err(); err != nil {
		t.Fatalf("zadd orphan: %v", err)
	}

	pending, err := journal.PendingTriggers(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != KeyFor("kept", 0) {
		t.Fatalf("unexpected pending triggers: %+v", pending)
	}
	members, err := journal.client.ZRange(ctx, journal.timelineKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(members) != 1 || members[0] != KeyFor("kept", 0).String() {
		t.Fatalf("expected orphan removed from the timeline, got %v", members)
	}
}

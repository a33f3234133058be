package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "tasksched:triggers"

// RedisJournal keeps triggers in a sorted set scored by fire time, with the
// payloads in a hash keyed by the trigger key.
type RedisJournal struct {
	client redis.Cmdable
	prefix string
}

func NewRedisJournal(client redis.Cmdable, prefix string) *RedisJournal {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisJournal{client: client, prefix: prefix}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", addr, err)
	}
	return client, nil
}

func (j *RedisJournal) timelineKey() string { return j.prefix + ":timeline" }
func (j *RedisJournal) payloadKey() string  { return j.prefix + ":payloads" }

func (j *RedisJournal) SaveTrigger(ctx context.Context, tr Trigger) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	member := tr.Key.String()
	pipe := j.client.TxPipeline()
	pipe.ZAdd(ctx, j.timelineKey(), redis.Z{Score: float64(tr.FireAt.Unix()), Member: member})
	pipe.HSet(ctx, j.payloadKey(), member, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (j *RedisJournal) DeleteTrigger(ctx context.Context, key Key) error {
	member := key.String()
	pipe := j.client.TxPipeline()
	pipe.ZRem(ctx, j.timelineKey(), member)
	pipe.HDel(ctx, j.payloadKey(), member)
	_, err := pipe.Exec(ctx)
	return err
}

func (j *RedisJournal) PendingTriggers(ctx context.Context) ([]Trigger, error) {
	members, err := j.client.ZRange(ctx, j.timelineKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []Trigger{}, nil
	}
	values, err := j.client.HMGet(ctx, j.payloadKey(), members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Trigger, 0, len(values))
	orphans := make([]any, 0)
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			orphans = append(orphans, members[i])
			continue
		}
		var tr Trigger
		if err := json.Unmarshal([]byte(s), &tr); err != nil {
			return nil, fmt.Errorf("decode trigger %s: %w", members[i], err)
		}
		out = append(out, tr)
	}
	// Timeline members without a payload can never be restored.
	if len(orphans) > 0 {
		if err := j.client.ZRem(ctx, j.timelineKey(), orphans...).Err(); err != nil {
			return nil, fmt.Errorf("remove orphaned triggers: %w", err)
		}
	}
	return out, nil
}

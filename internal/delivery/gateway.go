// Package delivery abstracts the platform facility that fires a callback at a
// requested time, plus the in-process and durable implementations of it.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sandeepkv93/tasksched/internal/model"
)

var (
	ErrPermissionDenied   = errors.New("delivery: exact scheduling permission denied")
	ErrInvalidTriggerTime = errors.New("delivery: invalid trigger time")
	ErrEngineStopped      = errors.New("delivery: engine stopped")
	ErrInvalidKey         = errors.New("delivery: invalid trigger key")
)

// Key identifies one reminder of one instance. It is derived from the
// instance id and the offset position, so cancelling never needs a lookup.
type Key struct {
	InstanceID string `json:"instance_id"`
	Index      int    `json:"index"`
}

func KeyFor(instanceID string, index int) Key {
	return Key{InstanceID: instanceID, Index: index}
}

func (k Key) String() string {
	return k.InstanceID + "#" + strconv.Itoa(k.Index)
}

// RequestCode is a stable non-negative 31-bit code for platforms that key
// pending alarms by integer.
func (k Key) RequestCode() int32 {
	return int32(xxhash.Sum64String(k.String()) & 0x7fffffff)
}

func ParseKey(raw string) (Key, error) {
	i := strings.LastIndex(raw, "#")
	if i <= 0 || i == len(raw)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	idx, err := strconv.Atoi(raw[i+1:])
	if err != nil || idx < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return Key{InstanceID: raw[:i], Index: idx}, nil
}

// Trigger is a registration request handed to a Gateway. Generation tells a
// registration apart from earlier ones under the same key; gateways carry it
// through unchanged.
type Trigger struct {
	Key               Key                `json:"key"`
	FireAt            time.Time          `json:"fire_at"`
	Title             string             `json:"title"`
	OffsetMinutes     int                `json:"offset_minutes"`
	DeliveryMode      model.DeliveryMode `json:"delivery_mode"`
	LockScreenVisible bool               `json:"lock_screen_visible"`
	Exact             bool               `json:"exact"`
	Generation        uint64             `json:"generation"`
}

// TriggerFor builds the trigger for one plan entry of inst.
func TriggerFor(inst model.TaskInstance, entry model.PlanEntry) Trigger {
	return Trigger{
		Key:               KeyFor(entry.InstanceID, entry.OffsetIndex),
		FireAt:            entry.FireAt,
		Title:             inst.Title,
		OffsetMinutes:     entry.OffsetMinutes,
		DeliveryMode:      inst.DeliveryMode,
		LockScreenVisible: inst.LockScreenVisible,
	}
}

// Gateway is the platform alarm/notification primitive. RegisterExact may
// refuse with ErrPermissionDenied; RegisterInexact must not. Registering an
// existing key replaces it and cancelling an absent key is a no-op.
type Gateway interface {
	RegisterExact(ctx context.Context, tr Trigger) error
	RegisterInexact(ctx context.Context, tr Trigger) error
	Cancel(ctx context.Context, key Key) error
}

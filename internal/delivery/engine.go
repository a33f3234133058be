package delivery

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultInexactWindow = time.Minute

type queueItem struct {
	trigger Trigger
	index   int
}

type triggerQueue []*queueItem

func (pq triggerQueue) Len() int { return len(pq) }

func (pq triggerQueue) Less(i, j int) bool {
	return pq[i].trigger.FireAt.Before(pq[j].trigger.FireAt)
}

func (pq triggerQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *triggerQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *triggerQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

type EngineOption func(*Engine)

// WithExactPermission sets the check consulted by RegisterExact. The default
// grants exact scheduling.
func WithExactPermission(allowed func() bool) EngineOption {
	return func(e *Engine) {
		if allowed != nil {
			e.permission = allowed
		}
	}
}

// WithInexactWindow sets the batching window inexact triggers are deferred to.
func WithInexactWindow(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// Engine is an in-process Gateway: a keyed timer heap that emits fired
// triggers on C(). Emission never blocks; triggers a slow consumer cannot take
// are counted by Dropped.
type Engine struct {
	mu         sync.Mutex
	queue      triggerQueue
	byKey      map[Key]*queueItem
	out        chan Trigger
	wakeup     chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	stopped    bool
	dropped    uint64
	permission func() bool
	window     time.Duration
}

func NewEngine(bufferSize int, opts ...EngineOption) *Engine {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	e := &Engine{
		queue:      make(triggerQueue, 0),
		byKey:      make(map[Key]*queueItem),
		out:        make(chan Trigger, bufferSize),
		wakeup:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		permission: func() bool { return true },
		window:     DefaultInexactWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) C() <-chan Trigger {
	return e.out
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	heap.Init(&e.queue)
	go e.loop()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()
	<-e.doneCh
}

func (e *Engine) RegisterExact(_ context.Context, tr Trigger) error {
	if !e.permission() {
		return ErrPermissionDenied
	}
	tr.Exact = true
	return e.register(tr)
}

func (e *Engine) RegisterInexact(_ context.Context, tr Trigger) error {
	tr.Exact = false
	tr.FireAt = alignUp(tr.FireAt, e.window)
	return e.register(tr)
}

func (e *Engine) Cancel(_ context.Context, key Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.byKey[key]
	if !ok {
		return nil
	}
	heap.Remove(&e.queue, item.index)
	delete(e.byKey, key)
	e.signalWakeup()
	return nil
}

// Pending returns the keys currently waiting to fire, sorted by key.
func (e *Engine) Pending() []Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Key, 0, len(e.byKey))
	for key := range e.byKey {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstanceID != out[j].InstanceID {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// Lookup returns the registered trigger for key, if any.
func (e *Engine) Lookup(key Key) (Trigger, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.byKey[key]
	if !ok {
		return Trigger{}, false
	}
	return item.trigger, true
}

func (e *Engine) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

func (e *Engine) register(tr Trigger) error {
	if tr.FireAt.IsZero() {
		return ErrInvalidTriggerTime
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}

	if item, ok := e.byKey[tr.Key]; ok {
		item.trigger = tr
		heap.Fix(&e.queue, item.index)
	} else {
		item := &queueItem{trigger: tr}
		heap.Push(&e.queue, item)
		e.byKey[tr.Key] = item
	}
	e.signalWakeup()
	return nil
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	defer close(e.out)

	var timer *time.Timer
	for {
		next, hasNext := e.peek()
		if !hasNext {
			select {
			case <-e.wakeup:
				continue
			case <-e.stopCh:
				return
			}
		}

		wait := time.Until(next.FireAt)
		if wait < 0 {
			wait = 0
		}
		timer = resetTimer(timer, wait)

		select {
		case <-timer.C:
			due := e.popDue(time.Now())
			for _, tr := range due {
				select {
				case e.out <- tr:
				default:
					atomic.AddUint64(&e.dropped, 1)
				}
			}
		case <-e.wakeup:
			continue
		case <-e.stopCh:
			if timer != nil {
				stopTimer(timer)
			}
			return
		}
	}
}

func (e *Engine) signalWakeup() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

func (e *Engine) peek() (Trigger, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Trigger{}, false
	}
	return e.queue[0].trigger, true
}

func (e *Engine) popDue(now time.Time) []Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Trigger, 0)
	for len(e.queue) > 0 {
		next := e.queue[0].trigger
		if next.FireAt.After(now) {
			break
		}
		item := heap.Pop(&e.queue).(*queueItem)
		delete(e.byKey, item.trigger.Key)
		out = append(out, item.trigger)
	}
	return out
}

// alignUp moves t forward to the next multiple of window, leaving values
// already on a boundary untouched.
func alignUp(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return t
	}
	aligned := t.Truncate(window)
	if aligned.Before(t) {
		aligned = aligned.Add(window)
	}
	return aligned
}

func resetTimer(timer *time.Timer, d time.Duration) *time.Timer {
	if timer == nil {
		return time.NewTimer(d)
	}
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

package updatebus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// idleThreshold marks a subscriber idle when it has not consumed for this long.
const idleThreshold = 30 * time.Second

// DefaultCapacity is the inbox and mailbox depth used by New.
const DefaultCapacity = 64

// SubscriberStats describes one observer mailbox.
type SubscriberStats struct {
	Name             string    `json:"name"`
	LastConsumedAt   time.Time `json:"last_consumed_at"`
	LastConsumedSeq  uint64    `json:"last_consumed_seq"`
	ConsecutiveDrops uint64    `json:"consecutive_drops"`
	TotalDrops       uint64    `json:"total_drops"`
	IsIdle           bool      `json:"is_idle"`
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published   uint64                     `json:"published"`
	InboxDrops  uint64                     `json:"inbox_drops"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

type slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []*Event

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64

	closed bool
}

// Bus distributes events to subscribers. Safe for concurrent use.
type Bus struct {
	capacity int

	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inbox      []*Event
	inboxDrops atomic.Uint64

	slots sync.Map // name -> *slot

	published atomic.Uint64
	seq       uint64 // distribution goroutine only

	stopping atomic.Bool
	wg       sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// New creates a stopped Bus with DefaultCapacity.
func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a stopped Bus whose inbox and subscriber
// mailboxes hold up to capacity events. Values below 1 are raised to 1.
func NewWithCapacity(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus{capacity: capacity}
	b.inboxCond = sync.NewCond(&b.inboxMu)
	return b
}

// push appends ev to a bounded queue, dropping the oldest entry when full.
// dropped reports whether an entry was discarded.
func push(q []*Event, ev *Event, capacity int) (_ []*Event, dropped bool) {
	if len(q) >= capacity {
		copy(q, q[1:])
		q[len(q)-1] = ev
		return q, true
	}
	return append(q, ev), false
}

// Start spawns the distribution goroutine. It ends on Stop or when ctx is
// cancelled.
func (b *Bus) Start(ctx context.Context) error {
	b.startedMu.Lock()
	defer b.startedMu.Unlock()
	if b.started {
		return fmt.Errorf("updatebus: already started")
	}
	b.started = true

	b.wg.Add(1)
	go b.distributionLoop()

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	return nil
}

// Stop ends distribution and releases every subscriber. Events already
// published are still delivered, and subscribers read what their
// mailboxes hold before their read function returns nil. Idempotent.
func (b *Bus) Stop() {
	if !b.stopping.CompareAndSwap(false, true) {
		return
	}

	b.inboxMu.Lock()
	b.inboxCond.Broadcast()
	b.inboxMu.Unlock()

	b.wg.Wait()

	b.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		s.closed = true
		s.cond.Signal()
		s.mu.Unlock()
		return true
	})
}

// Publish hands ev to the distribution goroutine. It never blocks; when
// the inbox is full the oldest undistributed event is dropped.
func (b *Bus) Publish(ev *Event) {
	if b.stopping.Load() {
		return
	}
	b.inboxMu.Lock()
	var dropped bool
	b.inbox, dropped = push(b.inbox, ev, b.capacity)
	if dropped {
		b.inboxDrops.Add(1)
	}
	b.inboxCond.Signal()
	b.inboxMu.Unlock()
}

func (b *Bus) distributionLoop() {
	defer b.wg.Done()
	for {
		b.inboxMu.Lock()
		for len(b.inbox) == 0 && !b.stopping.Load() {
			b.inboxCond.Wait()
		}
		batch := b.inbox
		b.inbox = nil
		b.inboxMu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, ev := range batch {
			b.seq++
			ev.BusSeq = b.seq

			b.slots.Range(func(_, v any) bool {
				b.deliver(v.(*slot), ev)
				return true
			})
			b.published.Add(1)
		}
	}
}

func (b *Bus) deliver(s *slot, ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var dropped bool
	s.events, dropped = push(s.events, ev, b.capacity)
	if dropped {
		s.consecutiveDrops++
		s.totalDrops++
	}
	s.cond.Signal()
}

// Subscribe registers an observer and returns its blocking read function.
// The function returns nil once the observer is unsubscribed or the bus
// stops. It must be called from a single goroutine.
func (b *Bus) Subscribe(name string) func() *Event {
	if b.stopping.Load() {
		return func() *Event { return nil }
	}

	s := &slot{lastConsumedAt: time.Now()}
	s.cond = sync.NewCond(&s.mu)
	b.slots.Store(name, s)

	return func() *Event {
		s.mu.Lock()
		defer s.mu.Unlock()
		for len(s.events) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.events) == 0 {
			return nil
		}
		ev := s.events[0]
		s.events[0] = nil
		s.events = s.events[1:]
		s.lastConsumedAt = time.Now()
		s.lastConsumedSeq = ev.BusSeq
		s.consecutiveDrops = 0
		return ev
	}
}

// Unsubscribe releases an observer and discards its pending events.
// Idempotent.
func (b *Bus) Unsubscribe(name string) {
	v, ok := b.slots.LoadAndDelete(name)
	if !ok {
		return
	}
	s := v.(*slot)
	s.mu.Lock()
	s.closed = true
	s.events = nil
	s.cond.Signal()
	s.mu.Unlock()
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	subs := make(map[string]SubscriberStats)
	b.slots.Range(func(k, v any) bool {
		name := k.(string)
		s := v.(*slot)
		s.mu.Lock()
		subs[name] = SubscriberStats{
			Name:             name,
			LastConsumedAt:   s.lastConsumedAt,
			LastConsumedSeq:  s.lastConsumedSeq,
			ConsecutiveDrops: s.consecutiveDrops,
			TotalDrops:       s.totalDrops,
			IsIdle:           time.Since(s.lastConsumedAt) > idleThreshold,
		}
		s.mu.Unlock()
		return true
	})
	return Stats{
		Published:   b.published.Load(),
		InboxDrops:  b.inboxDrops.Load(),
		Subscribers: subs,
	}
}

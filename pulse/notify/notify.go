// Package notify carries fire-and-forget observability events emitted by the
// reconciliation passes.
//
// Contract:
//   - Emit MUST NOT block and MUST NOT fail the caller.
//   - Subscribers use buffered channels; slow subscribers drop events.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cronctl/logger"
)

// Event names.
const (
	EventScheduled                = "scheduled"
	EventRescheduled              = "rescheduled"
	EventPublishedAfterMissedSlot = "published_after_missed_schedule"
)

// Bus receives events.
type Bus interface {
	Emit(event string, payload any)
}

// Event is one emitted notification.
type Event struct {
	Name    string
	Payload any
	Time    time.Time
}

// Nop discards every event.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(string, any) {}

// MemoryBus is an in-memory fanout bus. It owns no goroutines.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[uint64]chan Event{}}
}

// Emit delivers to every subscriber with room in its buffer.
func (b *MemoryBus) Emit(event string, payload any) {
	e := Event{Name: event, Payload: payload, Time: time.Now()}

	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a buffered subscriber. The returned func unsubscribes
// and closes the channel.
func (b *MemoryBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// LogBus writes every event to a logger at info level.
type LogBus struct {
	log *zap.SugaredLogger
}

// NewLogBus returns a LogBus. A nil log uses the global logger.
func NewLogBus(log *zap.SugaredLogger) *LogBus {
	if log == nil {
		log = logger.Logger
	}
	return &LogBus{log: log}
}

// Emit logs the event.
func (b *LogBus) Emit(event string, payload any) {
	b.log.Infow("Event", "event", event, "payload", payload)
}

// Multi fans an event out to several buses in order.
type Multi []Bus

// Emit forwards to every non-nil bus.
func (m Multi) Emit(event string, payload any) {
	for _, b := range m {
		if b != nil {
			b.Emit(event, payload)
		}
	}
}

package events

import (
	"sync"
	"time"
)

// Category separates the three event streams consumers can subscribe to
type Category string

const (
	CategoryStatus   Category = "status"
	CategoryConflict Category = "conflict"
	CategoryError    Category = "error"
)

// Event is one notification emitted by the engine. Payload is one of
// StatusChange, ConflictDetected or RuleError depending on Category.
type Event struct {
	Category Category
	RuleID   string
	Time     time.Time
	Payload  any
}

// StatusChange reports a rule actor moving between runtime states
type StatusChange struct {
	From     string
	To       string
	Progress *SyncProgress
}

// SyncProgress is the coarse progress attached to syncing status events
type SyncProgress struct {
	CompletedOps     int
	TotalOps         int
	BytesTransferred int64
	BytesTotal       int64
	CurrentFile      string
}

// ConflictDetected reports one unresolved conflict surfaced by a pass
type ConflictDetected struct {
	Path   string
	Reason string
}

// RuleError reports a failed reconciliation attempt
type RuleError struct {
	Message string
}

const subscriberBuffer = 64

type subscriber struct {
	categories map[Category]bool
	ch         chan Event
}

// Bus fans events out to subscribers. Delivery never blocks the emitter: a
// subscriber that falls behind loses its oldest undelivered event first.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a consumer for the given categories (all categories if
// none are named). The returned cancel func drops the subscription and
// closes the channel.
func (b *Bus) Subscribe(categories ...Category) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(categories) > 0 {
		sub.categories = make(map[Category]bool, len(categories))
		for _, c := range categories {
			sub.categories[c] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber without blocking
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.categories != nil && !sub.categories[ev.Category] {
			continue
		}
		for {
			select {
			case sub.ch <- ev:
			default:
				// Full buffer: shed the oldest event and retry
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close drops all subscribers and closes their channels. Publish after Close
// is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

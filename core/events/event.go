package events

import (
	"sync"

	"inferpay/core/types"
)

// Event represents a structured state change emitted by the node.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, audit log).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds the events raised inside one unit of work. They are released
// with Flush only after the unit commits; a discarded unit publishes nothing.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return append([]Event(nil), b.events...)
}

// Flush forwards the buffered events to dst, stamped with height, and empties
// the buffer.
func (b *Buffer) Flush(dst Emitter, height uint64) {
	if b == nil {
		return
	}
	pending := b.events
	b.events = nil
	if dst == nil {
		return
	}
	for _, e := range pending {
		dst.Emit(stamped{inner: e, height: height})
	}
}

type stamped struct {
	inner  Event
	height uint64
}

func (s stamped) EventType() string { return s.inner.EventType() }

func (s stamped) Event() *types.Event {
	evt := s.inner.Event().Clone()
	if evt == nil {
		return nil
	}
	evt.Height = s.height
	return evt
}

// Multi fans a single event out to several emitters in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(e Event) {
	for _, dst := range m {
		if dst != nil {
			dst.Emit(e)
		}
	}
}

// Broadcaster delivers committed events to live subscribers. Slow subscribers
// lose events rather than stall the node.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan *types.Event
	nextID int
	buffer int
	onDrop func()
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold up to
// buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[int]chan *types.Event), buffer: buffer}
}

// SetDropHook registers fn to be called whenever a subscriber misses an event.
func (b *Broadcaster) SetDropHook(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	evt := e.Event()
	if evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt.Clone():
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release it; the channel is closed on cancel.
func (b *Broadcaster) Subscribe() (<-chan *types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *types.Event, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

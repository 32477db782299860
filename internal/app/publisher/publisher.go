package publisher

import (
	"sync"
	"time"

	"possync/internal/core/domain"
)

// CachedValue is the last value published for a subscription, replayed to
// observers that attach late.
type CachedValue[T any] struct {
	Path       domain.ResourcePath
	Value      T
	ReceivedAt time.Time
}

// Event is one delivery to an observer. A non-nil Err is terminal and is
// followed by the channel closing.
type Event[T any] struct {
	CachedValue[T]
	Err error
}

// Publisher multicasts values per subscription. Each subscription owns a topic
// with its own lock, so delivery on one path never waits on another.
type Publisher[T any] struct {
	mu     sync.Mutex
	topics map[domain.ResourcePath]*topic[T]
	buffer int
	now    func() time.Time
}

type Option func(*options)

type options struct {
	buffer int
	now    func() time.Time
}

// WithBuffer sets how many undelivered values an observer may hold before the
// oldest is discarded. Defaults to 1 (last value wins).
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[T any](opts ...Option) *Publisher[T] {
	o := options{buffer: 1, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Publisher[T]{
		topics: make(map[domain.ResourcePath]*topic[T]),
		buffer: o.buffer,
		now:    o.now,
	}
}

type topic[T any] struct {
	mu        sync.Mutex
	subID     string
	path      domain.ResourcePath
	latest    *CachedValue[T]
	observers map[uint64]*Observer[T]
	nextID    uint64
	closed    bool
	err       error
}

// Open starts a fresh topic for sub, replacing whatever a previous
// subscription on the same path left behind.
func (p *Publisher[T]) Open(sub domain.Subscription) {
	t := &topic[T]{
		subID:     sub.ID,
		path:      sub.Path,
		observers: make(map[uint64]*Observer[T]),
	}
	p.mu.Lock()
	old := p.topics[sub.Path]
	p.topics[sub.Path] = t
	p.mu.Unlock()
	if old != nil {
		old.close(nil)
	}
}

func (p *Publisher[T]) lookup(sub domain.Subscription) *topic[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.topics[sub.Path]
	if t == nil || t.subID != sub.ID {
		return nil
	}
	return t
}

// Publish caches v as the latest value and offers it to every observer.
// Publishing to a closed or superseded subscription is a no-op.
func (p *Publisher[T]) Publish(sub domain.Subscription, v T) {
	t := p.lookup(sub)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	at := p.now()
	if t.latest != nil && at.Before(t.latest.ReceivedAt) {
		at = t.latest.ReceivedAt
	}
	t.latest = &CachedValue[T]{Path: t.path, Value: v, ReceivedAt: at}
	ev := Event[T]{CachedValue: *t.latest}
	for _, o := range t.observers {
		o.offer(ev)
	}
}

// Fail emits err as the terminal event for sub. The closed topic stays
// visible until the path is reopened so observers that attach afterwards
// still receive the error.
func (p *Publisher[T]) Fail(sub domain.Subscription, err error) {
	if t := p.lookup(sub); t != nil {
		t.close(err)
	}
}

// Drop closes sub without an error and forgets its cached value.
func (p *Publisher[T]) Drop(sub domain.Subscription) {
	p.mu.Lock()
	t := p.topics[sub.Path]
	if t == nil || t.subID != sub.ID {
		p.mu.Unlock()
		return
	}
	delete(p.topics, sub.Path)
	p.mu.Unlock()
	t.close(nil)
}

// Observe attaches a new observer to sub. If a value was already published it
// is delivered immediately.
func (p *Publisher[T]) Observe(sub domain.Subscription) *Observer[T] {
	o := &Observer[T]{ch: make(chan Event[T], p.buffer)}
	t := p.lookup(sub)
	if t == nil {
		o.closed = true
		close(o.ch)
		return o
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	o.t = t
	if t.closed {
		if t.err != nil {
			o.ch <- Event[T]{CachedValue: CachedValue[T]{Path: t.path}, Err: t.err}
		}
		o.closed = true
		close(o.ch)
		return o
	}
	t.nextID++
	o.id = t.nextID
	t.observers[o.id] = o
	if t.latest != nil {
		o.ch <- Event[T]{CachedValue: *t.latest}
	}
	return o
}

// Latest returns the cached value for path, if any.
func (p *Publisher[T]) Latest(path domain.ResourcePath) (CachedValue[T], bool) {
	p.mu.Lock()
	t := p.topics[path]
	p.mu.Unlock()
	if t == nil {
		return CachedValue[T]{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.latest == nil {
		return CachedValue[T]{}, false
	}
	return *t.latest, true
}

// ObserverCount reports attached observers on path.
func (p *Publisher[T]) ObserverCount(path domain.ResourcePath) int {
	p.mu.Lock()
	t := p.topics[path]
	p.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}

func (t *topic[T]) close(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	t.latest = nil
	for id, o := range t.observers {
		if err != nil {
			o.offer(Event[T]{CachedValue: CachedValue[T]{Path: t.path}, Err: err})
		}
		o.closed = true
		close(o.ch)
		delete(t.observers, id)
	}
}

// Observer is one consumer of a topic.
type Observer[T any] struct {
	id     uint64
	t      *topic[T]
	ch     chan Event[T]
	closed bool // guarded by t.mu
}

// C returns the delivery channel. It is closed after a terminal event, when
// the subscription is dropped, or after Cancel.
func (o *Observer[T]) C() <-chan Event[T] { return o.ch }

// Cancel detaches the observer. Safe to call more than once.
func (o *Observer[T]) Cancel() {
	if o.t == nil {
		return
	}
	o.t.mu.Lock()
	defer o.t.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	delete(o.t.observers, o.id)
	close(o.ch)
}

// offer never blocks: when the buffer is full the oldest pending value is
// discarded. Callers hold t.mu, so order is preserved.
func (o *Observer[T]) offer(ev Event[T]) {
	select {
	case o.ch <- ev:
		return
	default:
	}
	select {
	case <-o.ch:
	default:
	}
	select {
	case o.ch <- ev:
	default:
	}
}

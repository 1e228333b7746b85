package events

import (
	"sync"
	"time"

	"github.com/seantiz/scribe/internal/model"
)

// subscriberBufferSize is the channel buffer for each subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Kind names what happened to a page or request.
type Kind string

// Event kinds.
const (
	PageWaiting     Kind = "page.waiting"
	PageLeased      Kind = "page.leased"
	PageReleased    Kind = "page.released"
	PageFinished    Kind = "page.finished"
	RequestFinished Kind = "request.finished"
	RequestCanceled Kind = "request.canceled"
	RequestExpired  Kind = "request.expired"
)

// Event is a state change published after the owning transaction commits.
type Event struct {
	Kind      Kind            `json:"kind"`
	RequestID string          `json:"request_id"`
	PageID    string          `json:"page_id,omitempty"`
	PageName  string          `json:"page_name,omitempty"`
	State     model.PageState `json:"state,omitempty"`
	EngineID  int64           `json:"engine_id,omitempty"`
	Time      time.Time       `json:"time"`
}

// Terminal reports whether no further events follow for the request.
func (e Event) Terminal() bool {
	return e.Kind == RequestFinished || e.Kind == RequestExpired
}

// Publisher receives events after the state change they describe commits.
type Publisher interface {
	Publish(ev Event)
}

// Broker fans page events out to per-request and system-wide subscribers.
// It is safe for concurrent use. Delivery is best-effort: the store remains
// the source of truth and subscribers reconcile against it.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	all    *topic
}

type topic struct {
	subs   map[int]chan Event
	nextID int
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
		all:    &topic{subs: make(map[int]chan Event)},
	}
}

// Subscribe returns a channel receiving events of one request and an
// unsubscribe function. The channel is closed after the request finishes.
func (b *Broker) Subscribe(requestID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[requestID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[requestID] = t
	}
	id, ch := t.add()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[id]; !ok {
			return
		}
		delete(t.subs, id)
		if len(t.subs) == 0 && b.topics[requestID] == t {
			delete(b.topics, requestID)
		}
	}
}

// SubscribeAll returns a channel receiving every event and an unsubscribe
// function.
func (b *Broker) SubscribeAll() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ch := b.all.add()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all.subs, id)
	}
}

// Publish delivers ev to the request's subscribers and to system-wide
// subscribers. Terminal events close the request's subscriber channels.
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.all.send(ev)

	t, ok := b.topics[ev.RequestID]
	if !ok {
		return
	}
	t.send(ev)
	if ev.Terminal() {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
		delete(b.topics, ev.RequestID)
	}
}

func (t *topic) add() (int, chan Event) {
	ch := make(chan Event, subscriberBufferSize)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	return id, ch
}

func (t *topic) send(ev Event) {
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers so publishers never block.
		}
	}
}

package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/extinit"
)

// Event types published on /events.
const (
	EventExtensionLoaded = "extension.loaded"
	EventExtensionFailed = "extension.failed"
	EventInitCompleted   = "init.completed"
)

// Event is one entry in the outcome stream.
type Event struct {
	ID   uint64
	Type string
	At   time.Time
	Data json.RawMessage
}

// EventHub fans extension outcomes out to /events subscribers and keeps the
// most recent ones so a reconnecting client can catch up.
type EventHub struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Event
	limit   int
	subs    map[chan Event]struct{}
}

var _ extinit.Observer = (*EventHub)(nil)

// NewEventHub creates a hub that retains the last limit events.
func NewEventHub(limit int) *EventHub {
	return &EventHub{
		limit: max(limit, 1),
		subs:  make(map[chan Event]struct{}),
	}
}

// Publish records an event and offers it to every subscriber. Subscribers
// that are not keeping up miss the event rather than stalling InitAll.
func (h *EventHub) Publish(eventType string, payload any) Event {
	data := json.RawMessage("{}")
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			data = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{ID: h.seq, Type: eventType, At: time.Now().UTC(), Data: data}
	h.backlog = append(h.backlog, ev)
	if over := len(h.backlog) - h.limit; over > 0 {
		h.backlog = append(h.backlog[:0:0], h.backlog[over:]...)
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Since returns retained events with an ID greater than after, oldest first.
func (h *EventHub) Since(after uint64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event
	for _, ev := range h.backlog {
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a listener for events published from now on. The
// returned func unregisters it and closes the channel.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

type outcomePayload struct {
	Group   string `json:"group"`
	Value   string `json:"value"`
	Dist    string `json:"dist,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func newOutcome(ep entrypoint.EntryPoint) outcomePayload {
	p := outcomePayload{Group: ep.Group, Value: ep.Value}
	if ep.Dist != nil {
		p.Dist = ep.Dist.Name
	}
	return p
}

// OnLoad implements extinit.Observer.
func (h *EventHub) OnLoad(ep entrypoint.EntryPoint, elapsed time.Duration) {
	p := newOutcome(ep)
	p.Elapsed = elapsed.String()
	h.Publish(EventExtensionLoaded, p)
}

// OnFailure implements extinit.Observer.
func (h *EventHub) OnFailure(ep entrypoint.EntryPoint, w extinit.Warning) {
	p := newOutcome(ep)
	p.Kind = w.Kind
	p.Message = w.String()
	h.Publish(EventExtensionFailed, p)
}

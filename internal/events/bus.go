// Package events is the host's publish/subscribe bus for operational
// events: servers starting and exiting, stderr chatter from child
// processes, and tool calls passing through the host. Subscribers are
// the /ws/events stream and the in-memory recent log. Publish on a nil
// *Bus is a no-op, so components never need guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceHost identifies events from the host registry.
	SourceHost = "host"
	// SourceServer identifies events from a tool server connection.
	SourceServer = "server"
	// SourceBuiltin identifies events from an in-process tool server.
	SourceBuiltin = "builtin"
	// SourceAPI identifies events from the HTTP surface.
	SourceAPI = "api"
)

// Kind constants describe the type of event within a source.
const (
	// KindServerReady signals a server finished its handshake.
	// Data: server_id, transport, tools.
	KindServerReady = "server_ready"
	// KindServerStderr carries one stderr line from a child process.
	// Data: server_id, line.
	KindServerStderr = "server_stderr"
	// KindServerExit signals a server's streams closed.
	// Data: server_id, error.
	KindServerExit = "server_exit"
	// KindToolsRefreshed signals a tools/list cache update.
	// Data: server_id, tools.
	KindToolsRefreshed = "tools_refreshed"

	// KindToolCall signals the start of a tool execution.
	// Data: server_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: server_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"

	// KindStateChanged signals a built-in server mutated its document.
	// Data: server_id, tool.
	KindStateChanged = "state_changed"
)

// Event is one operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	ch    chan Event
	kinds map[string]bool // nil accepts everything
}

func (s *subscriber) wants(kind string) bool {
	return s.kinds == nil || s.kinds[kind]
}

// Bus fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event and the
// bus counts the drop.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscriber
	dropped atomic.Uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscriber)}
}

// Publish delivers e to every interested subscriber. A zero timestamp
// is filled in. Safe on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Kind) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event built from its parts.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe registers a channel that receives every event. Release it
// with Unsubscribe.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	return b.SubscribeKinds(buffer)
}

// SubscribeKinds is Subscribe restricted to the given kinds. With no
// kinds it receives everything.
func (b *Bus) SubscribeKinds(buffer int, kinds ...string) <-chan Event {
	s := &subscriber{ch: make(chan Event, max(buffer, 0))}
	if len(kinds) > 0 {
		s.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe removes the subscription and closes its channel. Calling
// it twice, or with a channel the bus never issued, does nothing.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(s.ch)
}

// SubscriberCount reports how many subscriptions are live.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

package events

import "sync"

// Recent keeps the last N events seen on a bus so late subscribers can
// catch up. The zero value is not usable; call NewRecent.
type Recent struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	unsub func()
}

// NewRecent subscribes to b and retains up to size events. Call Stop
// to release the subscription.
func NewRecent(b *Bus, size int) *Recent {
	if size <= 0 {
		size = 100
	}
	r := &Recent{buf: make([]Event, size)}
	ch := b.Subscribe(max(size, 256))
	r.unsub = func() { b.Unsubscribe(ch) }
	go func() {
		for e := range ch {
			r.add(e)
		}
	}()
	return r
}

func (r *Recent) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns retained events, oldest first.
func (r *Recent) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.buf[:r.next]...)
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Stop unsubscribes from the bus. Retained events stay readable.
func (r *Recent) Stop() {
	r.unsub()
}

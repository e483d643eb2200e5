package events

import "sync"

// Ring retains the most recent events for the observability API. It
// consumes a broker subscription on its own goroutine; readers get a
// copy, oldest first.
type Ring struct {
	mu     sync.RWMutex
	buf    []*Event
	next   int
	full   bool
	broker *Broker
	sub    Subscriber
	stopCh chan struct{}
}

// NewRing creates a ring holding the last capacity events.
func NewRing(broker *Broker, capacity int) *Ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring{
		buf:    make([]*Event, capacity),
		broker: broker,
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the broker and begins recording
func (r *Ring) Start() {
	r.sub = r.broker.Subscribe()
	go r.run()
}

// Stop stops recording and drops the subscription
func (r *Ring) Stop() {
	close(r.stopCh)
	r.broker.Unsubscribe(r.sub)
}

func (r *Ring) run() {
	for {
		select {
		case event, ok := <-r.sub:
			if !ok {
				return
			}
			r.record(event)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Ring) record(event *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = event
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the retained events, oldest first.
func (r *Ring) Recent() []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Event
	if r.full {
		out = make([]*Event, 0, len(r.buf))
		for i := 0; i < len(r.buf); i++ {
			out = append(out, r.buf[(r.next+i)%len(r.buf)])
		}
		return out
	}
	out = make([]*Event, r.next)
	copy(out, r.buf[:r.next])
	return out
}

package refresh

import (
	"sync"
	"time"

	"github.com/splits-network/splits-sub020/tools/safe"
)

const defaultWindow = 150 * time.Millisecond

// Coordinator is the process-wide refresh bus. Any component registers a
// callback; any component requests a refresh; requests landing inside one
// debounce window collapse into a single fan-out, and every registered
// callback runs at most once per fan-out. The coordinator does no I/O
// itself.
//
// Construct one per session and pass it by reference; it is deliberately not
// a package global so tests can run isolated instances.
type Coordinator struct {
	mu      sync.Mutex
	subs    map[int64]*subscriber
	nextID  int64
	window  time.Duration
	pending bool
	timer   *time.Timer
	closed  bool
}

type subscriber struct {
	cb       func()
	inFlight sync.WaitGroup
}

func NewCoordinator(window time.Duration) *Coordinator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Coordinator{
		subs:   make(map[int64]*subscriber),
		window: window,
	}
}

// Register adds a callback and returns its unregister func. Unregister is
// idempotent; once it returns, the callback will not run again even when a
// fan-out is already pending. If the fan-out has already picked the callback
// up, unregister blocks until that invocation finishes, so it must not be
// called from inside the callback itself. Callbacks here schedule work, they
// do not do it inline.
func (c *Coordinator) Register(cb func()) (unregister func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	sub := &subscriber{cb: cb}
	c.subs[id] = sub
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.inFlight.Wait()
	}
}

// RequestRefresh schedules a fan-out. Calls arriving while one is already
// scheduled are absorbed into it.
func (c *Coordinator) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending {
		return
	}
	c.pending = true
	c.timer = time.AfterFunc(c.window, c.fire)
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	// Clear pending first: a request arriving during the fan-out opens a
	// fresh window instead of being lost.
	c.pending = false
	ids := make([]int64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.mu.Lock()
		sub, ok := c.subs[id]
		if ok {
			// claimed under the lock: a racing unregister now waits for us
			sub.inFlight.Add(1)
		}
		c.mu.Unlock()
		if !ok {
			// unregistered while the timer was in flight
			continue
		}
		safe.Call(sub.cb)
		sub.inFlight.Done()
	}
}

// Close stops any pending fan-out and rejects further requests. Registered
// callbacks stay registered; they just never fire again.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

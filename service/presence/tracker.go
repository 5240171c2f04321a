package presence

import (
	"context"
	"sync"
	"time"

	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/tools/safe"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Source answers "which of these users are online right now".
type Source interface {
	Lookup(ctx context.Context, ids []string) (map[string]bool, error)
}

// Tracker maintains an id -> online/offline map for a watched id set. It is
// purely derived state: consumers only read, nothing here writes back.
type Tracker struct {
	src      Source
	interval time.Duration

	mu       sync.Mutex
	ids      map[string]struct{}
	statuses map[string]Status
	enabled  bool

	kick chan struct{}
	stop chan struct{}
	once sync.Once
}

func NewTracker(src Source, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Tracker{
		src:      src,
		interval: interval,
		ids:      make(map[string]struct{}),
		statuses: make(map[string]Status),
		enabled:  true,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (t *Tracker) Start(ctx context.Context) {
	safe.Go(func() { t.loop(ctx) })
}

// SetIDs replaces the watched set and schedules an immediate poll. Ids no
// longer watched drop out of the snapshot.
func (t *Tracker) SetIDs(ids []string) {
	t.mu.Lock()
	t.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			t.ids[id] = struct{}{}
		}
	}
	for id := range t.statuses {
		if _, ok := t.ids[id]; !ok {
			delete(t.statuses, id)
		}
	}
	t.mu.Unlock()
	t.poke()
}

func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	if !enabled {
		t.statuses = make(map[string]Status)
	}
	t.mu.Unlock()
	if enabled {
		t.poke()
	}
}

// Online reports the last known status for id; unknown ids are offline.
func (t *Tracker) Online(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[id] == StatusOnline
}

// Snapshot copies the current status map.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(t.statuses))
	for id, st := range t.statuses {
		out[id] = st
	}
	return out
}

func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *Tracker) poke() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Tracker) loop(ctx context.Context) {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
		case <-t.kick:
		}
		t.poll(ctx)
	}
}

func (t *Tracker) poll(ctx context.Context) {
	t.mu.Lock()
	if !t.enabled || len(t.ids) == 0 {
		t.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(t.ids))
	for id := range t.ids {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	online, err := t.src.Lookup(ctx, ids)
	if err != nil {
		// stale presence beats no presence; keep the last snapshot
		logger.Debugf("[presence] lookup failed: %v", err)
		return
	}

	t.mu.Lock()
	for _, id := range ids {
		if _, watched := t.ids[id]; !watched {
			continue
		}
		if online[id] {
			t.statuses[id] = StatusOnline
		} else {
			t.statuses[id] = StatusOffline
		}
	}
	t.mu.Unlock()
}

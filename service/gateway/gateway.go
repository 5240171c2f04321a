package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/tools/safe"
)

// TokenProvider yields the current bearer token, or "" while auth has not
// settled. Transports wait instead of failing when the token is empty.
type TokenProvider interface {
	GetToken(ctx context.Context) string
}

// Transport is one logical connection to the push-event source. Connect
// must invoke onConnected on every successful connect, the first included;
// events delivered while disconnected are gone, so consumers treat
// onConnected as "assume stale, refetch".
type Transport interface {
	Connect(ctx context.Context, onEvent func(model.Event), onConnected func()) error
	Subscribe(channels []string) error
	Unsubscribe(channels []string) error
	Ping(channel string) error
	Close() error
}

// Options describes one consumer's interest.
type Options struct {
	Enabled     bool
	Channels    []string
	OnEvent     func(model.Event)
	OnReconnect func()

	// PresencePing opts this consumer's channels into periodic presence
	// pings. Interest is refcounted per channel so two consumers of the
	// same conversation never double-ping.
	PresencePing bool
}

type handle struct {
	id          int64
	channels    map[string]struct{}
	onEvent     func(model.Event)
	onReconnect func()
}

// Client multiplexes many consumers onto one transport connection. Channel
// interest is refcounted: a channel is subscribed while at least one
// consumer wants it and unsubscribed when the last one leaves, without
// dropping the underlying connection.
type Client struct {
	tr           Transport
	pingInterval time.Duration

	mu       sync.Mutex
	refs     map[string]int
	pingRefs map[string]int
	handles  map[int64]*handle
	nextID   int64
	started  bool

	pingStop chan struct{}
	stopOnce sync.Once
}

func NewClient(tr Transport, pingInterval time.Duration) *Client {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	return &Client{
		tr:           tr,
		pingInterval: pingInterval,
		refs:         make(map[string]int),
		pingRefs:     make(map[string]int),
		handles:      make(map[int64]*handle),
		pingStop:     make(chan struct{}),
	}
}

// Start connects the transport and begins the presence-ping loop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.tr.Connect(ctx, c.dispatchEvent, c.handleConnected); err != nil {
		return err
	}
	safe.Go(c.pingLoop)
	return nil
}

// Subscription is one consumer's registration; Close releases its channel
// interest. Close is idempotent.
type Subscription struct {
	once sync.Once
	stop func()
}

func (s *Subscription) Close() {
	if s == nil || s.stop == nil {
		return
	}
	s.once.Do(s.stop)
}

// Acquire registers a consumer. Disabled options return an inert
// subscription so call sites keep one shape.
func (c *Client) Acquire(opts Options) (*Subscription, error) {
	if !opts.Enabled || len(opts.Channels) == 0 {
		return &Subscription{}, nil
	}

	h := &handle{
		channels:    make(map[string]struct{}, len(opts.Channels)),
		onEvent:     opts.OnEvent,
		onReconnect: opts.OnReconnect,
	}

	var added []string
	c.mu.Lock()
	c.nextID++
	h.id = c.nextID
	c.handles[h.id] = h
	for _, ch := range opts.Channels {
		h.channels[ch] = struct{}{}
		c.refs[ch]++
		if c.refs[ch] == 1 {
			added = append(added, ch)
		}
		if opts.PresencePing {
			c.pingRefs[ch]++
		}
	}
	c.mu.Unlock()

	if len(added) > 0 {
		if err := c.tr.Subscribe(added); err != nil {
			c.release(h, opts.PresencePing)
			return nil, err
		}
	}

	sub := &Subscription{stop: func() { c.release(h, opts.PresencePing) }}
	return sub, nil
}

func (c *Client) release(h *handle, pinged bool) {
	var removed []string
	c.mu.Lock()
	if _, ok := c.handles[h.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.handles, h.id)
	for ch := range h.channels {
		c.refs[ch]--
		if c.refs[ch] <= 0 {
			delete(c.refs, ch)
			removed = append(removed, ch)
		}
		if pinged {
			c.pingRefs[ch]--
			if c.pingRefs[ch] <= 0 {
				delete(c.pingRefs, ch)
			}
		}
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		if err := c.tr.Unsubscribe(removed); err != nil {
			logger.Warnf("[gateway] unsubscribe failed: %v", err)
		}
	}
}

// dispatchEvent delivers an event to every handle interested in its
// channel. Events without a channel go to everyone. Delivery is
// at-least-once; duplicates are the consumer's problem (and refresh is
// idempotent, so it is no problem at all).
func (c *Client) dispatchEvent(ev model.Event) {
	c.mu.Lock()
	targets := make([]*handle, 0, len(c.handles))
	for _, h := range c.handles {
		if ev.Channel == "" {
			targets = append(targets, h)
			continue
		}
		if _, ok := h.channels[ev.Channel]; ok {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		if h.onEvent != nil {
			hh := h
			safe.Call(func() { hh.onEvent(ev) })
		}
	}
}

func (c *Client) handleConnected() {
	c.mu.Lock()
	targets := make([]*handle, 0, len(c.handles))
	for _, h := range c.handles {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	for _, h := range targets {
		if h.onReconnect != nil {
			hh := h
			safe.Call(hh.onReconnect)
		}
	}
}

func (c *Client) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.pingStop:
			return
		case <-t.C:
			c.mu.Lock()
			chans := make([]string, 0, len(c.pingRefs))
			for ch := range c.pingRefs {
				chans = append(chans, ch)
			}
			c.mu.Unlock()
			for _, ch := range chans {
				if err := c.tr.Ping(ch); err != nil {
					logger.Debugf("[gateway] presence ping %s: %v", ch, err)
				}
			}
		}
	}
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.pingStop) })
	return c.tr.Close()
}

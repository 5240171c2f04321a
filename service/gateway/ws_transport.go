package gateway

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pkgerr "github.com/pkg/errors"

	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/tools/safe"
)

// WSConfig configures the websocket push transport.
type WSConfig struct {
	URL         string // ws(s)://host/path
	Tokens      TokenProvider
	DialTimeout time.Duration
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// control frame sent to the gateway
type wsOp struct {
	Op       string   `json:"op"` // sub | unsub | ping
	Channels []string `json:"channels,omitempty"`
	Channel  string   `json:"channel,omitempty"`
}

// WSTransport dials the gateway over a websocket and keeps it alive with a
// backoff reconnect loop. The current channel set is replayed after every
// successful dial, so a reconnect restores interest without caller help.
type WSTransport struct {
	cfg WSConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]struct{}
	closed   bool
	stop     chan struct{}

	onEvent     func(model.Event)
	onConnected func()
}

func NewWSTransport(cfg WSConfig) *WSTransport {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 15 * time.Second
	}
	return &WSTransport{
		cfg:      cfg,
		channels: make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

func (t *WSTransport) Connect(ctx context.Context, onEvent func(model.Event), onConnected func()) error {
	if t.cfg.URL == "" {
		return pkgerr.New("ws url missing")
	}
	t.onEvent = onEvent
	t.onConnected = onConnected
	safe.Go(func() { t.run(ctx) })
	return nil
}

func (t *WSTransport) run(ctx context.Context) {
	backoff := t.cfg.BackoffMin
	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		token := ""
		if t.cfg.Tokens != nil {
			token = t.cfg.Tokens.GetToken(ctx)
		}
		if token == "" {
			// auth not ready yet, try again shortly
			time.Sleep(backoff)
			continue
		}

		conn, err := t.dial(ctx, token)
		if err != nil {
			logger.Warnf("[gateway] ws dial failed: %v", err)
			time.Sleep(backoff)
			if backoff *= 2; backoff > t.cfg.BackoffMax {
				backoff = t.cfg.BackoffMax
			}
			continue
		}
		backoff = t.cfg.BackoffMin

		t.mu.Lock()
		t.conn = conn
		chans := make([]string, 0, len(t.channels))
		for ch := range t.channels {
			chans = append(chans, ch)
		}
		t.mu.Unlock()

		if len(chans) > 0 {
			if err := t.write(wsOp{Op: "sub", Channels: chans}); err != nil {
				logger.Warnf("[gateway] ws resubscribe failed: %v", err)
				_ = conn.Close()
				continue
			}
		}

		t.onConnected()
		t.readLoop(conn)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		done := t.closed
		t.mu.Unlock()
		if done {
			return
		}
	}
}

func (t *WSTransport) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, pkgerr.Wrap(err, "parse ws url")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	dctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dctx, u.String(), nil)
	return conn, err
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] ws peer closed: %v", err)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] ws read timeout: %v", err)
			} else {
				logger.Warnf("[gateway] ws read err: %v", err)
			}
			return
		}
		if ev.Type == "" {
			continue
		}
		t.onEvent(ev)
	}
}

// write sends a control frame. gorilla allows one concurrent writer, so all
// writes funnel through the transport mutex.
func (t *WSTransport) write(op wsOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		// not connected; the channel set is replayed on the next dial
		return nil
	}
	return t.conn.WriteJSON(op)
}

func (t *WSTransport) Subscribe(channels []string) error {
	t.mu.Lock()
	for _, ch := range channels {
		t.channels[ch] = struct{}{}
	}
	t.mu.Unlock()
	return t.write(wsOp{Op: "sub", Channels: channels})
}

func (t *WSTransport) Unsubscribe(channels []string) error {
	t.mu.Lock()
	for _, ch := range channels {
		delete(t.channels, ch)
	}
	t.mu.Unlock()
	return t.write(wsOp{Op: "unsub", Channels: channels})
}

func (t *WSTransport) Ping(channel string) error {
	return t.write(wsOp{Op: "ping", Channel: channel})
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	close(t.stop)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	pkgerr "github.com/pkg/errors"

	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/module/chat/model"
)

// NatsConfig configures the NATS-backed push transport.
type NatsConfig struct {
	Servers       []string
	Name          string
	SubjectPrefix string // default "chat."
	ReconnectWait time.Duration
	Timeout       time.Duration
	Tokens        TokenProvider
}

// NatsTransport maps gateway channels onto NATS subjects
// ("user:42" -> "chat.user.42") and reuses the nats.go reconnect machinery
// for the on-every-connect callback.
type NatsTransport struct {
	cfg NatsConfig

	mu   sync.Mutex
	nc   *nats.Conn
	subs map[string]*nats.Subscription // channel -> sub

	onEvent     func(model.Event)
	onConnected func()
}

func NewNatsTransport(cfg NatsConfig) *NatsTransport {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "chat."
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "chat-sync-" + uuid.NewString()[:8]
	}
	return &NatsTransport{
		cfg:  cfg,
		subs: make(map[string]*nats.Subscription),
	}
}

func (t *NatsTransport) Connect(ctx context.Context, onEvent func(model.Event), onConnected func()) error {
	if len(t.cfg.Servers) == 0 {
		return pkgerr.New("nats servers missing")
	}
	t.onEvent = onEvent
	t.onConnected = onConnected

	opts := []nats.Option{
		nats.Name(t.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(t.cfg.Timeout),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("[gateway] nats reconnected")
			t.onConnected()
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[gateway] nats disconnected: %v", err)
		}),
	}
	if t.cfg.Tokens != nil {
		if tok := t.cfg.Tokens.GetToken(ctx); tok != "" {
			opts = append(opts, nats.Token(tok))
		}
	}

	nc, err := nats.Connect(strings.Join(t.cfg.Servers, ","), opts...)
	if err != nil {
		return pkgerr.Wrap(err, "nats connect")
	}

	t.mu.Lock()
	t.nc = nc
	t.mu.Unlock()

	// first connect counts as a reconnect for consumers
	t.onConnected()
	return nil
}

func (t *NatsTransport) subjectFor(channel string) string {
	return t.cfg.SubjectPrefix + strings.ReplaceAll(channel, ":", ".")
}

func (t *NatsTransport) Subscribe(channels []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nc == nil {
		return pkgerr.New("transport not connected")
	}
	for _, ch := range channels {
		if _, ok := t.subs[ch]; ok {
			continue
		}
		channel := ch
		sub, err := t.nc.Subscribe(t.subjectFor(ch), func(m *nats.Msg) {
			var ev model.Event
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				logger.Warnf("[gateway] drop undecodable event on %s: %v", channel, err)
				return
			}
			ev.Channel = channel
			t.onEvent(ev)
		})
		if err != nil {
			return pkgerr.Wrapf(err, "subscribe %s", ch)
		}
		t.subs[ch] = sub
	}
	return nil
}

func (t *NatsTransport) Unsubscribe(channels []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range channels {
		if sub, ok := t.subs[ch]; ok {
			_ = sub.Drain()
			delete(t.subs, ch)
		}
	}
	return nil
}

func (t *NatsTransport) Ping(channel string) error {
	t.mu.Lock()
	nc := t.nc
	t.mu.Unlock()
	if nc == nil {
		return pkgerr.New("transport not connected")
	}
	payload, _ := json.Marshal(map[string]string{"channel": channel})
	return nc.Publish(t.cfg.SubjectPrefix+"presence.ping", payload)
}

func (t *NatsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, ch)
	}
	if t.nc != nil {
		return t.nc.Drain()
	}
	return nil
}

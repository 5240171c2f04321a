package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/splits-network/splits-sub020/chatapi"
	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/module/chat/list"
	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/module/chat/thread"
	"github.com/splits-network/splits-sub020/service/apistub"
	"github.com/splits-network/splits-sub020/service/gateway"
	"github.com/splits-network/splits-sub020/service/presence"
	"github.com/splits-network/splits-sub020/service/refresh"
	"github.com/splits-network/splits-sub020/tools/security"
)

// Demo wiring: an in-memory chat API stub, one signed-in user, and the full
// sync stack on top of it. Set NATS_URL to attach the push gateway and
// REDIS_ADDR to attach live presence; without them the demo runs poll-free
// but otherwise identical.
func main() {
	auth := security.DefaultOptions([]byte("demo-secret"))
	store := apistub.NewStore()
	seedDemo(store)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Errorf("listen: %v", err)
		os.Exit(1)
	}
	srv := &http.Server{Handler: apistub.NewServer(store, auth).Handler()}
	go srv.Serve(ln)
	baseURL := "http://" + ln.Addr().String()
	logger.Infof("chat api stub on %s", baseURL)

	ctx := context.Background()
	api := chatapi.NewClient(chatapi.Config{
		BaseURL: baseURL,
		Tokens:  security.NewTokenSource(auth, "alice"),
	})
	coord := refresh.NewCoordinator(0)
	defer coord.Close()

	var gw *gateway.Client
	if url := os.Getenv("NATS_URL"); url != "" {
		tr := gateway.NewNatsTransport(gateway.NatsConfig{Servers: []string{url}})
		gw = gateway.NewClient(tr, 0)
		if serr := gw.Start(ctx); serr != nil {
			logger.Warnf("gateway start: %v", serr)
			gw = nil
		} else {
			defer gw.Close()
		}
	}

	var tracker *presence.Tracker
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		src, perr := presence.NewRedisSource(presence.RedisConfig{Addr: addr})
		if perr != nil {
			logger.Warnf("redis presence: %v", perr)
		} else {
			tracker = presence.NewTracker(src, 10*time.Second)
			tracker.Start(ctx)
			defer tracker.Stop()
		}
	}

	inbox := list.NewSyncer(list.Config{
		API:         api,
		Coordinator: coord,
		Gateway:     gw,
		Tracker:     tracker,
		UserID:      "alice",
	})
	inbox.Start(ctx)
	defer inbox.Stop()

	logger.Infof("inbox: %d conversations, %d pending requests", len(inbox.Rows()), inbox.RequestCount())
	for _, r := range inbox.Rows() {
		prof := r.CounterpartProfile("alice")
		logger.Infof("  %s with %s (unread %d)", r.Conversation.ID, prof.Name, r.Participant.UnreadCount)
	}

	if len(inbox.Rows()) == 0 {
		return
	}
	convID := inbox.Rows()[0].Conversation.ID

	t := thread.NewSyncer(thread.Config{
		API:         api,
		Coordinator: coord,
		Gateway:     gw,
		UserID:      "alice",
	})
	t.Open(ctx, convID)
	defer t.Close()

	logger.Infof("thread %s: %d messages, hasMore=%v", convID, len(t.Messages()), t.HasMore())

	t.SetDraft("hello from the demo")
	if err := t.Send(ctx); err != nil {
		logger.Warnf("send: %v", err)
	}
	for _, m := range t.Messages() {
		body := ""
		if m.Body != nil {
			body = *m.Body
		}
		logger.Infof("  [%s] %s: %s", m.CreatedAt.Format(time.TimeOnly), m.SenderID, body)
	}
}

func seedDemo(store *apistub.Store) {
	at := func(minute int) time.Time {
		return time.Now().UTC().Add(time.Duration(minute-30) * time.Minute)
	}
	store.SeedConversation(
		model.Conversation{
			ID:             "conv-recruiter",
			ParticipantAID: "alice",
			ParticipantBID: "bob",
			JobID:          "job-1",
			CompanyID:      "co-1",
			CreatedAt:      at(0),
			ParticipantB:   model.ProfileSnapshot{Name: "Bob Okafor", Email: "bob@example.com"},
		},
		model.Participant{UserID: "alice", RequestState: model.RequestAccepted},
		model.Participant{UserID: "bob", RequestState: model.RequestAccepted},
	)
	store.SeedConversation(
		model.Conversation{
			ID:             "conv-request",
			ParticipantAID: "cara",
			ParticipantBID: "alice",
			CreatedAt:      at(5),
			ParticipantA:   model.ProfileSnapshot{Name: "Cara Lindt", Email: "cara@example.com"},
		},
		model.Participant{UserID: "alice", RequestState: model.RequestPending},
		model.Participant{UserID: "cara", RequestState: model.RequestAccepted},
	)
	store.SeedLabels(
		map[string]string{"job-1": "Staff Engineer"},
		map[string]string{"co-1": "Splits Network"},
		nil,
	)
	store.AppendMessage("conv-recruiter", "bob", "thanks for connecting!", model.MessageKindUser, at(10))
	store.AppendMessage("conv-recruiter", "alice", "happy to chat", model.MessageKindUser, at(12))
	store.AppendMessage("conv-recruiter", "bob", "are you open to a staff role?", model.MessageKindUser, at(20))
}

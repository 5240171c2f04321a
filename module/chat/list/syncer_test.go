package list

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/splits-network/splits-sub020/chatapi"
	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/service/apistub"
	"github.com/splits-network/splits-sub020/service/gateway"
	"github.com/splits-network/splits-sub020/service/refresh"
	"github.com/splits-network/splits-sub020/tools/security"
)

const (
	localUser = "alice"
)

type env struct {
	store *apistub.Store
	srv   *apistub.Server
	api   *chatapi.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	auth := security.DefaultOptions([]byte("test-secret"))
	store := apistub.NewStore()
	srv := apistub.NewServer(store, auth)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	api := chatapi.NewClient(chatapi.Config{
		BaseURL: hs.URL,
		Tokens:  security.NewTokenSource(auth, localUser),
	})
	return &env{store: store, srv: srv, api: api}
}

func seed(store *apistub.Store, convID, otherID, otherName string, state model.RequestState, lastMsg *time.Time) {
	conv := model.Conversation{
		ID:             convID,
		ParticipantAID: localUser,
		ParticipantBID: otherID,
		CreatedAt:      time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC),
		LastMessageAt:  lastMsg,
		ParticipantB:   model.ProfileSnapshot{Name: otherName, Email: otherID + "@example.com"},
	}
	store.SeedConversation(conv,
		model.Participant{UserID: localUser, RequestState: state},
		model.Participant{UserID: otherID, RequestState: model.RequestAccepted},
	)
}

func ts(h int) *time.Time {
	t := time.Date(2026, 8, 10, h, 0, 0, 0, time.UTC)
	return &t
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestInitialLoadSortsByLastMessageDesc(t *testing.T) {
	e := newEnv(t)
	seed(e.store, "c-old", "bob", "Bob Okafor", model.RequestAccepted, ts(9))
	seed(e.store, "c-new", "cara", "Cara Lindt", model.RequestAccepted, ts(17))
	seed(e.store, "c-never", "dan", "Dan Wu", model.RequestAccepted, nil)

	s := NewSyncer(Config{API: e.api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	if s.Status() != StatusReady {
		t.Fatalf("status = %v, err = %v", s.Status(), s.Err())
	}
	rows := s.Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	got := []string{rows[0].Conversation.ID, rows[1].Conversation.ID, rows[2].Conversation.ID}
	want := []string{"c-new", "c-old", "c-never"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRequestsMailboxAndAcceptFlow(t *testing.T) {
	e := newEnv(t)
	seed(e.store, "c-req", "bob", "Bob Okafor", model.RequestPending, ts(10))
	seed(e.store, "c-ok", "cara", "Cara Lindt", model.RequestAccepted, ts(11))

	s := NewSyncer(Config{API: e.api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	// pending rows are excluded from the inbox
	for _, r := range s.Rows() {
		if r.Conversation.ID == "c-req" {
			t.Fatalf("pending conversation leaked into inbox")
		}
	}
	if s.RequestCount() != 1 {
		t.Fatalf("request badge = %d, want 1", s.RequestCount())
	}

	s.SetFilter(context.Background(), model.MailboxRequests)
	rows := s.Rows()
	if len(rows) != 1 || rows[0].Conversation.ID != "c-req" {
		t.Fatalf("requests view = %+v", rows)
	}

	if err := s.Accept(context.Background(), "c-req"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	s.Refresh(context.Background())

	if got := len(s.Rows()); got != 0 {
		t.Fatalf("requests view after accept = %d rows", got)
	}
	if s.RequestCount() != 0 {
		t.Fatalf("request badge after accept = %d", s.RequestCount())
	}

	s.SetFilter(context.Background(), model.MailboxInbox)
	found := false
	for _, r := range s.Rows() {
		if r.Conversation.ID == "c-req" {
			found = true
			if r.Participant.RequestState != model.RequestAccepted {
				t.Fatalf("accepted row state = %q", r.Participant.RequestState)
			}
		}
	}
	if !found {
		t.Fatalf("accepted conversation missing from inbox")
	}
}

func TestSearchFiltersClientSide(t *testing.T) {
	e := newEnv(t)
	seed(e.store, "c1", "bob", "Bob Okafor", model.RequestAccepted, ts(9))
	seed(e.store, "c2", "cara", "Cara Lindt", model.RequestAccepted, ts(10))

	s := NewSyncer(Config{API: e.api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	s.SetSearch("okafor")
	rows := s.Rows()
	if len(rows) != 1 || rows[0].Conversation.ID != "c1" {
		t.Fatalf("name search = %+v", rows)
	}

	s.SetSearch("cara@example.com")
	rows = s.Rows()
	if len(rows) != 1 || rows[0].Conversation.ID != "c2" {
		t.Fatalf("email search = %+v", rows)
	}

	s.SetSearch("")
	if got := len(s.Rows()); got != 2 {
		t.Fatalf("cleared search = %d rows", got)
	}
}

func TestFlatLegacyShapeLoads(t *testing.T) {
	e := newEnv(t)
	e.srv.FlatShape = true
	seed(e.store, "c1", "bob", "Bob Okafor", model.RequestAccepted, ts(9))

	s := NewSyncer(Config{API: e.api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	if s.Status() != StatusReady {
		t.Fatalf("flat shape load failed: %v", s.Err())
	}
	rows := s.Rows()
	if len(rows) != 1 || rows[0].Conversation.ID != "c1" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].CounterpartProfile(localUser).Name != "Bob Okafor" {
		t.Fatalf("flat profile = %+v", rows[0].CounterpartProfile(localUser))
	}
}

func TestContextResolutionIsolatesFailures(t *testing.T) {
	e := newEnv(t)
	c1 := model.Conversation{
		ID: "c1", ParticipantAID: localUser, ParticipantBID: "bob",
		JobID: "j1", CompanyID: "co1", LastMessageAt: ts(9),
	}
	c2 := model.Conversation{
		ID: "c2", ParticipantAID: localUser, ParticipantBID: "cara",
		JobID: "j-missing", LastMessageAt: ts(10),
	}
	for _, c := range []model.Conversation{c1, c2} {
		e.store.SeedConversation(c,
			model.Participant{UserID: localUser, RequestState: model.RequestAccepted},
			model.Participant{UserID: c.ParticipantBID, RequestState: model.RequestAccepted},
		)
	}
	e.store.SeedLabels(
		map[string]string{"j1": "Staff Engineer"},
		map[string]string{"co1": "Splits Network"},
		nil,
	)

	s := NewSyncer(Config{API: e.api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return s.ContextFor("c1").JobTitle == "Staff Engineer" })
	if s.ContextFor("c1").CompanyName != "Splits Network" {
		t.Fatalf("c1 labels = %+v", s.ContextFor("c1"))
	}
	// the missing job id resolves to nothing, but must not poison c1
	if s.ContextFor("c2").JobTitle != "" {
		t.Fatalf("c2 labels = %+v", s.ContextFor("c2"))
	}
}

func TestCounterpartIDsAreDistinct(t *testing.T) {
	e := newEnv(t)
	seed(e.store, "c1", "bob", "Bob Okafor", model.RequestAccepted, ts(9))
	seed(e.store, "c2", "bob", "Bob Okafor", model.RequestAccepted, ts(10))
	seed(e.store, "c3", "cara", "Cara Lindt", model.RequestAccepted, ts(11))

	s := NewSyncer(Config{API: e.api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	got := s.CounterpartIDs()
	if len(got) != 2 || got[0] != "bob" || got[1] != "cara" {
		t.Fatalf("counterparts = %v", got)
	}
}

func TestBackgroundRefreshFailureKeepsStaleRows(t *testing.T) {
	auth := security.DefaultOptions([]byte("test-secret"))
	store := apistub.NewStore()
	srv := httptest.NewServer(apistub.NewServer(store, auth).Handler())
	api := chatapi.NewClient(chatapi.Config{
		BaseURL: srv.URL,
		Tokens:  security.NewTokenSource(auth, localUser),
	})
	seed(store, "c1", "bob", "Bob Okafor", model.RequestAccepted, ts(9))

	s := NewSyncer(Config{API: api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()
	if s.Status() != StatusReady {
		t.Fatalf("initial load failed: %v", s.Err())
	}

	srv.Close() // the backend goes away
	s.Refresh(context.Background())

	if s.Status() != StatusReady {
		t.Fatalf("background failure surfaced: status = %v", s.Status())
	}
	if got := len(s.Rows()); got != 1 {
		t.Fatalf("stale rows dropped, have %d", got)
	}
}

func TestInitialLoadFailureSurfacesWithRetry(t *testing.T) {
	auth := security.DefaultOptions([]byte("test-secret"))
	api := chatapi.NewClient(chatapi.Config{
		BaseURL: "http://127.0.0.1:1",
		Tokens:  security.NewTokenSource(auth, localUser),
	})

	s := NewSyncer(Config{API: api, UserID: localUser})
	s.Start(context.Background())
	defer s.Stop()

	if s.Status() != StatusError || s.Err() == nil {
		t.Fatalf("status = %v err = %v, want terminal error", s.Status(), s.Err())
	}
}

type pushTransport struct {
	onEvent     func(model.Event)
	onConnected func()
}

func (p *pushTransport) Connect(_ context.Context, onEvent func(model.Event), onConnected func()) error {
	p.onEvent = onEvent
	p.onConnected = onConnected
	onConnected()
	return nil
}
func (p *pushTransport) Subscribe([]string) error   { return nil }
func (p *pushTransport) Unsubscribe([]string) error { return nil }
func (p *pushTransport) Ping(string) error          { return nil }
func (p *pushTransport) Close() error               { return nil }

func TestPushEventTriggersDebouncedReload(t *testing.T) {
	e := newEnv(t)
	seed(e.store, "c1", "bob", "Bob Okafor", model.RequestAccepted, ts(9))

	tr := &pushTransport{}
	gw := gateway.NewClient(tr, 0)
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("gateway start: %v", err)
	}
	coord := refresh.NewCoordinator(20 * time.Millisecond)
	defer coord.Close()

	s := NewSyncer(Config{API: e.api, UserID: localUser, Coordinator: coord, Gateway: gw})
	s.Start(context.Background())
	defer s.Stop()

	if got := len(s.Rows()); got != 1 {
		t.Fatalf("initial rows = %d", got)
	}

	// new conversation appears server-side, then a push event lands
	seed(e.store, "c2", "cara", "Cara Lindt", model.RequestAccepted, ts(12))
	tr.onEvent(model.Event{Type: model.EventMessageCreated, Channel: model.UserChannel(localUser)})

	waitFor(t, func() bool { return len(s.Rows()) == 2 })
}

package thread

import (
	"context"
	"sync"
	"time"

	"github.com/splits-network/splits-sub020/chatapi"
	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/service/gateway"
	"github.com/splits-network/splits-sub020/service/refresh"
	"github.com/splits-network/splits-sub020/tools/errs"
	"github.com/splits-network/splits-sub020/tools/ids"
	"github.com/splits-network/splits-sub020/tools/safe"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

type Config struct {
	API         *chatapi.Client
	Coordinator *refresh.Coordinator
	Gateway     *gateway.Client // optional
	UserID      string
	PageSize    int // default 50
}

// Syncer owns one open conversation: its recent message window, backward
// pagination, read advancement and sends. Everything reconciles through
// resync; live events only ever mean "refetch", so duplicated or reordered
// delivery cannot drift the window away from server truth.
type Syncer struct {
	cfg Config

	mu           sync.Mutex
	convID       string
	status       Status
	loadErr      error
	conv         model.Conversation
	self         model.Participant
	msgs         []model.Message // ascending by (created_at, id)
	hasMore      bool
	loadingOlder bool
	draft        string
	info         string
	gen          int64
	firstRender  bool
	nearBottom   bool
	plan         ScrollPlan

	baseCtx    context.Context
	unregister func()
	gwSub      *gateway.Subscription
}

func NewSyncer(cfg Config) *Syncer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Syncer{cfg: cfg, status: StatusIdle}
}

// Open switches the syncer to conversationID and resyncs from scratch. Any
// response belonging to a previously opened conversation is discarded by
// the generation bump.
func (s *Syncer) Open(ctx context.Context, conversationID string) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.convID = conversationID
	s.status = StatusLoading
	s.loadErr = nil
	s.msgs = nil
	s.hasMore = false
	s.loadingOlder = false
	s.info = ""
	s.firstRender = true
	s.plan = ScrollPlan{}
	s.baseCtx = ctx
	s.mu.Unlock()

	// The registered callback reads ctx and gen at fire time, not at
	// registration time: the context of a previously opened conversation is
	// typically cancelled on switch and must not poison later resyncs.
	if s.unregister == nil && s.cfg.Coordinator != nil {
		s.unregister = s.cfg.Coordinator.Register(func() {
			s.mu.Lock()
			cctx, gen := s.baseCtx, s.gen
			s.mu.Unlock()
			safe.Go(func() { s.resync(cctx, gen, false) })
		})
	}

	s.resubscribe(conversationID)
	s.resync(ctx, gen, true)
}

// Close tears the syncer down; in-flight responses become stale and get
// discarded.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.gen++
	s.convID = ""
	s.status = StatusIdle
	s.mu.Unlock()

	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	s.gwSub.Close()
	s.gwSub = nil
}

func (s *Syncer) resubscribe(conversationID string) {
	if s.cfg.Gateway == nil {
		return
	}
	s.gwSub.Close()
	sub, err := s.cfg.Gateway.Acquire(gateway.Options{
		Enabled: true,
		Channels: []string{
			model.UserChannel(s.cfg.UserID),
			model.ConversationChannel(conversationID),
		},
		OnEvent: func(ev model.Event) {
			if model.TriggersRefresh(ev.Type) {
				s.requestRefresh()
			}
		},
		OnReconnect:  s.requestRefresh,
		PresencePing: true,
	})
	if err != nil {
		logger.Warnf("[thread] gateway acquire failed: %v", err)
		return
	}
	s.gwSub = sub
}

func (s *Syncer) requestRefresh() {
	if s.cfg.Coordinator != nil {
		s.cfg.Coordinator.RequestRefresh()
	}
}

func (s *Syncer) currentGen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Refresh forces a resync of the open conversation.
func (s *Syncer) Refresh(ctx context.Context) {
	s.resync(ctx, s.currentGen(), false)
}

// Retry re-runs the blocking load after a terminal error.
func (s *Syncer) Retry(ctx context.Context) {
	s.resync(ctx, s.currentGen(), true)
}

// resync is the full replace-style refetch: newest page + header +
// participant row. It is merge-safe against pagination because pagination
// validates its cursor against the post-resync window.
func (s *Syncer) resync(ctx context.Context, gen int64, initial bool) {
	s.mu.Lock()
	if gen != s.gen || s.convID == "" {
		s.mu.Unlock()
		return
	}
	convID := s.convID
	s.mu.Unlock()

	res, err := s.cfg.API.Resync(ctx, convID)
	if err != nil {
		if errs.IsNoToken(err) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		if initial && s.status != StatusReady {
			s.status = StatusError
			s.loadErr = errs.ErrInitialLoad.WrapMsg(err.Error())
			return
		}
		logger.Warnf("[thread] %v", errs.ErrRefresh.WrapMsg(err.Error()))
		return
	}

	msgs := dedupeSorted(res.Messages)
	sortMessages(msgs)

	s.mu.Lock()
	if gen != s.gen {
		logger.Debugf("[thread] %v", errs.ErrStaleResponse.WrapMsg("resync", "conv", convID))
		s.mu.Unlock()
		return
	}
	prevNewest := newestID(s.msgs)
	s.conv = res.Conversation
	// the new window must be in place before the participant merge: the
	// monotonicity check positions read cursors against s.msgs
	s.msgs = msgs
	s.applyParticipant(res.Participant)
	s.hasMore = len(res.Messages) >= s.cfg.PageSize
	s.status = StatusReady
	s.loadErr = nil

	switch {
	case s.firstRender:
		// a freshly opened thread always lands at the bottom once
		s.firstRender = false
		s.plan.StickBottom = true
	case newestID(msgs) != prevNewest:
		if s.nearBottom {
			s.plan.StickBottom = true
		} else {
			s.plan.ShowJumpToLatest = true
		}
	}
	target := newestID(msgs)
	s.mu.Unlock()

	// Read advancement is best effort: a failure is invisible here and gets
	// retried by the next successful resync.
	if target != "" {
		safe.Go(func() { s.markRead(ctx, gen, target) })
	}
}

// applyParticipant takes the server row but never lets the local read
// cursor regress: a stale snapshot racing a just-issued mark-read must not
// pull last_read backwards.
func (s *Syncer) applyParticipant(p model.Participant) {
	prev := s.self
	s.self = p
	if prev.ConversationID != p.ConversationID {
		return
	}
	if prev.LastReadMessageID == "" || prev.LastReadMessageID == p.LastReadMessageID {
		return
	}
	prevIdx := indexOf(s.msgs, prev.LastReadMessageID)
	newIdx := indexOf(s.msgs, p.LastReadMessageID)
	if prevIdx > newIdx {
		s.self.LastReadMessageID = prev.LastReadMessageID
		s.self.LastReadAt = prev.LastReadAt
		if prev.UnreadCount < s.self.UnreadCount {
			s.self.UnreadCount = prev.UnreadCount
		}
	}
}

func (s *Syncer) markRead(ctx context.Context, gen int64, messageID string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	convID := s.convID
	cur := s.self.LastReadMessageID
	if cur != "" {
		curIdx := indexOf(s.msgs, cur)
		tgtIdx := indexOf(s.msgs, messageID)
		if tgtIdx >= 0 && curIdx >= tgtIdx {
			s.mu.Unlock()
			return // already read at least this far
		}
	}
	s.mu.Unlock()

	if err := s.cfg.API.MarkRead(ctx, convID, messageID); err != nil {
		if !errs.IsNoToken(err) {
			logger.Debugf("[thread] mark-read failed: %v", err)
		}
		return
	}

	now := time.Now()
	s.mu.Lock()
	if gen == s.gen {
		s.self.LastReadMessageID = messageID
		s.self.LastReadAt = &now
		s.self.UnreadCount = 0
	}
	s.mu.Unlock()
}

// LoadOlder fetches the page strictly before the oldest held message. It
// reports how many messages were prepended so the view can offset its
// scroll position by exactly the inserted height. A call while one is in
// flight, or with nothing more to load, is a no-op.
func (s *Syncer) LoadOlder(ctx context.Context) (prepended int, loaded bool) {
	s.mu.Lock()
	if s.loadingOlder || !s.hasMore || s.status != StatusReady || len(s.msgs) == 0 {
		s.mu.Unlock()
		return 0, false
	}
	s.loadingOlder = true
	gen := s.gen
	convID := s.convID
	cursor := s.msgs[0].ID
	s.mu.Unlock()

	page, err := s.cfg.API.MessagesBefore(ctx, convID, cursor, s.cfg.PageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingOlder = false
	if gen != s.gen {
		return 0, false
	}
	if err != nil {
		if !errs.IsNoToken(err) {
			logger.Warnf("[thread] load-older failed: %v", err)
		}
		return 0, false
	}

	merged, n, ok := mergeOlder(s.msgs, page, cursor)
	if !ok {
		// the window moved underneath us; drop the page
		return 0, false
	}
	s.msgs = merged
	s.hasMore = len(page) >= s.cfg.PageSize
	if n > 0 {
		s.plan.PreserveAnchor = true
		s.plan.PrependedCount += n
	}
	return n, true
}

// SetDraft stores the composer text.
func (s *Syncer) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Syncer) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Info is the informational channel: soft conditions land here, never in
// Err.
func (s *Syncer) Info() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Send posts the current draft with a fresh idempotency token, then
// resyncs. There is no optimistic append: server-assigned ordering and ids
// arrive with the resync. A request-pending rejection keeps the draft and
// surfaces as info.
func (s *Syncer) Send(ctx context.Context) error {
	s.mu.Lock()
	state := s.composerStateLocked()
	if !state.CanReply && s.self.RequestState != model.RequestPending {
		s.mu.Unlock()
		return errs.ErrAction.WrapMsg("send", "reason", state.Placeholder)
	}
	body := s.draft
	convID := s.convID
	gen := s.gen
	s.mu.Unlock()

	if body == "" {
		return nil
	}

	clientID := ids.GenerateString()
	err := s.cfg.API.SendMessage(ctx, convID, body, clientID)
	switch {
	case err == nil:
	case errs.IsPending(err):
		s.mu.Lock()
		if gen == s.gen {
			s.info = "Your message is queued until your conversation request is accepted."
		}
		s.mu.Unlock()
		return nil
	case errs.IsNoToken(err):
		return nil
	default:
		return errs.ErrAction.WrapMsg("send", "cause", err)
	}

	s.mu.Lock()
	if gen == s.gen {
		s.draft = ""
		s.info = ""
	}
	s.mu.Unlock()

	s.resync(ctx, gen, false)
	return nil
}

// SetNearBottom records whether the viewport sits within the follow
// threshold of the newest message; the UI reports it before updates apply.
func (s *Syncer) SetNearBottom(near bool) {
	s.mu.Lock()
	s.nearBottom = near
	s.mu.Unlock()
}

// Accessors. Messages returns a copy of the ascending window.

func (s *Syncer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Syncer) Conversation() model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

func (s *Syncer) Participant() model.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Syncer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

func (s *Syncer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Syncer) LoadingOlder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingOlder
}

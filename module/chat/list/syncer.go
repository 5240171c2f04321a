package list

import (
	"context"
	"sort"
	"sync"

	"github.com/splits-network/splits-sub020/chatapi"
	"github.com/splits-network/splits-sub020/logger"
	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/service/gateway"
	"github.com/splits-network/splits-sub020/service/presence"
	"github.com/splits-network/splits-sub020/service/refresh"
	"github.com/splits-network/splits-sub020/tools/errs"
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
	Gateway     *gateway.Client   // optional
	Tracker     *presence.Tracker // optional
	UserID      string
	PageLimit   int // default 100
}

// Syncer owns the signed-in user's conversation list: mailbox filter,
// client-side search, request-count badge and lazily resolved context
// labels. It is rebuilt from scratch each session and patched by refreshes.
type Syncer struct {
	cfg Config

	mu         sync.Mutex
	status     Status
	loadErr    error
	filter     model.Mailbox
	search     string
	rows       []model.Row
	contexts   map[string]model.ContextLabels // conversation id -> labels
	reqCount   int
	gen        int64
	loadedOnce bool

	baseCtx    context.Context
	unregister func()
	gwSub      *gateway.Subscription
}

func NewSyncer(cfg Config) *Syncer {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	return &Syncer{
		cfg:      cfg,
		filter:   model.MailboxInbox,
		contexts: make(map[string]model.ContextLabels),
	}
}

// Start wires the syncer into the refresh bus and the gateway, then kicks
// the initial load.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.cfg.Coordinator != nil {
		s.unregister = s.cfg.Coordinator.Register(func() {
			s.mu.Lock()
			cctx := s.baseCtx
			s.mu.Unlock()
			safe.Go(func() { s.load(cctx, false) })
		})
	}

	if s.cfg.Gateway != nil {
		sub, err := s.cfg.Gateway.Acquire(gateway.Options{
			Enabled:  true,
			Channels: []string{model.UserChannel(s.cfg.UserID)},
			OnEvent: func(ev model.Event) {
				if model.TriggersRefresh(ev.Type) {
					s.requestRefresh()
				}
			},
			OnReconnect: s.requestRefresh,
		})
		if err != nil {
			logger.Warnf("[list] gateway acquire failed: %v", err)
		} else {
			s.gwSub = sub
		}
	}

	s.load(ctx, true)
}

func (s *Syncer) Stop() {
	if s.unregister != nil {
		s.unregister()
	}
	s.gwSub.Close()
}

func (s *Syncer) requestRefresh() {
	if s.cfg.Coordinator != nil {
		s.cfg.Coordinator.RequestRefresh()
	}
}

// SetFilter switches the mailbox view and re-fetches it.
func (s *Syncer) SetFilter(ctx context.Context, mailbox model.Mailbox) {
	s.mu.Lock()
	if s.filter == mailbox {
		s.mu.Unlock()
		return
	}
	s.filter = mailbox
	s.loadedOnce = false // a fresh view failing is an initial-load failure
	s.mu.Unlock()
	s.load(ctx, true)
}

// SetSearch updates the client-side substring filter. No fetch.
func (s *Syncer) SetSearch(text string) {
	s.mu.Lock()
	s.search = text
	s.mu.Unlock()
}

// Refresh re-fetches the current view and the request badge. Once the view
// has loaded successfully, failures are swallowed: stale rows beat an error
// banner.
func (s *Syncer) Refresh(ctx context.Context) {
	s.load(ctx, false)
}

// Retry re-runs the initial load after a terminal error.
func (s *Syncer) Retry(ctx context.Context) {
	s.load(ctx, true)
}

func (s *Syncer) load(ctx context.Context, initial bool) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	filter := s.filter
	if initial {
		s.status = StatusLoading
		s.loadErr = nil
	}
	s.mu.Unlock()

	raws, err := s.cfg.API.ListConversations(ctx, filter, s.cfg.PageLimit)
	if err != nil {
		s.loadFailed(gen, initial, err)
		return
	}
	rows, err := model.NormalizeAll(raws, s.cfg.UserID)
	if err != nil {
		s.loadFailed(gen, initial, err)
		return
	}
	sortRows(rows)

	// The badge query is mailbox-independent, so it is issued separately
	// from whatever view is active. Its failure never poisons the list.
	reqCount := -1
	if reqRaws, rerr := s.cfg.API.ListConversations(ctx, model.MailboxRequests, s.cfg.PageLimit); rerr == nil {
		if reqRows, nerr := model.NormalizeAll(reqRaws, s.cfg.UserID); nerr == nil {
			reqCount = countPending(reqRows)
		}
	} else if !errs.IsNoToken(rerr) {
		logger.Debugf("[list] request badge fetch failed: %v", rerr)
	}

	s.mu.Lock()
	if gen != s.gen {
		logger.Debugf("[list] %v", errs.ErrStaleResponse.WrapMsg("list load", "filter", string(filter)))
		s.mu.Unlock()
		return // superseded by a newer load
	}
	s.rows = rows
	s.status = StatusReady
	s.loadErr = nil
	s.loadedOnce = true
	if reqCount >= 0 {
		s.reqCount = reqCount
	}
	counterparts := s.counterpartIDsLocked()
	s.mu.Unlock()

	if s.cfg.Tracker != nil {
		s.cfg.Tracker.SetIDs(counterparts)
	}

	safe.Go(func() { s.resolveContexts(ctx, gen, rows) })
}

func (s *Syncer) loadFailed(gen int64, initial bool, err error) {
	if errs.IsNoToken(err) {
		// auth has not settled; stay quiet and let the next trigger retry
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if initial && !s.loadedOnce {
		s.status = StatusError
		s.loadErr = errs.ErrInitialLoad.WrapMsg(err.Error())
		return
	}
	logger.Warnf("[list] %v", errs.ErrRefresh.WrapMsg(err.Error()))
}

// resolveContexts fetches display labels for every foreign id the visible
// rows reference. One id failing never aborts the others, and results merge
// into whatever labels already exist.
func (s *Syncer) resolveContexts(ctx context.Context, gen int64, rows []model.Row) {
	jobTitles := map[string]string{}
	companyNames := map[string]string{}
	candidateNames := map[string]string{}

	for _, r := range rows {
		c := r.Conversation
		if c.JobID != "" {
			if _, done := jobTitles[c.JobID]; !done {
				title, err := s.cfg.API.JobTitle(ctx, c.JobID)
				if err != nil {
					logger.Debugf("[list] job %s lookup failed: %v", c.JobID, err)
				}
				jobTitles[c.JobID] = title
			}
		}
		if c.CompanyID != "" {
			if _, done := companyNames[c.CompanyID]; !done {
				name, err := s.cfg.API.CompanyName(ctx, c.CompanyID)
				if err != nil {
					logger.Debugf("[list] company %s lookup failed: %v", c.CompanyID, err)
				}
				companyNames[c.CompanyID] = name
			}
		}
		if c.CandidateID != "" {
			if _, done := candidateNames[c.CandidateID]; !done {
				name, err := s.cfg.API.CandidateName(ctx, c.CandidateID)
				if err != nil {
					logger.Debugf("[list] candidate %s lookup failed: %v", c.CandidateID, err)
				}
				candidateNames[c.CandidateID] = name
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for _, r := range rows {
		c := r.Conversation
		labels := s.contexts[c.ID]
		if t := jobTitles[c.JobID]; t != "" {
			labels.JobTitle = t
		}
		if n := companyNames[c.CompanyID]; n != "" {
			labels.CompanyName = n
		}
		if n := candidateNames[c.CandidateID]; n != "" {
			labels.CandidateName = n
		}
		s.contexts[c.ID] = labels
	}
}

// Rows returns the search-filtered view, sorted by last_message_at
// descending with unset timestamps last.
func (s *Syncer) Rows() []model.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Row, 0, len(s.rows))
	for _, r := range s.rows {
		if r.MatchesSearch(s.cfg.UserID, s.search) {
			out = append(out, r)
		}
	}
	return out
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

func (s *Syncer) Filter() model.Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// RequestCount is the pending-request badge, independent of the active
// mailbox filter.
func (s *Syncer) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqCount
}

// ContextFor returns whatever labels have resolved so far for a
// conversation. Missing labels are empty strings, never an error.
func (s *Syncer) ContextFor(convID string) model.ContextLabels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[convID]
}

// CounterpartIDs is the distinct set of other-participant ids across loaded
// rows; it feeds the presence tracker.
func (s *Syncer) CounterpartIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpartIDsLocked()
}

func (s *Syncer) counterpartIDsLocked() []string {
	seen := make(map[string]struct{}, len(s.rows))
	out := make([]string, 0, len(s.rows))
	for _, r := range s.rows {
		id := r.CounterpartID(s.cfg.UserID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortRows(rows []model.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Conversation.LastMessageAt, rows[j].Conversation.LastMessageAt
		switch {
		case a == nil && b == nil:
			return rows[i].Conversation.ID < rows[j].Conversation.ID
		case a == nil:
			return false // unset sorts as earliest, so last in desc order
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

func countPending(rows []model.Row) int {
	n := 0
	for _, r := range rows {
		if r.Participant.RequestState == model.RequestPending {
			n++
		}
	}
	return n
}

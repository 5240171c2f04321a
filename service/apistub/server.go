package apistub

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/splits-network/splits-sub020/module/chat/model"
	"github.com/splits-network/splits-sub020/tools/security"
)

const defaultPage = 50

// Server exposes the chat REST surface over the in-memory store. FlatShape
// switches the list endpoint to the legacy flat row serialization so the
// normalizer's second variant can be exercised end to end.
type Server struct {
	store     *Store
	auth      security.Options
	FlatShape bool
	engine    *gin.Engine
}

func NewServer(store *Store, auth security.Options) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{store: store, auth: auth}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.authMiddleware())

	r.GET("/chat/conversations", s.listConversations)
	r.GET("/chat/conversations/:id/resync", s.resync)
	r.GET("/chat/conversations/:id/messages", s.messagesBefore)
	r.POST("/chat/conversations/:id/messages", s.sendMessage)
	r.POST("/chat/conversations/:id/read-receipt", s.readReceipt)
	r.POST("/chat/conversations/:id/mute", s.setMuted(true))
	r.DELETE("/chat/conversations/:id/mute", s.setMuted(false))
	r.POST("/chat/conversations/:id/archive", s.setArchived(true))
	r.DELETE("/chat/conversations/:id/archive", s.setArchived(false))
	r.POST("/chat/conversations/:id/accept", s.resolveRequest(model.RequestAccepted))
	r.POST("/chat/conversations/:id/decline", s.resolveRequest(model.RequestDeclined))
	r.POST("/chat/blocks", s.createBlock)
	r.POST("/chat/reports", s.createReport)

	r.GET("/jobs/:id", s.label(func(st *Store) map[string]string { return st.jobs }, "title"))
	r.GET("/companies/:id", s.label(func(st *Store) map[string]string { return st.companies }, "name"))
	r.GET("/candidates/:id", s.label(func(st *Store) map[string]string { return st.candidates }, "name"))
	return r
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		uid, err := security.Verify(s.auth, strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		c.Set("userID", uid)
		c.Next()
	}
}

func userID(c *gin.Context) string { return c.GetString("userID") }

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg, "code": code})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) listConversations(c *gin.Context) {
	uid := userID(c)
	filter := model.Mailbox(c.DefaultQuery("filter", string(model.MailboxInbox)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	s.store.mu.Lock()
	rows := make([]model.Row, 0)
	for convID, conv := range s.store.convs {
		p := s.store.participant(convID, uid)
		if p == nil || !inMailbox(p, filter) {
			continue
		}
		rows = append(rows, model.Row{Conversation: *conv, Participant: *p})
	}
	s.store.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Conversation.LastMessageAt, rows[j].Conversation.LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	if s.FlatShape {
		flat := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			flat = append(flat, flattenRow(r))
		}
		ok(c, flat)
		return
	}
	ok(c, rows)
}

func inMailbox(p *model.Participant, filter model.Mailbox) bool {
	switch filter {
	case model.MailboxArchived:
		return p.Archived()
	case model.MailboxRequests:
		return !p.Archived() && p.RequestState == model.RequestPending
	default: // inbox
		return !p.Archived() && p.RequestState != model.RequestPending
	}
}

// flattenRow serializes the legacy shape: every column top-level, times as
// RFC3339 strings, the unread counter as a numeric string.
func flattenRow(r model.Row) map[string]any {
	out := map[string]any{
		"conversation_id":      r.Conversation.ID,
		"participant_a_id":     r.Conversation.ParticipantAID,
		"participant_b_id":     r.Conversation.ParticipantBID,
		"application_id":       r.Conversation.ApplicationID,
		"job_id":               r.Conversation.JobID,
		"company_id":           r.Conversation.CompanyID,
		"candidate_id":         r.Conversation.CandidateID,
		"participant_a_name":   r.Conversation.ParticipantA.Name,
		"participant_a_email":  r.Conversation.ParticipantA.Email,
		"participant_b_name":   r.Conversation.ParticipantB.Name,
		"participant_b_email":  r.Conversation.ParticipantB.Email,
		"request_state":        string(r.Participant.RequestState),
		"last_read_message_id": r.Participant.LastReadMessageID,
		"unread_count":         strconv.Itoa(r.Participant.UnreadCount),
		"created_at":           r.Conversation.CreatedAt.Format(time.RFC3339),
	}
	put := func(key string, t *time.Time) {
		if t != nil {
			out[key] = t.Format(time.RFC3339)
		}
	}
	put("last_message_at", r.Conversation.LastMessageAt)
	put("muted_at", r.Participant.MutedAt)
	put("archived_at", r.Participant.ArchivedAt)
	put("last_read_at", r.Participant.LastReadAt)
	return out
}

func (s *Server) resync(c *gin.Context) {
	uid := userID(c)
	convID := c.Param("id")

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	conv, okc := s.store.convs[convID]
	p := s.store.participant(convID, uid)
	if !okc || p == nil {
		fail(c, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	all := s.store.msgs[convID]
	window := all
	if len(window) > defaultPage {
		window = window[len(window)-defaultPage:]
	}
	msgs := make([]model.Message, len(window))
	copy(msgs, window)

	ok(c, gin.H{"conversation": conv, "participant": p, "messages": msgs})
}

func (s *Server) messagesBefore(c *gin.Context) {
	uid := userID(c)
	convID := c.Param("id")
	before := c.Query("before")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPage)))
	if limit <= 0 {
		limit = defaultPage
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.participant(convID, uid) == nil {
		fail(c, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	all := s.store.msgs[convID]
	cut := len(all)
	for i, m := range all {
		if m.ID == before {
			cut = i
			break
		}
	}
	older := all[:cut]
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	msgs := make([]model.Message, len(older))
	copy(msgs, older)
	ok(c, msgs)
}

type sendReq struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"clientMessageId"`
}

func (s *Server) sendMessage(c *gin.Context) {
	uid := userID(c)
	convID := c.Param("id")
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Body == "" {
		fail(c, http.StatusBadRequest, "bad_request", "body required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	p := s.store.participant(convID, uid)
	if p == nil {
		fail(c, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if p.RequestState == model.RequestPending && s.store.countBySender(convID, uid) >= 1 {
		fail(c, http.StatusConflict, "request_pending",
			"your message will be delivered once the conversation request is accepted")
		return
	}
	if p.RequestState == model.RequestDeclined {
		fail(c, http.StatusForbidden, "request_declined", "conversation request was declined")
		return
	}

	if req.ClientMessageID != "" {
		if msgID, seen := s.store.clientIDs[req.ClientMessageID]; seen {
			ok(c, gin.H{"id": msgID, "duplicate": true})
			return
		}
	}
	m := s.store.appendLocked(convID, uid, req.Body, model.MessageKindUser, time.Now().UTC())
	if req.ClientMessageID != "" {
		s.store.clientIDs[req.ClientMessageID] = m.ID
	}
	ok(c, gin.H{"id": m.ID})
}

type readReq struct {
	LastReadMessageID string `json:"lastReadMessageId"`
}

func (s *Server) readReceipt(c *gin.Context) {
	uid := userID(c)
	convID := c.Param("id")
	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil || req.LastReadMessageID == "" {
		fail(c, http.StatusBadRequest, "bad_request", "lastReadMessageId required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	p := s.store.participant(convID, uid)
	if p == nil {
		fail(c, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	all := s.store.msgs[convID]
	target := msgIndex(all, req.LastReadMessageID)
	if target < 0 {
		fail(c, http.StatusBadRequest, "bad_request", "unknown message id")
		return
	}
	// max-style advancement: stale receipts never regress the cursor
	current := msgIndex(all, p.LastReadMessageID)
	if target <= current {
		ok(c, gin.H{"lastReadMessageId": p.LastReadMessageID})
		return
	}
	now := time.Now().UTC()
	p.LastReadMessageID = req.LastReadMessageID
	p.LastReadAt = &now
	unread := 0
	for _, m := range all[target+1:] {
		if m.SenderID != uid {
			unread++
		}
	}
	p.UnreadCount = unread
	ok(c, gin.H{"lastReadMessageId": p.LastReadMessageID})
}

func msgIndex(msgs []model.Message, id string) int {
	if id == "" {
		return -1
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) setMuted(muted bool) gin.HandlerFunc {
	return s.participantPatch(func(p *model.Participant) {
		if muted {
			now := time.Now().UTC()
			p.MutedAt = &now
		} else {
			p.MutedAt = nil
		}
	})
}

func (s *Server) setArchived(archived bool) gin.HandlerFunc {
	return s.participantPatch(func(p *model.Participant) {
		if archived {
			now := time.Now().UTC()
			p.ArchivedAt = &now
		} else {
			p.ArchivedAt = nil
		}
	})
}

func (s *Server) participantPatch(apply func(*model.Participant)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		p := s.store.participant(c.Param("id"), userID(c))
		if p == nil {
			fail(c, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		apply(p)
		ok(c, p)
	}
}

func (s *Server) resolveRequest(to model.RequestState) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		convID := c.Param("id")

		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		p := s.store.participant(convID, uid)
		if p == nil {
			fail(c, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if p.RequestState != model.RequestPending {
			fail(c, http.StatusConflict, "bad_state", "request is not pending")
			return
		}
		// both rows settle together
		for _, row := range s.store.parts[convID] {
			row.RequestState = to
		}
		ok(c, p)
	}
}

type blockReq struct {
	BlockedUserID string `json:"blocked_user_id"`
}

func (s *Server) createBlock(c *gin.Context) {
	var req blockReq
	if err := c.ShouldBindJSON(&req); err != nil || req.BlockedUserID == "" {
		fail(c, http.StatusBadRequest, "bad_request", "blocked_user_id required")
		return
	}
	s.store.mu.Lock()
	s.store.blocks = append(s.store.blocks, Block{BlockerID: userID(c), BlockedID: req.BlockedUserID})
	s.store.mu.Unlock()
	ok(c, gin.H{"blocked": true})
}

type reportReq struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

func (s *Server) createReport(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID == "" {
		fail(c, http.StatusBadRequest, "bad_request", "conversation_id required")
		return
	}
	s.store.mu.Lock()
	s.store.reports = append(s.store.reports, Report{
		ReporterID:     userID(c),
		ConversationID: req.ConversationID,
		Reason:         req.Reason,
	})
	s.store.mu.Unlock()
	ok(c, gin.H{"reported": true})
}

func (s *Server) label(pick func(*Store) map[string]string, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.store.mu.Lock()
		val, found := pick(s.store)[c.Param("id")]
		s.store.mu.Unlock()
		if !found {
			fail(c, http.StatusNotFound, "not_found", "no such record")
			return
		}
		ok(c, gin.H{key: val})
	}
}

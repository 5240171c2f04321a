package apistub

import (
	"fmt"
	"sync"
	"time"

	"github.com/splits-network/splits-sub020/module/chat/model"
)

// Store is the stub's in-memory state. It exists to exercise the sync core
// in tests and local dev; it is a fixture, not a database.
type Store struct {
	mu        sync.Mutex
	convs     map[string]*model.Conversation
	parts     map[string]map[string]*model.Participant // conv -> user -> row
	msgs      map[string][]model.Message               // conv -> ascending
	clientIDs map[string]string                        // idempotency token -> message id
	msgSeq    int

	jobs       map[string]string
	companies  map[string]string
	candidates map[string]string

	blocks  []Block
	reports []Report
}

type Block struct {
	BlockerID string
	BlockedID string
}

type Report struct {
	ReporterID     string
	ConversationID string
	Reason         string
}

func NewStore() *Store {
	return &Store{
		convs:      make(map[string]*model.Conversation),
		parts:      make(map[string]map[string]*model.Participant),
		msgs:       make(map[string][]model.Message),
		clientIDs:  make(map[string]string),
		jobs:       make(map[string]string),
		companies:  make(map[string]string),
		candidates: make(map[string]string),
	}
}

// SeedConversation installs a conversation with both participant rows.
func (s *Store) SeedConversation(conv model.Conversation, a, b model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := conv
	s.convs[conv.ID] = &c
	pa, pb := a, b
	pa.ConversationID, pb.ConversationID = conv.ID, conv.ID
	s.parts[conv.ID] = map[string]*model.Participant{
		a.UserID: &pa,
		b.UserID: &pb,
	}
}

func (s *Store) SeedLabels(jobs, companies, candidates map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range jobs {
		s.jobs[k] = v
	}
	for k, v := range companies {
		s.companies[k] = v
	}
	for k, v := range candidates {
		s.candidates[k] = v
	}
}

// AppendMessage adds a server-authored message and bumps conversation and
// unread bookkeeping. at lets tests control creation order.
func (s *Store) AppendMessage(convID, senderID, body string, kind model.MessageKind, at time.Time) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(convID, senderID, body, kind, at)
}

func (s *Store) appendLocked(convID, senderID, body string, kind model.MessageKind, at time.Time) model.Message {
	s.msgSeq++
	b := body
	m := model.Message{
		ID:             fmt.Sprintf("m%06d", s.msgSeq),
		ConversationID: convID,
		SenderID:       senderID,
		Body:           &b,
		Kind:           kind,
		CreatedAt:      at,
	}
	s.msgs[convID] = append(s.msgs[convID], m)

	if conv, ok := s.convs[convID]; ok {
		t := at
		conv.LastMessageAt = &t
	}
	for uid, p := range s.parts[convID] {
		if uid != senderID {
			p.UnreadCount++
		}
	}
	return m
}

func (s *Store) participant(convID, userID string) *model.Participant {
	rows, ok := s.parts[convID]
	if !ok {
		return nil
	}
	return rows[userID]
}

// countBySender counts a user's messages in a conversation; the send gate
// uses it to allow the first message through a pending request.
func (s *Store) countBySender(convID, userID string) int {
	n := 0
	for _, m := range s.msgs[convID] {
		if m.SenderID == userID {
			n++
		}
	}
	return n
}

func (s *Store) Blocks() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

func (s *Store) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.reports))
	copy(out, s.reports)
	return out
}

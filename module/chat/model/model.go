package model

import (
	"strings"
	"time"
)

// Mailbox selects a view over the conversation list. It is a filter, not
// stored state.
type Mailbox string

const (
	MailboxInbox    Mailbox = "inbox"
	MailboxRequests Mailbox = "requests"
	MailboxArchived Mailbox = "archived"
)

// RequestState is the lifecycle of a conversation request for one
// participant. Legal transitions: none -> pending -> accepted | declined.
type RequestState string

const (
	RequestNone     RequestState = "none"
	RequestPending  RequestState = "pending"
	RequestAccepted RequestState = "accepted"
	RequestDeclined RequestState = "declined"
)

// ProfileSnapshot is the denormalized display info for a participant, frozen
// onto the conversation so the list renders without a user lookup.
type ProfileSnapshot struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Conversation is one thread between two users, optionally linked to a
// placement context. Immutable except for LastMessageAt and linkage fields,
// which only server events mutate.
type Conversation struct {
	ID             string `json:"id"`
	ParticipantAID string `json:"participant_a_id"`
	ParticipantBID string `json:"participant_b_id"`

	ApplicationID string `json:"application_id,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	CompanyID     string `json:"company_id,omitempty"`
	CandidateID   string `json:"candidate_id,omitempty"`

	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`

	ParticipantA ProfileSnapshot `json:"participant_a"`
	ParticipantB ProfileSnapshot `json:"participant_b"`
}

// Participant is one user's row for one conversation. The core only ever
// mutates its own row via explicit actions; the counterpart's row is
// read-only context.
type Participant struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`

	MutedAt    *time.Time `json:"muted_at"`
	ArchivedAt *time.Time `json:"archived_at"`

	RequestState RequestState `json:"request_state"`

	LastReadAt        *time.Time `json:"last_read_at"`
	LastReadMessageID string     `json:"last_read_message_id"`
	UnreadCount       int        `json:"unread_count"`
}

func (p *Participant) Archived() bool { return p.ArchivedAt != nil }
func (p *Participant) Muted() bool    { return p.MutedAt != nil }

type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
)

// Message is append-only. Body nil means redacted server-side. Ordering key
// is (CreatedAt, ID); the id breaks creation-time ties stably.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           *string     `json:"body"`
	Kind           MessageKind `json:"kind"`
	CreatedAt      time.Time   `json:"created_at"`
	Flagged        bool        `json:"flagged,omitempty"`
}

// Before reports whether m sorts before other in creation order.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Row is the canonical list unit: a conversation joined with the local
// user's participant row. Every raw shape normalizes into this.
type Row struct {
	Conversation Conversation `json:"conversation"`
	Participant  Participant  `json:"participant"`
}

// CounterpartID returns the other participant's user id relative to userID.
func (r *Row) CounterpartID(userID string) string {
	if r.Conversation.ParticipantAID == userID {
		return r.Conversation.ParticipantBID
	}
	return r.Conversation.ParticipantAID
}

// CounterpartProfile returns the other participant's display snapshot.
func (r *Row) CounterpartProfile(userID string) ProfileSnapshot {
	if r.Conversation.ParticipantAID == userID {
		return r.Conversation.ParticipantB
	}
	return r.Conversation.ParticipantA
}

// MatchesSearch does the client-side substring filter over the counterpart's
// display name and email.
func (r *Row) MatchesSearch(userID, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	p := r.CounterpartProfile(userID)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Email), q)
}

// ContextLabels is the lazily resolved placement context shown next to a
// conversation. Partial results are fine.
type ContextLabels struct {
	JobTitle      string `json:"job_title,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	CandidateName string `json:"candidate_name,omitempty"`
}

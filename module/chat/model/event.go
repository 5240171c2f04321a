package model

// Push event types emitted by the channel gateway. Delivery is
// at-least-once and unordered; only Type is structurally significant, the
// payload is never trusted for correctness. A relevant event means "assume
// stale, refetch", nothing more.
const (
	EventMessageCreated        = "message.created"
	EventMessageUpdated        = "message.updated"
	EventConversationUpdated   = "conversation.updated"
	EventConversationRequested = "conversation.requested"
	EventConversationAccepted  = "conversation.accepted"
	EventConversationDeclined  = "conversation.declined"
	EventReadReceipt           = "read.receipt"
)

// Event is the discriminated push event delivered over a channel.
type Event struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

var refreshTypes = map[string]struct{}{
	EventMessageCreated:        {},
	EventMessageUpdated:        {},
	EventConversationUpdated:   {},
	EventConversationRequested: {},
	EventConversationAccepted:  {},
	EventConversationDeclined:  {},
	EventReadReceipt:           {},
}

// TriggersRefresh reports whether an event type should cause a resync.
// Unknown types are ignored so new server events degrade to no-ops.
func TriggersRefresh(eventType string) bool {
	_, ok := refreshTypes[eventType]
	return ok
}

// UserChannel and ConversationChannel name the gateway channels a client
// subscribes to.
func UserChannel(userID string) string { return "user:" + userID }

func ConversationChannel(convID string) string { return "conv:" + convID }

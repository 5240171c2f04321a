package thread

import (
	"github.com/splits-network/splits-sub020/module/chat/model"
)

// ComposerState gates the reply box. When replying is blocked, Placeholder
// names the reason; the conditions are reported in priority order
// pending > declined > archived.
type ComposerState struct {
	CanReply    bool
	Placeholder string
}

const (
	placeholderPending  = "Waiting for your conversation request to be accepted"
	placeholderDeclined = "This conversation request was declined"
	placeholderArchived = "This conversation is archived"
	placeholderDefault  = "Write a message"
)

func (s *Syncer) ComposerState() ComposerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composerStateLocked()
}

func (s *Syncer) composerStateLocked() ComposerState {
	switch {
	case s.self.RequestState == model.RequestPending:
		return ComposerState{Placeholder: placeholderPending}
	case s.self.RequestState == model.RequestDeclined:
		return ComposerState{Placeholder: placeholderDeclined}
	case s.self.Archived():
		return ComposerState{Placeholder: placeholderArchived}
	default:
		return ComposerState{CanReply: true, Placeholder: placeholderDefault}
	}
}

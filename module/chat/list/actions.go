package list

import (
	"context"

	"github.com/splits-network/splits-sub020/tools/errs"
)

// Explicit per-conversation actions. Each mutates only the local user's
// participant row server-side, then asks the bus for a refresh so every
// surface converges on server truth. Failures surface as action errors;
// nothing is assumed committed locally.

func (s *Syncer) action(name string, err error) error {
	if err != nil {
		if errs.IsNoToken(err) {
			return nil
		}
		return errs.ErrAction.WrapMsg(name, "cause", err)
	}
	s.requestRefresh()
	return nil
}

func (s *Syncer) Mute(ctx context.Context, convID string) error {
	return s.action("mute", s.cfg.API.Mute(ctx, convID))
}

func (s *Syncer) Unmute(ctx context.Context, convID string) error {
	return s.action("unmute", s.cfg.API.Unmute(ctx, convID))
}

func (s *Syncer) Archive(ctx context.Context, convID string) error {
	return s.action("archive", s.cfg.API.Archive(ctx, convID))
}

func (s *Syncer) Unarchive(ctx context.Context, convID string) error {
	return s.action("unarchive", s.cfg.API.Unarchive(ctx, convID))
}

func (s *Syncer) Accept(ctx context.Context, convID string) error {
	return s.action("accept", s.cfg.API.Accept(ctx, convID))
}

func (s *Syncer) Decline(ctx context.Context, convID string) error {
	return s.action("decline", s.cfg.API.Decline(ctx, convID))
}

func (s *Syncer) Block(ctx context.Context, blockedUserID string) error {
	return s.action("block", s.cfg.API.Block(ctx, blockedUserID))
}

func (s *Syncer) Report(ctx context.Context, convID, reason string) error {
	return s.action("report", s.cfg.API.Report(ctx, convID, reason))
}

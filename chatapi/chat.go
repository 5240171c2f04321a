package chatapi

import (
	"context"
	"net/url"
	"strconv"

	"github.com/splits-network/splits-sub020/module/chat/model"
)

// ListConversations fetches the mailbox-scoped list. Rows come back in
// whichever wire shape the server speaks; normalization happens upstream.
func (c *Client) ListConversations(ctx context.Context, mailbox model.Mailbox, limit int) ([]model.RawRow, error) {
	params := url.Values{}
	params.Set("filter", string(mailbox))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var rows []model.RawRow
	if err := c.get(ctx, "/chat/conversations", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ResyncResult is the full replace-style snapshot of an open thread.
type ResyncResult struct {
	Conversation model.Conversation `json:"conversation"`
	Participant  model.Participant  `json:"participant"`
	Messages     []model.Message    `json:"messages"`
}

func (c *Client) Resync(ctx context.Context, convID string) (*ResyncResult, error) {
	var out ResyncResult
	if err := c.get(ctx, "/chat/conversations/"+convID+"/resync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MessagesBefore fetches up to limit messages strictly older than beforeID.
func (c *Client) MessagesBefore(ctx context.Context, convID, beforeID string, limit int) ([]model.Message, error) {
	params := url.Values{}
	params.Set("before", beforeID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var msgs []model.Message
	if err := c.get(ctx, "/chat/conversations/"+convID+"/messages", params, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a message with a client-generated idempotency token so a
// retried call cannot double-post.
func (c *Client) SendMessage(ctx context.Context, convID, body, clientMessageID string) error {
	req := map[string]string{"body": body, "clientMessageId": clientMessageID}
	return c.post(ctx, "/chat/conversations/"+convID+"/messages", req, nil)
}

// MarkRead advances the read receipt. The server treats it as a max, so a
// stale call can never regress the cursor.
func (c *Client) MarkRead(ctx context.Context, convID, lastReadMessageID string) error {
	req := map[string]string{"lastReadMessageId": lastReadMessageID}
	return c.post(ctx, "/chat/conversations/"+convID+"/read-receipt", req, nil)
}

func (c *Client) Mute(ctx context.Context, convID string) error {
	return c.post(ctx, "/chat/conversations/"+convID+"/mute", nil, nil)
}

func (c *Client) Unmute(ctx context.Context, convID string) error {
	return c.delete(ctx, "/chat/conversations/"+convID+"/mute")
}

func (c *Client) Archive(ctx context.Context, convID string) error {
	return c.post(ctx, "/chat/conversations/"+convID+"/archive", nil, nil)
}

func (c *Client) Unarchive(ctx context.Context, convID string) error {
	return c.delete(ctx, "/chat/conversations/"+convID+"/archive")
}

func (c *Client) Accept(ctx context.Context, convID string) error {
	return c.post(ctx, "/chat/conversations/"+convID+"/accept", nil, nil)
}

func (c *Client) Decline(ctx context.Context, convID string) error {
	return c.post(ctx, "/chat/conversations/"+convID+"/decline", nil, nil)
}

func (c *Client) Block(ctx context.Context, blockedUserID string) error {
	return c.post(ctx, "/chat/blocks", map[string]string{"blocked_user_id": blockedUserID}, nil)
}

func (c *Client) Report(ctx context.Context, convID, reason string) error {
	req := map[string]string{"conversation_id": convID, "reason": reason}
	return c.post(ctx, "/chat/reports", req, nil)
}

// Context enrichment lookups. Each resolves one foreign id to a display
// label; callers isolate per-id failures.

func (c *Client) JobTitle(ctx context.Context, jobID string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := c.get(ctx, "/jobs/"+jobID, nil, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

func (c *Client) CompanyName(ctx context.Context, companyID string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/companies/"+companyID, nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

func (c *Client) CandidateName(ctx context.Context, candidateID string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/candidates/"+candidateID, nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

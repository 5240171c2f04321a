package model

import (
	"encoding/json"
	"time"

	"github.com/splits-network/splits-sub020/tools/decode"
	"github.com/splits-network/splits-sub020/tools/errs"
)

// The list endpoint returns rows in one of two shapes: the current joined
// shape ({"conversation": {...}, "participant": {...}}) and a flat legacy
// shape with every column at the top level. Both normalize into exactly one
// Row; a row that fits neither shape fails the whole fetch rather than being
// silently dropped.

type RowShape int

const (
	ShapeJoined RowShape = iota
	ShapeFlat
)

// RawRow is the tagged union of the two supported wire shapes.
type RawRow struct {
	Shape  RowShape
	joined *Row
	flat   map[string]any
}

// JoinedRaw builds the joined variant. Used by tests and the stub server.
func JoinedRaw(row Row) RawRow {
	r := row
	return RawRow{Shape: ShapeJoined, joined: &r}
}

// FlatRaw builds the legacy flat variant.
func FlatRaw(fields map[string]any) RawRow {
	return RawRow{Shape: ShapeFlat, flat: fields}
}

func (r *RawRow) UnmarshalJSON(b []byte) error {
	var probe map[string]any
	if err := json.Unmarshal(b, &probe); err != nil {
		return errs.ErrBadRow.WrapMsg("row not an object", "err", err)
	}
	if _, ok := probe["conversation"].(map[string]any); ok {
		var row Row
		if err := json.Unmarshal(b, &row); err != nil {
			return errs.ErrBadRow.WrapMsg("joined row decode", "err", err)
		}
		*r = RawRow{Shape: ShapeJoined, joined: &row}
		return nil
	}
	*r = RawRow{Shape: ShapeFlat, flat: probe}
	return nil
}

// flatRow mirrors the legacy columns. Times travel as RFC3339 strings and
// counters sometimes as numeric strings; tools/decode handles the coercion.
type flatRow struct {
	ConversationID string `json:"conversation_id"`
	ParticipantAID string `json:"participant_a_id"`
	ParticipantBID string `json:"participant_b_id"`

	ApplicationID string `json:"application_id"`
	JobID         string `json:"job_id"`
	CompanyID     string `json:"company_id"`
	CandidateID   string `json:"candidate_id"`

	LastMessageAt string `json:"last_message_at"`
	CreatedAt     string `json:"created_at"`

	ParticipantAName  string `json:"participant_a_name"`
	ParticipantAEmail string `json:"participant_a_email"`
	ParticipantBName  string `json:"participant_b_name"`
	ParticipantBEmail string `json:"participant_b_email"`

	MutedAt           string `json:"muted_at"`
	ArchivedAt        string `json:"archived_at"`
	RequestState      string `json:"request_state"`
	LastReadAt        string `json:"last_read_at"`
	LastReadMessageID string `json:"last_read_message_id"`
	UnreadCount       int    `json:"unread_count"`
}

// Normalize converts either variant into the canonical Row for localUserID.
// It is total: every input either yields a well-formed row or an ErrBadRow.
func (r RawRow) Normalize(localUserID string) (Row, error) {
	switch r.Shape {
	case ShapeJoined:
		return normalizeJoined(r.joined, localUserID)
	case ShapeFlat:
		return normalizeFlat(r.flat, localUserID)
	default:
		return Row{}, errs.ErrBadRow.WrapMsg("unknown shape", "shape", int(r.Shape))
	}
}

func normalizeJoined(row *Row, localUserID string) (Row, error) {
	if row == nil || row.Conversation.ID == "" {
		return Row{}, errs.ErrBadRow.WrapMsg("joined row missing conversation id")
	}
	out := *row
	if out.Participant.ConversationID == "" {
		out.Participant.ConversationID = out.Conversation.ID
	}
	if out.Participant.UserID == "" {
		out.Participant.UserID = localUserID
	}
	if out.Participant.RequestState == "" {
		out.Participant.RequestState = RequestNone
	}
	return out, nil
}

func normalizeFlat(fields map[string]any, localUserID string) (Row, error) {
	if fields == nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row is nil")
	}
	f, err := decode.Map[flatRow](fields)
	if err != nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row decode", "err", err)
	}
	if f.ConversationID == "" {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row missing conversation_id")
	}

	conv := Conversation{
		ID:             f.ConversationID,
		ParticipantAID: f.ParticipantAID,
		ParticipantBID: f.ParticipantBID,
		ApplicationID:  f.ApplicationID,
		JobID:          f.JobID,
		CompanyID:      f.CompanyID,
		CandidateID:    f.CandidateID,
		ParticipantA:   ProfileSnapshot{Name: f.ParticipantAName, Email: f.ParticipantAEmail},
		ParticipantB:   ProfileSnapshot{Name: f.ParticipantBName, Email: f.ParticipantBEmail},
	}
	if conv.LastMessageAt, err = parseNullableTime(f.LastMessageAt); err != nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row last_message_at", "err", err)
	}
	if t, err := parseNullableTime(f.CreatedAt); err != nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row created_at", "err", err)
	} else if t != nil {
		conv.CreatedAt = *t
	}

	state := RequestState(f.RequestState)
	if state == "" {
		state = RequestNone
	}
	switch state {
	case RequestNone, RequestPending, RequestAccepted, RequestDeclined:
	default:
		return Row{}, errs.ErrBadRow.WrapMsg("flat row request_state", "state", f.RequestState)
	}

	part := Participant{
		ConversationID:    f.ConversationID,
		UserID:            localUserID,
		RequestState:      state,
		LastReadMessageID: f.LastReadMessageID,
		UnreadCount:       f.UnreadCount,
	}
	if part.MutedAt, err = parseNullableTime(f.MutedAt); err != nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row muted_at", "err", err)
	}
	if part.ArchivedAt, err = parseNullableTime(f.ArchivedAt); err != nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row archived_at", "err", err)
	}
	if part.LastReadAt, err = parseNullableTime(f.LastReadAt); err != nil {
		return Row{}, errs.ErrBadRow.WrapMsg("flat row last_read_at", "err", err)
	}

	return Row{Conversation: conv, Participant: part}, nil
}

// NormalizeAll normalizes every raw row or fails loudly on the first bad one.
func NormalizeAll(raws []RawRow, localUserID string) ([]Row, error) {
	rows := make([]Row, 0, len(raws))
	for i, raw := range raws {
		row, err := raw.Normalize(localUserID)
		if err != nil {
			return nil, errs.ErrBadRow.WrapMsg("row rejected", "index", i, "cause", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseNullableTime(s string) (*time.Time, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

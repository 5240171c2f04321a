package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/splits-network/splits-sub020/tools/errs"
)

const localUser = "u-local"

func TestJoinedShapeNormalizes(t *testing.T) {
	payload := `[{
		"conversation": {
			"id": "c1",
			"participant_a_id": "u-local",
			"participant_b_id": "u-other",
			"last_message_at": "2026-08-01T10:00:00Z",
			"participant_b": {"name": "Dana Reyes", "email": "dana@example.com"}
		},
		"participant": {
			"conversation_id": "c1",
			"user_id": "u-local",
			"request_state": "accepted",
			"unread_count": 3
		}
	}]`

	var raws []RawRow
	if err := json.Unmarshal([]byte(payload), &raws); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raws[0].Shape != ShapeJoined {
		t.Fatalf("shape = %v, want joined", raws[0].Shape)
	}

	rows, err := NormalizeAll(raws, localUser)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	r := rows[0]
	if r.Conversation.ID != "c1" || r.Participant.UnreadCount != 3 {
		t.Fatalf("row = %+v", r)
	}
	if r.CounterpartID(localUser) != "u-other" {
		t.Fatalf("counterpart = %s", r.CounterpartID(localUser))
	}
}

func TestFlatLegacyShapeNormalizes(t *testing.T) {
	// legacy rows carry times as strings and counters as numeric strings
	payload := `[{
		"conversation_id": "c2",
		"participant_a_id": "u-other",
		"participant_b_id": "u-local",
		"last_message_at": "2026-08-02T09:30:00Z",
		"participant_a_name": "Avery Kim",
		"participant_a_email": "avery@example.com",
		"request_state": "pending",
		"unread_count": "7",
		"last_read_message_id": "m000004"
	}]`

	var raws []RawRow
	if err := json.Unmarshal([]byte(payload), &raws); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raws[0].Shape != ShapeFlat {
		t.Fatalf("shape = %v, want flat", raws[0].Shape)
	}

	rows, err := NormalizeAll(raws, localUser)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	r := rows[0]
	if r.Conversation.ID != "c2" {
		t.Fatalf("conversation id = %q", r.Conversation.ID)
	}
	if r.Participant.UserID != localUser {
		t.Fatalf("participant user = %q, want local user", r.Participant.UserID)
	}
	if r.Participant.RequestState != RequestPending {
		t.Fatalf("request state = %q", r.Participant.RequestState)
	}
	if r.Participant.UnreadCount != 7 {
		t.Fatalf("unread = %d, want 7 (string-coerced)", r.Participant.UnreadCount)
	}
	want := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	if r.Conversation.LastMessageAt == nil || !r.Conversation.LastMessageAt.Equal(want) {
		t.Fatalf("last_message_at = %v", r.Conversation.LastMessageAt)
	}
	if r.CounterpartProfile(localUser).Name != "Avery Kim" {
		t.Fatalf("counterpart profile = %+v", r.CounterpartProfile(localUser))
	}
}

func TestNormalizationIsTotal(t *testing.T) {
	cases := map[string]string{
		"missing conversation id": `[{"participant_a_id": "x"}]`,
		"bad request state":       `[{"conversation_id": "c9", "request_state": "maybe"}]`,
		"bad timestamp":           `[{"conversation_id": "c9", "last_message_at": "yesterday"}]`,
	}
	for name, payload := range cases {
		var raws []RawRow
		if err := json.Unmarshal([]byte(payload), &raws); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		_, err := NormalizeAll(raws, localUser)
		if err == nil {
			t.Errorf("%s: want loud failure, got rows", name)
			continue
		}
		if !errors.Is(err, errs.ErrBadRow) {
			t.Errorf("%s: error %v is not ErrBadRow", name, err)
		}
	}
}

func TestNormalizeNeverDropsRows(t *testing.T) {
	payload := `[
		{"conversation_id": "c1"},
		{"conversation_id": "c2"},
		{"conversation_id": "c3"}
	]`
	var raws []RawRow
	if err := json.Unmarshal([]byte(payload), &raws); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rows, err := NormalizeAll(raws, localUser)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(rows) != len(raws) {
		t.Fatalf("got %d rows from %d raw rows", len(rows), len(raws))
	}
}

func TestVariantConstructors(t *testing.T) {
	now := time.Now().UTC()
	joined := JoinedRaw(Row{
		Conversation: Conversation{ID: "c5", LastMessageAt: &now},
		Participant:  Participant{UserID: localUser},
	})
	row, err := joined.Normalize(localUser)
	if err != nil {
		t.Fatalf("joined: %v", err)
	}
	if row.Participant.ConversationID != "c5" {
		t.Fatalf("joined backfill conversation id = %q", row.Participant.ConversationID)
	}
	if row.Participant.RequestState != RequestNone {
		t.Fatalf("joined default request state = %q", row.Participant.RequestState)
	}

	flat := FlatRaw(map[string]any{"conversation_id": "c6", "unread_count": 2})
	row, err = flat.Normalize(localUser)
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	if row.Conversation.ID != "c6" || row.Participant.UnreadCount != 2 {
		t.Fatalf("flat row = %+v", row)
	}
}

func TestMessageOrderingKey(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := Message{ID: "m2", CreatedAt: t0}
	b := Message{ID: "m1", CreatedAt: t0}
	c := Message{ID: "m0", CreatedAt: t0.Add(time.Second)}

	if !b.Before(&a) {
		t.Errorf("equal timestamps must tie-break on id")
	}
	if !a.Before(&c) || !b.Before(&c) {
		t.Errorf("creation time dominates id")
	}
}

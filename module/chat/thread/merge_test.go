package thread

import (
	"fmt"
	"testing"
	"time"

	"github.com/splits-network/splits-sub020/module/chat/model"
)

func mkMsgs(base time.Time, ids ...int) []model.Message {
	out := make([]model.Message, 0, len(ids))
	for _, n := range ids {
		body := fmt.Sprintf("msg %d", n)
		out = append(out, model.Message{
			ID:        fmt.Sprintf("m%06d", n),
			Body:      &body,
			Kind:      model.MessageKindUser,
			CreatedAt: base.Add(time.Duration(n) * time.Second),
		})
	}
	return out
}

func assertAscending(t *testing.T, msgs []model.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Before(&msgs[i-1]) {
			t.Fatalf("ordering violated at %d: %s after %s", i, msgs[i-1].ID, msgs[i].ID)
		}
	}
}

func assertNoDupes(t *testing.T, msgs []model.Message) {
	t.Helper()
	seen := map[string]struct{}{}
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
}

func TestMergeOlderPrepends(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	held := mkMsgs(base, 10, 11, 12)
	page := mkMsgs(base, 7, 8, 9)

	merged, n, ok := mergeOlder(held, page, "m000010")
	if !ok {
		t.Fatalf("merge rejected")
	}
	if n != 3 || len(merged) != 6 {
		t.Fatalf("prepended %d, len %d", n, len(merged))
	}
	assertAscending(t, merged)
	assertNoDupes(t, merged)
	if merged[0].ID != "m000007" {
		t.Fatalf("oldest after merge = %s", merged[0].ID)
	}
}

func TestMergeOlderDiscardsOnMovedCursor(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	held := mkMsgs(base, 5, 6, 7) // window already extended past m10
	page := mkMsgs(base, 8, 9)

	merged, n, ok := mergeOlder(held, page, "m000010")
	if ok {
		t.Fatalf("merge against a moved window must be discarded")
	}
	if n != 0 || len(merged) != 3 {
		t.Fatalf("discard must leave the window untouched, got %d msgs", len(merged))
	}
}

func TestMergeOlderDeduplicates(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	held := mkMsgs(base, 10, 11)
	// server raced: page overlaps the held window
	page := mkMsgs(base, 8, 9, 10, 11)

	merged, n, ok := mergeOlder(held, page, "m000010")
	if !ok {
		t.Fatalf("merge rejected")
	}
	if n != 2 {
		t.Fatalf("prepended %d, want 2 after dedupe", n)
	}
	assertNoDupes(t, merged)
	assertAscending(t, merged)
}

func TestMergeOlderIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	held := mkMsgs(base, 10, 11, 12)
	page := mkMsgs(base, 7, 8, 9)

	once, n1, _ := mergeOlder(held, page, "m000010")
	// replaying the same page against the merged window: cursor moved
	again, n2, ok := mergeOlder(once, page, "m000010")
	if ok || n2 != 0 {
		t.Fatalf("replayed page merged (n=%d)", n2)
	}
	if len(again) != len(held)+n1 {
		t.Fatalf("window changed on replay")
	}
}

func TestMergeOlderEmptyPage(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	held := mkMsgs(base, 10)

	merged, n, ok := mergeOlder(held, nil, "m000010")
	if !ok || n != 0 || len(merged) != 1 {
		t.Fatalf("empty page: ok=%v n=%d len=%d", ok, n, len(merged))
	}
}

func TestSortMessagesTieBreak(t *testing.T) {
	at := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "b", CreatedAt: at},
		{ID: "a", CreatedAt: at},
		{ID: "c", CreatedAt: at.Add(-time.Second)},
	}
	sortMessages(msgs)
	if msgs[0].ID != "c" || msgs[1].ID != "a" || msgs[2].ID != "b" {
		t.Fatalf("order = %s %s %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

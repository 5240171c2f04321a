package thread

import (
	"sort"

	"github.com/splits-network/splits-sub020/module/chat/model"
)

// sortMessages orders ascending by (created_at, id). Stable tie-break on id
// keeps merges deterministic under equal timestamps.
func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(&msgs[j])
	})
}

// dedupeSorted drops repeated ids from a sorted-or-not slice, keeping the
// first occurrence. Returns a fresh slice.
func dedupeSorted(msgs []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// mergeOlder merges a backward-pagination page into the held window.
//
// cursor is the oldest held id at the time the page was requested. If the
// window has moved since (a racing loadOlder or resync), the page is
// discarded rather than merged against the wrong boundary. The page is
// de-duplicated against held ids, sorted, and prepended; the result keeps
// the ascending ordering invariant and contains no repeated id.
func mergeOlder(held []model.Message, page []model.Message, cursor string) (merged []model.Message, prepended int, ok bool) {
	if len(held) == 0 || held[0].ID != cursor {
		return held, 0, false
	}

	heldIDs := make(map[string]struct{}, len(held))
	for _, m := range held {
		heldIDs[m.ID] = struct{}{}
	}

	fresh := make([]model.Message, 0, len(page))
	for _, m := range page {
		if _, dup := heldIDs[m.ID]; dup {
			continue
		}
		heldIDs[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return held, 0, true
	}
	sortMessages(fresh)

	merged = make([]model.Message, 0, len(fresh)+len(held))
	merged = append(merged, fresh...)
	merged = append(merged, held...)
	return merged, len(fresh), true
}

// newestID returns the last message id in an ascending window, or "".
func newestID(msgs []model.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}

// indexOf returns the position of id in the window, or -1.
func indexOf(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

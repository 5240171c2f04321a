package thread

// ScrollPlan tells the view what to do with the viewport after an update.
// The core never measures pixels; it only decides policy:
//
//   - StickBottom: snap to the newest message (first render of an opened
//     thread, or new content while the reader was near the bottom).
//   - PreserveAnchor + PrependedCount: pagination inserted PrependedCount
//     messages above the window; offset the scroll position by exactly the
//     height they add so the reader's viewport does not jump.
//   - ShowJumpToLatest: new content arrived while scrolled up; leave the
//     viewport alone and offer a jump affordance.
type ScrollPlan struct {
	StickBottom      bool
	PreserveAnchor   bool
	PrependedCount   int
	ShowJumpToLatest bool
}

func (p ScrollPlan) Zero() bool {
	return p == ScrollPlan{}
}

// TakeScrollPlan hands the pending plan to the view and resets it. Plans
// accumulate between takes (two pagination merges sum their counts).
func (s *Syncer) TakeScrollPlan() ScrollPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.plan
	s.plan = ScrollPlan{}
	return p
}

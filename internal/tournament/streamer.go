package tournament

import (
	"context"
	"fmt"

	"bracket-engine/internal/chat"
)

// Streamer owns an ordered queue of set numbers to broadcast. Entries may
// reference matches that do not exist locally yet; those are upgraded once
// the reconciler materialises them. Only the current set plays, everything
// behind it is parked ON_HOLD.
type Streamer struct {
	OwnerID   string
	OwnerName string
	Channel   string // the streamer's own chat channel
	RoomID    string
	RoomCode  string

	// RespectOrder makes the queue strict: a not-yet-materialised head
	// blocks instead of being skipped.
	RespectOrder bool

	Sets       []int
	CurrentSet int // derived each tick, 0 when nothing is up
}

func (t *Tournament) streamerByOwner(ownerID string) (*Streamer, bool) {
	for _, s := range t.Streamers {
		if s.OwnerID == ownerID {
			return s, true
		}
	}
	return nil, false
}

// streamerBySet finds the streamer whose queue contains the set.
func (t *Tournament) streamerBySet(set int) (*Streamer, bool) {
	for _, s := range t.Streamers {
		for _, qs := range s.Sets {
			if qs == set {
				return s, true
			}
		}
	}
	return nil, false
}

func (s *Streamer) queued(set int) bool {
	for _, qs := range s.Sets {
		if qs == set {
			return true
		}
	}
	return false
}

func (s *Streamer) indexOf(set int) int {
	for i, qs := range s.Sets {
		if qs == set {
			return i
		}
	}
	return -1
}

// addStreamer registers a streamer queue on the tournament.
func (t *Tournament) addStreamer(owner chat.UserRef, channel string) (*Streamer, error) {
	if _, ok := t.streamerByOwner(owner.ID); ok {
		return nil, ErrStreamerExists
	}
	s := &Streamer{OwnerID: owner.ID, OwnerName: owner.Name, Channel: channel}
	t.Streamers = append(t.Streamers, s)
	return s, nil
}

// checkQueueIntegrity validates requested sets against every queue: no
// duplicates, no sets claimed elsewhere, no finished sets.
func (t *Tournament) checkQueueIntegrity(s *Streamer, sets []int) error {
	seen := map[int]bool{}
	for _, set := range sets {
		if seen[set] || s.queued(set) {
			return fmt.Errorf("set %d: %w", set, ErrSetAlreadyQueued)
		}
		seen[set] = true
		if other, ok := t.streamerBySet(set); ok && other != s {
			return fmt.Errorf("set %d: %w", set, ErrSetClaimedByOther)
		}
		if m, ok := t.matchBySet(set); ok {
			if m.Phase == MatchPhaseDone {
				return fmt.Errorf("set %d: %w", set, ErrSetAlreadyPlayed)
			}
			if m.StreamerID != "" && m.StreamerID != s.OwnerID {
				return fmt.Errorf("set %d: %w", set, ErrSetClaimedByOther)
			}
		}
	}
	return nil
}

// queueSets appends sets to the streamer queue after validation, claims the
// matches that already exist and parks any that jumped the new head.
func (t *Tournament) queueSets(ctx context.Context, s *Streamer, sets []int) error {
	if err := t.checkQueueIntegrity(s, sets); err != nil {
		return err
	}
	s.Sets = append(s.Sets, sets...)
	return t.updateStreamList(ctx, s)
}

// swapSets exchanges two queued entries.
func (t *Tournament) swapSets(ctx context.Context, s *Streamer, a, b int) error {
	ia, ib := s.indexOf(a), s.indexOf(b)
	if ia < 0 {
		return fmt.Errorf("set %d: %w", a, ErrSetNotQueued)
	}
	if ib < 0 {
		return fmt.Errorf("set %d: %w", b, ErrSetNotQueued)
	}
	s.Sets[ia], s.Sets[ib] = s.Sets[ib], s.Sets[ia]
	return t.updateStreamList(ctx, s)
}

// insertSet moves src in front of before.
func (t *Tournament) insertSet(ctx context.Context, s *Streamer, src, before int) error {
	if s.indexOf(src) < 0 {
		return fmt.Errorf("set %d: %w", src, ErrSetNotQueued)
	}
	if s.indexOf(before) < 0 {
		return fmt.Errorf("set %d: %w", before, ErrSetNotQueued)
	}

	out := make([]int, 0, len(s.Sets))
	for _, set := range s.Sets {
		if set == src {
			continue
		}
		if set == before {
			out = append(out, src)
		}
		out = append(out, set)
	}
	s.Sets = out
	return t.updateStreamList(ctx, s)
}

// removeSets drops entries from the queue. Claimed matches resume.
func (t *Tournament) removeSets(ctx context.Context, s *Streamer, sets []int) error {
	for _, set := range sets {
		if s.indexOf(set) < 0 {
			return fmt.Errorf("set %d: %w", set, ErrSetNotQueued)
		}
	}
	for _, set := range sets {
		i := s.indexOf(set)
		s.Sets = append(s.Sets[:i], s.Sets[i+1:]...)
		if m, ok := t.matchBySet(set); ok && m.StreamerID == s.OwnerID {
			if err := t.cancelStream(ctx, m); err != nil {
				return err
			}
		}
	}
	return t.updateStreamList(ctx, s)
}

// endStreamer cancels every claimed match and removes the queue.
func (t *Tournament) endStreamer(ctx context.Context, s *Streamer) error {
	for _, set := range s.Sets {
		if m, ok := t.matchBySet(set); ok && m.StreamerID == s.OwnerID {
			if err := t.cancelStream(ctx, m); err != nil {
				return err
			}
		}
	}
	for i, other := range t.Streamers {
		if other == s {
			t.Streamers = append(t.Streamers[:i], t.Streamers[i+1:]...)
			break
		}
	}
	return nil
}

// updateStreamList runs once per tick and after every queue mutation:
// claims newly materialised sets, advances the current set past finished
// matches and parks live matches that lost the head spot.
func (t *Tournament) updateStreamList(ctx context.Context, s *Streamer) error {
	// Upgrade placeholders whose match now exists. Claiming disables the
	// AFK check for good, and fresh matches wait in ON_HOLD for their
	// turn on stream.
	for _, set := range s.Sets {
		m, ok := t.matchBySet(set)
		if !ok || m.Phase == MatchPhaseDone {
			continue
		}
		if m.StreamerID == "" {
			m.StreamerID = s.OwnerID
			m.CheckedDQ = true
		}
		if m.Phase == MatchPhasePending {
			m.Phase = MatchPhaseOnHold
		}
	}

	// The current set is the first queued entry with a live claim. With
	// RespectOrder a missing match blocks the queue instead.
	current := 0
	currentIdx := -1
	for i, set := range s.Sets {
		m, ok := t.matchBySet(set)
		if !ok {
			if s.RespectOrder {
				break
			}
			continue
		}
		if m.Phase == MatchPhaseDone {
			continue
		}
		current = set
		currentIdx = i
		break
	}
	s.CurrentSet = current

	// Finished matches stay queued only until the head moves past them.
	kept := s.Sets[:0]
	for i, set := range s.Sets {
		if m, ok := t.matchBySet(set); ok && m.Phase == MatchPhaseDone {
			if currentIdx == -1 || i < currentIdx {
				continue
			}
		}
		kept = append(kept, set)
	}
	s.Sets = kept

	// Anything live that is not the head gets parked.
	for _, set := range s.Sets {
		if set == current {
			continue
		}
		if m, ok := t.matchBySet(set); ok && m.StreamerID == s.OwnerID && m.Phase == MatchPhaseOngoing {
			if err := t.holdForStream(ctx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

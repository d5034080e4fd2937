package tournament

import (
	"context"
	"fmt"
	"log"
	"sort"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

// Tick runs one loop pass: scheduler first, then — once the bracket is
// live — the reconciliation passes in their fixed order. The queued
// notifications and the state save happen even when a pass fails.
func (t *Tournament) Tick(ctx context.Context) error {
	if !t.lk.lockTimeout(t.lockWait) {
		return ErrLoopTimeout
	}
	defer t.lk.unlock()

	err := t.tick(ctx)
	t.flushNotifications(ctx)
	if serr := t.save(); serr != nil {
		log.Printf("[STATE] %s: %v", t.Name, serr)
		if err == nil {
			err = serr
		}
	}
	return err
}

func (t *Tournament) tick(ctx context.Context) error {
	if t.Phase == PhaseDone {
		return nil
	}
	if err := t.runScheduler(ctx); err != nil {
		return err
	}
	if t.Phase != PhaseOngoing {
		return nil
	}

	if err := t.refreshParticipants(ctx); err != nil {
		return err
	}
	if err := t.refreshMatches(ctx); err != nil {
		return err
	}
	for _, s := range t.Streamers {
		if err := t.updateStreamList(ctx, s); err != nil {
			return err
		}
	}
	if err := t.launchPass(ctx); err != nil {
		return err
	}
	if err := t.timeoutPass(ctx); err != nil {
		return err
	}
	t.overtimePass()
	if err := t.streamPass(ctx); err != nil {
		return err
	}
	t.announceBracketChanges()
	return nil
}

// refreshParticipants mirrors the remote roster: deactivated or vanished
// entries drop their local participant, new active entries are adopted
// when a guild member matches the name.
func (t *Tournament) refreshParticipants(ctx context.Context) error {
	remote, err := t.provider.ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	active := map[int64]bool{}
	for _, rp := range remote {
		if rp.Active {
			active[rp.ID] = true
		}
	}

	for i := len(t.Participants) - 1; i >= 0; i-- {
		p := t.Participants[i]
		if p.PlayerID == 0 || active[p.PlayerID] {
			continue
		}
		if err := t.removeParticipant(ctx, p, false); err != nil {
			return err
		}
		t.queueStaff(chat.KindParticipantDropped, map[string]interface{}{
			"player": p.Name,
			"reason": "removed on the bracket",
		})
	}

	for _, rp := range remote {
		if !rp.Active {
			continue
		}
		if _, ok := t.participantByPlayerID(rp.ID); ok {
			continue
		}
		user, found := t.notifier.ResolveUser(ctx, rp.Name)
		if !found {
			if err := t.provider.DestroyParticipant(ctx, rp.ID); err != nil {
				return fmt.Errorf("destroy unmatched participant %s: %w", rp.Name, err)
			}
			t.queueStaff(chat.KindParticipantDropped, map[string]interface{}{
				"player": rp.Name,
				"reason": "no matching guild member",
			})
			continue
		}
		t.Participants = append(t.Participants, &Participant{
			UserID:    user.ID,
			Name:      user.Name,
			PlayerID:  rp.ID,
			CheckedIn: true,
		})
		log.Printf("[RECONCILE] %s: adopted remote participant %s", t.Name, user.Name)
	}
	return nil
}

// refreshMatches diffs local matches against the remote bracket in both
// directions and applies the resulting transitions.
func (t *Tournament) refreshMatches(ctx context.Context) error {
	remote, err := t.provider.ListMatches(ctx)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	byID := map[int64]bracket.MatchInfo{}
	for _, rm := range remote {
		byID[rm.ID] = rm
	}

	// Local view first. Matches whose remote id vanished were reset away
	// and go immediately.
	kept := t.Matches[:0]
	for _, m := range t.Matches {
		rm, ok := byID[m.ID]
		if !ok {
			if m.Phase != MatchPhaseDone {
				t.forceEnd(ctx, m)
				t.noteBracketChange(m.Set)
			}
			t.dropChannel(ctx, m)
			continue
		}
		kept = append(kept, m)

		switch m.Phase {
		case MatchPhaseOngoing, MatchPhaseOnHold:
			switch rm.State {
			case bracket.MatchComplete:
				if err := t.adoptRemoteResult(ctx, m, rm); err != nil {
					return err
				}
				t.noteBracketChange(m.Set)
			case bracket.MatchPending:
				t.forceEnd(ctx, m)
				t.noteBracketChange(m.Set)
			}
		case MatchPhaseDone:
			if rm.State == bracket.MatchOpen {
				if err := t.relaunch(ctx, m); err != nil {
					return err
				}
				t.noteBracketChange(m.Set)
			}
		}
	}
	t.Matches = kept

	// Remote view second: open matches we do not track yet.
	for _, rm := range remote {
		if rm.State != bracket.MatchOpen {
			continue
		}
		if _, ok := t.matchByID(rm.ID); ok {
			continue
		}
		if err := t.adoptRemoteMatch(ctx, rm); err != nil {
			return err
		}
	}
	return nil
}

// adoptRemoteResult applies a score that was set directly on the bracket.
// The provider reports the winner's score first, so the pair is flipped
// into player order before ending the match.
func (t *Tournament) adoptRemoteResult(ctx context.Context, m *Match, rm bracket.MatchInfo) error {
	s1, s2, err := bracket.ParseScores(rm.ScoresCSV)
	if err != nil {
		log.Printf("[RECONCILE] %s: set %d has unreadable scores %q: %v", t.Name, m.Set, rm.ScoresCSV, err)
		t.forceEnd(ctx, m)
		return nil
	}
	if rm.WinnerID != 0 {
		if p, ok := t.participantByPlayerID(rm.WinnerID); ok && p.UserID == m.Player2 {
			s1, s2 = s2, s1
		}
	}
	return t.endMatch(ctx, m, s1, s2, false)
}

// adoptRemoteMatch builds a local match from a remote open one. When one
// side is unknown locally the remote match is scored out in the other
// side's favour instead; with both sides unknown staff has to intervene.
func (t *Tournament) adoptRemoteMatch(ctx context.Context, rm bracket.MatchInfo) error {
	p1, ok1 := t.participantByPlayerID(rm.Player1ID)
	p2, ok2 := t.participantByPlayerID(rm.Player2ID)

	switch {
	case ok1 && ok2:
		m := &Match{
			ID:       rm.ID,
			Round:    rm.Round,
			Set:      rm.Set,
			Player1:  p1.UserID,
			Player2:  p2.UserID,
			Phase:    MatchPhasePending,
			Underway: rm.Underway,
		}
		if m.IsTop8(t.Top8) {
			m.CheckedDQ = true
		}
		p1.MatchSet = m.Set
		p2.MatchSet = m.Set
		t.Matches = append(t.Matches, m)

	case ok1:
		if err := t.provider.UpdateMatch(ctx, rm.ID, bracket.FormatScores(0, -1), p1.PlayerID); err != nil {
			return fmt.Errorf("score out set %d: %w", rm.Set, err)
		}
		t.queueStaff(chat.KindBracketChanged, map[string]interface{}{
			"set":    rm.Set,
			"winner": p1.Name,
			"reason": "opponent no longer in the tournament",
		})
		t.noteBracketChange(rm.Set)

	case ok2:
		if err := t.provider.UpdateMatch(ctx, rm.ID, bracket.FormatScores(-1, 0), p2.PlayerID); err != nil {
			return fmt.Errorf("score out set %d: %w", rm.Set, err)
		}
		t.queueStaff(chat.KindBracketChanged, map[string]interface{}{
			"set":    rm.Set,
			"winner": p2.Name,
			"reason": "opponent no longer in the tournament",
		})
		t.noteBracketChange(rm.Set)

	default:
		t.queueStaff(chat.KindStaffAlert, map[string]interface{}{
			"message": fmt.Sprintf("set %d pairs two unknown players, fix it on the bracket", rm.Set),
		})
	}
	return nil
}

// launchPass brings pending matches up, bounded per tick to keep channel
// churn under control.
func (t *Tournament) launchPass(ctx context.Context) error {
	launched := 0
	for _, m := range t.Matches {
		if launched >= launchPerTick {
			break
		}
		if m.Phase != MatchPhasePending {
			continue
		}
		if err := t.launch(ctx, m); err != nil {
			return err
		}
		launched++
	}
	return nil
}

// timeoutPass evaluates the AFK rule exactly once per match and cleans up
// channels of matches finished a while ago.
func (t *Tournament) timeoutPass(ctx context.Context) error {
	now := t.now()

	if delay := t.settings.delayDuration(); delay > 0 {
		for _, m := range t.Matches {
			if m.Phase != MatchPhaseOngoing || m.CheckedDQ {
				continue
			}
			if m.StartTime.IsZero() || now.Sub(m.StartTime) < delay {
				continue
			}
			m.CheckedDQ = true

			p1, p2 := t.matchPlayers(m)
			silent1 := p1 != nil && !p1.Spoke
			silent2 := p2 != nil && !p2.Spoke
			switch {
			case silent1 && silent2:
				t.forceEnd(ctx, m)
				for _, p := range []*Participant{p1, p2} {
					if err := t.disqualifyParticipant(ctx, p, "no activity in the match channel"); err != nil {
						return err
					}
				}
			case silent1:
				if err := t.disqualifyFromMatch(ctx, m, p1); err != nil {
					return err
				}
			case silent2:
				if err := t.disqualifyFromMatch(ctx, m, p2); err != nil {
					return err
				}
			}
		}
	}

	for _, m := range t.Matches {
		if m.Phase == MatchPhaseDone && m.Channel != "" && !m.EndTime.IsZero() &&
			now.Sub(m.EndTime) >= channelGrace {
			t.dropChannel(ctx, m)
		}
	}
	return nil
}

// overtimePass escalates long running matches that are not on stream:
// first a player-visible warning, later a staff alert.
func (t *Tournament) overtimePass() {
	now := t.now()
	for _, m := range t.Matches {
		if m.Phase != MatchPhaseOngoing || m.StreamerID != "" || m.StartTime.IsZero() {
			continue
		}
		first, second := t.settings.warnFor(m.IsBO5(t.Top8))
		if first <= 0 {
			continue
		}
		elapsed := now.Sub(m.StartTime)

		if m.Warned.None() {
			if elapsed >= first {
				payload := t.matchPayload(m)
				payload["elapsed_minutes"] = int(elapsed.Minutes())
				t.queueChannel(m.Channel, chat.KindOvertimeWarning, payload)
				m.Warned = WarnFirst(now)
			}
			continue
		}
		if at, ok := m.Warned.FirstAt(); ok && second > 0 && !now.Before(at.Add(second)) {
			payload := t.matchPayload(m)
			payload["elapsed_minutes"] = int(elapsed.Minutes())
			t.queueStaff(chat.KindOvertimeWarning, payload)
			m.Warned = WarnStaff()
		}
	}
}

// streamPass starts the stream for every queue head that is parked.
func (t *Tournament) streamPass(ctx context.Context) error {
	for _, s := range t.Streamers {
		if s.CurrentSet == 0 {
			continue
		}
		m, ok := t.matchBySet(s.CurrentSet)
		if !ok || m.StreamerID != s.OwnerID {
			continue
		}
		if m.Phase == MatchPhaseOnHold {
			if err := t.startStream(ctx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tournament) noteBracketChange(set int) {
	for _, s := range t.matchesToAnnounce {
		if s == set {
			return
		}
	}
	t.matchesToAnnounce = append(t.matchesToAnnounce, set)
}

// announceBracketChanges folds every touched set into one announcement.
func (t *Tournament) announceBracketChanges() {
	if len(t.matchesToAnnounce) == 0 {
		return
	}
	sets := t.matchesToAnnounce
	t.matchesToAnnounce = nil
	sort.Ints(sets)
	t.queueAnnounce(chat.KindBracketChanged, map[string]interface{}{
		"tournament": t.Name,
		"sets":       sets,
	})
}

package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
	"bracket-engine/internal/metrics"
)

// MatchPhase is the per-match state, distinct from the tournament phase.
type MatchPhase string

const (
	MatchPhasePending MatchPhase = "pending"
	MatchPhaseOnHold  MatchPhase = "on_hold"
	MatchPhaseOngoing MatchPhase = "ongoing"
	MatchPhaseDone    MatchPhase = "done"
)

type warnKind int

const (
	warnNone warnKind = iota
	warnFirst
	warnStaff
)

// WarnState tracks overtime escalation for one match. It is either empty,
// "first warning sent at t", or "staff alerted".
type WarnState struct {
	kind warnKind
	at   time.Time
}

// WarnFirst records the player-visible warning timestamp.
func WarnFirst(at time.Time) WarnState {
	return WarnState{kind: warnFirst, at: at.UTC()}
}

// WarnStaff records that the staff alert went out.
func WarnStaff() WarnState {
	return WarnState{kind: warnStaff}
}

func (w WarnState) None() bool { return w.kind == warnNone }

// FirstAt returns the first-warning time when that is the current stage.
func (w WarnState) FirstAt() (time.Time, bool) {
	return w.at, w.kind == warnFirst
}

func (w WarnState) StaffSent() bool { return w.kind == warnStaff }

// MarshalJSON encodes the tri-state as null, epoch seconds or true.
func (w WarnState) MarshalJSON() ([]byte, error) {
	switch w.kind {
	case warnFirst:
		return json.Marshal(w.at.Unix())
	case warnStaff:
		return json.Marshal(true)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON restores the tri-state from null, a number or true.
func (w *WarnState) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*w = WarnState{}
		return nil
	}
	if s == "true" {
		*w = WarnStaff()
		return nil
	}
	var epoch int64
	if err := json.Unmarshal(data, &epoch); err != nil {
		return fmt.Errorf("invalid warn state %q", s)
	}
	*w = WarnFirst(time.Unix(epoch, 0))
	return nil
}

// Match is a two player engagement mirrored from the remote bracket.
// Players are referenced by chat user id so reconciler mutations never
// invalidate pointers.
type Match struct {
	ID    int64
	Round int // positive = winners side, negative = losers side
	Set   int // display ordinal, unique per tournament

	Player1 string // chat user id
	Player2 string

	Phase     MatchPhase
	Channel   string // chat channel handle, empty when degraded
	Message   string // intro message handle
	StartTime time.Time
	EndTime   time.Time
	Underway  bool
	CheckedDQ bool
	Warned    WarnState

	StreamerID string // owner id of the claiming streamer

	// Result fields are transient, the remote bracket is the source of truth.
	Score1 int
	Score2 int
	Winner string
}

// IsTop8 reports whether the match sits at or past the top 8 boundary.
func (m *Match) IsTop8(top *Top8) bool {
	if top == nil {
		return false
	}
	if m.Round > 0 {
		return m.Round >= top.Winner
	}
	return m.Round <= top.Loser
}

// IsBO5 reports whether the match is played as best-of-5.
func (m *Match) IsBO5(top *Top8) bool {
	if top == nil {
		return false
	}
	if m.Round > 0 {
		return m.Round >= top.BO5Winner
	}
	return m.Round <= top.BO5Loser
}

// RoundName renders a human readable bracket position.
func (m *Match) RoundName(top *Top8) string {
	if m.Round > 0 {
		if top != nil {
			switch m.Round - top.Winner {
			case 2:
				return "Grand Final"
			case 1:
				return "Winners Final"
			case 0:
				return "Winners Semi-Final"
			}
		}
		return fmt.Sprintf("Winners Round %d", m.Round)
	}
	if top != nil {
		switch top.Loser - m.Round {
		case 2:
			return "Losers Final"
		case 1:
			return "Losers Semi-Final"
		}
	}
	return fmt.Sprintf("Losers Round %d", -m.Round)
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "player"
	}
	return out
}

func (t *Tournament) channelName(m *Match) string {
	p1, p2 := t.matchPlayers(m)
	n1, n2 := "tbd", "tbd"
	if p1 != nil {
		n1 = slug(p1.Name)
	}
	if p2 != nil {
		n2 = slug(p2.Name)
	}
	return fmt.Sprintf("set-%d-%s-vs-%s", m.Set, n1, n2)
}

// matchPayload builds the notification payload shared by match messages.
func (t *Tournament) matchPayload(m *Match) map[string]interface{} {
	p1, p2 := t.matchPlayers(m)
	names := []string{}
	for _, p := range []*Participant{p1, p2} {
		if p != nil {
			names = append(names, p.Name)
		}
	}
	format := "bo3"
	if m.IsBO5(t.Top8) {
		format = "bo5"
	}
	payload := map[string]interface{}{
		"set":        m.Set,
		"round":      m.RoundName(t.Top8),
		"format":     format,
		"players":    names,
		"tournament": t.Name,
	}
	if t.settings.Baninfo != "" {
		payload["baninfo"] = t.settings.Baninfo
	}
	if len(t.settings.Stages) > 0 {
		payload["stages"] = t.settings.Stages
	}
	if len(t.settings.Counterpicks) > 0 {
		payload["counterpicks"] = t.settings.Counterpicks
	}
	return payload
}

// matchPlayers resolves both participant references. Either side can be nil
// after a disqualification.
func (t *Tournament) matchPlayers(m *Match) (*Participant, *Participant) {
	p1, _ := t.participantByUserID(m.Player1)
	p2, _ := t.participantByUserID(m.Player2)
	return p1, p2
}

func (t *Tournament) clearMatchRefs(m *Match) {
	p1, p2 := t.matchPlayers(m)
	for _, p := range []*Participant{p1, p2} {
		if p != nil && p.MatchSet == m.Set {
			p.MatchSet = 0
		}
	}
}

func (t *Tournament) resetSpoke(m *Match) {
	p1, p2 := t.matchPlayers(m)
	for _, p := range []*Participant{p1, p2} {
		if p != nil {
			p.Spoke = false
		}
	}
}

// provisionChannel creates the match channel and posts the intro message.
func (t *Tournament) provisionChannel(ctx context.Context, m *Match) error {
	category, err := t.categoryFor(ctx, m.Round)
	if err != nil {
		return err
	}
	p1, p2 := t.matchPlayers(m)
	users := []chat.UserRef{}
	for _, p := range []*Participant{p1, p2} {
		if p != nil {
			users = append(users, p.UserRef())
		}
	}
	intro := chat.NewNotification(chat.KindMatchStart, t.matchPayload(m))
	channel, message, err := t.notifier.CreateMatchChannel(ctx, category, t.channelName(m), users, intro)
	if err != nil {
		return err
	}
	t.journalNote(noteChannel, chat.UserRef{}, intro)
	m.Channel = channel
	m.Message = message
	t.channelCategory[channel] = category
	t.categoryLoad[category]++
	return nil
}

// dropChannel deletes the match channel, releasing its category slot.
func (t *Tournament) dropChannel(ctx context.Context, m *Match) {
	if m.Channel == "" {
		return
	}
	if err := t.notifier.DeleteChannel(ctx, m.Channel); err != nil {
		log.Printf("[MATCH] Failed to delete channel %s for set %d: %v", m.Channel, m.Set, err)
	}
	if category, ok := t.channelCategory[m.Channel]; ok {
		t.categoryLoad[category]--
		delete(t.channelCategory, m.Channel)
	}
	m.Channel = ""
	m.Message = ""
}

// launch moves a fresh match out of PENDING. With a streamer claim that is
// not yet up, the match parks in ON_HOLD instead of going live.
func (t *Tournament) launch(ctx context.Context, m *Match) error {
	if m.Phase != MatchPhasePending {
		return fmt.Errorf("launch set %d: %w", m.Set, ErrWrongPhase)
	}

	if m.Channel == "" {
		if err := t.provisionChannel(ctx, m); err != nil {
			t.alertDegraded(ctx, fmt.Sprintf("channel creation failed for set %d", m.Set), err)
		}
	}

	if s, ok := t.streamerBySet(m.Set); ok && s.CurrentSet != m.Set {
		m.Phase = MatchPhaseOnHold
		m.StartTime = time.Time{}
		return nil
	}
	return t.goLive(ctx, m)
}

// goLive performs the shared ONGOING entry: start time, spoke reset and the
// remote underway flag.
func (t *Tournament) goLive(ctx context.Context, m *Match) error {
	m.Phase = MatchPhaseOngoing
	m.StartTime = t.now()
	m.Warned = WarnState{}
	t.resetSpoke(m)
	metrics.MatchesLaunched.Inc()

	m.Underway = true
	if err := t.provider.MarkMatchUnderway(ctx, m.ID); err != nil {
		m.Underway = false
		t.alertDegraded(ctx, fmt.Sprintf("could not mark set %d underway", m.Set), err)
	}
	return nil
}

// startStream brings a held streamer match live and shares the room info.
func (t *Tournament) startStream(ctx context.Context, m *Match) error {
	if m.Phase != MatchPhaseOnHold {
		return fmt.Errorf("start stream for set %d: %w", m.Set, ErrWrongPhase)
	}
	if m.Channel == "" {
		if err := t.provisionChannel(ctx, m); err != nil {
			t.alertDegraded(ctx, fmt.Sprintf("channel creation failed for set %d", m.Set), err)
		}
	}
	if err := t.goLive(ctx, m); err != nil {
		return err
	}
	m.CheckedDQ = true

	payload := t.matchPayload(m)
	if s, ok := t.streamerByOwner(m.StreamerID); ok {
		if s.RoomID != "" {
			payload["room_id"] = s.RoomID
		}
		if s.RoomCode != "" {
			payload["room_code"] = s.RoomCode
		}
	}
	t.queueChannel(m.Channel, chat.KindStreamLive, payload)
	return nil
}

// holdForStream parks an ongoing match because the streamer queue put
// another match ahead of it.
func (t *Tournament) holdForStream(ctx context.Context, m *Match) error {
	if m.Phase != MatchPhaseOngoing {
		return fmt.Errorf("hold set %d: %w", m.Set, ErrWrongPhase)
	}
	m.Phase = MatchPhaseOnHold
	m.StartTime = time.Time{}
	m.CheckedDQ = true
	if m.Underway {
		m.Underway = false
		if err := t.provider.UnmarkMatchUnderway(ctx, m.ID); err != nil {
			log.Printf("[MATCH] Failed to unmark set %d underway: %v", m.Set, err)
		}
	}
	t.queueChannel(m.Channel, chat.KindMatchPaused, t.matchPayload(m))
	return nil
}

// cancelStream drops the streamer claim. Held matches resume immediately;
// the AFK check stays disabled once a streamer touched the match.
func (t *Tournament) cancelStream(ctx context.Context, m *Match) error {
	m.StreamerID = ""
	if m.Phase != MatchPhaseOnHold {
		return nil
	}
	return t.goLive(ctx, m)
}

// relaunch revives a match whose remote score was reverted.
func (t *Tournament) relaunch(ctx context.Context, m *Match) error {
	if m.Phase != MatchPhaseDone {
		return fmt.Errorf("relaunch set %d: %w", m.Set, ErrWrongPhase)
	}
	m.EndTime = time.Time{}
	m.Score1, m.Score2, m.Winner = 0, 0, ""
	m.CheckedDQ = true

	p1, p2 := t.matchPlayers(m)
	for _, p := range []*Participant{p1, p2} {
		if p != nil {
			p.MatchSet = m.Set
		}
	}
	if m.Channel == "" {
		if err := t.provisionChannel(ctx, m); err != nil {
			t.alertDegraded(ctx, fmt.Sprintf("channel creation failed for set %d", m.Set), err)
		}
	}
	return t.goLive(ctx, m)
}

// endMatch closes a match with a final score. The winner is the higher
// score, player1 on a tie. upload pushes the result to the provider; it is
// false when the score was read back from the bracket.
func (t *Tournament) endMatch(ctx context.Context, m *Match, s1, s2 int, upload bool) error {
	if m.Phase == MatchPhaseDone {
		return fmt.Errorf("end set %d: %w", m.Set, ErrMatchDone)
	}
	m.Score1, m.Score2 = s1, s2
	winner, loser := m.Player1, m.Player2
	if s2 > s1 {
		winner, loser = m.Player2, m.Player1
	}
	m.Winner = winner
	m.Phase = MatchPhaseDone
	m.EndTime = t.now()
	if m.StartTime.IsZero() {
		m.StartTime = m.EndTime
	}
	m.Underway = false
	t.clearMatchRefs(m)

	if upload {
		if p, ok := t.participantByUserID(winner); ok && p.PlayerID != 0 {
			if err := t.provider.UpdateMatch(ctx, m.ID, bracket.FormatScores(s1, s2), p.PlayerID); err != nil {
				return fmt.Errorf("upload result for set %d: %w", m.Set, err)
			}
		} else {
			log.Printf("[MATCH] Set %d winner %s has no remote id, result not uploaded", m.Set, winner)
		}
	}

	payload := t.matchPayload(m)
	payload["score"] = bracket.FormatScores(s1, s2)
	payload["winner"] = t.displayName(winner)
	payload["loser"] = t.displayName(loser)
	t.queueChannel(m.Channel, chat.KindMatchResult, payload)
	return nil
}

// forceEnd kills a match without a result: bracket reverted the pairing or
// both players were disqualified. The channel goes away immediately.
func (t *Tournament) forceEnd(ctx context.Context, m *Match) {
	p1, p2 := t.matchPlayers(m)

	m.Phase = MatchPhaseDone
	m.EndTime = t.now()
	if m.StartTime.IsZero() {
		m.StartTime = m.EndTime
	}
	m.Underway = false
	t.clearMatchRefs(m)
	t.dropChannel(ctx, m)

	payload := t.matchPayload(m)
	payload["cancelled"] = true
	for _, p := range []*Participant{p1, p2} {
		if p != nil {
			t.queueUser(p.UserRef(), chat.KindMatchResult, payload)
		}
	}
}

// disqualifyFromMatch forfeits the match against p. Works from any phase so
// a vanished player can still be scored out by player id.
func (t *Tournament) disqualifyFromMatch(ctx context.Context, m *Match, p *Participant) error {
	s1, s2 := 0, -1
	if p.UserID == m.Player1 {
		s1, s2 = -1, 0
	} else if p.UserID != m.Player2 {
		return fmt.Errorf("disqualify %s from set %d: %w", p.Name, m.Set, ErrNotInMatch)
	}
	if err := t.endMatch(ctx, m, s1, s2, true); err != nil {
		return err
	}
	metrics.Disqualifications.Inc()
	t.queueChannel(m.Channel, chat.KindDisqualified, map[string]interface{}{
		"set":    m.Set,
		"player": p.Name,
	})
	return nil
}

// Forfeit lets a player concede an ongoing match.
func (t *Tournament) forfeitMatch(ctx context.Context, m *Match, p *Participant) error {
	if m.Phase != MatchPhaseOngoing {
		return fmt.Errorf("forfeit set %d: %w", m.Set, ErrMatchNotOngoing)
	}
	s1, s2 := 0, -1
	if p.UserID == m.Player1 {
		s1, s2 = -1, 0
	} else if p.UserID != m.Player2 {
		return fmt.Errorf("forfeit set %d: %w", m.Set, ErrNotInMatch)
	}
	return t.endMatch(ctx, m, s1, s2, true)
}

package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

const stateVersion = 1

// Instant is a wall-clock point encoded as [epoch_seconds, tz_offset].
// The offset is kept so a restore renders the same local time.
type Instant struct {
	Epoch  int64
	Offset int // seconds east of UTC
}

// InstantOf captures a time with its zone offset.
func InstantOf(at time.Time) Instant {
	_, off := at.Zone()
	return Instant{Epoch: at.Unix(), Offset: off}
}

// Time rebuilds the time in its original zone.
func (i Instant) Time() time.Time {
	return time.Unix(i.Epoch, 0).In(time.FixedZone("", i.Offset))
}

func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{i.Epoch, int64(i.Offset)})
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	var raw [2]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid instant: %w", err)
	}
	i.Epoch = raw[0]
	i.Offset = int(raw[1])
	return nil
}

func epochPtr(at time.Time) *int64 {
	if at.IsZero() {
		return nil
	}
	e := at.Unix()
	return &e
}

func timeOf(p *int64) time.Time {
	if p == nil {
		return time.Time{}
	}
	return time.Unix(*p, 0).UTC()
}

type savedParticipant struct {
	UserID    string `json:"user_id"`
	PlayerID  int64  `json:"player_id"`
	Spoke     bool   `json:"spoke"`
	CheckedIn bool   `json:"checked_in"`
}

type savedMatch struct {
	Round     int        `json:"round"`
	Set       int        `json:"set"`
	ID        int64      `json:"id"`
	Underway  bool       `json:"underway"`
	Player1   string     `json:"player1"`
	Player2   string     `json:"player2"`
	Channel   string     `json:"channel"`
	StartTime *int64     `json:"start_time"`
	EndTime   *int64     `json:"end_time"`
	Phase     MatchPhase `json:"phase"`
	CheckedDQ bool       `json:"checked_dq"`
	Warned    WarnState  `json:"warned"`
	Message   string     `json:"message"`
}

type savedStreamer struct {
	Owner        string `json:"owner"`
	Channel      string `json:"channel"`
	RespectOrder bool   `json:"respect_order"`
	RoomID       string `json:"room_id"`
	RoomCode     string `json:"room_code"`
	Matches      []int  `json:"matches"`
	CurrentMatch int    `json:"current_match"`
}

type savedBoundary struct {
	Top8 int `json:"top8"`
	BO5  int `json:"bo5"`
}

type savedTop8 struct {
	Winner savedBoundary `json:"winner"`
	Loser  savedBoundary `json:"loser"`
}

type savedState struct {
	Version           int                `json:"version"`
	ID                int64              `json:"id"`
	Name              string             `json:"name"`
	Game              string             `json:"game"`
	URL               string             `json:"url"`
	Limit             int                `json:"limit"`
	Status            string             `json:"status"`
	TournamentStart   Instant            `json:"tournament_start"`
	ConfigName        string             `json:"config_name"`
	Phase             Phase              `json:"phase"`
	RegisterPhase     WindowPhase        `json:"register_phase"`
	CheckinPhase      WindowPhase        `json:"checkin_phase"`
	IgnoredEvents     []Event            `json:"ignored_events"`
	Top8              *savedTop8         `json:"top_8"`
	Participants      []savedParticipant `json:"participants"`
	Matches           []savedMatch       `json:"matches"`
	Streamers         []savedStreamer    `json:"streamers"`
	WinnerCategories  []string           `json:"winner_categories"`
	LoserCategories   []string           `json:"loser_categories"`
	CheckinReminders  []Reminder         `json:"checkin_reminders"`
	RegisterMessageID string             `json:"register_message_id"`
}

// MarshalState serializes everything a restore needs. Output is
// deterministic for an unchanged tournament.
func (t *Tournament) MarshalState() ([]byte, error) {
	s := savedState{
		Version:           stateVersion,
		ID:                t.ID,
		Name:              t.Name,
		Game:              t.Game,
		URL:               t.URL,
		Limit:             t.Limit,
		Status:            t.RemoteStatus,
		TournamentStart:   InstantOf(t.StartTime),
		ConfigName:        t.configName,
		Phase:             t.Phase,
		RegisterPhase:     t.Register.Phase,
		CheckinPhase:      t.Checkin.Phase,
		IgnoredEvents:     []Event{},
		Participants:      []savedParticipant{},
		Matches:           []savedMatch{},
		Streamers:         []savedStreamer{},
		WinnerCategories:  append([]string{}, t.WinnerCategories...),
		LoserCategories:   append([]string{}, t.LoserCategories...),
		CheckinReminders:  append([]Reminder{}, t.CheckinReminders...),
		RegisterMessageID: t.RegisterMessageID,
	}

	for ev := range t.IgnoredEvents {
		s.IgnoredEvents = append(s.IgnoredEvents, ev)
	}
	sort.Slice(s.IgnoredEvents, func(i, j int) bool {
		return s.IgnoredEvents[i] < s.IgnoredEvents[j]
	})

	if t.Top8 != nil {
		s.Top8 = &savedTop8{
			Winner: savedBoundary{Top8: t.Top8.Winner, BO5: t.Top8.BO5Winner},
			Loser:  savedBoundary{Top8: t.Top8.Loser, BO5: t.Top8.BO5Loser},
		}
	}
	for _, p := range t.Participants {
		s.Participants = append(s.Participants, savedParticipant{
			UserID:    p.UserID,
			PlayerID:  p.PlayerID,
			Spoke:     p.Spoke,
			CheckedIn: p.CheckedIn,
		})
	}
	for _, m := range t.Matches {
		s.Matches = append(s.Matches, savedMatch{
			Round:     m.Round,
			Set:       m.Set,
			ID:        m.ID,
			Underway:  m.Underway,
			Player1:   m.Player1,
			Player2:   m.Player2,
			Channel:   m.Channel,
			StartTime: epochPtr(m.StartTime),
			EndTime:   epochPtr(m.EndTime),
			Phase:     m.Phase,
			CheckedDQ: m.CheckedDQ,
			Warned:    m.Warned,
			Message:   m.Message,
		})
	}
	for _, st := range t.Streamers {
		s.Streamers = append(s.Streamers, savedStreamer{
			Owner:        st.OwnerID,
			Channel:      st.Channel,
			RespectOrder: st.RespectOrder,
			RoomID:       st.RoomID,
			RoomCode:     st.RoomCode,
			Matches:      append([]int{}, st.Sets...),
			CurrentMatch: st.CurrentSet,
		})
	}
	return json.Marshal(s)
}

// Restore rebuilds a tournament from saved state. Participants are
// re-resolved against the chat directory; anyone who left has their open
// match finalized on the remote in favour of the remaining player.
func Restore(ctx context.Context, guildID string, deps Deps, settings Settings, data []byte) (*Tournament, error) {
	var s savedState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s.Version != stateVersion {
		return nil, fmt.Errorf("state version %d: %w", s.Version, ErrUnknownVersion)
	}

	t := newTournament(guildID, deps, settings, s.ConfigName)
	t.ID = s.ID
	t.Name = s.Name
	t.Game = s.Game
	t.URL = s.URL
	t.Limit = s.Limit
	t.RemoteStatus = s.Status
	t.StartTime = s.TournamentStart.Time()
	t.Phase = s.Phase
	t.RegisterMessageID = s.RegisterMessageID
	t.WinnerCategories = append([]string{}, s.WinnerCategories...)
	t.LoserCategories = append([]string{}, s.LoserCategories...)
	t.CheckinReminders = append([]Reminder{}, s.CheckinReminders...)

	// Window times come from the settings document, only the phases are
	// carried in the state itself.
	t.Register, t.Checkin = deriveWindows(t.StartTime, settings)
	t.Register.Phase = s.RegisterPhase
	t.Checkin.Phase = s.CheckinPhase
	for _, ev := range s.IgnoredEvents {
		t.IgnoredEvents[ev] = true
	}
	if s.Top8 != nil {
		t.Top8 = &Top8{
			Winner:    s.Top8.Winner.Top8,
			BO5Winner: s.Top8.Winner.BO5,
			Loser:     s.Top8.Loser.Top8,
			BO5Loser:  s.Top8.Loser.BO5,
		}
	}

	var lost []savedParticipant
	for _, sp := range s.Participants {
		user, ok := deps.Notifier.ResolveUserByID(ctx, sp.UserID)
		if !ok {
			lost = append(lost, sp)
			continue
		}
		t.Participants = append(t.Participants, &Participant{
			UserID:    sp.UserID,
			Name:      user.Name,
			PlayerID:  sp.PlayerID,
			Spoke:     sp.Spoke,
			CheckedIn: sp.CheckedIn,
		})
	}

	for _, sm := range s.Matches {
		m := &Match{
			Round:     sm.Round,
			Set:       sm.Set,
			ID:        sm.ID,
			Underway:  sm.Underway,
			Player1:   sm.Player1,
			Player2:   sm.Player2,
			Channel:   sm.Channel,
			StartTime: timeOf(sm.StartTime),
			EndTime:   timeOf(sm.EndTime),
			Phase:     sm.Phase,
			CheckedDQ: sm.CheckedDQ,
			Warned:    sm.Warned,
			Message:   sm.Message,
		}
		t.Matches = append(t.Matches, m)
		if m.Phase != MatchPhaseDone {
			p1, p2 := t.matchPlayers(m)
			for _, p := range []*Participant{p1, p2} {
				if p != nil {
					p.MatchSet = m.Set
				}
			}
		}
	}

	for _, ss := range s.Streamers {
		name := ss.Owner
		if user, ok := deps.Notifier.ResolveUserByID(ctx, ss.Owner); ok {
			name = user.Name
		}
		st := &Streamer{
			OwnerID:      ss.Owner,
			OwnerName:    name,
			Channel:      ss.Channel,
			RoomID:       ss.RoomID,
			RoomCode:     ss.RoomCode,
			RespectOrder: ss.RespectOrder,
			Sets:         append([]int{}, ss.Matches...),
			CurrentSet:   ss.CurrentMatch,
		}
		t.Streamers = append(t.Streamers, st)
		for _, set := range st.Sets {
			if m, ok := t.matchBySet(set); ok && m.Phase != MatchPhaseDone {
				m.StreamerID = st.OwnerID
			}
		}
	}

	for _, lp := range lost {
		lerr := &LostParticipantError{UserID: lp.UserID, PlayerID: lp.PlayerID}
		log.Printf("[STATE] %s: %v", t.Name, lerr)
		if err := t.finalizeLostMatches(ctx, lp); err != nil {
			return nil, err
		}
		t.queueStaff(chat.KindParticipantDropped, map[string]interface{}{
			"player": lp.UserID,
			"reason": "left the guild while the tournament was paused",
		})
	}

	// A long pause must not turn into a mass disqualification: anything
	// already over the AFK threshold keeps its players.
	if delay := settings.delayDuration(); delay > 0 {
		now := t.now()
		for _, m := range t.Matches {
			if m.Phase == MatchPhaseOngoing && !m.CheckedDQ &&
				!m.StartTime.IsZero() && now.Sub(m.StartTime) >= delay {
				m.CheckedDQ = true
			}
		}
	}

	log.Printf("[STATE] %s: restored for guild %s (%d participants, %d matches, phase %s)",
		t.Name, guildID, len(t.Participants), len(t.Matches), t.Phase)
	t.flushNotifications(ctx)
	return t, nil
}

// finalizeLostMatches scores out every open match a vanished participant
// was part of, in favour of the remaining player.
func (t *Tournament) finalizeLostMatches(ctx context.Context, lp savedParticipant) error {
	for _, m := range t.Matches {
		if m.Phase == MatchPhaseDone {
			continue
		}
		var s1, s2 int
		var otherID string
		switch lp.UserID {
		case m.Player1:
			s1, s2 = -1, 0
			otherID = m.Player2
		case m.Player2:
			s1, s2 = 0, -1
			otherID = m.Player1
		default:
			continue
		}
		other, ok := t.participantByUserID(otherID)
		if !ok || other.PlayerID == 0 {
			continue
		}
		if err := t.provider.UpdateMatch(ctx, m.ID, bracket.FormatScores(s1, s2), other.PlayerID); err != nil {
			return fmt.Errorf("finalize set %d for %s: %w", m.Set, other.Name, err)
		}
		if err := t.endMatch(ctx, m, s1, s2, false); err != nil {
			return err
		}
	}
	return nil
}

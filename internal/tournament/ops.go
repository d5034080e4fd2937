package tournament

import (
	"context"
	"fmt"
	"log"
	"time"

	"bracket-engine/internal/chat"
)

// withLock serializes a user operation against the loop task, then drains
// queued notifications and persists the state regardless of the outcome.
func (t *Tournament) withLock(ctx context.Context, fn func() error) error {
	t.lk.lock()
	defer t.lk.unlock()
	err := fn()
	t.flushNotifications(ctx)
	if serr := t.save(); serr != nil {
		log.Printf("[STATE] %s: %v", t.Name, serr)
	}
	return err
}

// StartRegistration opens the registration window manually. Reopening a
// window that closed once counts as the second opening.
func (t *Tournament) StartRegistration(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		second := t.Register.Phase == WindowOnHold
		return t.startRegistration(ctx, second)
	})
}

// EndRegistration closes the registration window. Closing an already
// closed window is a no-op.
func (t *Tournament) EndRegistration(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		return t.endRegistration(ctx)
	})
}

// StartCheckin opens the check-in window manually.
func (t *Tournament) StartCheckin(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		return t.startCheckin(ctx)
	})
}

// CallCheckin posts a check-in reminder on demand, optionally DMing every
// participant who has not confirmed yet.
func (t *Tournament) CallCheckin(ctx context.Context, withDM bool) error {
	return t.withLock(ctx, func() error {
		if t.Checkin.Phase != WindowOngoing {
			return fmt.Errorf("call check-in: %w", ErrCheckinClosed)
		}
		return t.callCheckin(ctx, withDM)
	})
}

// EndCheckin closes the check-in window and drops everyone who never
// confirmed.
func (t *Tournament) EndCheckin(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		return t.endCheckin(ctx)
	})
}

// RegisterParticipant adds a user to the roster. notify controls the
// confirmation DM, staff-added entries usually skip it. A manual window never
// closes, so it accepts registrations at any point before the start.
func (t *Tournament) RegisterParticipant(ctx context.Context, user chat.UserRef, notify bool) error {
	return t.withLock(ctx, func() error {
		if t.Phase == PhaseOngoing || t.Phase == PhaseDone {
			return fmt.Errorf("register %s: %w", user.Name, ErrWrongPhase)
		}
		if t.Register.Phase != WindowOngoing && t.Register.Phase != WindowManual {
			return fmt.Errorf("register %s: %w", user.Name, ErrRegistrationClosed)
		}
		return t.registerParticipant(ctx, user, notify)
	})
}

// Unregister removes a user from the roster and from the remote bracket.
func (t *Tournament) Unregister(ctx context.Context, userID string) error {
	return t.withLock(ctx, func() error {
		return t.unregisterParticipant(ctx, userID)
	})
}

// CheckIn confirms a participant during an open check-in window.
func (t *Tournament) CheckIn(ctx context.Context, userID string) error {
	return t.withLock(ctx, func() error {
		return t.checkinParticipant(userID)
	})
}

// Start flips the tournament live once every window is done.
func (t *Tournament) Start(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		return t.startTournament(ctx)
	})
}

// End finalizes the bracket and tears the channels down.
func (t *Tournament) End(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		return t.endTournament(ctx)
	})
}

// ResetBracket wipes all remote results; local matches are force-ended by
// the next reconciliation pass.
func (t *Tournament) ResetBracket(ctx context.Context) error {
	return t.withLock(ctx, func() error {
		return t.resetBracket(ctx)
	})
}

// UploadParticipants pushes the roster to the provider. force reseeds and
// rebuilds the remote list from scratch; otherwise only the missing tail
// is appended.
func (t *Tournament) UploadParticipants(ctx context.Context, force bool) error {
	return t.withLock(ctx, func() error {
		if t.Phase == PhaseOngoing || t.Phase == PhaseDone {
			return fmt.Errorf("upload participants: %w", ErrWrongPhase)
		}
		if force {
			if err := t.seed(ctx); err != nil {
				return err
			}
		}
		return t.uploadParticipants(ctx, force)
	})
}

// ReportScore closes an ongoing match with a final score in player order
// and uploads the result.
func (t *Tournament) ReportScore(ctx context.Context, set, score1, score2 int) error {
	return t.withLock(ctx, func() error {
		m, ok := t.matchBySet(set)
		if !ok {
			return fmt.Errorf("set %d: %w", set, ErrMatchNotFound)
		}
		if m.Phase != MatchPhaseOngoing {
			return fmt.Errorf("set %d: %w", set, ErrMatchNotOngoing)
		}
		return t.endMatch(ctx, m, score1, score2, true)
	})
}

// Forfeit concedes the caller's ongoing match.
func (t *Tournament) Forfeit(ctx context.Context, userID string) error {
	return t.withLock(ctx, func() error {
		p, ok := t.participantByUserID(userID)
		if !ok {
			return ErrNotRegistered
		}
		m, ok := t.matchBySet(p.MatchSet)
		if !ok {
			return fmt.Errorf("forfeit: %w", ErrMatchNotFound)
		}
		return t.forfeitMatch(ctx, m, p)
	})
}

// DisqualifyUser throws a participant out of the tournament entirely.
func (t *Tournament) DisqualifyUser(ctx context.Context, userID, reason string) error {
	return t.withLock(ctx, func() error {
		p, ok := t.participantByUserID(userID)
		if !ok {
			return ErrNotRegistered
		}
		return t.disqualifyParticipant(ctx, p, reason)
	})
}

// MarkSpoke records chat activity for the AFK check. Called for every
// message in a match channel, so it skips the notification and save path.
func (t *Tournament) MarkSpoke(userID string) {
	t.lk.lock()
	defer t.lk.unlock()
	p, ok := t.participantByUserID(userID)
	if !ok || p.MatchSet == 0 {
		return
	}
	if m, ok := t.matchBySet(p.MatchSet); ok && m.Phase == MatchPhaseOngoing {
		p.Spoke = true
	}
}

// AddStreamer registers a streamer queue.
func (t *Tournament) AddStreamer(ctx context.Context, owner chat.UserRef, channel, roomID, roomCode string, respectOrder bool) error {
	return t.withLock(ctx, func() error {
		s, err := t.addStreamer(owner, channel)
		if err != nil {
			return err
		}
		s.RoomID = roomID
		s.RoomCode = roomCode
		s.RespectOrder = respectOrder
		log.Printf("[STREAM] %s: streamer %s added", t.Name, owner.Name)
		return nil
	})
}

// SetStreamRoom updates the room the streamer shares with players.
func (t *Tournament) SetStreamRoom(ctx context.Context, ownerID, roomID, roomCode string) error {
	return t.withLock(ctx, func() error {
		s, ok := t.streamerByOwner(ownerID)
		if !ok {
			return ErrStreamerNotFound
		}
		s.RoomID = roomID
		s.RoomCode = roomCode
		return nil
	})
}

// QueueSets appends sets to a streamer queue.
func (t *Tournament) QueueSets(ctx context.Context, ownerID string, sets []int) error {
	return t.withLock(ctx, func() error {
		s, ok := t.streamerByOwner(ownerID)
		if !ok {
			return ErrStreamerNotFound
		}
		return t.queueSets(ctx, s, sets)
	})
}

// SwapSets exchanges two queued sets.
func (t *Tournament) SwapSets(ctx context.Context, ownerID string, a, b int) error {
	return t.withLock(ctx, func() error {
		s, ok := t.streamerByOwner(ownerID)
		if !ok {
			return ErrStreamerNotFound
		}
		return t.swapSets(ctx, s, a, b)
	})
}

// InsertSet moves a queued set in front of another.
func (t *Tournament) InsertSet(ctx context.Context, ownerID string, src, before int) error {
	return t.withLock(ctx, func() error {
		s, ok := t.streamerByOwner(ownerID)
		if !ok {
			return ErrStreamerNotFound
		}
		return t.insertSet(ctx, s, src, before)
	})
}

// RemoveSets drops sets from a streamer queue, releasing claimed matches.
func (t *Tournament) RemoveSets(ctx context.Context, ownerID string, sets []int) error {
	return t.withLock(ctx, func() error {
		s, ok := t.streamerByOwner(ownerID)
		if !ok {
			return ErrStreamerNotFound
		}
		return t.removeSets(ctx, s, sets)
	})
}

// EndStream releases every match the streamer holds and removes the queue.
func (t *Tournament) EndStream(ctx context.Context, ownerID string) error {
	return t.withLock(ctx, func() error {
		s, ok := t.streamerByOwner(ownerID)
		if !ok {
			return ErrStreamerNotFound
		}
		return t.endStreamer(ctx, s)
	})
}

// ParticipantView is the roster entry exposed to the API layer.
type ParticipantView struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	PlayerID  int64  `json:"player_id,omitempty"`
	CheckedIn bool   `json:"checked_in"`
	Set       int    `json:"set,omitempty"`
}

// MatchView is the match summary exposed to the API layer.
type MatchView struct {
	Set       int        `json:"set"`
	Round     int        `json:"round"`
	RoundName string     `json:"round_name"`
	Players   []string   `json:"players"`
	Phase     MatchPhase `json:"phase"`
	Channel   string     `json:"channel,omitempty"`
	Underway  bool       `json:"underway"`
	Streamer  string     `json:"streamer,omitempty"`
}

// StreamerView is the queue summary exposed to the API layer.
type StreamerView struct {
	OwnerID      string `json:"owner_id"`
	Name         string `json:"name"`
	Channel      string `json:"channel"`
	RespectOrder bool   `json:"respect_order"`
	CurrentSet   int    `json:"current_set"`
	Sets         []int  `json:"sets"`
}

// StatusView is the tournament summary exposed to the API layer.
type StatusView struct {
	GuildID       string      `json:"guild_id"`
	Name          string      `json:"name"`
	Game          string      `json:"game"`
	URL           string      `json:"url"`
	ConfigName    string      `json:"config_name"`
	Phase         Phase       `json:"phase"`
	RegisterPhase WindowPhase `json:"register_phase"`
	CheckinPhase  WindowPhase `json:"checkin_phase"`
	StartTime     time.Time   `json:"start_time"`
	Limit         int         `json:"limit"`
	Participants  int         `json:"participants"`
	CheckedIn     int         `json:"checked_in"`
	OpenMatches   int         `json:"open_matches"`
	DoneMatches   int         `json:"done_matches"`
	Streamers     int         `json:"streamers"`
	TaskErrors    int         `json:"task_errors"`
}

// Status snapshots the tournament for the API layer.
func (t *Tournament) Status() StatusView {
	t.lk.lock()
	defer t.lk.unlock()

	checked := 0
	for _, p := range t.Participants {
		if p.CheckedIn {
			checked++
		}
	}
	open, done := 0, 0
	for _, m := range t.Matches {
		if m.Phase == MatchPhaseDone {
			done++
		} else {
			open++
		}
	}
	return StatusView{
		GuildID:       t.GuildID,
		Name:          t.Name,
		Game:          t.Game,
		URL:           t.URL,
		ConfigName:    t.configName,
		Phase:         t.Phase,
		RegisterPhase: t.Register.Phase,
		CheckinPhase:  t.Checkin.Phase,
		StartTime:     t.StartTime,
		Limit:         t.Limit,
		Participants:  len(t.Participants),
		CheckedIn:     checked,
		OpenMatches:   open,
		DoneMatches:   done,
		Streamers:     len(t.Streamers),
		TaskErrors:    t.ErrorCount(),
	}
}

// Roster lists every participant in seed order.
func (t *Tournament) Roster() []ParticipantView {
	t.lk.lock()
	defer t.lk.unlock()
	out := make([]ParticipantView, 0, len(t.Participants))
	for _, p := range t.Participants {
		out = append(out, ParticipantView{
			UserID:    p.UserID,
			Name:      p.Name,
			PlayerID:  p.PlayerID,
			CheckedIn: p.CheckedIn,
			Set:       p.MatchSet,
		})
	}
	return out
}

// MatchList lists every local match.
func (t *Tournament) MatchList() []MatchView {
	t.lk.lock()
	defer t.lk.unlock()
	out := make([]MatchView, 0, len(t.Matches))
	for _, m := range t.Matches {
		players := []string{}
		p1, p2 := t.matchPlayers(m)
		for _, p := range []*Participant{p1, p2} {
			if p != nil {
				players = append(players, p.Name)
			}
		}
		out = append(out, MatchView{
			Set:       m.Set,
			Round:     m.Round,
			RoundName: m.RoundName(t.Top8),
			Players:   players,
			Phase:     m.Phase,
			Channel:   m.Channel,
			Underway:  m.Underway,
			Streamer:  m.StreamerID,
		})
	}
	return out
}

// StreamerList lists every streamer queue.
func (t *Tournament) StreamerList() []StreamerView {
	t.lk.lock()
	defer t.lk.unlock()
	out := make([]StreamerView, 0, len(t.Streamers))
	for _, s := range t.Streamers {
		sets := make([]int, len(s.Sets))
		copy(sets, s.Sets)
		out = append(out, StreamerView{
			OwnerID:      s.OwnerID,
			Name:         s.OwnerName,
			Channel:      s.Channel,
			RespectOrder: s.RespectOrder,
			CurrentSet:   s.CurrentSet,
			Sets:         sets,
		})
	}
	return out
}

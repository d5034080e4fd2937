package tournament

import (
	"context"
	"fmt"
	"log"

	"bracket-engine/internal/chat"
)

// Participant binds a chat user to a bracket player. Seed order is the
// position in Tournament.Participants.
type Participant struct {
	UserID    string
	Name      string
	PlayerID  int64 // remote id, 0 until uploaded
	CheckedIn bool
	Spoke     bool // talked in the match channel since the match went live
	MatchSet  int  // set number of the materialised match, 0 when free

	elo    int
	ranked bool
}

// UserRef returns the chat reference for notifications and channel grants.
func (p *Participant) UserRef() chat.UserRef {
	return chat.UserRef{ID: p.UserID, Name: p.Name}
}

func (t *Tournament) participantByUserID(id string) (*Participant, bool) {
	if id == "" {
		return nil, false
	}
	for _, p := range t.Participants {
		if p.UserID == id {
			return p, true
		}
	}
	return nil, false
}

func (t *Tournament) participantByPlayerID(id int64) (*Participant, bool) {
	if id == 0 {
		return nil, false
	}
	for _, p := range t.Participants {
		if p.PlayerID == id {
			return p, true
		}
	}
	return nil, false
}

func (t *Tournament) participantByName(name string) (*Participant, bool) {
	for _, p := range t.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

func (t *Tournament) displayName(userID string) string {
	if p, ok := t.participantByUserID(userID); ok {
		return p.Name
	}
	return userID
}

// registerParticipant appends user to the participant list. When the tail
// of the list is already uploaded the new entry goes straight to the
// provider, otherwise it waits for the batch upload at registration close.
func (t *Tournament) registerParticipant(ctx context.Context, user chat.UserRef, sendNotify bool) error {
	if _, ok := t.participantByUserID(user.ID); ok {
		return ErrAlreadyRegistered
	}
	if t.Limit > 0 && len(t.Participants) >= t.Limit {
		return ErrLimitReached
	}

	p := &Participant{UserID: user.ID, Name: user.Name}
	// A late registration after check-in opened does not get a second
	// chance to check in, it is admitted as present.
	if t.Checkin.Phase != WindowPending && t.Checkin.Phase != WindowManual {
		p.CheckedIn = true
	}

	uploaded := len(t.Participants) > 0 && t.Participants[len(t.Participants)-1].PlayerID != 0
	t.Participants = append(t.Participants, p)

	if uploaded {
		id, err := t.provider.CreateParticipant(ctx, p.Name, len(t.Participants))
		if err != nil {
			t.Participants = t.Participants[:len(t.Participants)-1]
			return fmt.Errorf("upload participant %s: %w", p.Name, err)
		}
		p.PlayerID = id
	}

	if sendNotify {
		t.queueUser(user, chat.KindRegistered, map[string]interface{}{
			"tournament": t.Name,
			"seed":       len(t.Participants),
		})
	}
	t.updateRegisterRecord(ctx)

	if t.settings.Registration.Autostop && t.Register.Phase == WindowOngoing &&
		t.Limit > 0 && len(t.Participants) == t.Limit {
		if err := t.endRegistration(ctx); err != nil {
			return fmt.Errorf("autostop registration: %w", err)
		}
	}
	return nil
}

// unregisterParticipant removes a user. An uploaded participant is destroyed
// on the provider; a participant in a live match loses it by forfeit first.
func (t *Tournament) unregisterParticipant(ctx context.Context, userID string) error {
	p, ok := t.participantByUserID(userID)
	if !ok {
		return ErrNotRegistered
	}
	if err := t.removeParticipant(ctx, p, true); err != nil {
		return err
	}
	t.updateRegisterRecord(ctx)
	return nil
}

// removeParticipant is the shared teardown for unregister, check-in misses,
// provider-side drops and disqualifications.
func (t *Tournament) removeParticipant(ctx context.Context, p *Participant, destroyRemote bool) error {
	if p.MatchSet != 0 {
		if m, ok := t.matchBySet(p.MatchSet); ok && m.Phase != MatchPhaseDone {
			if err := t.disqualifyFromMatch(ctx, m, p); err != nil {
				return err
			}
		}
	}
	if destroyRemote && p.PlayerID != 0 {
		if err := t.provider.DestroyParticipant(ctx, p.PlayerID); err != nil {
			return fmt.Errorf("destroy participant %s: %w", p.Name, err)
		}
	}

	for i, other := range t.Participants {
		if other == p {
			t.Participants = append(t.Participants[:i], t.Participants[i+1:]...)
			break
		}
	}
	p.CheckedIn = false
	p.PlayerID = 0
	return nil
}

// disqualifyParticipant throws a player out of the tournament entirely.
func (t *Tournament) disqualifyParticipant(ctx context.Context, p *Participant, reason string) error {
	log.Printf("[TOURNAMENT] %s: disqualifying %s (%s)", t.Name, p.Name, reason)
	if err := t.removeParticipant(ctx, p, true); err != nil {
		return err
	}
	t.queueStaff(chat.KindDisqualified, map[string]interface{}{
		"player": p.Name,
		"reason": reason,
	})
	return nil
}

// checkinParticipant flips the presence flag during an open check-in window.
func (t *Tournament) checkinParticipant(userID string) error {
	if t.Checkin.Phase != WindowOngoing {
		return ErrCheckinClosed
	}
	p, ok := t.participantByUserID(userID)
	if !ok {
		return ErrNotRegistered
	}
	p.CheckedIn = true
	return nil
}

func (t *Tournament) uncheckedParticipants() []*Participant {
	var out []*Participant
	for _, p := range t.Participants {
		if !p.CheckedIn {
			out = append(out, p)
		}
	}
	return out
}

// updateRegisterRecord refreshes the pinned registration announcement with
// the current participant count.
func (t *Tournament) updateRegisterRecord(ctx context.Context) {
	if t.RegisterMessageID == "" {
		return
	}
	n := chat.NewNotification(chat.KindRegistrationOpen, map[string]interface{}{
		"tournament":   t.Name,
		"participants": len(t.Participants),
		"limit":        t.Limit,
	})
	if err := t.notifier.EditAnnouncement(ctx, t.RegisterMessageID, n); err != nil {
		log.Printf("[TOURNAMENT] %s: failed to update registration record: %v", t.Name, err)
	}
}

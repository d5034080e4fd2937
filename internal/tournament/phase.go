package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bracket-engine/internal/chat"
)

// Phase is the tournament level lifecycle.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRegister Phase = "register"
	PhaseAwaiting Phase = "awaiting"
	PhaseOngoing  Phase = "ongoing"
	PhaseDone     Phase = "done"
)

// WindowPhase tracks one gated window (registration or check-in).
// ON_HOLD means closed once but scheduled to reopen.
type WindowPhase string

const (
	WindowManual  WindowPhase = "manual"
	WindowPending WindowPhase = "pending"
	WindowOngoing WindowPhase = "ongoing"
	WindowOnHold  WindowPhase = "on_hold"
	WindowDone    WindowPhase = "done"
)

// Event names the five scheduler triggers.
type Event string

const (
	EventRegisterStart       Event = "register_start"
	EventRegisterSecondStart Event = "register_second_start"
	EventRegisterStop        Event = "register_stop"
	EventCheckinStart        Event = "checkin_start"
	EventCheckinStop         Event = "checkin_stop"
)

// eventOrder fixes the evaluation order inside one tick. When two events
// share a timestamp the earlier entry wins, so a stop scheduled together
// with a start closes the window opened in the same tick.
var eventOrder = [...]Event{
	EventRegisterStart,
	EventCheckinStop,
	EventCheckinStart,
	EventRegisterSecondStart,
	EventRegisterStop,
}

// Window holds the derived times of one gated window. Zero times mean the
// transition is manual.
type Window struct {
	Phase       WindowPhase
	Start       time.Time
	SecondStart time.Time // registration only
	Stop        time.Time
}

// Reminder is one pending check-in call, encoded as [minutes, dm] in the
// saved state.
type Reminder struct {
	MinutesBeforeStop int
	DM                bool
}

func (r Reminder) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{r.MinutesBeforeStop, r.DM})
}

func (r *Reminder) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &r.MinutesBeforeStop); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &r.DM)
}

// deriveWindows computes both windows from the tournament start and the
// settings offsets. A zero offset leaves that side manual.
func deriveWindows(start time.Time, cfg Settings) (Window, Window) {
	register := Window{Phase: WindowManual}
	if cfg.Registration.Opening > 0 {
		register.Start = start.Add(-time.Duration(cfg.Registration.Opening) * time.Second)
		register.Phase = WindowPending
	}
	if cfg.Registration.SecondOpening > 0 {
		register.SecondStart = start.Add(-time.Duration(cfg.Registration.SecondOpening) * time.Second)
	}
	if cfg.Registration.Closing > 0 {
		register.Stop = start.Add(-time.Duration(cfg.Registration.Closing) * time.Second)
	}

	checkin := Window{Phase: WindowManual}
	if cfg.Checkin.Opening > 0 {
		checkin.Start = start.Add(-time.Duration(cfg.Checkin.Opening) * time.Second)
		checkin.Phase = WindowPending
	}
	if cfg.Checkin.Closing > 0 {
		checkin.Stop = start.Add(-time.Duration(cfg.Checkin.Closing) * time.Second)
	}
	return register, checkin
}

// validateDates checks the event ordering rules and returns the offending
// events. Pairs involving an already-ignored event are skipped.
func validateDates(register, checkin Window, ignored map[Event]bool) []Event {
	var offenders []Event
	seen := map[Event]bool{}
	add := func(evs ...Event) {
		for _, ev := range evs {
			if !seen[ev] {
				seen[ev] = true
				offenders = append(offenders, ev)
			}
		}
	}
	active := func(ev Event, at time.Time) bool {
		return !at.IsZero() && !ignored[ev]
	}

	if active(EventRegisterStart, register.Start) && active(EventRegisterStop, register.Stop) &&
		!register.Start.Before(register.Stop) {
		add(EventRegisterStart, EventRegisterStop)
	}
	if active(EventRegisterSecondStart, register.SecondStart) {
		if active(EventRegisterStart, register.Start) && !register.Start.Before(register.SecondStart) {
			add(EventRegisterSecondStart)
		}
		if active(EventRegisterStop, register.Stop) && !register.SecondStart.Before(register.Stop) {
			add(EventRegisterSecondStart)
		}
	}
	if active(EventCheckinStart, checkin.Start) && active(EventCheckinStop, checkin.Stop) &&
		!checkin.Start.Before(checkin.Stop) {
		add(EventCheckinStart, EventCheckinStop)
	}
	return offenders
}

func due(at, now time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}

// runScheduler fires every due event in the fixed order, then any due
// check-in reminders. Called under lock at the top of each tick.
func (t *Tournament) runScheduler(ctx context.Context) error {
	now := t.now()
	for _, ev := range eventOrder {
		if t.IgnoredEvents[ev] {
			continue
		}
		var err error
		switch ev {
		case EventRegisterStart:
			if t.Register.Phase == WindowPending && due(t.Register.Start, now) {
				err = t.startRegistration(ctx, false)
			}
		case EventCheckinStop:
			if t.Checkin.Phase == WindowOngoing && due(t.Checkin.Stop, now) {
				err = t.endCheckin(ctx)
			}
		case EventCheckinStart:
			if t.Checkin.Phase == WindowPending && due(t.Checkin.Start, now) {
				err = t.startCheckin(ctx)
			}
		case EventRegisterSecondStart:
			if t.Register.Phase == WindowOnHold && due(t.Register.SecondStart, now) {
				err = t.startRegistration(ctx, true)
			}
		case EventRegisterStop:
			if t.Register.Phase == WindowOngoing && due(t.Register.Stop, now) {
				err = t.endRegistration(ctx)
			}
		}
		if err != nil {
			return fmt.Errorf("event %s: %w", ev, err)
		}
	}
	return t.runReminders(ctx, now)
}

func (t *Tournament) runReminders(ctx context.Context, now time.Time) error {
	for len(t.CheckinReminders) > 0 && t.Checkin.Phase == WindowOngoing {
		r := t.CheckinReminders[0]
		dueAt := t.Checkin.Stop.Add(-time.Duration(r.MinutesBeforeStop) * time.Minute)
		if now.Before(dueAt) {
			break
		}
		t.CheckinReminders = t.CheckinReminders[1:]
		if err := t.callCheckin(ctx, r.DM); err != nil {
			return err
		}
	}
	return nil
}

// pendingEvents lists the events that can still fire given the current
// window phases. An empty result lets the tournament advance to AWAITING.
func (t *Tournament) pendingEvents(now time.Time) []Event {
	var out []Event
	add := func(ev Event, pending bool, at time.Time) {
		if pending && !at.IsZero() && !t.IgnoredEvents[ev] {
			out = append(out, ev)
		}
	}
	reg := t.Register.Phase
	add(EventRegisterStart, reg == WindowPending, t.Register.Start)
	add(EventRegisterSecondStart,
		reg == WindowOnHold ||
			((reg == WindowPending || reg == WindowOngoing) && t.Register.SecondStart.After(now)),
		t.Register.SecondStart)
	add(EventRegisterStop,
		reg == WindowPending || reg == WindowOngoing || reg == WindowOnHold,
		t.Register.Stop)

	chk := t.Checkin.Phase
	add(EventCheckinStart, chk == WindowPending, t.Checkin.Start)
	add(EventCheckinStop, chk == WindowPending || chk == WindowOngoing, t.Checkin.Stop)
	return out
}

// maybeAwait advances to AWAITING once nothing is scheduled anymore and
// kicks off seeding and the participant upload in the background.
func (t *Tournament) maybeAwait(ctx context.Context) {
	if t.Phase != PhasePending && t.Phase != PhaseRegister {
		return
	}
	if len(t.pendingEvents(t.now())) > 0 {
		return
	}
	log.Printf("[TOURNAMENT] %s: all windows closed, awaiting start", t.Name)
	t.Phase = PhaseAwaiting
	t.spawnSeedAndUpload()
}

// startRegistration opens (or re-opens) the registration window and pins
// the registration record.
func (t *Tournament) startRegistration(ctx context.Context, second bool) error {
	if t.Phase != PhasePending && t.Phase != PhaseRegister {
		return fmt.Errorf("start registration: %w", ErrWrongPhase)
	}
	t.Phase = PhaseRegister
	t.Register.Phase = WindowOngoing
	log.Printf("[TOURNAMENT] %s: registration open (second=%v)", t.Name, second)

	payload := map[string]interface{}{
		"tournament":   t.Name,
		"participants": len(t.Participants),
		"limit":        t.Limit,
		"second":       second,
	}
	if !t.Register.Stop.IsZero() {
		payload["closes_at"] = t.Register.Stop.Unix()
	}

	if t.RegisterMessageID != "" {
		if err := t.notifier.DeleteAnnouncement(ctx, t.RegisterMessageID); err != nil {
			log.Printf("[TOURNAMENT] %s: failed to unpin old registration record: %v", t.Name, err)
		}
		t.RegisterMessageID = ""
	}
	n := chat.NewNotification(chat.KindRegistrationOpen, payload)
	t.journalNote(noteAnnounce, chat.UserRef{}, n)
	id, err := t.notifier.Announce(ctx, n)
	if err != nil {
		return fmt.Errorf("announce registration: %w", err)
	}
	t.RegisterMessageID = id
	return nil
}

// endRegistration closes the window. A second opening still ahead parks the
// window ON_HOLD instead of finishing it. Calling it on a window that is
// not open is a no-op.
func (t *Tournament) endRegistration(ctx context.Context) error {
	if t.Register.Phase != WindowOngoing {
		return nil
	}

	reopens := !t.Register.SecondStart.IsZero() &&
		t.Register.SecondStart.After(t.now()) &&
		!t.IgnoredEvents[EventRegisterSecondStart]
	if reopens {
		t.Register.Phase = WindowOnHold
	} else {
		t.Register.Phase = WindowDone
	}
	log.Printf("[TOURNAMENT] %s: registration closed (reopens=%v, %d participants)",
		t.Name, reopens, len(t.Participants))

	t.queueAnnounce(chat.KindRegistrationClosed, map[string]interface{}{
		"tournament":   t.Name,
		"participants": len(t.Participants),
		"reopens":      reopens,
	})
	t.maybeAwait(ctx)
	return nil
}

// startCheckin opens the check-in window and lays out the reminder plan.
// Without participants the window is pointless and completes on the spot.
func (t *Tournament) startCheckin(ctx context.Context) error {
	if t.Checkin.Phase != WindowPending && t.Checkin.Phase != WindowManual {
		return fmt.Errorf("start check-in: %w", ErrWrongPhase)
	}
	if len(t.Participants) == 0 {
		t.Checkin.Phase = WindowDone
		t.maybeAwait(ctx)
		return nil
	}

	t.Checkin.Phase = WindowOngoing
	t.CheckinReminders = buildReminders(t.Checkin.Stop, t.now())
	log.Printf("[TOURNAMENT] %s: check-in open, %d reminders planned", t.Name, len(t.CheckinReminders))

	payload := map[string]interface{}{
		"tournament":   t.Name,
		"participants": len(t.Participants),
	}
	if !t.Checkin.Stop.IsZero() {
		payload["closes_at"] = t.Checkin.Stop.Unix()
	}
	t.queueAnnounce(chat.KindCheckinOpen, payload)
	return nil
}

// buildReminders plans the fixed reminder ladder, keeping only the rungs
// that still fit before the window closes.
func buildReminders(stop, now time.Time) []Reminder {
	if stop.IsZero() {
		return nil
	}
	ladder := []Reminder{
		{MinutesBeforeStop: 15, DM: false},
		{MinutesBeforeStop: 10, DM: true},
		{MinutesBeforeStop: 5, DM: false},
	}
	var out []Reminder
	for _, r := range ladder {
		if stop.Add(-time.Duration(r.MinutesBeforeStop) * time.Minute).After(now) {
			out = append(out, r)
		}
	}
	return out
}

// callCheckin posts the reminder naming everyone still missing, replacing
// the previous reminder so only one stays pinned.
func (t *Tournament) callCheckin(ctx context.Context, withDM bool) error {
	unchecked := t.uncheckedParticipants()
	if len(unchecked) == 0 {
		return nil
	}
	names := make([]string, len(unchecked))
	for i, p := range unchecked {
		names[i] = p.Name
	}
	payload := map[string]interface{}{
		"tournament": t.Name,
		"missing":    names,
	}
	if !t.Checkin.Stop.IsZero() {
		payload["closes_at"] = t.Checkin.Stop.Unix()
	}

	if t.checkinMessageID != "" {
		if err := t.notifier.DeleteAnnouncement(ctx, t.checkinMessageID); err != nil {
			log.Printf("[TOURNAMENT] %s: failed to drop previous reminder: %v", t.Name, err)
		}
		t.checkinMessageID = ""
	}
	n := chat.NewNotification(chat.KindCheckinReminder, payload)
	t.journalNote(noteAnnounce, chat.UserRef{}, n)
	id, err := t.notifier.Announce(ctx, n)
	if err != nil {
		return fmt.Errorf("announce check-in reminder: %w", err)
	}
	t.checkinMessageID = id

	if withDM {
		for _, p := range unchecked {
			t.queueUser(p.UserRef(), chat.KindCheckinReminder, payload)
		}
	}
	return nil
}

// endCheckin closes the window and purges everyone who never checked in.
// The purge runs before the phase flips so a provider failure leaves the
// window open for the next tick to retry.
func (t *Tournament) endCheckin(ctx context.Context) error {
	if t.Checkin.Phase != WindowOngoing {
		return nil
	}

	for _, p := range t.uncheckedParticipants() {
		if err := t.removeParticipant(ctx, p, true); err != nil {
			return fmt.Errorf("purge unchecked %s: %w", p.Name, err)
		}
		t.queueUser(p.UserRef(), chat.KindParticipantDropped, map[string]interface{}{
			"tournament": t.Name,
			"reason":     "missed check-in",
		})
	}

	t.Checkin.Phase = WindowDone
	if t.checkinMessageID != "" {
		if err := t.notifier.DeleteAnnouncement(ctx, t.checkinMessageID); err != nil {
			log.Printf("[TOURNAMENT] %s: failed to drop reminder: %v", t.Name, err)
		}
		t.checkinMessageID = ""
	}
	log.Printf("[TOURNAMENT] %s: check-in closed, %d participants remain", t.Name, len(t.Participants))

	t.queueAnnounce(chat.KindCheckinClosed, map[string]interface{}{
		"tournament":   t.Name,
		"participants": len(t.Participants),
	})
	t.maybeAwait(ctx)
	return nil
}

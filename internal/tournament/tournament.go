package tournament

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

const (
	// TickInterval is the loop task period.
	TickInterval = 15 * time.Second
	// LockTimeout bounds how long a tick waits for the tournament lock.
	LockTimeout = 30 * time.Second
	// TaskErrorBudget is the number of consecutive faulty ticks tolerated
	// before the loop task gives up.
	TaskErrorBudget = 5

	launchPerTick      = 20
	categoryChannelCap = 50
	channelGrace       = 5 * time.Minute
)

// RankingSource supplies the name to points mapping used for seeding.
type RankingSource interface {
	Ranking(ctx context.Context) (map[string]int, error)
}

// StateSaver persists one guild's serialized tournament state.
type StateSaver interface {
	SaveState(guildID string, phase Phase, configName string, data []byte) error
}

// EventJournal receives every notification the tournament emits, in emit
// order, so an audit trail can be kept alongside chat delivery. RecordNote
// must be safe for concurrent use: the suspended-loop alert records from
// outside the operation lock. The manager calls CleanupSequence when a
// tournament leaves this instance.
type EventJournal interface {
	RecordNote(guildID string, tournamentID int64, kind, target, userID string, payload map[string]interface{})
	CleanupSequence(tournamentID int64)
}

// Deps are the external collaborators one tournament runs against.
type Deps struct {
	Provider bracket.Client
	Notifier chat.Notifier
	Ranking  RankingSource // nil disables seeding
	Saver    StateSaver    // nil disables persistence
	Journal  EventJournal  // nil disables the audit trail
}

// SetupOptions tweak the setup validation.
type SetupOptions struct {
	// AcceptConflicts moves date-ordering offenders into the ignored
	// event set instead of failing.
	AcceptConflicts bool
}

// opLock is a channel based mutex so the loop task can time out while
// waiting for a long user operation.
type opLock struct {
	ch chan struct{}
}

func newOpLock() *opLock {
	return &opLock{ch: make(chan struct{}, 1)}
}

func (l *opLock) lock() {
	l.ch <- struct{}{}
}

func (l *opLock) lockTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (l *opLock) unlock() {
	<-l.ch
}

// Top8 holds the derived round boundaries: matches at or past Winner/Loser
// count as top 8, matches at or past BO5Winner/BO5Loser switch to best-of-5.
type Top8 struct {
	Winner    int `json:"top8"`
	Loser     int `json:"-"`
	BO5Winner int `json:"bo5"`
	BO5Loser  int `json:"-"`
}

// deriveTop8 computes the boundaries from the set of remote rounds.
func deriveTop8(rounds []int, startBO5 int) *Top8 {
	if len(rounds) == 0 {
		return nil
	}
	maxR, minR := rounds[0], rounds[0]
	for _, r := range rounds[1:] {
		if r > maxR {
			maxR = r
		}
		if r < minR {
			minR = r
		}
	}

	w8 := maxR - 2
	if w8 < 1 {
		w8 = 1
	}
	l8 := minR + 2
	if l8 > -1 {
		l8 = -1
	}

	wb5 := w8 + startBO5
	if wb5 < 1 {
		wb5 = 1
	}
	if wb5 > maxR {
		wb5 = maxR
	}
	lb5 := l8 - startBO5
	if lb5 > -1 {
		lb5 = -1
	}
	if minR < 0 && lb5 < minR {
		lb5 = minR
	}
	return &Top8{Winner: w8, Loser: l8, BO5Winner: wb5, BO5Loser: lb5}
}

type noteTarget int

const (
	noteAnnounce noteTarget = iota
	noteStaff
	noteChannel
	noteUser
)

func (tg noteTarget) String() string {
	switch tg {
	case noteAnnounce:
		return "announce"
	case noteStaff:
		return "staff"
	case noteChannel:
		return "channel"
	case noteUser:
		return "user"
	}
	return "unknown"
}

type queuedNote struct {
	target  noteTarget
	channel string
	user    chat.UserRef
	n       chat.Notification
}

// Tournament is the aggregate root, one per guild. All mutating access goes
// through the lock; the loop task and user operations never interleave.
type Tournament struct {
	GuildID string

	provider   bracket.Client
	notifier   chat.Notifier
	ranking    RankingSource
	saver      StateSaver
	journal    EventJournal
	settings   Settings
	configName string
	now        func() time.Time
	lk         *opLock
	lockWait   time.Duration
	seedAsync  bool

	// Remote identity, filled from the provider at setup.
	ID           int64
	Name         string
	Game         string
	URL          string
	Limit        int // 0 means no cap
	RemoteStatus string
	StartTime    time.Time

	Phase         Phase
	Register      Window
	Checkin       Window
	IgnoredEvents map[Event]bool
	Top8          *Top8

	Participants []*Participant
	Matches      []*Match
	Streamers    []*Streamer

	WinnerCategories []string
	LoserCategories  []string

	CheckinReminders  []Reminder
	RegisterMessageID string

	// Transient bookkeeping, rebuilt after a restore.
	checkinMessageID  string
	matchesToAnnounce []int
	notes             []queuedNote
	categoryLoad      map[string]int
	channelCategory   map[string]string
	degradedAlerted   bool

	// taskErrors counts consecutive faulty loop ticks. Atomic because the
	// loop updates it after a lock timeout, without holding the lock.
	taskErrors atomic.Int32
}

// ErrorCount returns the consecutive faulty tick count.
func (t *Tournament) ErrorCount() int {
	return int(t.taskErrors.Load())
}

func (t *Tournament) tickFailed() int {
	return int(t.taskErrors.Add(1))
}

func (t *Tournament) tickClean() {
	t.taskErrors.Store(0)
}

func newTournament(guildID string, deps Deps, settings Settings, configName string) *Tournament {
	return &Tournament{
		GuildID:         guildID,
		provider:        deps.Provider,
		notifier:        deps.Notifier,
		ranking:         deps.Ranking,
		saver:           deps.Saver,
		journal:         deps.Journal,
		settings:        settings,
		configName:      configName,
		now:             time.Now,
		lk:              newOpLock(),
		lockWait:        LockTimeout,
		seedAsync:       true,
		Phase:           PhasePending,
		IgnoredEvents:   map[Event]bool{},
		categoryLoad:    map[string]int{},
		channelCategory: map[string]string{},
	}
}

// Setup fetches the tournament from the provider, validates its schedule
// and returns a draft. An already-underway bracket is rejected so the
// caller can offer the Resume path instead.
func Setup(ctx context.Context, guildID string, deps Deps, settings Settings, configName string, opts SetupOptions) (*Tournament, error) {
	info, err := deps.Provider.ShowTournament(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tournament: %w", err)
	}
	if info.State == bracket.TournamentUnderway {
		return nil, fmt.Errorf("%s: %w", info.Name, ErrAlreadyStarted)
	}
	if info.StartAt == nil {
		return nil, fmt.Errorf("%s has no start time: %w", info.Name, ErrStartInPast)
	}

	t := newTournament(guildID, deps, settings, configName)
	t.applyInfo(info)
	t.StartTime = *info.StartAt

	if !t.StartTime.After(t.now()) {
		return nil, fmt.Errorf("%s starts at %s: %w", t.Name, t.StartTime, ErrStartInPast)
	}

	t.Register, t.Checkin = deriveWindows(t.StartTime, settings)
	if offenders := validateDates(t.Register, t.Checkin, t.IgnoredEvents); len(offenders) > 0 {
		if !opts.AcceptConflicts {
			return nil, &ConflictingDatesError{Offenders: offenders}
		}
		for _, ev := range offenders {
			t.IgnoredEvents[ev] = true
		}
		log.Printf("[TOURNAMENT] %s: accepted conflicting dates, ignoring %v", t.Name, offenders)
	}

	// A check-in window too short to matter only produces a purge race,
	// so its closing event is dropped.
	if !t.Checkin.Start.IsZero() && !t.Checkin.Stop.IsZero() &&
		t.Checkin.Stop.Sub(t.Checkin.Start) < time.Minute {
		t.IgnoredEvents[EventCheckinStop] = true
	}

	log.Printf("[TOURNAMENT] %s (%s): set up for guild %s, starts %s",
		t.Name, t.Game, guildID, t.StartTime.Format(time.RFC3339))
	return t, nil
}

// Resume adopts a bracket that is already underway: registration and
// check-in are disabled, every remote participant that matches a guild
// member is taken over and the rest are destroyed on the provider.
func Resume(ctx context.Context, guildID string, deps Deps, settings Settings, configName string) (*Tournament, error) {
	info, err := deps.Provider.ShowTournament(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tournament: %w", err)
	}
	if info.State != bracket.TournamentUnderway {
		return nil, fmt.Errorf("%s is not underway: %w", info.Name, ErrWrongPhase)
	}

	t := newTournament(guildID, deps, settings, configName)
	t.applyInfo(info)
	if info.StartAt != nil {
		t.StartTime = *info.StartAt
	} else {
		t.StartTime = t.now()
	}
	t.Register = Window{Phase: WindowDone}
	t.Checkin = Window{Phase: WindowDone}
	for _, ev := range eventOrder {
		t.IgnoredEvents[ev] = true
	}

	remote, err := deps.Provider.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	for _, rp := range remote {
		if !rp.Active {
			continue
		}
		user, ok := deps.Notifier.ResolveUser(ctx, rp.Name)
		if !ok {
			log.Printf("[TOURNAMENT] %s: resume cannot match %q, destroying remote entry", t.Name, rp.Name)
			if err := deps.Provider.DestroyParticipant(ctx, rp.ID); err != nil {
				return nil, fmt.Errorf("destroy unmatched participant %s: %w", rp.Name, err)
			}
			t.queueStaff(chat.KindParticipantDropped, map[string]interface{}{
				"player": rp.Name,
				"reason": "no matching guild member on resume",
			})
			continue
		}
		t.Participants = append(t.Participants, &Participant{
			UserID:    user.ID,
			Name:      user.Name,
			PlayerID:  rp.ID,
			CheckedIn: true,
		})
	}

	if err := t.computeTop8(ctx); err != nil {
		return nil, err
	}
	t.Phase = PhaseOngoing
	log.Printf("[TOURNAMENT] %s: resumed underway bracket with %d participants", t.Name, len(t.Participants))

	t.flushNotifications(ctx)
	if err := t.save(); err != nil {
		log.Printf("[STATE] %s: %v", t.Name, err)
	}
	return t, nil
}

func (t *Tournament) applyInfo(info *bracket.TournamentInfo) {
	t.ID = info.ID
	t.Name = info.Name
	t.Game = info.Game
	t.URL = info.URL
	t.Limit = info.Limit
	t.RemoteStatus = info.State
}

// computeTop8 reads the full round set from the remote bracket.
func (t *Tournament) computeTop8(ctx context.Context) error {
	matches, err := t.provider.ListMatches(ctx)
	if err != nil {
		return fmt.Errorf("list matches for round scan: %w", err)
	}
	rounds := make([]int, 0, len(matches))
	for _, m := range matches {
		rounds = append(rounds, m.Round)
	}
	t.Top8 = deriveTop8(rounds, t.settings.StartBO5)
	return nil
}

// startTournament flips the bracket live: remote start, round scan for the
// top 8 boundaries, then ONGOING.
func (t *Tournament) startTournament(ctx context.Context) error {
	if t.Phase != PhaseAwaiting {
		return fmt.Errorf("start tournament: %w", ErrWrongPhase)
	}
	if err := t.provider.StartTournament(ctx); err != nil {
		return fmt.Errorf("start remote bracket: %w", err)
	}
	t.RemoteStatus = bracket.TournamentUnderway
	if err := t.computeTop8(ctx); err != nil {
		return err
	}
	t.Phase = PhaseOngoing
	log.Printf("[TOURNAMENT] %s: started with %d participants", t.Name, len(t.Participants))

	t.queueAnnounce(chat.KindTournamentStart, map[string]interface{}{
		"tournament":   t.Name,
		"game":         t.Game,
		"url":          t.URL,
		"participants": len(t.Participants),
	})
	return nil
}

// endTournament finalizes the remote bracket and tears down the categories.
func (t *Tournament) endTournament(ctx context.Context) error {
	if t.Phase != PhaseOngoing {
		return fmt.Errorf("end tournament: %w", ErrWrongPhase)
	}
	for _, m := range t.Matches {
		if m.Phase == MatchPhaseOngoing {
			return fmt.Errorf("set %d: %w", m.Set, ErrMatchesStillRunning)
		}
	}
	if err := t.provider.FinalizeTournament(ctx); err != nil {
		return fmt.Errorf("finalize remote bracket: %w", err)
	}
	t.RemoteStatus = bracket.TournamentComplete
	t.Phase = PhaseDone

	for _, m := range t.Matches {
		t.dropChannel(ctx, m)
	}
	for _, h := range append(append([]string{}, t.WinnerCategories...), t.LoserCategories...) {
		if err := t.notifier.DeleteChannel(ctx, h); err != nil {
			log.Printf("[TOURNAMENT] %s: failed to delete category %s: %v", t.Name, h, err)
		}
	}
	t.WinnerCategories = nil
	t.LoserCategories = nil
	t.categoryLoad = map[string]int{}
	t.channelCategory = map[string]string{}

	log.Printf("[TOURNAMENT] %s: finished", t.Name)
	t.queueAnnounce(chat.KindTournamentEnd, map[string]interface{}{
		"tournament": t.Name,
		"url":        t.URL,
	})
	return nil
}

// resetBracket wipes all results on the provider. The reconciler notices
// the vanished matches on the next tick and force-ends the local ones.
func (t *Tournament) resetBracket(ctx context.Context) error {
	if t.Phase != PhaseOngoing {
		return fmt.Errorf("reset bracket: %w", ErrWrongPhase)
	}
	if err := t.provider.ResetTournament(ctx); err != nil {
		return fmt.Errorf("reset remote bracket: %w", err)
	}
	log.Printf("[TOURNAMENT] %s: bracket reset requested", t.Name)
	return nil
}

func (t *Tournament) matchBySet(set int) (*Match, bool) {
	if set == 0 {
		return nil, false
	}
	for _, m := range t.Matches {
		if m.Set == set {
			return m, true
		}
	}
	return nil, false
}

func (t *Tournament) matchByID(id int64) (*Match, bool) {
	for _, m := range t.Matches {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// categoryFor picks the first winner or loser category with room for one
// more channel, creating a new one when all are full.
func (t *Tournament) categoryFor(ctx context.Context, round int) (string, error) {
	cats := &t.WinnerCategories
	label := "Winner Bracket"
	if round < 0 {
		cats = &t.LoserCategories
		label = "Loser Bracket"
	}
	for _, h := range *cats {
		if t.categoryLoad[h] < categoryChannelCap {
			return h, nil
		}
	}
	name := label
	if n := len(*cats); n > 0 {
		name = fmt.Sprintf("%s %d", label, n+1)
	}
	h, err := t.notifier.CreateCategory(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create category %q: %w", name, err)
	}
	*cats = append(*cats, h)
	return h, nil
}

// alertDegraded logs a degraded-mode failure and tells staff once.
func (t *Tournament) alertDegraded(ctx context.Context, msg string, err error) {
	log.Printf("[TOURNAMENT] %s: %s: %v", t.Name, msg, err)
	if t.degradedAlerted {
		return
	}
	t.degradedAlerted = true
	t.queueStaff(chat.KindStaffAlert, map[string]interface{}{
		"message": msg,
		"error":   err.Error(),
	})
}

func (t *Tournament) queueAnnounce(kind chat.Kind, payload map[string]interface{}) {
	t.notes = append(t.notes, queuedNote{target: noteAnnounce, n: chat.NewNotification(kind, payload)})
}

func (t *Tournament) queueStaff(kind chat.Kind, payload map[string]interface{}) {
	t.notes = append(t.notes, queuedNote{target: noteStaff, n: chat.NewNotification(kind, payload)})
}

// queueChannel targets a match channel. Matches running without a channel
// fall back to the staff channel so results are not lost.
func (t *Tournament) queueChannel(channel string, kind chat.Kind, payload map[string]interface{}) {
	target := noteChannel
	if channel == "" {
		target = noteStaff
	}
	t.notes = append(t.notes, queuedNote{target: target, channel: channel, n: chat.NewNotification(kind, payload)})
}

func (t *Tournament) queueUser(user chat.UserRef, kind chat.Kind, payload map[string]interface{}) {
	t.notes = append(t.notes, queuedNote{target: noteUser, user: user, n: chat.NewNotification(kind, payload)})
}

// journalNote mirrors one emitted notification into the audit trail.
func (t *Tournament) journalNote(target noteTarget, user chat.UserRef, n chat.Notification) {
	if t.journal == nil {
		return
	}
	t.journal.RecordNote(t.GuildID, t.ID, string(n.Kind), target.String(), user.ID, n.Payload)
}

// flushNotifications drains the queue in insertion order. Chat failures are
// logged and never propagate. Every note is journaled whether or not the
// bridge accepted it, so the audit trail records what the engine decided,
// not what the bridge managed to deliver.
func (t *Tournament) flushNotifications(ctx context.Context) {
	notes := t.notes
	t.notes = nil
	for _, note := range notes {
		t.journalNote(note.target, note.user, note.n)
		var err error
		switch note.target {
		case noteAnnounce:
			_, err = t.notifier.Announce(ctx, note.n)
		case noteStaff:
			err = t.notifier.NotifyStaff(ctx, note.n)
		case noteChannel:
			err = t.notifier.NotifyChannel(ctx, note.channel, note.n)
		case noteUser:
			t.notifier.NotifyUser(ctx, note.user, note.n)
		}
		if err != nil {
			log.Printf("[NOTIFY] %s: %s notification failed: %v", t.Name, note.n.Kind, err)
		}
	}
}

// save persists the current snapshot through the configured saver.
func (t *Tournament) save() error {
	if t.saver == nil {
		return nil
	}
	data, err := t.MarshalState()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := t.saver.SaveState(t.GuildID, t.Phase, t.configName, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// SaveNow persists the state outside the usual operation flow.
func (t *Tournament) SaveNow() error {
	t.lk.lock()
	defer t.lk.unlock()
	return t.save()
}

// Settings returns the configuration snapshot the tournament runs with.
func (t *Tournament) Settings() Settings {
	return t.settings
}

// ConfigName returns the name of the settings document in use.
func (t *Tournament) ConfigName() string {
	return t.configName
}

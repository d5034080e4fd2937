package tournament

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

// fakeClock is a hand-driven time source.
type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{at: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = at
}

// fakeBracket is an in-memory provider scripted by tests.
type fakeBracket struct {
	mu           sync.Mutex
	info         bracket.TournamentInfo
	participants []bracket.ParticipantInfo
	matches      []bracket.MatchInfo
	nextPlayer   int64

	started   bool
	finalized bool
	resets    int
	updates   []string
	underway  map[int64]bool
	destroyed []int64

	err error // when set, every call fails with it
}

func newFakeBracket(start time.Time) *fakeBracket {
	return &fakeBracket{
		info: bracket.TournamentInfo{
			ID:      777,
			Name:    "Weekly 12",
			Game:    "Melee",
			URL:     "weekly12",
			State:   bracket.TournamentPending,
			StartAt: &start,
		},
		nextPlayer: 100,
		underway:   map[int64]bool{},
	}
}

func (f *fakeBracket) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBracket) addPlayer(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPlayer++
	f.participants = append(f.participants, bracket.ParticipantInfo{
		ID: f.nextPlayer, Name: name, Seed: len(f.participants) + 1, Active: true,
	})
	return f.nextPlayer
}

func (f *fakeBracket) addMatch(m bracket.MatchInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, m)
}

func (f *fakeBracket) setMatch(id int64, mutate func(*bracket.MatchInfo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.matches {
		if f.matches[i].ID == id {
			mutate(&f.matches[i])
			return
		}
	}
}

func (f *fakeBracket) dropMatch(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.matches {
		if f.matches[i].ID == id {
			f.matches = append(f.matches[:i], f.matches[i+1:]...)
			return
		}
	}
}

func (f *fakeBracket) ShowTournament(ctx context.Context) (*bracket.TournamentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	info := f.info
	return &info, nil
}

func (f *fakeBracket) StartTournament(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.started = true
	f.info.State = bracket.TournamentUnderway
	return nil
}

func (f *fakeBracket) FinalizeTournament(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.finalized = true
	f.info.State = bracket.TournamentComplete
	return nil
}

func (f *fakeBracket) ResetTournament(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resets++
	f.matches = nil
	return nil
}

func (f *fakeBracket) ListParticipants(ctx context.Context) ([]bracket.ParticipantInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]bracket.ParticipantInfo, len(f.participants))
	copy(out, f.participants)
	return out, nil
}

func (f *fakeBracket) CreateParticipant(ctx context.Context, name string, seed int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.nextPlayer++
	f.participants = append(f.participants, bracket.ParticipantInfo{
		ID: f.nextPlayer, Name: name, Seed: seed, Active: true,
	})
	return f.nextPlayer, nil
}

func (f *fakeBracket) DestroyParticipant(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.destroyed = append(f.destroyed, id)
	for i := range f.participants {
		if f.participants[i].ID == id {
			f.participants = append(f.participants[:i], f.participants[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBracket) ListMatches(ctx context.Context) ([]bracket.MatchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]bracket.MatchInfo, len(f.matches))
	copy(out, f.matches)
	return out, nil
}

func (f *fakeBracket) UpdateMatch(ctx context.Context, id int64, scoresCSV string, winnerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, fmt.Sprintf("%d:%s:%d", id, scoresCSV, winnerID))
	for i := range f.matches {
		if f.matches[i].ID == id {
			f.matches[i].State = bracket.MatchComplete
			f.matches[i].ScoresCSV = scoresCSV
			f.matches[i].WinnerID = winnerID
		}
	}
	return nil
}

func (f *fakeBracket) MarkMatchUnderway(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.underway[id] = true
	return nil
}

func (f *fakeBracket) UnmarkMatchUnderway(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.underway[id] = false
	return nil
}

// journalRecorder captures mirrored notifications in emit order.
type journalRecorder struct {
	mu      sync.Mutex
	notes   []journaledNote
	cleaned []int64
}

type journaledNote struct {
	guildID      string
	tournamentID int64
	kind         string
	target       string
	userID       string
	payload      map[string]interface{}
}

func (j *journalRecorder) RecordNote(guildID string, tournamentID int64, kind, target, userID string, payload map[string]interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notes = append(j.notes, journaledNote{guildID, tournamentID, kind, target, userID, payload})
}

func (j *journalRecorder) CleanupSequence(tournamentID int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleaned = append(j.cleaned, tournamentID)
}

func (j *journalRecorder) all() []journaledNote {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journaledNote, len(j.notes))
	copy(out, j.notes)
	return out
}

func (j *journalRecorder) cleanedIDs() []int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]int64, len(j.cleaned))
	copy(out, j.cleaned)
	return out
}

// testRig bundles the fakes most tests need.
type testRig struct {
	fb    *fakeBracket
	rec   *chat.Recorder
	clock *fakeClock
	tour  *Tournament
}

// newTestRig builds a tournament straight from the fake provider's info,
// bypassing Setup so tests control phases directly. The clock starts three
// hours before the tournament.
func newTestRig(cfg Settings) *testRig {
	start := time.Date(2026, 3, 7, 18, 0, 0, 0, time.UTC)
	clock := newFakeClock(start.Add(-3 * time.Hour))
	fb := newFakeBracket(start)
	rec := chat.NewRecorder()

	tour := newTournament("guild-1", Deps{Provider: fb, Notifier: rec}, cfg, "default")
	tour.applyInfo(&fb.info)
	tour.StartTime = start
	tour.now = clock.Now
	tour.seedAsync = false
	tour.Register, tour.Checkin = deriveWindows(start, cfg)
	return &testRig{fb: fb, rec: rec, clock: clock, tour: tour}
}

// addPlayer registers a resolvable user and mirrors it on the provider.
func (r *testRig) addPlayer(id, name string) *Participant {
	r.rec.AddUser(chat.UserRef{ID: id, Name: name})
	p := &Participant{UserID: id, Name: name, PlayerID: r.fb.addPlayer(name), CheckedIn: true}
	r.tour.Participants = append(r.tour.Participants, p)
	return p
}

// pairMatch wires a live local match between two players, mirrored remote.
func (r *testRig) pairMatch(id int64, round, set int, p1, p2 *Participant) *Match {
	r.fb.addMatch(bracket.MatchInfo{
		ID: id, Round: round, Set: set, State: bracket.MatchOpen,
		Player1ID: p1.PlayerID, Player2ID: p2.PlayerID,
	})
	m := &Match{
		ID: id, Round: round, Set: set,
		Player1: p1.UserID, Player2: p2.UserID,
		Phase: MatchPhasePending,
	}
	r.tour.Matches = append(r.tour.Matches, m)
	p1.MatchSet = set
	p2.MatchSet = set
	return m
}

func (r *testRig) goOngoing() {
	r.tour.Phase = PhaseOngoing
	r.tour.Register.Phase = WindowDone
	r.tour.Checkin.Phase = WindowDone
	r.tour.RemoteStatus = bracket.TournamentUnderway
	r.fb.info.State = bracket.TournamentUnderway
}

func (r *testRig) kinds(op string) []chat.Kind {
	var out []chat.Kind
	for _, c := range r.rec.CallsOf(op) {
		out = append(out, c.Kind)
	}
	return out
}

func (r *testRig) hasKind(op string, kind chat.Kind) bool {
	for _, k := range r.kinds(op) {
		if k == kind {
			return true
		}
	}
	return false
}

package tournament

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

// TestManualLifecycle drives a whole tournament through the public
// operations with no scheduled events at all.
func TestManualLifecycle(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(Settings{}) // staff drives every transition
	tour := rig.tour

	require.NoError(t, tour.StartRegistration(ctx))
	assert.Equal(t, PhaseRegister, tour.Phase)

	users := []chat.UserRef{
		{ID: "u1", Name: "mango"},
		{ID: "u2", Name: "zain"},
		{ID: "u3", Name: "plup"},
		{ID: "u4", Name: "ibdw"},
	}
	for _, u := range users {
		rig.rec.AddUser(u)
		require.NoError(t, tour.RegisterParticipant(ctx, u, true))
	}
	assert.ErrorIs(t, tour.RegisterParticipant(ctx, users[0], true), ErrAlreadyRegistered)
	assert.Len(t, rig.rec.CallsOf("user"), 4, "every registrant gets a confirmation")

	// Closing registration uploads the roster in one batch.
	require.NoError(t, tour.EndRegistration(ctx))
	assert.Equal(t, PhaseAwaiting, tour.Phase)
	assert.Len(t, rig.fb.participants, 4)
	for _, p := range tour.Participants {
		assert.NotZero(t, p.PlayerID)
	}

	// Nobody comes back to a closed window.
	assert.ErrorIs(t, tour.RegisterParticipant(ctx, chat.UserRef{ID: "u5", Name: "late"}, false), ErrRegistrationClosed)

	require.NoError(t, tour.StartCheckin(ctx))
	for _, u := range users[:3] {
		require.NoError(t, tour.CheckIn(ctx, u.ID))
	}
	missedID := tour.Participants[3].PlayerID
	require.NoError(t, tour.EndCheckin(ctx))
	assert.Len(t, tour.Participants, 3)
	assert.Contains(t, rig.fb.destroyed, missedID)

	require.NoError(t, tour.Start(ctx))
	assert.Equal(t, PhaseOngoing, tour.Phase)
	assert.True(t, rig.fb.started)

	// The bracket pairs the first two seeds; the loop picks it up.
	p1, p2 := tour.Participants[0], tour.Participants[1]
	rig.fb.addMatch(bracket.MatchInfo{
		ID: 21, Round: 1, Set: 1, State: bracket.MatchOpen,
		Player1ID: p1.PlayerID, Player2ID: p2.PlayerID,
	})
	require.NoError(t, tour.Tick(ctx))
	m, ok := tour.matchBySet(1)
	require.True(t, ok)
	require.Equal(t, MatchPhaseOngoing, m.Phase)

	assert.ErrorIs(t, tour.End(ctx), ErrMatchesStillRunning)

	require.NoError(t, tour.ReportScore(ctx, 1, 3, 2))
	assert.Contains(t, rig.fb.updates[0], "21:3-2:")

	require.NoError(t, tour.End(ctx))
	assert.Equal(t, PhaseDone, tour.Phase)
	assert.True(t, rig.fb.finalized)
	assert.True(t, rig.hasKind("announce", chat.KindTournamentEnd))
	assert.Empty(t, tour.WinnerCategories, "categories are torn down with the tournament")
}

func TestOperationGuards(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour
	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")
	rig.addPlayer("u3", "plup")
	m := rig.pairMatch(10, 1, 1, p1, p2)

	assert.ErrorIs(t, tour.RegisterParticipant(ctx, chat.UserRef{ID: "u9", Name: "late"}, false), ErrWrongPhase)
	assert.ErrorIs(t, tour.CallCheckin(ctx, false), ErrCheckinClosed)
	assert.ErrorIs(t, tour.CheckIn(ctx, "u1"), ErrCheckinClosed)
	assert.ErrorIs(t, tour.ReportScore(ctx, 99, 3, 0), ErrMatchNotFound)
	assert.ErrorIs(t, tour.ReportScore(ctx, 1, 3, 0), ErrMatchNotOngoing)
	assert.ErrorIs(t, tour.Forfeit(ctx, "nobody"), ErrNotRegistered)
	assert.ErrorIs(t, tour.Forfeit(ctx, "u3"), ErrMatchNotFound)
	assert.ErrorIs(t, tour.DisqualifyUser(ctx, "nobody", "x"), ErrNotRegistered)
	assert.ErrorIs(t, tour.UploadParticipants(ctx, false), ErrWrongPhase)
	assert.ErrorIs(t, tour.QueueSets(ctx, "no-streamer", []int{1}), ErrStreamerNotFound)
	assert.ErrorIs(t, tour.SetStreamRoom(ctx, "no-streamer", "a", "b"), ErrStreamerNotFound)
	assert.ErrorIs(t, tour.Start(ctx), ErrWrongPhase)

	require.NoError(t, tour.launch(ctx, m))
	assert.ErrorIs(t, tour.End(ctx), ErrMatchesStillRunning)
}

func TestMarkSpokeFastPath(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour
	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")
	m := rig.pairMatch(10, 1, 1, p1, p2)

	// Before the match goes live chatting means nothing.
	tour.MarkSpoke("u1")
	assert.False(t, p1.Spoke)

	require.NoError(t, tour.launch(ctx, m))
	saver := &flakySaver{}
	tour.saver = saver

	tour.MarkSpoke("u1")
	tour.MarkSpoke("unknown-user")
	assert.True(t, p1.Spoke)
	assert.False(t, p2.Spoke)
	assert.Zero(t, saver.saves, "chat activity does not hit the state store")

	require.NoError(t, tour.ReportScore(ctx, 1, 3, 1))
	assert.Equal(t, 1, saver.saves, "real operations still persist")
}

func TestDisqualifyUserForfeitsTheirMatch(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour
	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")
	m := rig.pairMatch(10, 1, 1, p1, p2)
	require.NoError(t, tour.launch(ctx, m))
	dqID := p2.PlayerID

	require.NoError(t, tour.DisqualifyUser(ctx, "u2", "unsporting behaviour"))

	assert.Equal(t, MatchPhaseDone, m.Phase)
	assert.Equal(t, p1.UserID, m.Winner)
	assert.Len(t, tour.Participants, 1)
	assert.Contains(t, rig.fb.destroyed, dqID)
	assert.True(t, rig.hasKind("staff", chat.KindDisqualified))
}

func TestUnregisterDestroysUploaded(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	tour := rig.tour
	require.NoError(t, tour.StartRegistration(ctx))

	u := chat.UserRef{ID: "u1", Name: "mango"}
	rig.rec.AddUser(u)
	require.NoError(t, tour.RegisterParticipant(ctx, u, false))
	require.NoError(t, tour.UploadParticipants(ctx, false))
	playerID := tour.Participants[0].PlayerID
	require.NotZero(t, playerID)

	assert.ErrorIs(t, tour.Unregister(ctx, "ghost"), ErrNotRegistered)
	require.NoError(t, tour.Unregister(ctx, "u1"))
	assert.Empty(t, tour.Participants)
	assert.Contains(t, rig.fb.destroyed, playerID)

	// Registering again works, the window is still open.
	require.NoError(t, tour.RegisterParticipant(ctx, u, false))
	assert.Len(t, tour.Participants, 1)
}

func TestForceUploadReseedsRemote(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	tour := rig.tour
	tour.Phase = PhaseAwaiting
	rig.addPlayer("u1", "mango")
	rig.addPlayer("u2", "zain")
	before := []int64{tour.Participants[0].PlayerID, tour.Participants[1].PlayerID}

	require.NoError(t, tour.UploadParticipants(ctx, true))

	assert.ElementsMatch(t, before, rig.fb.destroyed, "force rebuilds the remote list")
	assert.Len(t, rig.fb.participants, 2)
	for i, p := range tour.Participants {
		assert.NotZero(t, p.PlayerID)
		assert.NotEqual(t, before[i], p.PlayerID, "fresh remote ids after the rebuild")
	}
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour
	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")
	p2.CheckedIn = false
	m := rig.pairMatch(10, 1, 1, p1, p2)
	require.NoError(t, tour.launch(ctx, m))
	require.NoError(t, tour.AddStreamer(ctx, chat.UserRef{ID: "tv", Name: "vgbc"}, "stream", "ABC", "code", false))
	require.NoError(t, tour.QueueSets(ctx, "tv", []int{1}))

	status := tour.Status()
	assert.Equal(t, "guild-1", status.GuildID)
	assert.Equal(t, PhaseOngoing, status.Phase)
	assert.Equal(t, 2, status.Participants)
	assert.Equal(t, 1, status.CheckedIn)
	assert.Equal(t, 1, status.OpenMatches)
	assert.Equal(t, 0, status.DoneMatches)
	assert.Equal(t, 1, status.Streamers)

	roster := tour.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "mango", roster[0].Name)
	assert.Equal(t, 1, roster[0].Set)
	assert.False(t, roster[1].CheckedIn)

	matches := tour.MatchList()
	require.Len(t, matches, 1)
	assert.Equal(t, "Winners Round 1", matches[0].RoundName)
	assert.Equal(t, []string{"mango", "zain"}, matches[0].Players)
	assert.Equal(t, "tv", matches[0].Streamer)

	streamers := tour.StreamerList()
	require.Len(t, streamers, 1)
	assert.Equal(t, "vgbc", streamers[0].Name)
	assert.Equal(t, 1, streamers[0].CurrentSet)
	assert.Equal(t, []int{1}, streamers[0].Sets)
}

// TestJournalMirrorsOperations attaches an audit sink and checks that both
// queued and pinned notifications land there in emit order, with DM entries
// carrying the recipient.
func TestJournalMirrorsOperations(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(Settings{})
	jr := &journalRecorder{}
	tour := rig.tour
	tour.journal = jr

	require.NoError(t, tour.StartRegistration(ctx))
	u := chat.UserRef{ID: "u1", Name: "mango"}
	rig.rec.AddUser(u)
	require.NoError(t, tour.RegisterParticipant(ctx, u, true))
	require.NoError(t, tour.EndRegistration(ctx))

	notes := jr.all()
	require.Len(t, notes, 3)
	for _, n := range notes {
		assert.Equal(t, "guild-1", n.guildID)
		assert.Equal(t, int64(777), n.tournamentID)
	}

	assert.Equal(t, string(chat.KindRegistrationOpen), notes[0].kind)
	assert.Equal(t, "announce", notes[0].target)
	assert.Empty(t, notes[0].userID)

	assert.Equal(t, string(chat.KindRegistered), notes[1].kind)
	assert.Equal(t, "user", notes[1].target)
	assert.Equal(t, "u1", notes[1].userID)
	assert.Equal(t, 1, notes[1].payload["seed"])

	assert.Equal(t, string(chat.KindRegistrationClosed), notes[2].kind)
	assert.Equal(t, "announce", notes[2].target)

	assert.Empty(t, jr.cleaned, "cleanup belongs to the manager, not the ops")
}

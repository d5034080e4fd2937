package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

func TestInstantKeepsOffset(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	at := time.Date(2026, 3, 7, 18, 0, 0, 0, kst)

	data, err := json.Marshal(InstantOf(at))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("[%d,32400]", at.Unix()), string(data))

	var in Instant
	require.NoError(t, json.Unmarshal(data, &in))
	back := in.Time()
	assert.Equal(t, at.Unix(), back.Unix())
	_, off := back.Zone()
	assert.Equal(t, 32400, off)
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour

	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")
	p3 := rig.addPlayer("u3", "plup")
	p4 := rig.addPlayer("u4", "ibdw")
	p1.Spoke = true

	live := rig.pairMatch(10, 1, 1, p1, p2)
	live.Phase = MatchPhaseOngoing
	live.StartTime = rig.clock.Now()
	live.Underway = true
	live.CheckedDQ = true
	live.Warned = WarnFirst(rig.clock.Now())
	live.Channel = "chan-9"
	live.Message = "msg-9"
	live.StreamerID = "tv"

	played := rig.pairMatch(11, -1, 2, p3, p4)
	played.Phase = MatchPhaseDone
	played.StartTime = rig.clock.Now().Add(-time.Hour)
	played.EndTime = rig.clock.Now().Add(-30 * time.Minute)

	rig.rec.AddUser(chat.UserRef{ID: "tv", Name: "vgbc"})
	s, err := tour.addStreamer(chat.UserRef{ID: "tv", Name: "vgbc"}, "stream-chan")
	require.NoError(t, err)
	s.Sets = []int{1}
	s.CurrentSet = 1
	s.RoomID = "ABC12"
	s.RoomCode = "fountain"
	s.RespectOrder = true

	tour.Top8 = &Top8{Winner: 4, Loser: -6, BO5Winner: 5, BO5Loser: -7}
	tour.IgnoredEvents[EventCheckinStop] = true
	tour.IgnoredEvents[EventRegisterStart] = true
	tour.WinnerCategories = []string{"cat-1"}
	tour.LoserCategories = []string{"cat-2"}
	tour.RegisterMessageID = "msg-55"

	data, err := tour.MarshalState()
	require.NoError(t, err)
	again, err := tour.MarshalState()
	require.NoError(t, err)
	assert.Equal(t, data, again, "marshalling is deterministic")

	restored, err := Restore(ctx, tour.GuildID, Deps{Provider: rig.fb, Notifier: rig.rec}, DefaultSettings(), data)
	require.NoError(t, err)

	assert.Equal(t, PhaseOngoing, restored.Phase)
	assert.Equal(t, tour.ID, restored.ID)
	assert.Equal(t, tour.StartTime.Unix(), restored.StartTime.Unix())
	assert.Equal(t, WindowDone, restored.Register.Phase)
	assert.True(t, restored.IgnoredEvents[EventCheckinStop])

	rp, ok := restored.participantByUserID("u1")
	require.True(t, ok)
	assert.True(t, rp.Spoke)
	assert.Equal(t, p1.PlayerID, rp.PlayerID)
	assert.Equal(t, "mango", rp.Name)
	assert.Equal(t, 1, rp.MatchSet, "open match references are rebuilt")

	rm, ok := restored.matchBySet(1)
	require.True(t, ok)
	assert.Equal(t, MatchPhaseOngoing, rm.Phase)
	assert.Equal(t, "tv", rm.StreamerID, "streamer claims are re-applied")
	assert.Equal(t, "chan-9", rm.Channel)
	_, warned := rm.Warned.FirstAt()
	assert.True(t, warned)

	rs, ok := restored.streamerByOwner("tv")
	require.True(t, ok)
	assert.Equal(t, []int{1}, rs.Sets)
	assert.Equal(t, 1, rs.CurrentSet)
	assert.True(t, rs.RespectOrder)
	assert.Equal(t, "vgbc", rs.OwnerName)

	// The restored tournament saves back to the identical document.
	roundtrip, err := restored.MarshalState()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(roundtrip))
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	rec := chat.NewRecorder()
	fb := newFakeBracket(time.Now().Add(time.Hour))

	_, err := Restore(ctx, "g", Deps{Provider: fb, Notifier: rec}, DefaultSettings(), []byte(`{"version":99}`))
	require.ErrorIs(t, err, ErrUnknownVersion)

	_, err = Restore(ctx, "g", Deps{Provider: fb, Notifier: rec}, DefaultSettings(), []byte(`{not json`))
	require.Error(t, err)
}

func TestRestoreExemptsOverdueMatches(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour
	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")

	// The engine was down for a while: the match is way past the AFK
	// threshold through no fault of the players.
	m := rig.pairMatch(10, 1, 1, p1, p2)
	m.Phase = MatchPhaseOngoing
	m.StartTime = time.Now().Add(-20 * time.Minute)

	data, err := tour.MarshalState()
	require.NoError(t, err)

	rig.rec.Reset()
	restored, err := Restore(ctx, tour.GuildID, Deps{Provider: rig.fb, Notifier: rig.rec}, DefaultSettings(), data)
	require.NoError(t, err)

	rm, ok := restored.matchBySet(1)
	require.True(t, ok)
	assert.Equal(t, MatchPhaseOngoing, rm.Phase, "the match keeps running")
	assert.True(t, rm.CheckedDQ, "the AFK check is spent, nobody gets disqualified")
	assert.False(t, rig.hasKind("staff", chat.KindDisqualified))
	assert.Empty(t, rig.fb.updates)
}

func TestRestoreFinalizesLostParticipants(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	tour := rig.tour
	p1 := rig.addPlayer("u1", "mango")
	p2 := rig.addPlayer("u2", "zain")
	m := rig.pairMatch(10, 1, 1, p1, p2)
	m.Phase = MatchPhaseOngoing
	m.StartTime = time.Now()
	m.CheckedDQ = true

	data, err := tour.MarshalState()
	require.NoError(t, err)

	// zain left the guild while the engine was down.
	rig.rec.RemoveUser("zain")
	rig.rec.Reset()
	restored, err := Restore(ctx, tour.GuildID, Deps{Provider: rig.fb, Notifier: rig.rec}, DefaultSettings(), data)
	require.NoError(t, err)

	require.Len(t, restored.Participants, 1)
	assert.Equal(t, "u1", restored.Participants[0].UserID)

	rm, ok := restored.matchBySet(1)
	require.True(t, ok)
	assert.Equal(t, MatchPhaseDone, rm.Phase)
	assert.Equal(t, "u1", rm.Winner, "the remaining player advances")

	require.Len(t, rig.fb.updates, 1)
	assert.Equal(t, fmt.Sprintf("10:0--1:%d", p1.PlayerID), rig.fb.updates[0])
	assert.True(t, rig.hasKind("staff", chat.KindParticipantDropped))
}

func TestSavedMatchFieldsSurviveJSON(t *testing.T) {
	// The saved layout keeps nullable epochs: a pending match has no
	// start or end time at all.
	sm := savedMatch{Round: 1, Set: 3, ID: 42, Phase: MatchPhasePending}
	data, err := json.Marshal(sm)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start_time":null`)
	assert.Contains(t, string(data), `"warned":null`)

	var back savedMatch
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, timeOf(back.StartTime).IsZero())
	assert.True(t, back.Warned.None())
}

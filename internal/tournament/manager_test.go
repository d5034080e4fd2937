package tournament

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/chat"
)

// memStore is an in-memory Store for manager tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]SavedRecord
}

func newMemStore() *memStore {
	return &memStore{records: map[string]SavedRecord{}}
}

func (s *memStore) SaveState(guildID string, phase Phase, configName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[guildID] = SavedRecord{GuildID: guildID, ConfigName: configName, Phase: phase, Data: data}
	return nil
}

func (s *memStore) LoadStates() ([]SavedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SavedRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) DeleteState(guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, guildID)
	return nil
}

func (s *memStore) LoadSettings(guildID, name string) (Settings, error) {
	return DefaultSettings(), nil
}

func (s *memStore) record(guildID string) (SavedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[guildID]
	return r, ok
}

func newTestManager(store Store, fb *fakeBracket, rec *chat.Recorder) *Manager {
	return NewManager(store,
		func(ref string) bracket.Client { return fb },
		func(guildID string) chat.Notifier { return rec },
		nil)
}

func TestManagerSetupRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBracket(time.Now().Add(2 * time.Hour))
	store := newMemStore()
	mgr := newTestManager(store, fb, chat.NewRecorder())
	defer mgr.Shutdown()

	tour, err := mgr.Setup(ctx, "guild-1", "777", "default", SetupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Weekly 12", tour.Name)
	assert.Equal(t, PhasePending, tour.Phase)

	saved, ok := store.record("guild-1")
	require.True(t, ok, "a fresh state is saved right away")
	assert.Equal(t, PhasePending, saved.Phase)

	_, err = mgr.Setup(ctx, "guild-1", "777", "default", SetupOptions{})
	assert.ErrorIs(t, err, ErrTournamentExists)

	got, ok := mgr.Get("guild-1")
	require.True(t, ok)
	assert.Same(t, tour, got)
	_, ok = mgr.Get("guild-2")
	assert.False(t, ok)

	list := mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, "guild-1", list[0].GuildID)
}

func TestManagerRestoreAllSkipsFinished(t *testing.T) {
	ctx := context.Background()

	finished := newTestRig(DefaultSettings())
	finished.tour.Phase = PhaseDone
	doneData, err := finished.tour.MarshalState()
	require.NoError(t, err)

	paused := newTestRig(DefaultSettings())
	pausedData, err := paused.tour.MarshalState()
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, store.SaveState("guild-done", PhaseDone, "default", doneData))
	require.NoError(t, store.SaveState("guild-live", PhasePending, "default", pausedData))

	fb := newFakeBracket(time.Now().Add(time.Hour))
	mgr := newTestManager(store, fb, chat.NewRecorder())
	defer mgr.Shutdown()

	require.NoError(t, mgr.RestoreAll(ctx))

	_, ok := mgr.Get("guild-done")
	assert.False(t, ok, "finished tournaments stay on disk only")

	tour, ok := mgr.Get("guild-live")
	require.True(t, ok)
	assert.Equal(t, int64(777), tour.ID)
	assert.Equal(t, "Weekly 12", tour.Name)
	assert.Equal(t, PhasePending, tour.Phase)
}

func TestManagerEndAndDrop(t *testing.T) {
	ctx := context.Background()

	rig := newTestRig(DefaultSettings())
	rig.goOngoing()
	data, err := rig.tour.MarshalState()
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, store.SaveState("guild-1", PhaseOngoing, "default", data))

	fb := newFakeBracket(time.Now().Add(time.Hour))
	mgr := newTestManager(store, fb, chat.NewRecorder())
	jr := &journalRecorder{}
	mgr.SetJournal(jr)
	defer mgr.Shutdown()
	require.NoError(t, mgr.RestoreAll(ctx))

	assert.ErrorIs(t, mgr.End(ctx, "missing"), ErrNoTournament)
	assert.ErrorIs(t, mgr.StopLoop("missing"), ErrNoTournament)
	assert.ErrorIs(t, mgr.ResumeLoop("missing"), ErrNoTournament)

	require.NoError(t, mgr.End(ctx, "guild-1"))
	assert.True(t, fb.finalized)

	tour, ok := mgr.Get("guild-1")
	require.True(t, ok, "a finished tournament stays queryable")
	assert.Equal(t, PhaseDone, tour.Phase)

	var kinds []string
	for _, n := range jr.all() {
		kinds = append(kinds, n.kind)
	}
	assert.Contains(t, kinds, string(chat.KindTournamentEnd), "restored tournaments feed the journal")

	require.NoError(t, mgr.Drop(ctx, "guild-1"))
	_, ok = mgr.Get("guild-1")
	assert.False(t, ok)
	_, ok = store.record("guild-1")
	assert.False(t, ok)
	assert.Equal(t, []int64{777}, jr.cleanedIDs(), "dropping releases the journal sequence")
	assert.ErrorIs(t, mgr.Drop(ctx, "guild-1"), ErrNoTournament)
}

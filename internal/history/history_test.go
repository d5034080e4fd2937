package history

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-engine/internal/db"
	"bracket-engine/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, *db.DB) {
	t.Helper()
	database, err := db.NewMemory()
	require.NoError(t, err)
	return New(database), database
}

func TestRecordNote(t *testing.T) {
	tracker, database := newTestTracker(t)

	tracker.RecordNote("guild-1", 777, "registration_open", "announce", "", map[string]interface{}{
		"tournament": "Weekly #42",
		"limit":      64,
	})

	var event models.TournamentEvent
	require.NoError(t, database.Where("tournament_id = ?", 777).First(&event).Error)
	assert.Equal(t, "guild-1", event.GuildID)
	assert.Equal(t, int64(777), event.TournamentID)
	assert.Equal(t, "registration_open", event.EventType)
	assert.Equal(t, "announce", event.Target)
	assert.Empty(t, event.UserID)
	assert.Equal(t, 0, event.SequenceNumber)

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(event.Detail), &detail))
	assert.Equal(t, "Weekly #42", detail["tournament"])
	assert.Equal(t, float64(64), detail["limit"]) // JSON numbers decode as float64
}

func TestRecordNote_EmptyPayload(t *testing.T) {
	tracker, database := newTestTracker(t)

	tracker.RecordNote("guild-1", 777, "checkin_closed", "staff", "", nil)

	var event models.TournamentEvent
	require.NoError(t, database.First(&event).Error)
	assert.Equal(t, "{}", event.Detail)
}

func TestRecordNote_SequenceNumbers(t *testing.T) {
	tracker, database := newTestTracker(t)

	for i := 0; i < 5; i++ {
		tracker.RecordNote("guild-1", 777, "match_start", "channel", "", nil)
	}

	var events []models.TournamentEvent
	require.NoError(t, database.Where("tournament_id = ?", 777).Order("sequence_number ASC").Find(&events).Error)
	require.Len(t, events, 5)
	for i, event := range events {
		assert.Equal(t, i, event.SequenceNumber)
	}
}

func TestRecordNote_TournamentsCountIndependently(t *testing.T) {
	tracker, database := newTestTracker(t)

	tracker.RecordNote("guild-1", 777, "registration_open", "announce", "", nil)
	tracker.RecordNote("guild-2", 888, "registration_open", "announce", "", nil)
	tracker.RecordNote("guild-1", 777, "checkin_open", "announce", "", nil)
	tracker.RecordNote("guild-2", 888, "checkin_open", "announce", "", nil)

	for _, id := range []int64{777, 888} {
		var events []models.TournamentEvent
		require.NoError(t, database.Where("tournament_id = ?", id).Order("sequence_number ASC").Find(&events).Error)
		require.Len(t, events, 2)
		assert.Equal(t, 0, events[0].SequenceNumber)
		assert.Equal(t, 1, events[1].SequenceNumber)
	}
}

func TestRecordNote_ContinuesAfterRestart(t *testing.T) {
	database, err := db.NewMemory()
	require.NoError(t, err)

	before := New(database)
	for i := 0; i < 3; i++ {
		before.RecordNote("guild-1", 777, "match_start", "channel", "", nil)
	}

	// A fresh tracker on the same database stands in for a restarted
	// process. Numbering picks up where the stored trail ends.
	after := New(database)
	after.RecordNote("guild-1", 777, "match_result", "channel", "", nil)

	var event models.TournamentEvent
	require.NoError(t, database.Where("event_type = ?", "match_result").First(&event).Error)
	assert.Equal(t, 3, event.SequenceNumber)
}

func TestCleanupSequence(t *testing.T) {
	tracker, database := newTestTracker(t)

	tracker.RecordNote("guild-1", 777, "match_start", "channel", "", nil)
	tracker.RecordNote("guild-1", 777, "match_start", "channel", "", nil)

	tracker.CleanupSequence(777)

	tracker.mu.Lock()
	_, exists := tracker.sequences[777]
	tracker.mu.Unlock()
	assert.False(t, exists)

	// Stored rows survive cleanup, so recording again continues the trail
	// instead of reusing numbers.
	tracker.RecordNote("guild-1", 777, "match_result", "channel", "user-9", nil)

	var event models.TournamentEvent
	require.NoError(t, database.Where("event_type = ?", "match_result").First(&event).Error)
	assert.Equal(t, 2, event.SequenceNumber)
	assert.Equal(t, "user-9", event.UserID)
}

func TestConcurrentRecording(t *testing.T) {
	tracker, database := newTestTracker(t)

	// The in-memory database only exists on the connection that created
	// it, so the pool must stay at one.
	sqlDB, err := database.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const numEvents = 100
	var wg sync.WaitGroup
	for i := 0; i < numEvents; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordNote("guild-1", 777, "match_start", "channel", "", nil)
		}()
	}
	wg.Wait()

	var events []models.TournamentEvent
	require.NoError(t, database.Where("tournament_id = ?", 777).Find(&events).Error)
	require.Len(t, events, numEvents)

	seen := make(map[int]bool)
	for _, event := range events {
		assert.False(t, seen[event.SequenceNumber], "duplicate sequence number: %d", event.SequenceNumber)
		seen[event.SequenceNumber] = true
	}
}

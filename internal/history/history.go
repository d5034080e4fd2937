package history

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"gorm.io/gorm"

	"bracket-engine/internal/db"
	"bracket-engine/internal/models"
)

// Tracker persists the engine's notification stream as an ordered audit
// trail, one sequence per tournament. It implements tournament.EventJournal.
type Tracker struct {
	db        *db.DB
	mu        sync.Mutex
	sequences map[int64]int // tournament id -> next sequence number
}

// New creates a tracker writing to the given database.
func New(database *db.DB) *Tracker {
	return &Tracker{
		db:        database,
		sequences: make(map[int64]int),
	}
}

// RecordNote stores one emitted notification. Failures are logged and
// swallowed so a broken audit table cannot stall the engine.
func (h *Tracker) RecordNote(guildID string, tournamentID int64, kind, target, userID string, payload map[string]interface{}) {
	seq := h.nextSequence(tournamentID)

	detail := "{}"
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[HISTORY] Failed to marshal detail for %s: %v", kind, err)
		} else {
			detail = string(raw)
		}
	}

	event := models.TournamentEvent{
		GuildID:        guildID,
		TournamentID:   tournamentID,
		EventType:      kind,
		Target:         target,
		UserID:         userID,
		Detail:         detail,
		SequenceNumber: seq,
	}
	if err := h.db.Create(&event).Error; err != nil {
		log.Printf("[HISTORY] Failed to save %s event for tournament %d: %v", kind, tournamentID, err)
	}
}

// nextSequence hands out the next number for a tournament. A tournament this
// process has not numbered yet continues from the stored high-water mark, so
// a restart or a restore on another instance never reuses a number.
func (h *Tracker) nextSequence(tournamentID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq, ok := h.sequences[tournamentID]
	if !ok {
		seq = h.storedNext(tournamentID)
	}
	h.sequences[tournamentID] = seq + 1
	return seq
}

// storedNext reads max(sequence_number)+1 from the table. Called under mu.
func (h *Tracker) storedNext(tournamentID int64) int {
	var last models.TournamentEvent
	err := h.db.Where("tournament_id = ?", tournamentID).
		Order("sequence_number DESC").
		First(&last).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[HISTORY] Failed to read sequence for tournament %d: %v", tournamentID, err)
		}
		return 0
	}
	return last.SequenceNumber + 1
}

// CleanupSequence drops the in-memory counter for a tournament that left
// this instance. Stored rows stay; a later return re-seeds from them.
func (h *Tracker) CleanupSequence(tournamentID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sequences, tournamentID)
}

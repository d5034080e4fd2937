package tournament

import (
	"errors"
	"fmt"
	"strings"
)

// Tournament errors
var (
	// Setup errors
	ErrStartInPast      = errors.New("tournament start time is in the past")
	ErrAlreadyStarted   = errors.New("tournament is already underway on the bracket provider")
	ErrTournamentExists = errors.New("a tournament is already running for this guild")
	ErrNoTournament     = errors.New("no tournament is running for this guild")

	// Registration errors
	ErrLimitReached      = errors.New("participant limit reached")
	ErrAlreadyRegistered = errors.New("user is already registered")
	ErrNotRegistered     = errors.New("user is not registered")

	// Phase errors
	ErrWrongPhase          = errors.New("operation not allowed in the current phase")
	ErrRegistrationClosed  = errors.New("registration window is not open")
	ErrCheckinClosed       = errors.New("check-in window is not open")
	ErrMatchesStillRunning = errors.New("matches are still ongoing")

	// Match errors
	ErrMatchNotFound   = errors.New("match not found")
	ErrMatchNotOngoing = errors.New("match is not ongoing")
	ErrMatchDone       = errors.New("match is already done")
	ErrNotInMatch      = errors.New("player is not part of this match")

	// Streamer errors
	ErrStreamerExists     = errors.New("streamer already has a queue on this tournament")
	ErrStreamerNotFound   = errors.New("streamer not found")
	ErrSetAlreadyQueued   = errors.New("set is already queued")
	ErrSetClaimedByOther  = errors.New("set is claimed by another streamer")
	ErrSetAlreadyPlayed   = errors.New("set is already completed")
	ErrSetNotQueued       = errors.New("set is not part of this queue")

	// State errors
	ErrNoSavedState       = errors.New("no saved tournament state")
	ErrUnknownVersion     = errors.New("unsupported state version")
	ErrLoopTimeout        = errors.New("could not acquire tournament lock within the tick timeout")
	ErrTaskBudgetExceeded = errors.New("loop task cancelled after too many consecutive errors")
)

// ConflictingDatesError reports scheduler events whose derived times violate
// the date ordering rules. The operator can accept the dates as-is, which
// moves every offender into the ignored event set.
type ConflictingDatesError struct {
	Offenders []Event
}

func (e *ConflictingDatesError) Error() string {
	names := make([]string, len(e.Offenders))
	for i, ev := range e.Offenders {
		names[i] = string(ev)
	}
	return fmt.Sprintf("conflicting event dates: %s", strings.Join(names, ", "))
}

// LostParticipantError marks a restored participant whose chat user can no
// longer be resolved. Restore handles it and proceeds; the error only reaches
// logs and the staff notification.
type LostParticipantError struct {
	UserID   string
	PlayerID int64
}

func (e *LostParticipantError) Error() string {
	return fmt.Sprintf("participant %s (player %d) is no longer in the guild", e.UserID, e.PlayerID)
}

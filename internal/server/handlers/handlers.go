// Package handlers implements the HTTP API for tournament operators.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bracket-engine/internal/bracket"
	"bracket-engine/internal/locks"
	"bracket-engine/internal/store"
	"bracket-engine/internal/tournament"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tournament.ErrNoTournament),
		errors.Is(err, tournament.ErrMatchNotFound),
		errors.Is(err, tournament.ErrNotRegistered),
		errors.Is(err, tournament.ErrStreamerNotFound),
		errors.Is(err, tournament.ErrSetNotQueued),
		errors.Is(err, store.ErrSettingsNotFound):
		return http.StatusNotFound

	case errors.Is(err, tournament.ErrTournamentExists),
		errors.Is(err, tournament.ErrAlreadyStarted),
		errors.Is(err, tournament.ErrAlreadyRegistered),
		errors.Is(err, tournament.ErrMatchesStillRunning),
		errors.Is(err, tournament.ErrWrongPhase),
		errors.Is(err, tournament.ErrRegistrationClosed),
		errors.Is(err, tournament.ErrCheckinClosed),
		errors.Is(err, tournament.ErrMatchNotOngoing),
		errors.Is(err, tournament.ErrMatchDone),
		errors.Is(err, tournament.ErrNotInMatch),
		errors.Is(err, tournament.ErrLimitReached),
		errors.Is(err, tournament.ErrStreamerExists),
		errors.Is(err, tournament.ErrSetAlreadyQueued),
		errors.Is(err, tournament.ErrSetClaimedByOther),
		errors.Is(err, tournament.ErrSetAlreadyPlayed),
		errors.Is(err, locks.ErrLockAlreadyHeld),
		errors.Is(err, locks.ErrAlreadyHolding):
		return http.StatusConflict

	case errors.Is(err, tournament.ErrStartInPast):
		return http.StatusBadRequest

	case errors.Is(err, locks.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}

	var pe *bracket.ProviderError
	if errors.As(err, &pe) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondErr writes the error as JSON. Date conflicts additionally list
// the offending events so the operator can retry with accept_conflicts.
func respondErr(c *gin.Context, err error) {
	var conflict *tournament.ConflictingDatesError
	if errors.As(err, &conflict) {
		offenders := make([]string, len(conflict.Offenders))
		for i, ev := range conflict.Offenders {
			offenders[i] = string(ev)
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "conflicts": offenders})
		return
	}
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// getTournament resolves the guild's running tournament or writes a 404.
func getTournament(c *gin.Context, mgr *tournament.Manager) (*tournament.Tournament, bool) {
	t, ok := mgr.Get(c.Param("guild"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": tournament.ErrNoTournament.Error()})
		return nil, false
	}
	return t, true
}

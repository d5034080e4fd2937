package bracket

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tournament states reported by the bracket provider.
const (
	TournamentPending  = "pending"
	TournamentUnderway = "underway"
	TournamentAwaiting = "awaiting_review"
	TournamentComplete = "complete"
)

// Match states reported by the bracket provider.
const (
	MatchOpen     = "open"
	MatchPending  = "pending"
	MatchComplete = "complete"
)

// TournamentInfo is the provider's view of a tournament
type TournamentInfo struct {
	ID      int64
	Name    string
	Game    string
	URL     string
	Limit   int // 0 means no cap
	State   string
	StartAt *time.Time
}

// ParticipantInfo is the provider's view of a participant
type ParticipantInfo struct {
	ID     int64
	Name   string
	Seed   int
	Active bool
}

// MatchInfo is the provider's view of a single match
type MatchInfo struct {
	ID        int64
	Round     int // positive = winner bracket, negative = loser bracket
	Set       int // suggested play order, unique per tournament
	State     string
	Player1ID int64 // 0 when the slot is not decided yet
	Player2ID int64
	Underway  bool
	ScoresCSV string
	WinnerID  int64
}

// Client is the remote bracket provider bound to a single tournament.
// Implementations must return *ProviderError for non-2xx responses so
// callers can tell transient failures from configuration mistakes.
type Client interface {
	ShowTournament(ctx context.Context) (*TournamentInfo, error)
	StartTournament(ctx context.Context) error
	FinalizeTournament(ctx context.Context) error
	ResetTournament(ctx context.Context) error

	ListParticipants(ctx context.Context) ([]ParticipantInfo, error)
	CreateParticipant(ctx context.Context, name string, seed int) (int64, error)
	DestroyParticipant(ctx context.Context, id int64) error

	ListMatches(ctx context.Context) ([]MatchInfo, error)
	UpdateMatch(ctx context.Context, id int64, scoresCSV string, winnerID int64) error
	MarkMatchUnderway(ctx context.Context, id int64) error
	UnmarkMatchUnderway(ctx context.Context, id int64) error
}

// ProviderError carries the HTTP status returned by the bracket provider.
// Status 0 means the request never produced a response (timeout, connection
// reset) and is treated like a gateway failure.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bracket provider: status %d", e.Status)
	}
	return fmt.Sprintf("bracket provider: status %d: %s", e.Status, e.Message)
}

// Transient reports whether the failure is worth a single retry.
func (e *ProviderError) Transient() bool {
	return e.Status == 0 || e.Status >= 500
}

// IsTransient reports whether err is a provider failure that may succeed on retry.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

// IsConfigError reports whether err means the provider credentials or the
// tournament reference are wrong. Retrying cannot fix these.
func IsConfigError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 401 || pe.Status == 404
	}
	return false
}

// IsNotFound reports whether the provider answered 404 for the resource.
func IsNotFound(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 404
	}
	return false
}

package bracket

import (
	"context"
	"time"

	"bracket-engine/internal/metrics"
)

// DefaultRetryBackoff is the pause before the single retry attempt.
const DefaultRetryBackoff = 1500 * time.Millisecond

// Retrying wraps a Client and retries each call exactly once when the
// provider fails with a gateway class error (5xx or no response at all).
// Auth and not-found errors pass through untouched.
type Retrying struct {
	next    Client
	backoff time.Duration
}

// WithRetry wraps client with the single-retry policy.
func WithRetry(client Client) *Retrying {
	return &Retrying{next: client, backoff: DefaultRetryBackoff}
}

// WithRetryBackoff wraps client with a custom backoff between attempts.
func WithRetryBackoff(client Client, backoff time.Duration) *Retrying {
	return &Retrying{next: client, backoff: backoff}
}

func (r *Retrying) retry(ctx context.Context, call func() error) error {
	err := call()
	if err == nil || !IsTransient(err) {
		return err
	}
	metrics.ProviderRetries.Inc()
	select {
	case <-time.After(r.backoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return call()
}

func (r *Retrying) ShowTournament(ctx context.Context) (*TournamentInfo, error) {
	var info *TournamentInfo
	err := r.retry(ctx, func() error {
		var err error
		info, err = r.next.ShowTournament(ctx)
		return err
	})
	return info, err
}

func (r *Retrying) StartTournament(ctx context.Context) error {
	return r.retry(ctx, func() error { return r.next.StartTournament(ctx) })
}

func (r *Retrying) FinalizeTournament(ctx context.Context) error {
	return r.retry(ctx, func() error { return r.next.FinalizeTournament(ctx) })
}

func (r *Retrying) ResetTournament(ctx context.Context) error {
	return r.retry(ctx, func() error { return r.next.ResetTournament(ctx) })
}

func (r *Retrying) ListParticipants(ctx context.Context) ([]ParticipantInfo, error) {
	var list []ParticipantInfo
	err := r.retry(ctx, func() error {
		var err error
		list, err = r.next.ListParticipants(ctx)
		return err
	})
	return list, err
}

func (r *Retrying) CreateParticipant(ctx context.Context, name string, seed int) (int64, error) {
	var id int64
	err := r.retry(ctx, func() error {
		var err error
		id, err = r.next.CreateParticipant(ctx, name, seed)
		return err
	})
	return id, err
}

func (r *Retrying) DestroyParticipant(ctx context.Context, id int64) error {
	return r.retry(ctx, func() error { return r.next.DestroyParticipant(ctx, id) })
}

func (r *Retrying) ListMatches(ctx context.Context) ([]MatchInfo, error) {
	var list []MatchInfo
	err := r.retry(ctx, func() error {
		var err error
		list, err = r.next.ListMatches(ctx)
		return err
	})
	return list, err
}

func (r *Retrying) UpdateMatch(ctx context.Context, id int64, scoresCSV string, winnerID int64) error {
	return r.retry(ctx, func() error { return r.next.UpdateMatch(ctx, id, scoresCSV, winnerID) })
}

func (r *Retrying) MarkMatchUnderway(ctx context.Context, id int64) error {
	return r.retry(ctx, func() error { return r.next.MarkMatchUnderway(ctx, id) })
}

func (r *Retrying) UnmarkMatchUnderway(ctx context.Context, id int64) error {
	return r.retry(ctx, func() error { return r.next.UnmarkMatchUnderway(ctx, id) })
}

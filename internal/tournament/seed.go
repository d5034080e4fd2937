package tournament

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bracket-engine/internal/chat"
)

// seed reorders the roster into bracket order: ranked players by league
// points descending, then the unranked tail shuffled. Without a ranking
// source the registration order stands.
func (t *Tournament) seed(ctx context.Context) error {
	if t.ranking == nil || t.settings.Ranking.LeagueName == "" {
		return nil
	}
	table, err := t.ranking.Ranking(ctx)
	if err != nil {
		return fmt.Errorf("fetch ranking: %w", err)
	}

	floor := 0
	first := true
	for _, pts := range table {
		if first || pts < floor {
			floor = pts
			first = false
		}
	}

	ranked := make([]*Participant, 0, len(t.Participants))
	unranked := make([]*Participant, 0, len(t.Participants))
	for _, p := range t.Participants {
		if pts, ok := table[p.Name]; ok {
			p.elo = pts
			p.ranked = true
			ranked = append(ranked, p)
		} else {
			p.elo = floor
			p.ranked = false
			unranked = append(unranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].elo > ranked[j].elo
	})
	rand.Shuffle(len(unranked), func(i, j int) {
		unranked[i], unranked[j] = unranked[j], unranked[i]
	})
	t.Participants = append(ranked, unranked...)
	log.Printf("[SEED] %s: ordered %d ranked and %d unranked participants", t.Name, len(ranked), len(unranked))
	return nil
}

// uploadParticipants pushes the roster to the provider. The incremental
// pass only creates entries that never made it remote; force wipes the
// remote list first and re-creates everyone in seed order.
func (t *Tournament) uploadParticipants(ctx context.Context, force bool) error {
	if force {
		remote, err := t.provider.ListParticipants(ctx)
		if err != nil {
			return fmt.Errorf("list remote participants: %w", err)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, rp := range remote {
			id := rp.ID
			g.Go(func() error {
				return t.provider.DestroyParticipant(gctx, id)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("clear remote participants: %w", err)
		}
		for _, p := range t.Participants {
			p.PlayerID = 0
		}
	}

	uploaded := 0
	for i, p := range t.Participants {
		if p.PlayerID != 0 {
			continue
		}
		id, err := t.provider.CreateParticipant(ctx, p.Name, i+1)
		if err != nil {
			return fmt.Errorf("upload participant %s: %w", p.Name, err)
		}
		p.PlayerID = id
		uploaded++
	}
	if uploaded > 0 {
		log.Printf("[SEED] %s: uploaded %d participants", t.Name, uploaded)
	}
	return nil
}

// spawnSeedAndUpload runs the seed and upload pass in the background so the
// phase transition that triggered it returns immediately. seedAsync is off
// in tests, where the pass runs inline under the already-held lock.
func (t *Tournament) spawnSeedAndUpload() {
	if !t.seedAsync {
		t.seedAndUpload(context.Background())
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		t.lk.lock()
		defer t.lk.unlock()
		t.seedAndUpload(ctx)
		t.flushNotifications(ctx)
		if err := t.save(); err != nil {
			log.Printf("[STATE] %s: %v", t.Name, err)
		}
	}()
}

func (t *Tournament) seedAndUpload(ctx context.Context) {
	if t.Phase != PhaseAwaiting {
		return
	}
	if err := t.seed(ctx); err != nil {
		log.Printf("[SEED] %s: %v", t.Name, err)
		t.queueStaff(chat.KindStaffAlert, map[string]interface{}{
			"message": "seeding failed, roster keeps registration order until re-uploaded",
			"error":   err.Error(),
		})
		return
	}
	if err := t.uploadParticipants(ctx, false); err != nil {
		log.Printf("[SEED] %s: %v", t.Name, err)
		t.queueStaff(chat.KindStaffAlert, map[string]interface{}{
			"message": "participant upload failed, retry with the upload command",
			"error":   err.Error(),
		})
	}
}

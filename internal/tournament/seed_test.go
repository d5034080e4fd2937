package tournament

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRanking struct {
	table map[string]int
	err   error
}

func (f *fakeRanking) Ranking(ctx context.Context) (map[string]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.table, nil
}

func TestSeedOrdersRankedFirst(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	tour := rig.tour
	tour.settings.Ranking.LeagueName = "melee-weekly"
	tour.ranking = &fakeRanking{table: map[string]int{
		"mango": 2400,
		"zain":  2200,
		"plup":  2300,
	}}

	for _, name := range []string{"ibdw", "zain", "mango", "wizzrobe", "plup"} {
		tour.Participants = append(tour.Participants, &Participant{UserID: name, Name: name})
	}

	require.NoError(t, tour.seed(ctx))

	names := make([]string, len(tour.Participants))
	for i, p := range tour.Participants {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"mango", "plup", "zain"}, names[:3], "ranked players sort by points")
	assert.ElementsMatch(t, []string{"ibdw", "wizzrobe"}, names[3:], "unranked players fill the tail")
}

func TestSeedWithoutSourceKeepsOrder(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	tour := rig.tour
	for _, name := range []string{"b", "a"} {
		tour.Participants = append(tour.Participants, &Participant{UserID: name, Name: name})
	}
	require.NoError(t, tour.seed(ctx))
	assert.Equal(t, "b", tour.Participants[0].Name, "registration order stands without a league")
}

func TestSeedErrorPropagates(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	tour := rig.tour
	tour.settings.Ranking.LeagueName = "melee-weekly"
	boom := errors.New("ranking host down")
	tour.ranking = &fakeRanking{err: boom}
	tour.Participants = append(tour.Participants, &Participant{UserID: "a", Name: "a"})

	assert.ErrorIs(t, tour.seed(ctx), boom)
}

func TestUploadAssignsSeedNumbers(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(DefaultSettings())
	tour := rig.tour
	for _, name := range []string{"mango", "zain", "plup"} {
		tour.Participants = append(tour.Participants, &Participant{UserID: name, Name: name})
	}

	require.NoError(t, tour.uploadParticipants(ctx, false))
	require.Len(t, rig.fb.participants, 3)
	for i, rp := range rig.fb.participants {
		assert.Equal(t, tour.Participants[i].Name, rp.Name)
		assert.Equal(t, i+1, rp.Seed)
		assert.Equal(t, rp.ID, tour.Participants[i].PlayerID)
	}

	// The incremental pass only uploads the new tail.
	tour.Participants = append(tour.Participants, &Participant{UserID: "ibdw", Name: "ibdw"})
	require.NoError(t, tour.uploadParticipants(ctx, false))
	require.Len(t, rig.fb.participants, 4)
	assert.Equal(t, 4, rig.fb.participants[3].Seed)
}

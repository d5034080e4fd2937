package ranking

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankingStopsOnIdenticalPage(t *testing.T) {
	pages := map[string]string{
		"1": "Player,Points\nmang0,2100\narmada,2050\n",
		"2": "Player,Points\nhbox,1900\n",
	}
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requests = append(requests, page)
		body, ok := pages[page]
		if !ok {
			// Out of range pages repeat the last real page.
			body = pages["2"]
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	src := New(Config{URL: srv.URL})
	ranking, err := src.Ranking(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"mang0": 2100, "armada": 2050, "hbox": 1900}, ranking)
	// Page 3 equals page 2 byte for byte, so page 4 is never requested.
	assert.Equal(t, []string{"1", "2", "3"}, requests)
}

func TestRankingSamePageEverywhere(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "Player,Points\nmang0,2100\n")
	}))
	defer srv.Close()

	src := New(Config{URL: srv.URL})
	ranking, err := src.Ranking(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"mang0": 2100}, ranking)
	assert.Equal(t, 2, hits, "stops as soon as a page repeats")
}

func TestRankingHonorsPageCap(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprintf(w, "Player,Points\nplayer%s,%d\n", r.URL.Query().Get("page"), 1000-hits)
	}))
	defer srv.Close()

	src := New(Config{URL: srv.URL})
	ranking, err := src.Ranking(context.Background())
	require.NoError(t, err)

	assert.Len(t, ranking, DefaultMaxPages)
	assert.Equal(t, DefaultMaxPages, hits)
}

func TestRankingCooldownServesCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "Player,Points\nmang0,2100\n")
	}))
	defer srv.Close()

	clock := time.Now()
	src := New(Config{URL: srv.URL})
	src.now = func() time.Time { return clock }

	_, err := src.Ranking(context.Background())
	require.NoError(t, err)
	first := hits

	// Second call inside the cooldown hits the cache.
	_, err = src.Ranking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, hits)

	// After the cooldown the source refetches.
	clock = clock.Add(DefaultCooldown + time.Second)
	_, err = src.Ranking(context.Background())
	require.NoError(t, err)
	assert.Greater(t, hits, first)
}

func TestRankingSkipsHeaderAndMalformedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Player,Character,Points\nmang0,Fox,2100\nbroken-row\n,Falco,900\nn0ne,Falcon,1500\n")
	}))
	defer srv.Close()

	src := New(Config{URL: srv.URL})
	ranking, err := src.Ranking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"mang0": 2100, "n0ne": 1500}, ranking)
}

func TestRankingCachedCopyIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Player,Points\nmang0,2100\n")
	}))
	defer srv.Close()

	src := New(Config{URL: srv.URL})
	first, err := src.Ranking(context.Background())
	require.NoError(t, err)
	first["mang0"] = 1

	second, err := src.Ranking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2100, second["mang0"])
}

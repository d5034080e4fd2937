package ranking

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxPages caps how many ranking pages one refresh will pull.
	DefaultMaxPages = 5
	// DefaultCooldown is the minimum time between two remote refreshes.
	DefaultCooldown = 5 * time.Minute
)

// Config holds the ranking export endpoint settings
type Config struct {
	URL      string
	Timeout  time.Duration
	MaxPages int
	Cooldown time.Duration
}

// Source fetches a player ranking from a paged CSV export. Results are
// cached so repeated seeding calls inside the cooldown window reuse the
// last successful fetch instead of hammering the ranking site.
type Source struct {
	http     *http.Client
	url      string
	maxPages int
	cooldown time.Duration

	mu        sync.Mutex
	cached    map[string]int
	fetchedAt time.Time
	now       func() time.Time
}

// New creates a ranking source for the given CSV export URL.
func New(cfg Config) *Source {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	return &Source{
		http:     &http.Client{Timeout: timeout},
		url:      cfg.URL,
		maxPages: maxPages,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Ranking returns player name to points. Within the cooldown window the
// cached result is returned without touching the network.
func (s *Source) Ranking(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.cooldown {
		return copyRanking(s.cached), nil
	}

	ranking, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.cached = ranking
	s.fetchedAt = s.now()
	return copyRanking(ranking), nil
}

// fetch pulls pages until one comes back byte-identical to the previous
// page or the page cap is reached.
func (s *Source) fetch(ctx context.Context) (map[string]int, error) {
	ranking := map[string]int{}
	var prev []byte

	for page := 1; page <= s.maxPages; page++ {
		body, err := s.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("ranking page %d: %w", page, err)
		}
		if prev != nil && bytes.Equal(body, prev) {
			break
		}
		prev = body

		if err := parsePage(body, ranking); err != nil {
			return nil, fmt.Errorf("ranking page %d: %w", page, err)
		}
	}

	log.Printf("[RANKING] Fetched %d ranked players from %s", len(ranking), s.url)
	return ranking, nil
}

func (s *Source) fetchPage(ctx context.Context, page int) ([]byte, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("bad ranking url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// parsePage reads "name,...,points" rows. The first column is the player
// name, the last one the points. Rows whose last column is not a number
// (headers mostly) are skipped. The first occurrence of a name wins since
// pages come ordered best to worst.
func parsePage(body []byte, into map[string]int) error {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(record) < 2 {
			continue
		}
		name := strings.TrimSpace(record[0])
		points, err := strconv.Atoi(strings.TrimSpace(record[len(record)-1]))
		if err != nil || name == "" {
			continue
		}
		if _, seen := into[name]; !seen {
			into[name] = points
		}
	}
}

func copyRanking(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package challonge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bracket-engine/internal/bracket"
)

// DefaultBaseURL is the public Challonge v1 API endpoint.
const DefaultBaseURL = "https://api.challonge.com/v1"

// Config holds the Challonge API credentials
type Config struct {
	BaseURL  string
	Username string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to the Challonge v1 REST API for one tournament.
// The ref is either the tournament slug or "subdomain-slug".
type Client struct {
	http     *http.Client
	base     string
	username string
	apiKey   string
	ref      string
}

// New creates a Challonge client bound to the given tournament ref.
func New(cfg Config, ref string) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		base:     strings.TrimRight(base, "/"),
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		ref:      ref,
	}
}

// Ref returns the tournament reference this client is bound to.
func (c *Client) Ref() string {
	return c.ref
}

type errorBody struct {
	Errors []string `json:"errors"`
}

// do performs one API call. Form values are sent urlencoded for writes and
// as query parameters for reads. Non-2xx responses come back as
// *bracket.ProviderError; transport failures map to status 0.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	endpoint := c.base + path
	var body io.Reader
	if form != nil {
		if method == http.MethodGet {
			endpoint += "?" + form.Encode()
		} else {
			body = strings.NewReader(form.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &bracket.ProviderError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &bracket.ProviderError{Status: 0, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && len(eb.Errors) > 0 {
			msg = strings.Join(eb.Errors, "; ")
		}
		return &bracket.ProviderError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type tournamentEnvelope struct {
	Tournament tournamentJSON `json:"tournament"`
}

type tournamentJSON struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	GameName         string  `json:"game_name"`
	FullChallongeURL string  `json:"full_challonge_url"`
	SignupCap        *int    `json:"signup_cap"`
	State            string  `json:"state"`
	StartAt          *string `json:"start_at"`
}

type participantEnvelope struct {
	Participant participantJSON `json:"participant"`
}

type participantJSON struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Seed   int    `json:"seed"`
	Active bool   `json:"active"`
}

type matchEnvelope struct {
	Match matchJSON `json:"match"`
}

type matchJSON struct {
	ID                 int64   `json:"id"`
	Round              int     `json:"round"`
	SuggestedPlayOrder *int    `json:"suggested_play_order"`
	State              string  `json:"state"`
	Player1ID          *int64  `json:"player1_id"`
	Player2ID          *int64  `json:"player2_id"`
	UnderwayAt         *string `json:"underway_at"`
	ScoresCSV          string  `json:"scores_csv"`
	WinnerID           *int64  `json:"winner_id"`
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

func (c *Client) ShowTournament(ctx context.Context) (*bracket.TournamentInfo, error) {
	var env tournamentEnvelope
	if err := c.do(ctx, http.MethodGet, "/tournaments/"+c.ref+".json", nil, &env); err != nil {
		return nil, err
	}
	tr := env.Tournament
	info := &bracket.TournamentInfo{
		ID:      tr.ID,
		Name:    tr.Name,
		Game:    tr.GameName,
		URL:     tr.FullChallongeURL,
		State:   tr.State,
		StartAt: parseTime(tr.StartAt),
	}
	if tr.SignupCap != nil {
		info.Limit = *tr.SignupCap
	}
	return info, nil
}

func (c *Client) StartTournament(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/tournaments/"+c.ref+"/start.json", nil, nil)
}

func (c *Client) FinalizeTournament(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/tournaments/"+c.ref+"/finalize.json", nil, nil)
}

func (c *Client) ResetTournament(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/tournaments/"+c.ref+"/reset.json", nil, nil)
}

func (c *Client) ListParticipants(ctx context.Context) ([]bracket.ParticipantInfo, error) {
	var envs []participantEnvelope
	if err := c.do(ctx, http.MethodGet, "/tournaments/"+c.ref+"/participants.json", nil, &envs); err != nil {
		return nil, err
	}
	list := make([]bracket.ParticipantInfo, 0, len(envs))
	for _, env := range envs {
		p := env.Participant
		list = append(list, bracket.ParticipantInfo{
			ID:     p.ID,
			Name:   p.Name,
			Seed:   p.Seed,
			Active: p.Active,
		})
	}
	return list, nil
}

func (c *Client) CreateParticipant(ctx context.Context, name string, seed int) (int64, error) {
	form := url.Values{}
	form.Set("participant[name]", name)
	if seed > 0 {
		form.Set("participant[seed]", fmt.Sprintf("%d", seed))
	}
	var env participantEnvelope
	if err := c.do(ctx, http.MethodPost, "/tournaments/"+c.ref+"/participants.json", form, &env); err != nil {
		return 0, err
	}
	return env.Participant.ID, nil
}

func (c *Client) DestroyParticipant(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/tournaments/%s/participants/%d.json", c.ref, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListMatches(ctx context.Context) ([]bracket.MatchInfo, error) {
	var envs []matchEnvelope
	if err := c.do(ctx, http.MethodGet, "/tournaments/"+c.ref+"/matches.json", nil, &envs); err != nil {
		return nil, err
	}
	list := make([]bracket.MatchInfo, 0, len(envs))
	for _, env := range envs {
		m := env.Match
		info := bracket.MatchInfo{
			ID:        m.ID,
			Round:     m.Round,
			State:     m.State,
			Underway:  parseTime(m.UnderwayAt) != nil,
			ScoresCSV: m.ScoresCSV,
		}
		if m.SuggestedPlayOrder != nil {
			info.Set = *m.SuggestedPlayOrder
		}
		if m.Player1ID != nil {
			info.Player1ID = *m.Player1ID
		}
		if m.Player2ID != nil {
			info.Player2ID = *m.Player2ID
		}
		if m.WinnerID != nil {
			info.WinnerID = *m.WinnerID
		}
		list = append(list, info)
	}
	return list, nil
}

func (c *Client) UpdateMatch(ctx context.Context, id int64, scoresCSV string, winnerID int64) error {
	form := url.Values{}
	form.Set("match[scores_csv]", scoresCSV)
	form.Set("match[winner_id]", fmt.Sprintf("%d", winnerID))
	path := fmt.Sprintf("/tournaments/%s/matches/%d.json", c.ref, id)
	return c.do(ctx, http.MethodPut, path, form, nil)
}

func (c *Client) MarkMatchUnderway(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/tournaments/%s/matches/%d/mark_as_underway.json", c.ref, id)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) UnmarkMatchUnderway(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/tournaments/%s/matches/%d/unmark_as_underway.json", c.ref, id)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

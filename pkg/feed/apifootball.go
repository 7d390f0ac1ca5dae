// Package feed is the API-Football client behind the live edge view
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/transport"
	"github.com/richard-senior/podds/pkg/util/podds"
	"golang.org/x/time/rate"
)

// API-Football bet ids
const (
	BetMatchWinner    = 1
	BetGoalsOverUnder = 5
	BetDoubleChance   = 12
)

// Compile-time check
var _ podds.FixtureFeed = (*Client)(nil)

// Client talks to API-Football
type Client struct {
	baseURL     string
	key         string
	host        string
	bookmakerID int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL points the client somewhere else, tests use an httptest server
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the shared transport client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets requests per second and burst
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient builds a client from the config
func NewClient(cfg *podds.PoddsConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.ApiFootballBaseURL, "/"),
		key:         cfg.ApiFootballKey,
		host:        cfg.ApiFootballHost,
		bookmakerID: cfg.PreferredBookmakerID,
		limiter:     rate.NewLimiter(rate.Limit(cfg.FeedRequestsPerSec), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Errors   json.RawMessage `json:"errors"`
	Response json.RawMessage `json:"response"`
}

// get performs a rate limited GET and returns the "response" member
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	headers := map[string]string{
		"Accept":          "application/json",
		"x-rapidapi-key":  c.key,
		"x-rapidapi-host": c.host,
	}
	logger.Debug("API-Football GET", path, params.Encode())
	body, err := transport.GetWith(ctx, c.httpClient, u, headers)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiErr := describeErrors(env.Errors); apiErr != "" {
		return nil, fmt.Errorf("api error on %s: %s", path, apiErr)
	}
	return env.Response, nil
}

// describeErrors flattens the "errors" member, which is [] when empty and an object otherwise
func describeErrors(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "[]" || string(raw) == "{}" || string(raw) == "null" {
		return ""
	}
	var byField map[string]string
	if err := json.Unmarshal(raw, &byField); err == nil {
		keys := make([]string, 0, len(byField))
		for k := range byField {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+byField[k])
		}
		return strings.Join(parts, "; ")
	}
	return string(raw)
}

type apiFixture struct {
	Fixture struct {
		ID     int64  `json:"id"`
		Date   string `json:"date"`
		Status struct {
			Short   string `json:"short"`
			Elapsed *int   `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		ID     int    `json:"id"`
		Season int    `json:"season"`
		Round  string `json:"round"`
	} `json:"league"`
	Teams struct {
		Home struct {
			Name string `json:"name"`
		} `json:"home"`
		Away struct {
			Name string `json:"name"`
		} `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

// Fixtures returns the in-play (q.Live) or next q.Next fixtures of a league
func (c *Client) Fixtures(ctx context.Context, q podds.FixtureQuery) ([]podds.Fixture, error) {
	params := url.Values{}
	params.Set("league", strconv.Itoa(q.LeagueID))
	params.Set("season", strconv.Itoa(q.Season))
	switch {
	case q.Live:
		params.Set("live", "all")
	case q.Next > 0:
		params.Set("next", strconv.Itoa(q.Next))
	}

	resp, err := c.get(ctx, "/fixtures", params)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(resp, &items); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	fixtures := make([]podds.Fixture, 0, len(items))
	for _, raw := range items {
		var f apiFixture
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Warn("Skipping undecodable fixture", err)
			continue
		}
		fixtures = append(fixtures, toFixture(f, raw))
	}
	return fixtures, nil
}

func toFixture(f apiFixture, raw json.RawMessage) podds.Fixture {
	out := podds.Fixture{
		ID:        f.Fixture.ID,
		LeagueID:  f.League.ID,
		Season:    f.League.Season,
		Round:     f.League.Round,
		Date:      f.Fixture.Date,
		HomeTeam:  f.Teams.Home.Name,
		AwayTeam:  f.Teams.Away.Name,
		Status:    f.Fixture.Status.Short,
		Minute:    intOr(f.Fixture.Status.Elapsed, -1),
		HomeGoals: intOr(f.Goals.Home, -1),
		AwayGoals: intOr(f.Goals.Away, -1),
		Raw:       raw,
	}
	if t, err := time.Parse(time.RFC3339, f.Fixture.Date); err == nil {
		out.Kickoff = t.UTC()
	} else if f.Fixture.Date != "" {
		logger.Debug("Unparseable fixture date", f.Fixture.ID, f.Fixture.Date)
	}
	return out
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

type apiOdds struct {
	Bookmakers []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
		Bets []struct {
			ID     int `json:"id"`
			Values []struct {
				Value string          `json:"value"`
				Odd   json.RawMessage `json:"odd"`
			} `json:"values"`
		} `json:"bets"`
	} `json:"bookmakers"`
}

// Odds returns the preferred bookmaker's prices, or the first bookmaker's when it is absent.
// A fixture with no quotes yields zero prices.
func (c *Client) Odds(ctx context.Context, fixtureID int64) (*podds.MarketOdds, error) {
	params := url.Values{}
	params.Set("fixture", strconv.FormatInt(fixtureID, 10))
	resp, err := c.get(ctx, "/odds", params)
	if err != nil {
		return nil, err
	}
	var items []apiOdds
	if err := json.Unmarshal(resp, &items); err != nil {
		return nil, fmt.Errorf("decode odds: %w", err)
	}

	odds := &podds.MarketOdds{}
	if len(items) == 0 || len(items[0].Bookmakers) == 0 {
		return odds, nil
	}
	bookies := items[0].Bookmakers
	bookie := bookies[0]
	for _, b := range bookies {
		if b.ID == c.bookmakerID {
			bookie = b
			break
		}
	}
	odds.Bookmaker = bookie.Name

	lines := map[float64]*podds.GoalLineOdds{}
	for _, bet := range bookie.Bets {
		for _, v := range bet.Values {
			price := parseNumber(v.Odd)
			switch bet.ID {
			case BetMatchWinner:
				switch v.Value {
				case "Home":
					odds.Home = price
				case "Draw":
					odds.Draw = price
				case "Away":
					odds.Away = price
				}
			case BetDoubleChance:
				switch v.Value {
				case "Home/Draw":
					odds.HomeOrDraw = price
				case "Draw/Away":
					odds.DrawOrAway = price
				}
			case BetGoalsOverUnder:
				side, lineText, ok := strings.Cut(v.Value, " ")
				if !ok {
					continue
				}
				line, err := strconv.ParseFloat(lineText, 64)
				if err != nil {
					continue
				}
				gl, ok := lines[line]
				if !ok {
					gl = &podds.GoalLineOdds{Line: line}
					lines[line] = gl
				}
				if side == "Over" {
					gl.Over = price
				} else if side == "Under" {
					gl.Under = price
				}
			}
		}
	}
	for _, gl := range lines {
		odds.GoalLines = append(odds.GoalLines, *gl)
	}
	sort.Slice(odds.GoalLines, func(i, j int) bool { return odds.GoalLines[i].Line < odds.GoalLines[j].Line })
	return odds, nil
}

type apiTeamStatistics struct {
	Team struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	Statistics []struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"statistics"`
}

// Enrichment fetches statistics, events and lineups of a finished fixture.
// Realised xG is read from the "expected_goals" statistic, home team first.
func (c *Client) Enrichment(ctx context.Context, fixtureID int64) (*podds.Enrichment, error) {
	params := url.Values{}
	params.Set("fixture", strconv.FormatInt(fixtureID, 10))

	e := &podds.Enrichment{HomeXG: -1, AwayXG: -1}
	var err error
	if e.Statistics, err = c.get(ctx, "/fixtures/statistics", params); err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	if e.Events, err = c.get(ctx, "/fixtures/events", params); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	if e.Lineups, err = c.get(ctx, "/fixtures/lineups", params); err != nil {
		return nil, fmt.Errorf("lineups: %w", err)
	}

	var teams []apiTeamStatistics
	if err := json.Unmarshal(e.Statistics, &teams); err != nil {
		logger.Warn("Statistics not decodable, no realised xG", fixtureID, err)
		return e, nil
	}
	for i, team := range teams {
		if i > 1 {
			break
		}
		for _, s := range team.Statistics {
			if s.Type != "expected_goals" {
				continue
			}
			xg := parseNumber(s.Value)
			if len(bytes.TrimSpace(s.Value)) == 0 || string(s.Value) == "null" {
				xg = -1
			}
			if i == 0 {
				e.HomeXG = xg
			} else {
				e.AwayXG = xg
			}
		}
	}
	return e, nil
}

// parseNumber reads a JSON number or numeric string, 0 otherwise
func parseNumber(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	s := string(raw)
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

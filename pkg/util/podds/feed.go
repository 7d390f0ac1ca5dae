package podds

import (
	"context"
	"encoding/json"
	"time"
)

// FixtureQuery selects fixtures of one league and season: either those in play or the next N
type FixtureQuery struct {
	LeagueID int
	Season   int
	Live     bool
	Next     int
}

// Fixture is one upcoming or in-play match as reported by the feed.
// Minute and goals are -1 when the feed has none.
type Fixture struct {
	ID        int64
	LeagueID  int
	Season    int
	Round     string
	Kickoff   time.Time
	Date      string
	HomeTeam  string
	AwayTeam  string
	Status    string
	Minute    int
	HomeGoals int
	AwayGoals int
	Raw       json.RawMessage
}

// GoalLineOdds are the quoted over/under prices for one line
type GoalLineOdds struct {
	Line  float64 `json:"line"`
	Over  float64 `json:"over"`
	Under float64 `json:"under"`
}

// MarketOdds are one bookmaker's decimal prices for a fixture, 0 when not quoted
type MarketOdds struct {
	Bookmaker  string         `json:"bookmaker,omitempty"`
	Home       float64        `json:"1"`
	Draw       float64        `json:"X"`
	Away       float64        `json:"2"`
	HomeOrDraw float64        `json:"1X"`
	DrawOrAway float64        `json:"X2"`
	GoalLines  []GoalLineOdds `json:"goal_lines,omitempty"`
}

// Enrichment is the post-match detail captured at settlement.
// HomeXG and AwayXG are -1 when the feed has no expected goals statistic.
type Enrichment struct {
	Statistics json.RawMessage
	Events     json.RawMessage
	Lineups    json.RawMessage
	HomeXG     float64
	AwayXG     float64
}

// FixtureFeed supplies fixtures, prices and post-match detail
type FixtureFeed interface {
	Fixtures(ctx context.Context, q FixtureQuery) ([]Fixture, error)
	Odds(ctx context.Context, fixtureID int64) (*MarketOdds, error)
	Enrichment(ctx context.Context, fixtureID int64) (*Enrichment, error)
}

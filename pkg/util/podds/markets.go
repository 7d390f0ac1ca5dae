package podds

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MarketFamily tags a market record
type MarketFamily string

const (
	FamilyMatchResult  MarketFamily = "match_result"
	FamilyDoubleChance MarketFamily = "double_chance"
	FamilyGoalLine     MarketFamily = "goal_line"
	FamilyHandicap     MarketFamily = "handicap"
	FamilyCorrectScore MarketFamily = "correct_score"
)

// Selection identifiers
const (
	SelectionHome       = "home"
	SelectionDraw       = "draw"
	SelectionAway       = "away"
	SelectionHomeOrDraw = "1X"
	SelectionDrawOrAway = "X2"
	SelectionOver       = "over"
	SelectionUnder      = "under"
)

// Market is one priced selection
type Market struct {
	Family      MarketFamily `json:"family"`
	Selection   string       `json:"selection"`
	Line        float64      `json:"line,omitempty"`
	Probability float64      `json:"probability"`
}

// ID is a stable key such as "goal_line:over:2.5"
func (m Market) ID() string {
	switch m.Family {
	case FamilyGoalLine, FamilyHandicap:
		return fmt.Sprintf("%s:%s:%g", m.Family, m.Selection, m.Line)
	default:
		return fmt.Sprintf("%s:%s", m.Family, m.Selection)
	}
}

// FairOdds is the zero margin decimal price for the selection
func (m Market) FairOdds() float64 {
	return FairOdds(m.Probability)
}

// Markets flattens a prediction into tagged market records
func (p *FixturePrediction) Markets() []Market {
	markets := []Market{
		{Family: FamilyMatchResult, Selection: SelectionHome, Probability: p.HomeWin},
		{Family: FamilyMatchResult, Selection: SelectionDraw, Probability: p.Draw},
		{Family: FamilyMatchResult, Selection: SelectionAway, Probability: p.AwayWin},
		{Family: FamilyDoubleChance, Selection: SelectionHomeOrDraw, Probability: p.HomeOrDraw},
		{Family: FamilyDoubleChance, Selection: SelectionDrawOrAway, Probability: p.DrawOrAway},
	}
	for _, gl := range p.GoalLines {
		markets = append(markets,
			Market{Family: FamilyGoalLine, Selection: SelectionOver, Line: gl.Line, Probability: gl.Over},
			Market{Family: FamilyGoalLine, Selection: SelectionUnder, Line: gl.Line, Probability: gl.Under},
		)
	}
	for _, h := range p.Handicaps {
		markets = append(markets,
			Market{Family: FamilyHandicap, Selection: SelectionHome, Line: h.Line, Probability: h.Home},
			Market{Family: FamilyHandicap, Selection: SelectionAway, Line: -h.Line, Probability: h.Away},
		)
	}
	markets = append(markets, Market{
		Family:      FamilyCorrectScore,
		Selection:   fmt.Sprintf("%d-%d", p.MostLikely.Home, p.MostLikely.Away),
		Probability: p.MostLikely.Probability,
	})
	return markets
}

// FairOdds returns 1/p, or 0 when p implies no market
func FairOdds(p float64) float64 {
	if p <= 0 {
		return 0
	}
	return 1 / p
}

// RoundedFairOdds is FairOdds rounded to two decimal places for display and storage
func RoundedFairOdds(p float64) float64 {
	return Round(FairOdds(p), 2)
}

// Percent turns a probability into a percentage with one decimal place
func Percent(p float64) float64 {
	return Round(p*100, 1)
}

// Round rounds half away from zero using decimal arithmetic
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

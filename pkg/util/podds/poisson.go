package podds

import (
	"fmt"
	"math"
)

// MarketConfig controls the scoreline grid and the lines priced from it
type MarketConfig struct {
	GridSize               int
	HeavyFavouriteGridSize int
	HeavyFavouriteXG       float64
	GoalLines              []float64
	HandicapLines          []float64
}

// Scoreline is one cell of the scoreline grid
type Scoreline struct {
	Home        int     `json:"home"`
	Away        int     `json:"away"`
	Probability float64 `json:"probability"`
}

// GoalLine prices total goals either side of Line
type GoalLine struct {
	Line  float64 `json:"line"`
	Over  float64 `json:"over"`
	Under float64 `json:"under"`
}

// Handicap prices the home side with Line added to its score.
// Away is the away side on the mirrored line (-Line).
type Handicap struct {
	Line float64 `json:"line"`
	Home float64 `json:"home"`
	Away float64 `json:"away"`
}

// FixturePrediction is the full engine output for one fixture
type FixturePrediction struct {
	HomeTeam          string      `json:"home_team"`
	AwayTeam          string      `json:"away_team"`
	ExpectedGoalsHome float64     `json:"expected_goals_home"`
	ExpectedGoalsAway float64     `json:"expected_goals_away"`
	HomeWin           float64     `json:"home_win"`
	Draw              float64     `json:"draw"`
	AwayWin           float64     `json:"away_win"`
	HomeOrDraw        float64     `json:"home_or_draw"`
	DrawOrAway        float64     `json:"draw_or_away"`
	GoalLines         []GoalLine  `json:"goal_lines"`
	Handicaps         []Handicap  `json:"handicaps"`
	MostLikely        Scoreline   `json:"most_likely"`
	GridSize          int         `json:"grid_size"`
	Grid              [][]float64 `json:"-"`
}

// ExpectedGoals combines two ratings with the league baselines.
// Home attack meets away defence on the home baseline and vice versa.
func ExpectedGoals(model *LeagueModel, home, away *TeamRating) (xgHome, xgAway float64) {
	xgHome = home.AttackHome * away.DefenseAway * model.AvgHomeGoalRate
	xgAway = away.AttackAway * home.DefenseHome * model.AvgAwayGoalRate
	return xgHome, xgAway
}

// Predict prices a fixture between two rated teams.
// Returns ErrUnrated when either rating is missing.
func Predict(model *LeagueModel, home, away *TeamRating, mc MarketConfig) (*FixturePrediction, error) {
	if model == nil {
		return nil, fmt.Errorf("no league model: %w", ErrNotEnoughData)
	}
	if home == nil || away == nil {
		return nil, ErrUnrated
	}
	xgH, xgA := ExpectedGoals(model, home, away)
	p := PredictFromRates(xgH, xgA, mc)
	p.HomeTeam = home.Team
	p.AwayTeam = away.Team
	return p, nil
}

// PredictFixture looks both teams up by rating-table key
func (m *LeagueModel) PredictFixture(homeKey, awayKey string, mc MarketConfig) (*FixturePrediction, error) {
	home, away := m.Rating(homeKey), m.Rating(awayKey)
	if home == nil {
		return nil, fmt.Errorf("%s: %w", homeKey, ErrUnrated)
	}
	if away == nil {
		return nil, fmt.Errorf("%s: %w", awayKey, ErrUnrated)
	}
	return Predict(m, home, away, mc)
}

// GridSizeFor picks the grid size for a pair of rates
func (mc MarketConfig) GridSizeFor(xgHome, xgAway float64) int {
	n := mc.GridSize
	if n <= 0 {
		n = 10
	}
	if mc.HeavyFavouriteXG > 0 && math.Max(xgHome, xgAway) >= mc.HeavyFavouriteXG && mc.HeavyFavouriteGridSize > n {
		n = mc.HeavyFavouriteGridSize
	}
	return n
}

// PredictFromRates builds the independent Poisson grid for two scoring rates and derives every market from it
func PredictFromRates(xgHome, xgAway float64, mc MarketConfig) *FixturePrediction {
	n := mc.GridSizeFor(xgHome, xgAway)
	grid := createProbabilityMatrix(poissonVector(xgHome, n), poissonVector(xgAway, n))

	p := &FixturePrediction{
		ExpectedGoalsHome: xgHome,
		ExpectedGoalsAway: xgAway,
		GridSize:          n,
		Grid:              grid,
	}

	over := make([]float64, len(mc.GoalLines))
	homeCover := make([]float64, len(mc.HandicapLines))
	best := Scoreline{Probability: -1}

	for i := range grid {
		for j, cell := range grid[i] {
			switch {
			case i > j:
				p.HomeWin += cell
			case i == j:
				p.Draw += cell
			default:
				p.AwayWin += cell
			}
			for k, line := range mc.GoalLines {
				if float64(i+j) > line {
					over[k] += cell
				}
			}
			for k, h := range mc.HandicapLines {
				if float64(i)+h > float64(j) {
					homeCover[k] += cell
				}
			}
			if cell > best.Probability {
				best = Scoreline{Home: i, Away: j, Probability: cell}
			}
		}
	}

	p.HomeOrDraw = p.HomeWin + p.Draw
	p.DrawOrAway = p.Draw + p.AwayWin
	p.MostLikely = best

	p.GoalLines = make([]GoalLine, len(mc.GoalLines))
	for k, line := range mc.GoalLines {
		p.GoalLines[k] = GoalLine{Line: line, Over: over[k], Under: 1 - over[k]}
	}
	p.Handicaps = make([]Handicap, len(mc.HandicapLines))
	for k, h := range mc.HandicapLines {
		p.Handicaps[k] = Handicap{Line: h, Home: homeCover[k], Away: 1 - homeCover[k]}
	}
	return p
}

// GoalLine returns the priced line, false if it was not configured
func (p *FixturePrediction) GoalLine(line float64) (GoalLine, bool) {
	for _, gl := range p.GoalLines {
		if gl.Line == line {
			return gl, true
		}
	}
	return GoalLine{}, false
}

// Handicap returns the priced home handicap line, false if it was not configured
func (p *FixturePrediction) Handicap(line float64) (Handicap, bool) {
	for _, h := range p.Handicaps {
		if h.Line == line {
			return h, true
		}
	}
	return Handicap{}, false
}

// PoissonPMF is P(X = k) for X ~ Poisson(lambda), computed in log space
func PoissonPMF(k int, lambda float64) float64 {
	if k < 0 {
		return 0
	}
	if lambda <= 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	lgamma, _ := math.Lgamma(float64(k + 1))
	return math.Exp(float64(k)*math.Log(lambda) - lambda - lgamma)
}

func poissonVector(lambda float64, n int) []float64 {
	v := make([]float64, n+1)
	for k := range v {
		v[k] = PoissonPMF(k, lambda)
	}
	return v
}

// createProbabilityMatrix builds the joint distribution of two independent scores
func createProbabilityMatrix(homeProbs, awayProbs []float64) [][]float64 {
	matrix := make([][]float64, len(homeProbs))
	for i := range homeProbs {
		matrix[i] = make([]float64, len(awayProbs))
		for j := range awayProbs {
			matrix[i][j] = homeProbs[i] * awayProbs[j]
		}
	}
	return matrix
}

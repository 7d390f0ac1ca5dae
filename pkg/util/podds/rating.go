package podds

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richard-senior/podds/internal/logger"
)

// Venue is home or away from the point of view of the row's team
type Venue int

const (
	VenueHome Venue = iota
	VenueAway
)

func (v Venue) String() string {
	if v == VenueAway {
		return "Away"
	}
	return "Home"
}

// Metric is the scoring measure a model was trained on
type Metric string

const (
	MetricExpectedGoals Metric = "xG"
	MetricGoals         Metric = "GF"
)

// HistoricalMatchRow is one team's participation in one historical match
type HistoricalMatchRow struct {
	Date             time.Time `json:"date"`
	Team             string    `json:"team"`
	Opponent         string    `json:"opponent"`
	Venue            Venue     `json:"venue"`
	GoalsFor         float64   `json:"goals_for"`
	ExpectedGoals    float64   `json:"expected_goals"`
	HasExpectedGoals bool      `json:"has_expected_goals"`
	Result           string    `json:"result"` // W, D or L, empty when the match has not been played
}

// HasResult reports whether the row describes a played match
func (r HistoricalMatchRow) HasResult() bool {
	return strings.TrimSpace(r.Result) != ""
}

func (r HistoricalMatchRow) value(m Metric) (float64, bool) {
	if m == MetricExpectedGoals {
		return r.ExpectedGoals, r.HasExpectedGoals
	}
	return r.GoalsFor, true
}

// TeamRating holds a team's strength relative to the league average (1.0 = average)
type TeamRating struct {
	Team        string  `json:"team"`
	AttackHome  float64 `json:"attack_home"`
	DefenseHome float64 `json:"defense_home"`
	AttackAway  float64 `json:"attack_away"`
	DefenseAway float64 `json:"defense_away"`
	HomeRows    int     `json:"home_rows"`
	AwayRows    int     `json:"away_rows"`
}

// LeagueModel is the immutable output of one training run.
// Retraining produces a new value, nothing here is modified after Train returns.
type LeagueModel struct {
	League          string                 `json:"league"`
	RunID           uuid.UUID              `json:"run_id"`
	Metric          Metric                 `json:"metric"`
	AvgHomeGoalRate float64                `json:"avg_home_goal_rate"`
	AvgAwayGoalRate float64                `json:"avg_away_goal_rate"`
	Ratings         map[string]*TeamRating `json:"ratings"`
	RowsUsed        int                    `json:"rows_used"`
	LatestMatchDate time.Time              `json:"latest_match_date"`
	TrainedAt       time.Time              `json:"trained_at"`
}

// Rating returns the rating for a rating-table key, nil if the team is unrated
func (m *LeagueModel) Rating(team string) *TeamRating {
	if m == nil {
		return nil
	}
	return m.Ratings[team]
}

// Teams returns the sorted rating-table keys
func (m *LeagueModel) Teams() []string {
	teams := make([]string, 0, len(m.Ratings))
	for t := range m.Ratings {
		teams = append(teams, t)
	}
	sort.Strings(teams)
	return teams
}

// RecencyWeight is the exponential decay weight of a row that is ageDays older than the latest row
func RecencyWeight(ageDays, rate float64) float64 {
	return math.Exp(-rate * ageDays)
}

type rowKey struct {
	date string
	team string
}

type weightedRow struct {
	row          HistoricalMatchRow
	weight       float64
	goalsFor     float64
	goalsAgainst float64
}

type wavg struct {
	sum, weights float64
	n            int
}

func (w *wavg) add(v, weight float64) {
	w.sum += v * weight
	w.weights += weight
	w.n++
}

func (w *wavg) value() float64 {
	if w.weights == 0 {
		return 0
	}
	return w.sum / w.weights
}

// Train builds a LeagueModel from a league's historical rows.
// Returns ErrNotEnoughData when no row is usable.
func Train(league string, rows []HistoricalMatchRow, cfg *PoddsConfig) (*LeagueModel, error) {
	// ages count back from the newest played match, whichever metric it carries
	played := make([]HistoricalMatchRow, 0, len(rows))
	latest := time.Time{}
	for _, r := range rows {
		if r.HasResult() && !r.Date.IsZero() {
			played = append(played, r)
			if r.Date.After(latest) {
				latest = r.Date
			}
		}
	}
	if len(played) == 0 {
		return nil, fmt.Errorf("%s: no played matches: %w", league, ErrNotEnoughData)
	}

	// xG wins if any played row carries it, the choice holds for the whole run
	metric := MetricGoals
	for _, r := range played {
		if r.HasExpectedGoals {
			metric = MetricExpectedGoals
			break
		}
	}

	values := make(map[rowKey]float64, len(played))
	usable := make([]HistoricalMatchRow, 0, len(played))
	for _, r := range played {
		v, ok := r.value(metric)
		if !ok {
			continue
		}
		usable = append(usable, r)
		values[rowKey{dayKey(r.Date), r.Team}] = v
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%s: no rows carry %s: %w", league, metric, ErrNotEnoughData)
	}

	weighted := make([]weightedRow, 0, len(usable))
	missingOpponent := 0
	var home, away wavg
	for _, r := range usable {
		gf, _ := r.value(metric)
		// unmatched opponents count as zero conceded, which flatters that team's defence
		ga, ok := values[rowKey{dayKey(r.Date), r.Opponent}]
		if !ok {
			missingOpponent++
		}
		w := RecencyWeight(ageInDays(r.Date, latest), cfg.RecencyDecayRate)
		weighted = append(weighted, weightedRow{row: r, weight: w, goalsFor: gf, goalsAgainst: ga})
		if r.Venue == VenueHome {
			home.add(gf, w)
		} else {
			away.add(gf, w)
		}
	}
	if missingOpponent > 0 {
		logger.Warn("Rows without a matching opponent row, goals against set to 0:", league, missingOpponent)
	}

	avgH, avgA := home.value(), away.value()
	if home.n == 0 || away.n == 0 || avgH <= 0 || avgA <= 0 {
		return nil, fmt.Errorf("%s: need home and away scoring to build baselines: %w", league, ErrNotEnoughData)
	}

	type teamAcc struct {
		homeFor, homeAgainst, awayFor, awayAgainst wavg
	}
	acc := make(map[string]*teamAcc)
	for _, wr := range weighted {
		a, ok := acc[wr.row.Team]
		if !ok {
			a = &teamAcc{}
			acc[wr.row.Team] = a
		}
		if wr.row.Venue == VenueHome {
			a.homeFor.add(wr.goalsFor, wr.weight)
			a.homeAgainst.add(wr.goalsAgainst, wr.weight)
		} else {
			a.awayFor.add(wr.goalsFor, wr.weight)
			a.awayAgainst.add(wr.goalsAgainst, wr.weight)
		}
	}

	ratings := make(map[string]*TeamRating)
	for team, a := range acc {
		if a.homeFor.n < cfg.MinHomeAppearances {
			logger.Debug("Too few home rows to rate", team, a.homeFor.n)
			continue
		}
		if a.awayFor.n == 0 {
			logger.Debug("No away rows to rate", team)
			continue
		}
		ratings[team] = &TeamRating{
			Team:        team,
			AttackHome:  a.homeFor.value() / avgH,
			DefenseHome: a.homeAgainst.value() / avgA,
			AttackAway:  a.awayFor.value() / avgA,
			DefenseAway: a.awayAgainst.value() / avgH,
			HomeRows:    a.homeFor.n,
			AwayRows:    a.awayFor.n,
		}
	}

	model := &LeagueModel{
		League:          league,
		RunID:           uuid.New(),
		Metric:          metric,
		AvgHomeGoalRate: avgH,
		AvgAwayGoalRate: avgA,
		Ratings:         ratings,
		RowsUsed:        len(usable),
		LatestMatchDate: latest,
		TrainedAt:       time.Now().UTC(),
	}
	logger.Info("Trained league model", league, string(metric), len(ratings), "teams from", len(usable), "rows")
	return model, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ageInDays counts whole calendar days between d and latest
func ageInDays(d, latest time.Time) float64 {
	y1, m1, d1 := d.UTC().Date()
	y2, m2, d2 := latest.UTC().Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return math.Round(to.Sub(from).Hours() / 24)
}

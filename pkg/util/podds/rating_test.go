package podds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var latestDay = time.Date(2025, 5, 17, 0, 0, 0, 0, time.UTC)

func resultFor(gf, ga float64) string {
	switch {
	case gf > ga:
		return "W"
	case gf < ga:
		return "L"
	default:
		return "D"
	}
}

// addMatch returns both teams' rows for one played fixture
func addMatch(date time.Time, home, away string, hg, ag float64) []HistoricalMatchRow {
	return []HistoricalMatchRow{
		{Date: date, Team: home, Opponent: away, Venue: VenueHome, GoalsFor: hg, Result: resultFor(hg, ag)},
		{Date: date, Team: away, Opponent: home, Venue: VenueAway, GoalsFor: ag, Result: resultFor(ag, hg)},
	}
}

// roundRobin plays every ordered pair once, one fixture every three days back from latestDay.
// goals overrides the home/away score for "home-away" keys, everything else ends 1-1.
func roundRobin(teams []string, goals map[string][2]float64, dates map[string]time.Time) []HistoricalMatchRow {
	var rows []HistoricalMatchRow
	day := 0
	for _, h := range teams {
		for _, a := range teams {
			if h == a {
				continue
			}
			key := h + "-" + a
			score := [2]float64{1, 1}
			if g, ok := goals[key]; ok {
				score = g
			}
			date := latestDay.AddDate(0, 0, -3*day)
			if d, ok := dates[key]; ok {
				date = d
			}
			rows = append(rows, addMatch(date, h, a, score[0], score[1])...)
			day++
		}
	}
	return rows
}

var fourTeams = []string{"Alpha", "Bravo", "Charlie", "Delta"}

func TestTrainEvenLeagueRatesEveryoneAverage(t *testing.T) {
	model, err := Train("Test", roundRobin(fourTeams, nil, nil), DefaultPoddsConfig())
	require.NoError(t, err)

	assert.Equal(t, MetricGoals, model.Metric)
	assert.InDelta(t, 1.0, model.AvgHomeGoalRate, 1e-9)
	assert.InDelta(t, 1.0, model.AvgAwayGoalRate, 1e-9)
	assert.Equal(t, fourTeams, model.Teams())
	for _, team := range fourTeams {
		r := model.Rating(team)
		require.NotNil(t, r, team)
		assert.InDelta(t, 1.0, r.AttackHome, 1e-9)
		assert.InDelta(t, 1.0, r.DefenseHome, 1e-9)
		assert.InDelta(t, 1.0, r.AttackAway, 1e-9)
		assert.InDelta(t, 1.0, r.DefenseAway, 1e-9)
		assert.Equal(t, 3, r.HomeRows)
	}
	assert.Equal(t, latestDay, model.LatestMatchDate)
	assert.Equal(t, 24, model.RowsUsed)
}

func TestTrainExcludesTeamsWithTwoHomeRows(t *testing.T) {
	rows := roundRobin(fourTeams, nil, nil)
	rows = append(rows, addMatch(latestDay.AddDate(0, 0, -40), "Echo", "Alpha", 2, 0)...)
	rows = append(rows, addMatch(latestDay.AddDate(0, 0, -41), "Echo", "Bravo", 1, 1)...)
	rows = append(rows, addMatch(latestDay.AddDate(0, 0, -42), "Charlie", "Echo", 0, 1)...)

	model, err := Train("Test", rows, DefaultPoddsConfig())
	require.NoError(t, err)
	assert.Nil(t, model.Rating("Echo"), "two home rows must not be rated")
	assert.NotNil(t, model.Rating("Alpha"))

	rows = append(rows, addMatch(latestDay.AddDate(0, 0, -43), "Echo", "Delta", 3, 1)...)
	model, err = Train("Test", rows, DefaultPoddsConfig())
	require.NoError(t, err)
	echo := model.Rating("Echo")
	require.NotNil(t, echo, "three home rows must be rated")
	assert.Equal(t, 3, echo.HomeRows)
	assert.Equal(t, 1, echo.AwayRows)
}

func TestTrainRecencyDecayShrinksOlderRows(t *testing.T) {
	goals := map[string][2]float64{"Alpha-Bravo": {5, 1}}

	recent := map[string]time.Time{"Alpha-Bravo": latestDay.AddDate(0, 0, -100)}
	older := map[string]time.Time{"Alpha-Bravo": latestDay.AddDate(0, 0, -400)}

	recentModel, err := Train("Test", roundRobin(fourTeams, goals, recent), DefaultPoddsConfig())
	require.NoError(t, err)
	olderModel, err := Train("Test", roundRobin(fourTeams, goals, older), DefaultPoddsConfig())
	require.NoError(t, err)

	assert.Greater(t, recentModel.Rating("Alpha").AttackHome, 1.0)
	assert.Less(t, olderModel.Rating("Alpha").AttackHome, recentModel.Rating("Alpha").AttackHome)
}

func TestRecencyWeight(t *testing.T) {
	assert.Equal(t, 1.0, RecencyWeight(0, 0.0025))
	assert.InDelta(t, 0.5, RecencyWeight(277.26, 0.0025), 1e-3)
	assert.Less(t, RecencyWeight(400, 0.0025), RecencyWeight(100, 0.0025))
}

func TestTrainPrefersExpectedGoals(t *testing.T) {
	rows := roundRobin(fourTeams, nil, nil)
	// only Alpha's home rows carry xG, everything else is dropped under the xG metric
	for i := range rows {
		if rows[i].Team == "Alpha" && rows[i].Venue == VenueHome {
			rows[i].ExpectedGoals = 2.0
			rows[i].HasExpectedGoals = true
		}
	}
	_, err := Train("Test", rows, DefaultPoddsConfig())
	assert.ErrorIs(t, err, ErrNotEnoughData, "no away rows carry xG so no away baseline")

	for i := range rows {
		rows[i].ExpectedGoals = rows[i].GoalsFor * 1.5
		rows[i].HasExpectedGoals = true
	}
	model, err := Train("Test", rows, DefaultPoddsConfig())
	require.NoError(t, err)
	assert.Equal(t, MetricExpectedGoals, model.Metric)
	assert.InDelta(t, 1.5, model.AvgHomeGoalRate, 1e-9)
}

func TestTrainMissingOpponentRowCountsAsZeroAgainst(t *testing.T) {
	rows := roundRobin(fourTeams, nil, nil)
	rows = append(rows, HistoricalMatchRow{
		Date: latestDay.AddDate(0, 0, -1), Team: "Bravo", Opponent: "Ghost", Venue: VenueHome, GoalsFor: 1, Result: "W",
	})

	model, err := Train("Test", rows, DefaultPoddsConfig())
	require.NoError(t, err)
	assert.Less(t, model.Rating("Bravo").DefenseHome, 1.0)
	assert.InDelta(t, 1.0, model.Rating("Alpha").DefenseHome, 1e-9)
	assert.Nil(t, model.Rating("Ghost"))
}

func TestTrainNotEnoughData(t *testing.T) {
	cfg := DefaultPoddsConfig()

	_, err := Train("Empty", nil, cfg)
	assert.ErrorIs(t, err, ErrNotEnoughData)

	unplayed := addMatch(latestDay, "Alpha", "Bravo", 0, 0)
	for i := range unplayed {
		unplayed[i].Result = ""
	}
	_, err = Train("Unplayed", unplayed, cfg)
	assert.ErrorIs(t, err, ErrNotEnoughData)

	_, err = Train("Goalless", roundRobin(fourTeams, map[string][2]float64{
		"Alpha-Bravo": {0, 0}, "Alpha-Charlie": {0, 0}, "Alpha-Delta": {0, 0},
		"Bravo-Alpha": {0, 0}, "Bravo-Charlie": {0, 0}, "Bravo-Delta": {0, 0},
		"Charlie-Alpha": {0, 0}, "Charlie-Bravo": {0, 0}, "Charlie-Delta": {0, 0},
		"Delta-Alpha": {0, 0}, "Delta-Bravo": {0, 0}, "Delta-Charlie": {0, 0},
	}, nil), cfg)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestAgeInDaysUsesCalendarDays(t *testing.T) {
	late := time.Date(2025, 5, 17, 20, 30, 0, 0, time.UTC)
	early := time.Date(2025, 5, 16, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.0, ageInDays(early, late))
	assert.Equal(t, 0.0, ageInDays(late, late))
}

func TestTrainAgesFromNewestPlayedRow(t *testing.T) {
	rows := roundRobin(fourTeams, nil, nil)
	for i := range rows {
		rows[i].ExpectedGoals = rows[i].GoalsFor
		rows[i].HasExpectedGoals = true
	}
	// newest fixture has no xG: it drops out of training but still anchors the ages
	newest := latestDay.AddDate(0, 0, 30)
	rows = append(rows, addMatch(newest, "Alpha", "Bravo", 2, 0)...)

	model, err := Train("Test", rows, DefaultPoddsConfig())
	require.NoError(t, err)
	assert.Equal(t, MetricExpectedGoals, model.Metric)
	assert.Equal(t, newest, model.LatestMatchDate)
	assert.Equal(t, 24, model.RowsUsed)
}

func TestTrainExcludesTeamsWithoutAwayRows(t *testing.T) {
	rows := roundRobin(fourTeams, nil, nil)
	for i, opp := range []string{"Alpha", "Bravo", "Charlie"} {
		rows = append(rows, addMatch(latestDay.AddDate(0, 0, -50-i), "Foxtrot", opp, 1, 1)...)
	}

	model, err := Train("Test", rows, DefaultPoddsConfig())
	require.NoError(t, err)
	assert.Nil(t, model.Rating("Foxtrot"), "away ratios need away rows")
	assert.NotNil(t, model.Rating("Alpha"))
}

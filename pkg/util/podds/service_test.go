package podds

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu           sync.Mutex
	live         []Fixture
	next         []Fixture
	fixturesErr  error
	odds         map[int64]*MarketOdds
	enrichment   *Enrichment
	enrichErr    error
	fixtureCalls int
}

func (f *fakeFeed) Fixtures(ctx context.Context, q FixtureQuery) ([]Fixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtureCalls++
	if f.fixturesErr != nil {
		return nil, f.fixturesErr
	}
	if q.Live {
		return f.live, nil
	}
	return f.next, nil
}

func (f *fakeFeed) Odds(ctx context.Context, fixtureID int64) (*MarketOdds, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.odds[fixtureID]; ok {
		return o, nil
	}
	return nil, errors.New("no odds")
}

func (f *fakeFeed) Enrichment(ctx context.Context, fixtureID int64) (*Enrichment, error) {
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	return f.enrichment, nil
}

var bundesligaFour = []string{"Bayern Munich", "Dortmund", "Freiburg", "Leverkusen"}

func feedFixture(id int64, home, away, status string, kickoff time.Time) Fixture {
	return Fixture{
		ID:        id,
		LeagueID:  78,
		Season:    2025,
		Round:     "Regular Season - 3",
		Kickoff:   kickoff,
		Date:      kickoff.Format(time.RFC3339),
		HomeTeam:  home,
		AwayTeam:  away,
		Status:    status,
		Minute:    -1,
		HomeGoals: -1,
		AwayGoals: -1,
		Raw:       json.RawMessage(`{"fixture":{"id":1}}`),
	}
}

func newTestService(t *testing.T, feed FixtureFeed, cacheFor time.Duration) *Service {
	t.Helper()
	cfg := DefaultPoddsConfig()
	cfg.CacheDuration = cacheFor
	goals := map[string][2]float64{"Bayern Munich-Freiburg": {4, 0}, "Bayern Munich-Dortmund": {3, 1}}
	corpus := &memCorpus{rows: map[string][]HistoricalMatchRow{"Bundesliga": roundRobin(bundesligaFour, goals, nil)}}
	reg := NewModelRegistry(corpus, cfg, NewMetrics())
	_, err := reg.Retrain(context.Background(), "Bundesliga")
	require.NoError(t, err)
	return NewService(cfg, reg, openTestStore(t), feed, NewMetrics())
}

func TestServicePredictResolvesFeedNames(t *testing.T) {
	svc := newTestService(t, &fakeFeed{}, time.Minute)

	res, err := svc.Predict("Bundesliga", "Bayern München", "Borussia Dortmund")
	require.NoError(t, err)
	assert.Equal(t, "Bayern Munich", res.HomeKey)
	assert.Equal(t, "Dortmund", res.AwayKey)
	assert.Greater(t, res.Prediction.HomeWin, res.Prediction.AwayWin)
	assert.NotEmpty(t, res.Markets)

	_, err = svc.Predict("Bundesliga", "Real Madrid", "Dortmund")
	assert.ErrorIs(t, err, ErrUnrated)
	_, err = svc.Predict("Serie A", "Inter", "Milan")
	assert.ErrorIs(t, err, ErrNotEnoughData)

	models := svc.Models()
	require.Len(t, models, 1)
	assert.Equal(t, 4, models[0].Teams)
}

func TestLiveEdges(t *testing.T) {
	kickoff := time.Date(2025, 9, 13, 13, 30, 0, 0, time.UTC)
	inPlay := feedFixture(2, "Bayern München", "Borussia Dortmund", "1H", kickoff)
	inPlay.Minute, inPlay.HomeGoals, inPlay.AwayGoals = 30, 1, 0
	feed := &fakeFeed{
		live: []Fixture{inPlay},
		next: []Fixture{inPlay, feedFixture(1, "SC Freiburg", "Real Madrid", "NS", kickoff.Add(-time.Hour))},
		odds: map[int64]*MarketOdds{2: {
			Home: 1.5, Draw: 4.5, Away: 6.0, HomeOrDraw: 1.1, DrawOrAway: 2.5,
			GoalLines: []GoalLineOdds{{Line: 2.5, Over: 1.6, Under: 2.3}, {Line: 0.5, Over: 1.05, Under: 9.0}},
		}},
	}
	svc := newTestService(t, feed, time.Minute)
	ctx := context.Background()

	edges, err := svc.LiveEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2, "duplicate fixture is listed once")

	assert.Equal(t, int64(1), edges[0].ID, "sorted by kickoff")
	assert.False(t, edges[0].HasModel)
	assert.Empty(t, edges[0].Probs)
	assert.Equal(t, 0.0, edges[0].MarketOdds["1"])
	assert.Nil(t, edges[0].Score.Time)

	e := edges[1]
	assert.True(t, e.HasModel)
	assert.Equal(t, "Bayern München vs Borussia Dortmund", e.Match)
	require.NotNil(t, e.Score.Time)
	assert.Equal(t, 30, *e.Score.Time)
	assert.Equal(t, 1.5, e.MarketOdds["1"])
	for _, k := range []string{"1", "X", "2", "1X", "X2"} {
		assert.Contains(t, e.Probs, k)
		assert.Contains(t, e.FairOdds, k)
		assert.Contains(t, e.Value, k)
	}
	assert.InDelta(t, 100, e.Probs["1"]+e.Probs["X"]+e.Probs["2"], 0.2)
	assert.Regexp(t, `^\d+\.\d{2} - \d+\.\d{2}$`, e.PredictedXG)

	// configured lines 1.5..4.5 plus the bookmaker's extra 0.5 line
	require.Len(t, e.GoalLines, 5)
	assert.Equal(t, 0.5, e.GoalLines[0].Line)
	assert.Nil(t, e.GoalLines[0].Probs, "the model does not price 0.5")
	assert.Equal(t, 9.0, e.GoalLines[0].MarketOdds["under"])
	two := e.GoalLines[2]
	assert.Equal(t, 2.5, two.Line)
	assert.InDelta(t, 100, two.Probs["over"]+two.Probs["under"], 0.11)
	assert.InDelta(t, 100/two.Probs["over"], two.FairOdds["over"], 0.02)
	assert.Equal(t, 1.6, two.MarketOdds["over"])
	assert.Equal(t, 2.3, two.MarketOdds["under"])
	assert.InDelta(t, 1.6*two.Probs["over"]/100-1, two.Value["over"], 0.002)
	assert.Contains(t, two.Value, "under")
	assert.Empty(t, e.GoalLines[4].Value, "4.5 is not quoted")

	body, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"goal_lines":[{"line":0.5`)
	assert.Empty(t, edges[0].GoalLines, "no model and no quotes")

	stored, err := svc.store.GetPrediction(ctx, 2)
	require.NoError(t, err)
	assert.True(t, stored.HasModel())
	assert.Equal(t, "1H", stored.Status)
	unrated, err := svc.store.GetPrediction(ctx, 1)
	require.NoError(t, err)
	assert.False(t, unrated.HasModel())

	calls := feed.fixtureCalls
	again, err := svc.LiveEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, feed.fixtureCalls, "served from cache")
	assert.Equal(t, edges, again)

	one, err := svc.Edge(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, e, *one)
	_, err = svc.Edge(ctx, 404)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	view, err := svc.LiveView(ctx)
	require.NoError(t, err)
	assert.Equal(t, edges, view.Edges)
	assert.False(t, view.UpdatedAt.IsZero())
	assert.Equal(t, calls, feed.fixtureCalls, "lookups reuse the cached view")
}

func TestRetrainRejectsUnknownLeagues(t *testing.T) {
	svc := newTestService(t, &fakeFeed{}, time.Minute)
	ctx := context.Background()

	summary, err := svc.Retrain(ctx, "Bundesliga")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Teams)

	for _, league := range []string{"..", "Serie A", ""} {
		_, err := svc.Retrain(ctx, league)
		assert.ErrorIs(t, err, ErrUnknownLeague, league)
	}
}

func TestLiveEdgesFallsBackToLastSnapshot(t *testing.T) {
	feed := &fakeFeed{next: []Fixture{feedFixture(5, "Freiburg", "Leverkusen", "NS", time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC))}}
	svc := newTestService(t, feed, 0)
	ctx := context.Background()

	first, err := svc.LiveEdges(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	feed.fixturesErr = errors.New("503")
	second, err := svc.LiveEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	cold := newTestService(t, &fakeFeed{fixturesErr: errors.New("503")}, 0)
	edges, err := cold.LiveEdges(ctx)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Empty(t, edges)
}

func TestSettleFinished(t *testing.T) {
	feed := &fakeFeed{enrichErr: errors.New("timeout")}
	svc := newTestService(t, feed, time.Minute)
	ctx := context.Background()

	id, err := svc.SettleFinished(ctx)
	require.NoError(t, err)
	assert.Zero(t, id, "nothing to settle")

	done := NewPrediction(9)
	done.League, done.HomeTeam, done.AwayTeam = "Bundesliga", "Freiburg", "Dortmund"
	done.Status = "FT"
	done.ActualHomeGoals, done.ActualAwayGoals = 2, 2
	done.RawData = `{"fixture":{"id":9}}`
	_, err = svc.store.UpsertPrediction(ctx, done)
	require.NoError(t, err)

	_, err = svc.SettleFinished(ctx)
	require.Error(t, err)
	pending, err := svc.store.NextUnsettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), pending.FixtureID, "failed settlement is retried")

	feed.enrichErr = nil
	feed.enrichment = &Enrichment{Statistics: json.RawMessage(`[{"team":1}]`), HomeXG: 1.4, AwayXG: 2.2}
	id, err = svc.SettleFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	settled, err := svc.store.GetPrediction(ctx, 9)
	require.NoError(t, err)
	assert.True(t, settled.IsSettled)
	assert.Equal(t, 2.2, settled.ActualAwayXG)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(settled.RawData), &raw))
	assert.JSONEq(t, `{"id":9}`, string(raw["fixture"]))
	assert.JSONEq(t, `[{"team":1}]`, string(raw["statistics"]))
	assert.JSONEq(t, `[]`, string(raw["events"]))

	id, err = svc.SettleFinished(ctx)
	require.NoError(t, err)
	assert.Zero(t, id)
}

// stuckFeed cannot enrich one fixture
type stuckFeed struct {
	fakeFeed
	stuck int64
}

func (f *stuckFeed) Enrichment(ctx context.Context, fixtureID int64) (*Enrichment, error) {
	if fixtureID == f.stuck {
		return nil, errors.New("fixture not found")
	}
	return &Enrichment{HomeXG: 1, AwayXG: 1}, nil
}

func TestSettleFinishedSkipsPastAStuckFixture(t *testing.T) {
	svc := newTestService(t, &stuckFeed{stuck: 40}, time.Minute)
	ctx := context.Background()

	for i, id := range []int64{40, 41} {
		p := NewPrediction(id)
		p.League, p.HomeTeam, p.AwayTeam = "Bundesliga", "Freiburg", "Dortmund"
		p.MatchDate = time.Date(2025, 8, 1+i, 0, 0, 0, 0, time.UTC)
		p.Status = "FT"
		_, err := svc.store.UpsertPrediction(ctx, p)
		require.NoError(t, err)
	}

	_, err := svc.SettleFinished(ctx)
	require.Error(t, err)
	id, err := svc.SettleFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(41), id, "the newer fixture is not blocked")

	stuck, err := svc.store.GetPrediction(ctx, 40)
	require.NoError(t, err)
	assert.False(t, stuck.IsSettled)
	assert.Equal(t, 1, stuck.SettleAttempts)
}

func TestServiceAccuracy(t *testing.T) {
	svc := newTestService(t, &fakeFeed{}, time.Minute)
	ctx := context.Background()

	res, err := svc.Predict("Bundesliga", "Bayern Munich", "Freiburg")
	require.NoError(t, err)
	p := NewPrediction(11)
	p.League, p.HomeTeam, p.AwayTeam = "Bundesliga", "Bayern Munich", "Freiburg"
	p.Status = "FT"
	p.ActualHomeGoals, p.ActualAwayGoals = 3, 0
	p.ApplyModel(res.Prediction)
	_, err = svc.store.UpsertPrediction(ctx, p)
	require.NoError(t, err)

	report, err := svc.Accuracy(ctx, "Bundesliga")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalPredictions)
	assert.Equal(t, 1, report.CorrectPredictions)
}

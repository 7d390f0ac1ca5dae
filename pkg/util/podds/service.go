package podds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/richard-senior/podds/internal/logger"
	"golang.org/x/sync/errgroup"
)

// concurrent per-fixture pricing and odds lookups in one LiveEdges pass
const edgeWorkers = 4

// ScoreBlock is the in-play state of a fixture
type ScoreBlock struct {
	Status string `json:"status"`
	Time   *int   `json:"time"`
	GoalsH *int   `json:"goals_h"`
	GoalsA *int   `json:"goals_a"`
}

// Edge is one fixture of the live view: model prices next to the bookmaker's
type Edge struct {
	ID          int64              `json:"id"`
	Date        string             `json:"date"`
	Kickoff     time.Time          `json:"-"`
	Match       string             `json:"match"`
	HomeTeam    string             `json:"home_team"`
	AwayTeam    string             `json:"away_team"`
	League      string             `json:"league"`
	Round       string             `json:"round"`
	Score       ScoreBlock         `json:"score"`
	HasModel    bool               `json:"has_model"`
	Probs       map[string]float64 `json:"probs"`
	FairOdds    map[string]float64 `json:"fair_odds"`
	PredictedXG string             `json:"predicted_xg,omitempty"`
	MarketOdds  map[string]float64 `json:"market_odds"`
	// Value is market price times model probability minus one, for quoted selections
	Value     map[string]float64 `json:"value,omitempty"`
	GoalLines []EdgeGoalLine     `json:"goal_lines"`
}

// EdgeGoalLine is one over/under line of the live view, keyed "over" and "under".
// Lines the bookmaker quotes but the model does not price carry market odds only.
type EdgeGoalLine struct {
	Line       float64            `json:"line"`
	Probs      map[string]float64 `json:"probs,omitempty"`
	FairOdds   map[string]float64 `json:"fair_odds,omitempty"`
	MarketOdds map[string]float64 `json:"market_odds"`
	Value      map[string]float64 `json:"value,omitempty"`
}

// LiveView is the live edges with the time they were built
type LiveView struct {
	UpdatedAt time.Time `json:"updated_at"`
	Edges     []Edge    `json:"edges"`
}

// PredictionResult is a single on-demand prediction
type PredictionResult struct {
	League     string             `json:"league"`
	HomeTeam   string             `json:"home_team"`
	AwayTeam   string             `json:"away_team"`
	HomeKey    string             `json:"home_key"`
	AwayKey    string             `json:"away_key"`
	Prediction *FixturePrediction `json:"prediction"`
	Markets    []Market           `json:"markets"`
}

// ModelSummary describes an installed model
type ModelSummary struct {
	League          string    `json:"league"`
	RunID           uuid.UUID `json:"run_id"`
	Metric          Metric    `json:"metric"`
	Teams           int       `json:"teams"`
	AvgHomeGoalRate float64   `json:"avg_home_goal_rate"`
	AvgAwayGoalRate float64   `json:"avg_away_goal_rate"`
	RowsUsed        int       `json:"rows_used"`
	LatestMatchDate time.Time `json:"latest_match_date"`
	TrainedAt       time.Time `json:"trained_at"`
}

// Service ties the model registry, the fixture feed and the store together
type Service struct {
	cfg       *PoddsConfig
	registry  *ModelRegistry
	store     *Store
	feed      FixtureFeed
	cache     *ResponseCache
	metrics   *Metrics
	resolvers map[string]*NameResolver
}

// NewService wires a service. The alias table of each league comes from DefaultAliases.
func NewService(cfg *PoddsConfig, registry *ModelRegistry, store *Store, feed FixtureFeed, metrics *Metrics) *Service {
	aliases := DefaultAliases()
	resolvers := make(map[string]*NameResolver, len(cfg.Leagues))
	for _, league := range cfg.LeagueNames() {
		resolvers[league] = NewNameResolver(aliases[league])
	}
	return &Service{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		feed:      feed,
		cache:     NewResponseCache(cfg.CacheDuration),
		metrics:   metrics,
		resolvers: resolvers,
	}
}

// Registry returns the model registry
func (s *Service) Registry() *ModelRegistry {
	return s.registry
}

func (s *Service) resolver(league string) *NameResolver {
	if r, ok := s.resolvers[league]; ok {
		return r
	}
	return NewNameResolver(DefaultAliases()[league])
}

// resolveFixture maps feed names onto the model's rating keys
func (s *Service) resolveFixture(model *LeagueModel, home, away string) (string, string, error) {
	keys := model.Teams()
	r := s.resolver(model.League)
	homeKey, homeHow, ok := r.Resolve(home, keys)
	if !ok {
		return "", "", fmt.Errorf("%s: %w", home, ErrUnrated)
	}
	awayKey, awayHow, ok := r.Resolve(away, keys)
	if !ok {
		return "", "", fmt.Errorf("%s: %w", away, ErrUnrated)
	}
	logger.Debug("Resolved fixture", home, "->", homeKey, "("+homeHow+")", away, "->", awayKey, "("+awayHow+")")
	return homeKey, awayKey, nil
}

// Predict prices a fixture given feed or corpus team names
func (s *Service) Predict(league, home, away string) (*PredictionResult, error) {
	model, ok := s.registry.Get(league)
	if !ok {
		return nil, fmt.Errorf("no model for %s: %w", league, ErrNotEnoughData)
	}
	homeKey, awayKey, err := s.resolveFixture(model, home, away)
	if err != nil {
		s.metrics.RecordPrediction(league, false)
		return nil, err
	}
	fp, err := model.PredictFixture(homeKey, awayKey, s.cfg.MarketConfig())
	if err != nil {
		s.metrics.RecordPrediction(league, false)
		return nil, err
	}
	s.metrics.RecordPrediction(league, true)
	return &PredictionResult{
		League:     league,
		HomeTeam:   home,
		AwayTeam:   away,
		HomeKey:    homeKey,
		AwayKey:    awayKey,
		Prediction: fp,
		Markets:    fp.Markets(),
	}, nil
}

// Retrain rebuilds one configured league's model from its corpus
func (s *Service) Retrain(ctx context.Context, league string) (*ModelSummary, error) {
	if _, ok := s.cfg.Leagues[league]; !ok {
		return nil, fmt.Errorf("%q: %w", league, ErrUnknownLeague)
	}
	model, err := s.registry.Retrain(ctx, league)
	if err != nil {
		return nil, err
	}
	summary := summarise(model)
	return &summary, nil
}

// Models lists the installed models
func (s *Service) Models() []ModelSummary {
	models := s.registry.Snapshot()
	out := make([]ModelSummary, 0, len(models))
	for _, m := range models {
		out = append(out, summarise(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].League < out[j].League })
	return out
}

func summarise(m *LeagueModel) ModelSummary {
	return ModelSummary{
		League:          m.League,
		RunID:           m.RunID,
		Metric:          m.Metric,
		Teams:           len(m.Ratings),
		AvgHomeGoalRate: Round(m.AvgHomeGoalRate, 4),
		AvgAwayGoalRate: Round(m.AvgAwayGoalRate, 4),
		RowsUsed:        m.RowsUsed,
		LatestMatchDate: m.LatestMatchDate,
		TrainedAt:       m.TrainedAt,
	}
}

// Accuracy scores the stored predictions of a league against their results
func (s *Service) Accuracy(ctx context.Context, league string) (*AccuracyReport, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no store configured")
	}
	predictions, err := s.store.FinishedPredictions(ctx, league)
	if err != nil {
		return nil, fmt.Errorf("failed to load finished predictions: %w", err)
	}
	return EvaluatePredictions(league, predictions), nil
}

// SettleFinished settles at most one finished fixture: it captures statistics, events and
// lineups, records realised xG and marks the fixture settled. Returns the settled fixture id,
// 0 when nothing was waiting. A failure leaves the fixture for the next cycle.
func (s *Service) SettleFinished(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	p, err := s.store.NextUnsettled(ctx)
	if errors.Is(err, ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.metrics.RecordSettlement("error")
		return 0, err
	}

	logger.Info("Settling fixture", p.FixtureID, p.HomeTeam, "vs", p.AwayTeam)
	enrichment, err := s.feed.Enrichment(ctx, p.FixtureID)
	if err != nil {
		s.settleFailed(ctx, p)
		return 0, fmt.Errorf("failed to fetch enrichment for %d: %w", p.FixtureID, err)
	}

	raw, err := mergeRawData(p.RawData, enrichment)
	if err != nil {
		s.settleFailed(ctx, p)
		return 0, err
	}
	if err := s.store.MarkSettled(ctx, p.FixtureID, raw, enrichment.HomeXG, enrichment.AwayXG); err != nil {
		s.metrics.RecordSettlement("error")
		return 0, err
	}
	s.metrics.RecordSettlement("ok")
	logger.Info("Fixture settled", p.FixtureID)
	return p.FixtureID, nil
}

// settleFailed moves the fixture behind the other waiting fixtures
func (s *Service) settleFailed(ctx context.Context, p *Prediction) {
	s.metrics.RecordSettlement("error")
	logger.Warn("Settlement failed, will retry", p.FixtureID, "after", p.SettleAttempts+1, "attempts")
	if err := s.store.RecordSettleFailure(ctx, p.FixtureID); err != nil {
		logger.Error("Failed to record settle failure", p.FixtureID, err)
	}
}

// mergeRawData adds the enrichment sections to the stored fixture JSON
func mergeRawData(existing string, e *Enrichment) (string, error) {
	doc := map[string]json.RawMessage{}
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &doc); err != nil {
			logger.Warn("Stored raw data is not a JSON object, replacing it", err)
			doc = map[string]json.RawMessage{}
		}
	}
	for key, section := range map[string]json.RawMessage{"statistics": e.Statistics, "events": e.Events, "lineups": e.Lineups} {
		if len(section) == 0 {
			section = json.RawMessage("[]")
		}
		doc[key] = section
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode raw data: %w", err)
	}
	return string(out), nil
}

// LiveEdges returns the in-play and upcoming fixtures of every configured league with model
// and market prices, sorted by kickoff. A settlement attempt runs first. The result is cached
// for the configured duration; if every feed call fails the previous snapshot is returned.
func (s *Service) LiveEdges(ctx context.Context) ([]Edge, error) {
	if _, err := s.SettleFinished(ctx); err != nil {
		logger.Warn("Opportunistic settlement failed", err)
	}

	if edges, ok := s.cache.Fresh(); ok {
		s.metrics.RecordCacheLookup(true)
		return edges, nil
	}
	s.metrics.RecordCacheLookup(false)

	type leagueFixture struct {
		league  string
		fixture Fixture
	}
	var fixtures []leagueFixture
	seen := map[int64]bool{}
	calls, failures := 0, 0
	for _, league := range s.cfg.LeagueNames() {
		queries := []FixtureQuery{
			{LeagueID: s.cfg.Leagues[league], Season: s.cfg.CurrentSeason, Live: true},
			{LeagueID: s.cfg.Leagues[league], Season: s.cfg.CurrentSeason, Next: s.cfg.NextFixtures},
		}
		for _, q := range queries {
			calls++
			got, err := s.feed.Fixtures(ctx, q)
			if err != nil {
				failures++
				s.metrics.RecordFeedError("fixtures")
				logger.Warn("Fixture fetch failed", league, err)
				continue
			}
			for _, f := range got {
				if seen[f.ID] {
					continue
				}
				seen[f.ID] = true
				fixtures = append(fixtures, leagueFixture{league: league, fixture: f})
			}
		}
	}

	if calls > 0 && failures == calls {
		last := s.cache.Last()
		if len(last) > 0 {
			logger.Warn("Feed unavailable, serving previous snapshot")
			return last, nil
		}
		return []Edge{}, ErrFeedUnavailable
	}

	edges := make([]Edge, len(fixtures))
	records := make([]*Prediction, len(fixtures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(edgeWorkers)
	for i, lf := range fixtures {
		g.Go(func() error {
			edges[i], records[i] = s.buildEdge(gctx, lf.league, lf.fixture)
			return nil
		})
	}
	g.Wait()

	if s.store != nil && len(records) > 0 {
		if created, err := s.store.UpsertPredictions(ctx, records); err != nil {
			logger.Error("Failed to persist predictions", err)
		} else {
			logger.Debug("Persisted predictions", len(records), "new", created)
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if !edges[i].Kickoff.Equal(edges[j].Kickoff) {
			return edges[i].Kickoff.Before(edges[j].Kickoff)
		}
		return edges[i].ID < edges[j].ID
	})
	s.cache.Put(edges)
	return edges, nil
}

// LiveView is LiveEdges together with the time the edges were built
func (s *Service) LiveView(ctx context.Context) (*LiveView, error) {
	edges, err := s.LiveEdges(ctx)
	if err != nil {
		return nil, err
	}
	return &LiveView{UpdatedAt: s.cache.UpdatedAt(), Edges: edges}, nil
}

// Edge returns one fixture of the live view, refreshing the view first when it is stale.
// ErrRecordNotFound when the fixture is not listed.
func (s *Service) Edge(ctx context.Context, fixtureID int64) (*Edge, error) {
	if _, err := s.LiveEdges(ctx); err != nil {
		return nil, err
	}
	e, ok := s.cache.Get(fixtureID)
	if !ok {
		return nil, fmt.Errorf("fixture %d: %w", fixtureID, ErrRecordNotFound)
	}
	return &e, nil
}

// buildEdge prices and quotes one fixture and returns the record to persist for it.
// Collaborator failures are logged and leave the affected part of the edge empty.
func (s *Service) buildEdge(ctx context.Context, league string, f Fixture) (Edge, *Prediction) {
	edge := Edge{
		ID:         f.ID,
		Date:       f.Date,
		Kickoff:    f.Kickoff,
		Match:      f.HomeTeam + " vs " + f.AwayTeam,
		HomeTeam:   f.HomeTeam,
		AwayTeam:   f.AwayTeam,
		League:     league,
		Round:      f.Round,
		Score:      ScoreBlock{Status: f.Status, Time: optionalInt(f.Minute), GoalsH: optionalInt(f.HomeGoals), GoalsA: optionalInt(f.AwayGoals)},
		Probs:      map[string]float64{},
		FairOdds:   map[string]float64{},
		MarketOdds: map[string]float64{"1": 0, "X": 0, "2": 0, "1X": 0, "X2": 0},
	}

	record := NewPrediction(f.ID)
	record.League = league
	record.Season = f.Season
	record.Round = f.Round
	record.HomeTeam = f.HomeTeam
	record.AwayTeam = f.AwayTeam
	record.MatchDate = f.Kickoff
	record.Status = f.Status
	record.Minute = f.Minute
	record.ActualHomeGoals = f.HomeGoals
	record.ActualAwayGoals = f.AwayGoals
	record.RawData = string(f.Raw)

	var probs map[string]float64
	var fp *FixturePrediction
	result, err := s.Predict(league, f.HomeTeam, f.AwayTeam)
	switch {
	case err == nil:
		fp = result.Prediction
		edge.HasModel = true
		probs = map[string]float64{"1": fp.HomeWin, "X": fp.Draw, "2": fp.AwayWin, "1X": fp.HomeOrDraw, "X2": fp.DrawOrAway}
		for k, p := range probs {
			edge.Probs[k] = Percent(p)
			edge.FairOdds[k] = RoundedFairOdds(p)
		}
		edge.PredictedXG = fmt.Sprintf("%.2f - %.2f", fp.ExpectedGoalsHome, fp.ExpectedGoalsAway)
		record.ApplyModel(fp)
	case errors.Is(err, ErrUnrated), errors.Is(err, ErrNotEnoughData):
		logger.Debug("No model price for fixture", f.ID, err)
	default:
		logger.Warn("Prediction failed", f.ID, err)
	}

	odds, err := s.feed.Odds(ctx, f.ID)
	if err != nil {
		s.metrics.RecordFeedError("odds")
		logger.Warn("Odds fetch failed", f.ID, err)
		odds = nil
	}
	if odds != nil {
		edge.MarketOdds = map[string]float64{"1": odds.Home, "X": odds.Draw, "2": odds.Away, "1X": odds.HomeOrDraw, "X2": odds.DrawOrAway}
	}
	if probs != nil && odds != nil {
		edge.Value = valueOf(edge.MarketOdds, probs)
	}
	edge.GoalLines = goalLineEdges(fp, odds)
	return edge, record
}

// valueOf is price times probability minus one for every quoted selection
func valueOf(prices, probs map[string]float64) map[string]float64 {
	value := map[string]float64{}
	for k, price := range prices {
		if p, ok := probs[k]; ok && price > 0 {
			value[k] = Round(price*p-1, 3)
		}
	}
	return value
}

// goalLineEdges joins the model's over/under lines with the bookmaker's, ordered by line.
// Either side may be nil.
func goalLineEdges(fp *FixturePrediction, odds *MarketOdds) []EdgeGoalLine {
	byLine := map[float64]*EdgeGoalLine{}
	line := func(l float64) *EdgeGoalLine {
		if gl, ok := byLine[l]; ok {
			return gl
		}
		gl := &EdgeGoalLine{Line: l, MarketOdds: map[string]float64{SelectionOver: 0, SelectionUnder: 0}}
		byLine[l] = gl
		return gl
	}

	if fp != nil {
		for _, priced := range fp.GoalLines {
			gl := line(priced.Line)
			gl.Probs = map[string]float64{SelectionOver: Percent(priced.Over), SelectionUnder: Percent(priced.Under)}
			gl.FairOdds = map[string]float64{SelectionOver: RoundedFairOdds(priced.Over), SelectionUnder: RoundedFairOdds(priced.Under)}
		}
	}
	if odds != nil {
		for _, quoted := range odds.GoalLines {
			gl := line(quoted.Line)
			gl.MarketOdds = map[string]float64{SelectionOver: quoted.Over, SelectionUnder: quoted.Under}
		}
	}

	out := make([]EdgeGoalLine, 0, len(byLine))
	for _, gl := range byLine {
		if fp != nil && gl.Probs != nil {
			if priced, ok := fp.GoalLine(gl.Line); ok {
				gl.Value = valueOf(gl.MarketOdds, map[string]float64{SelectionOver: priced.Over, SelectionUnder: priced.Under})
			}
		}
		out = append(out, *gl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func optionalInt(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

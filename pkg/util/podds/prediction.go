package podds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// Compile-time check to ensure Prediction implements Persistable interface
var _ Persistable = (*Prediction)(nil)

// FinishedStatuses are the feed status codes of a completed fixture
var FinishedStatuses = []string{"FT", "AET", "PEN"}

// Prediction is one stored fixture: what the model said before kickoff and what happened.
// Unknown numbers hold -1.
type Prediction struct {
	FixtureID int64     `json:"fixtureId" column:"fixture_id" dbtype:"BIGINT NOT NULL" primary:"true"`
	League    string    `json:"league" column:"league" dbtype:"TEXT NOT NULL" index:"true"`
	Season    int       `json:"season" column:"season" dbtype:"INTEGER DEFAULT -1"`
	Round     string    `json:"round" column:"round" dbtype:"TEXT"`
	HomeTeam  string    `json:"homeTeam" column:"home_team" dbtype:"TEXT NOT NULL"`
	AwayTeam  string    `json:"awayTeam" column:"away_team" dbtype:"TEXT NOT NULL"`
	MatchDate time.Time `json:"matchDate" column:"match_date" dbtype:"TIMESTAMP" index:"true"`

	// Model output
	ModelHomeXG float64 `json:"modelHomeXg" column:"model_home_xg" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	ModelAwayXG float64 `json:"modelAwayXg" column:"model_away_xg" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	ProbHome    float64 `json:"probHome" column:"prob_home" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	ProbDraw    float64 `json:"probDraw" column:"prob_draw" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	ProbAway    float64 `json:"probAway" column:"prob_away" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	FairOddHome float64 `json:"fairOddHome" column:"fair_odd_home" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	FairOddDraw float64 `json:"fairOddDraw" column:"fair_odd_draw" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	FairOddAway float64 `json:"fairOddAway" column:"fair_odd_away" dbtype:"DOUBLE PRECISION DEFAULT -1"`

	// Live state and reality
	Status          string  `json:"status" column:"status" dbtype:"TEXT" index:"true"`
	Minute          int     `json:"minute" column:"minute" dbtype:"INTEGER DEFAULT -1"`
	ActualHomeGoals int     `json:"actualHomeGoals" column:"actual_home_goals" dbtype:"INTEGER DEFAULT -1"`
	ActualAwayGoals int     `json:"actualAwayGoals" column:"actual_away_goals" dbtype:"INTEGER DEFAULT -1"`
	ActualHomeXG    float64 `json:"actualHomeXg" column:"actual_home_xg" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	ActualAwayXG    float64 `json:"actualAwayXg" column:"actual_away_xg" dbtype:"DOUBLE PRECISION DEFAULT -1"`
	IsSettled       bool    `json:"isSettled" column:"is_settled" dbtype:"BOOLEAN DEFAULT FALSE" index:"true"`
	SettleAttempts  int     `json:"settleAttempts" column:"settle_attempts" dbtype:"INTEGER DEFAULT 0"`
	RawData         string  `json:"-" column:"raw_data" dbtype:"TEXT"`

	CreatedAt time.Time `json:"createdAt" column:"created_at" dbtype:"TIMESTAMP"`
	UpdatedAt time.Time `json:"updatedAt" column:"updated_at" dbtype:"TIMESTAMP"`
}

// NewPrediction returns a record with every unknown number set to -1
func NewPrediction(fixtureID int64) *Prediction {
	return &Prediction{
		FixtureID:       fixtureID,
		Season:          -1,
		ModelHomeXG:     -1,
		ModelAwayXG:     -1,
		ProbHome:        -1,
		ProbDraw:        -1,
		ProbAway:        -1,
		FairOddHome:     -1,
		FairOddDraw:     -1,
		FairOddAway:     -1,
		Minute:          -1,
		ActualHomeGoals: -1,
		ActualAwayGoals: -1,
		ActualHomeXG:    -1,
		ActualAwayXG:    -1,
	}
}

/////////////////////////////////////////////////////////////////////////
////// Persistable Interface Implementation
/////////////////////////////////////////////////////////////////////////

// GetPrimaryKey returns the primary key as a map
func (p *Prediction) GetPrimaryKey() map[string]interface{} {
	return map[string]any{"fixture_id": p.FixtureID}
}

// GetTableName returns the table name for predictions
func (p *Prediction) GetTableName() string {
	return "predictions"
}

// BeforeSave stamps the timestamps
func (p *Prediction) BeforeSave() error {
	if p.FixtureID == 0 {
		return fmt.Errorf("prediction has no fixture id")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return nil
}

// AfterSave is called after saving the prediction
func (p *Prediction) AfterSave() error {
	return nil
}

// HasModel reports whether model output was recorded
func (p *Prediction) HasModel() bool {
	return p.ModelHomeXG >= 0 && p.ModelAwayXG >= 0
}

// HasResult reports whether a final score is known
func (p *Prediction) HasResult() bool {
	return p.ActualHomeGoals >= 0 && p.ActualAwayGoals >= 0
}

// IsFinished reports whether the feed marked the fixture complete
func (p *Prediction) IsFinished() bool {
	for _, s := range FinishedStatuses {
		if p.Status == s {
			return true
		}
	}
	return false
}

// Outcome returns SelectionHome, SelectionDraw or SelectionAway for a known score, "" otherwise
func (p *Prediction) Outcome() string {
	if !p.HasResult() {
		return ""
	}
	switch {
	case p.ActualHomeGoals > p.ActualAwayGoals:
		return SelectionHome
	case p.ActualHomeGoals < p.ActualAwayGoals:
		return SelectionAway
	default:
		return SelectionDraw
	}
}

// ApplyModel copies expected goals, 1X2 probabilities and fair odds from a fixture prediction
func (p *Prediction) ApplyModel(fp *FixturePrediction) {
	if fp == nil {
		return
	}
	p.ModelHomeXG = Round(fp.ExpectedGoalsHome, 4)
	p.ModelAwayXG = Round(fp.ExpectedGoalsAway, 4)
	p.ProbHome = fp.HomeWin
	p.ProbDraw = fp.Draw
	p.ProbAway = fp.AwayWin
	p.FairOddHome = RoundedFairOdds(fp.HomeWin)
	p.FairOddDraw = RoundedFairOdds(fp.Draw)
	p.FairOddAway = RoundedFairOdds(fp.AwayWin)
}

/////////////////////////////////////////////////////////////////////////
////// Store operations on predictions
/////////////////////////////////////////////////////////////////////////

// Migrate creates the tables the service needs
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.CreateTable(ctx, &Prediction{}); err != nil {
		return fmt.Errorf("failed to create predictions table: %w", err)
	}
	return nil
}

// GetPrediction loads one prediction by fixture id
func (s *Store) GetPrediction(ctx context.Context, fixtureID int64) (*Prediction, error) {
	return s.getPrediction(ctx, s.db, fixtureID)
}

func (s *Store) getPrediction(ctx context.Context, ex execer, fixtureID int64) (*Prediction, error) {
	p := &Prediction{FixtureID: fixtureID}
	if err := s.findByPrimaryKey(ctx, ex, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPrediction inserts a new fixture or refreshes the live fields of a stored one.
// Model output is only filled in when the stored record has none, and raw data is
// left alone once the fixture is settled. Returns true when a new row was created.
func (s *Store) UpsertPrediction(ctx context.Context, p *Prediction) (bool, error) {
	return s.upsertPrediction(ctx, s.db, p)
}

// UpsertPredictions upserts a batch in one transaction and returns how many rows were new.
// Any failure rolls the whole batch back.
func (s *Store) UpsertPredictions(ctx context.Context, predictions []*Prediction) (int, error) {
	created := 0
	err := s.withTx(ctx, func(ex execer) error {
		created = 0
		for _, p := range predictions {
			isNew, err := s.upsertPrediction(ctx, ex, p)
			if err != nil {
				return err
			}
			if isNew {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Store) upsertPrediction(ctx context.Context, ex execer, p *Prediction) (bool, error) {
	existing, err := s.getPrediction(ctx, ex, p.FixtureID)
	if errors.Is(err, ErrRecordNotFound) {
		if err := s.save(ctx, ex, p); err != nil {
			return false, fmt.Errorf("failed to insert prediction %d: %w", p.FixtureID, err)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	existing.Status = p.Status
	existing.Minute = p.Minute
	existing.ActualHomeGoals = p.ActualHomeGoals
	existing.ActualAwayGoals = p.ActualAwayGoals
	if !p.MatchDate.IsZero() {
		existing.MatchDate = p.MatchDate
	}
	if p.Round != "" {
		existing.Round = p.Round
	}
	if !existing.HasModel() && p.HasModel() {
		existing.ModelHomeXG, existing.ModelAwayXG = p.ModelHomeXG, p.ModelAwayXG
		existing.ProbHome, existing.ProbDraw, existing.ProbAway = p.ProbHome, p.ProbDraw, p.ProbAway
		existing.FairOddHome, existing.FairOddDraw, existing.FairOddAway = p.FairOddHome, p.FairOddDraw, p.FairOddAway
	}
	if !existing.IsSettled && p.RawData != "" {
		existing.RawData = p.RawData
	}
	if err := s.save(ctx, ex, existing); err != nil {
		return false, fmt.Errorf("failed to update prediction %d: %w", p.FixtureID, err)
	}
	*p = *existing
	return false, nil
}

// NextUnsettled returns the finished fixture to settle next: fewest failed attempts first,
// then oldest. ErrRecordNotFound when there is none.
func (s *Store) NextUnsettled(ctx context.Context) (*Prediction, error) {
	results, err := s.FindWhere(ctx, &Prediction{},
		"status IN (?, ?, ?) AND is_settled = ? ORDER BY settle_attempts ASC, match_date ASC, fixture_id ASC LIMIT 1",
		FinishedStatuses[0], FinishedStatuses[1], FinishedStatuses[2], false)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no unsettled fixtures: %w", ErrRecordNotFound)
	}
	return results[0].(*Prediction), nil
}

// MarkSettled stores the enrichment and flags the fixture settled. Settling an
// already settled fixture changes nothing.
func (s *Store) MarkSettled(ctx context.Context, fixtureID int64, rawData string, homeXG, awayXG float64) error {
	p, err := s.GetPrediction(ctx, fixtureID)
	if err != nil {
		return err
	}
	if p.IsSettled {
		logger.Debug("Fixture already settled", fixtureID)
		return nil
	}
	p.RawData = rawData
	p.ActualHomeXG = homeXG
	p.ActualAwayXG = awayXG
	p.IsSettled = true
	if err := s.Save(ctx, p); err != nil {
		return fmt.Errorf("failed to settle fixture %d: %w", fixtureID, err)
	}
	return nil
}

// FinishedPredictions returns every finished fixture of a league that has both model output
// and a final score, oldest first. An empty league returns all leagues.
func (s *Store) FinishedPredictions(ctx context.Context, league string) ([]*Prediction, error) {
	where := "actual_home_goals >= 0 AND actual_away_goals >= 0 AND model_home_xg >= 0 AND status IN (?, ?, ?)"
	args := []interface{}{FinishedStatuses[0], FinishedStatuses[1], FinishedStatuses[2]}
	if league != "" {
		where += " AND league = ?"
		args = append(args, league)
	}
	results, err := s.FindWhere(ctx, &Prediction{}, where+" ORDER BY match_date ASC, fixture_id ASC", args...)
	if err != nil {
		return nil, err
	}
	out := make([]*Prediction, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*Prediction))
	}
	return out, nil
}

// RecordSettleFailure counts a failed settlement so other fixtures are tried before this one again
func (s *Store) RecordSettleFailure(ctx context.Context, fixtureID int64) error {
	p, err := s.GetPrediction(ctx, fixtureID)
	if err != nil {
		return err
	}
	p.SettleAttempts++
	if err := s.Save(ctx, p); err != nil {
		return fmt.Errorf("failed to record settle failure for %d: %w", fixtureID, err)
	}
	return nil
}

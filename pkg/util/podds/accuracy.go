package podds

import (
	"math"
)

// FixtureEvaluation scores one finished fixture against the model's pre-match view
type FixtureEvaluation struct {
	FixtureID int64   `json:"fixture_id"`
	Match     string  `json:"match"`
	Predicted string  `json:"predicted"`
	Actual    string  `json:"actual"`
	Correct   bool    `json:"correct"`
	Brier     float64 `json:"brier"`
	LogLoss   float64 `json:"log_loss"`
}

// AccuracyReport aggregates evaluations over a league
type AccuracyReport struct {
	League             string              `json:"league"`
	TotalPredictions   int                 `json:"total_predictions"`
	CorrectPredictions int                 `json:"correct_predictions"`
	Accuracy           float64             `json:"accuracy"`
	Brier              float64             `json:"brier"`
	LogLoss            float64             `json:"log_loss"`
	AvgHomeWinProb     float64             `json:"avg_home_win_prob"`
	AvgDrawProb        float64             `json:"avg_draw_prob"`
	AvgAwayWinProb     float64             `json:"avg_away_win_prob"`
	GoalsMAE           float64             `json:"goals_mae"`
	XGMAE              float64             `json:"xg_mae"`
	XGSamples          int                 `json:"xg_samples"`
	Fixtures           []FixtureEvaluation `json:"fixtures"`
}

// probability floor for log loss, a zero probability would otherwise be infinite
const logLossFloor = 1e-15

// PredictedOutcome is the selection with the highest model probability, home winning ties
func PredictedOutcome(home, draw, away float64) string {
	switch {
	case home >= draw && home >= away:
		return SelectionHome
	case draw >= away:
		return SelectionDraw
	default:
		return SelectionAway
	}
}

// EvaluatePrediction scores one stored prediction. ok is false when either the model
// output or the final score is missing.
func EvaluatePrediction(p *Prediction) (FixtureEvaluation, bool) {
	if p == nil || !p.HasModel() || !p.HasResult() || p.ProbHome < 0 {
		return FixtureEvaluation{}, false
	}
	actual := p.Outcome()
	eval := FixtureEvaluation{
		FixtureID: p.FixtureID,
		Match:     p.HomeTeam + " vs " + p.AwayTeam,
		Predicted: PredictedOutcome(p.ProbHome, p.ProbDraw, p.ProbAway),
		Actual:    actual,
	}
	eval.Correct = eval.Predicted == actual

	probs := map[string]float64{SelectionHome: p.ProbHome, SelectionDraw: p.ProbDraw, SelectionAway: p.ProbAway}
	for sel, prob := range probs {
		hit := 0.0
		if sel == actual {
			hit = 1
		}
		eval.Brier += (prob - hit) * (prob - hit)
	}
	eval.LogLoss = -math.Log(math.Max(probs[actual], logLossFloor))
	return eval, true
}

// EvaluatePredictions aggregates the accuracy of a league's finished predictions.
// Predictions that cannot be scored are ignored.
func EvaluatePredictions(league string, predictions []*Prediction) *AccuracyReport {
	report := &AccuracyReport{League: league, Fixtures: []FixtureEvaluation{}}
	var goalsErr, xgErr float64

	for _, p := range predictions {
		eval, ok := EvaluatePrediction(p)
		if !ok {
			continue
		}
		report.TotalPredictions++
		if eval.Correct {
			report.CorrectPredictions++
		}
		report.Brier += eval.Brier
		report.LogLoss += eval.LogLoss
		report.AvgHomeWinProb += p.ProbHome
		report.AvgDrawProb += p.ProbDraw
		report.AvgAwayWinProb += p.ProbAway
		goalsErr += math.Abs(p.ModelHomeXG-float64(p.ActualHomeGoals)) + math.Abs(p.ModelAwayXG-float64(p.ActualAwayGoals))
		if p.ActualHomeXG >= 0 && p.ActualAwayXG >= 0 {
			xgErr += math.Abs(p.ModelHomeXG-p.ActualHomeXG) + math.Abs(p.ModelAwayXG-p.ActualAwayXG)
			report.XGSamples++
		}
		report.Fixtures = append(report.Fixtures, eval)
	}

	if n := float64(report.TotalPredictions); n > 0 {
		report.Accuracy = Percent(float64(report.CorrectPredictions) / n)
		report.Brier = Round(report.Brier/n, 4)
		report.LogLoss = Round(report.LogLoss/n, 4)
		report.AvgHomeWinProb = Round(report.AvgHomeWinProb/n, 4)
		report.AvgDrawProb = Round(report.AvgDrawProb/n, 4)
		report.AvgAwayWinProb = Round(report.AvgAwayWinProb/n, 4)
		// per side, so two samples per fixture
		report.GoalsMAE = Round(goalsErr/(2*n), 4)
	}
	if report.XGSamples > 0 {
		report.XGMAE = Round(xgErr/(2*float64(report.XGSamples)), 4)
	}
	return report
}

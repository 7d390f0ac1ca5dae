package tools

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/util/podds"
)

// PoddsBackend is the part of the prediction service the tools drive
type PoddsBackend interface {
	LiveEdges(ctx context.Context) ([]podds.Edge, error)
	Predict(league, home, away string) (*podds.PredictionResult, error)
	Retrain(ctx context.Context, league string) (*podds.ModelSummary, error)
	Accuracy(ctx context.Context, league string) (*podds.AccuracyReport, error)
}

// Handler runs a tool and returns markdown
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition pairs a tool description with its handler
type Definition struct {
	Tool    protocol.Tool
	Handler Handler
}

// PoddsTools returns the prediction tools bound to svc
func PoddsTools(svc PoddsBackend) []Definition {
	return []Definition{
		{Tool: LiveEdgesTool(), Handler: liveEdgesHandler(svc)},
		{Tool: PredictTool(), Handler: predictHandler(svc)},
		{Tool: RetrainTool(), Handler: retrainHandler(svc)},
		{Tool: AccuracyTool(), Handler: accuracyHandler(svc)},
	}
}

func LiveEdgesTool() protocol.Tool {
	return protocol.Tool{
		Name: "podds_live_edges",
		Description: `
		Lists in-play and upcoming football fixtures of the configured leagues with the model's
		1X2 and double chance probabilities, fair odds, predicted expected goals and the bookmaker's prices.
		Use this when the user asks what is on, where the value is, or how a live match is priced.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"league": {
					Type:        "string",
					Description: "Optional league name (ie. Bundesliga) to restrict the listing to",
				},
			},
			Required: []string{},
		},
	}
}

func PredictTool() protocol.Tool {
	return protocol.Tool{
		Name: "podds_predict",
		Description: `
		Prices a single fixture with the league's Poisson model: expected goals, home/draw/away,
		double chance, over/under goal lines, handicaps and the most likely scoreline.
		Team names may be given as the user writes them, they are matched to the model's teams.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"league": {Type: "string", Description: "League name, ie. Bundesliga"},
				"home":   {Type: "string", Description: "Home team"},
				"away":   {Type: "string", Description: "Away team"},
			},
			Required: []string{"league", "home", "away"},
		},
	}
}

func RetrainTool() protocol.Tool {
	return protocol.Tool{
		Name:        "podds_retrain",
		Description: "Rebuilds a league's team ratings from its historical corpus and installs the new model.",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"league": {Type: "string", Description: "League name, ie. Bundesliga"},
			},
			Required: []string{"league"},
		},
	}
}

func AccuracyTool() protocol.Tool {
	return protocol.Tool{
		Name:        "podds_accuracy",
		Description: "Reports how well past predictions of a league did: hit rate, Brier score, log loss and goal errors.",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"league": {Type: "string", Description: "League name, or empty for every league"},
			},
			Required: []string{},
		},
	}
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name].(string)
	v = strings.TrimSpace(v)
	if required && (!ok || v == "") {
		return "", fmt.Errorf("%s parameter is required and must be a string", name)
	}
	return v, nil
}

func liveEdgesHandler(svc PoddsBackend) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		league, _ := stringArg(args, "league", false)
		edges, err := svc.LiveEdges(ctx)
		if err != nil && len(edges) == 0 {
			return "", err
		}
		if league != "" {
			filtered := edges[:0:0]
			for _, e := range edges {
				if strings.EqualFold(e.League, league) {
					filtered = append(filtered, e)
				}
			}
			edges = filtered
		}
		return toMarkdown(renderEdges(edges))
	}
}

func predictHandler(svc PoddsBackend) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		league, err := stringArg(args, "league", true)
		if err != nil {
			return "", err
		}
		home, err := stringArg(args, "home", true)
		if err != nil {
			return "", err
		}
		away, err := stringArg(args, "away", true)
		if err != nil {
			return "", err
		}
		result, err := svc.Predict(league, home, away)
		if errors.Is(err, podds.ErrUnrated) {
			return "", fmt.Errorf("%s vs %s cannot be priced, at least one team has no rating in %s", home, away, league)
		}
		if err != nil {
			return "", err
		}
		return toMarkdown(renderPrediction(result))
	}
}

func retrainHandler(svc PoddsBackend) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		league, err := stringArg(args, "league", true)
		if err != nil {
			return "", err
		}
		summary, err := svc.Retrain(ctx, league)
		if err != nil {
			return "", err
		}
		return toMarkdown(renderSummary(summary))
	}
}

func accuracyHandler(svc PoddsBackend) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		league, _ := stringArg(args, "league", false)
		report, err := svc.Accuracy(ctx, league)
		if err != nil {
			return "", err
		}
		return toMarkdown(renderAccuracy(report))
	}
}

func toMarkdown(doc string) (string, error) {
	md, err := htmltomarkdown.ConvertString(doc)
	if err != nil {
		logger.Error("Failed to convert HTML to Markdown:", err)
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// htmlDoc accumulates escaped HTML
type htmlDoc struct {
	b strings.Builder
}

func (d *htmlDoc) heading(level int, format string, a ...any) {
	fmt.Fprintf(&d.b, "<h%d>%s</h%d>", level, html.EscapeString(fmt.Sprintf(format, a...)), level)
}

func (d *htmlDoc) para(format string, a ...any) {
	fmt.Fprintf(&d.b, "<p>%s</p>", html.EscapeString(fmt.Sprintf(format, a...)))
}

// list writes label/value items, the label in bold
func (d *htmlDoc) list(items [][2]string) {
	d.b.WriteString("<ul>")
	for _, it := range items {
		fmt.Fprintf(&d.b, "<li><strong>%s</strong>: %s</li>", html.EscapeString(it[0]), html.EscapeString(it[1]))
	}
	d.b.WriteString("</ul>")
}

func (d *htmlDoc) String() string { return d.b.String() }

var edgeSelections = []string{"1", "X", "2", "1X", "X2"}

func selectionLine(values map[string]float64, format string) string {
	parts := make([]string, 0, len(edgeSelections))
	for _, k := range edgeSelections {
		if v, ok := values[k]; ok && v > 0 {
			parts = append(parts, fmt.Sprintf("%s "+format, k, v))
		} else {
			parts = append(parts, k+" n/a")
		}
	}
	return strings.Join(parts, " | ")
}

func renderEdges(edges []podds.Edge) string {
	var d htmlDoc
	d.heading(2, "Live edges")
	if len(edges) == 0 {
		d.para("No live or upcoming fixtures.")
		return d.String()
	}
	for _, e := range edges {
		d.heading(3, "%s (%s, %s)", e.Match, e.League, e.Round)
		items := [][2]string{{"Kick-off", e.Date}, {"Status", scoreText(e.Score)}}
		if e.HasModel {
			items = append(items,
				[2]string{"Model %", selectionLine(e.Probs, "%.1f")},
				[2]string{"Fair odds", selectionLine(e.FairOdds, "%.2f")},
				[2]string{"Predicted xG", e.PredictedXG},
			)
		} else {
			items = append(items, [2]string{"Model", "no rating for one or both teams"})
		}
		items = append(items, [2]string{"Market odds", selectionLine(e.MarketOdds, "%.2f")})
		if len(e.Value) > 0 {
			items = append(items, [2]string{"Value", valueLine(e.Value)})
		}
		for _, gl := range e.GoalLines {
			items = append(items, [2]string{fmt.Sprintf("Over/under %g", gl.Line), goalLineText(gl)})
		}
		d.list(items)
	}
	return d.String()
}

func valueLine(value map[string]float64) string {
	keys := make([]string, 0, len(value))
	for _, k := range edgeSelections {
		if _, ok := value[k]; ok {
			keys = append(keys, k)
		}
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %+.3f", k, value[k]))
	}
	return strings.Join(parts, " | ")
}

// goalLineText prints over/under pairs, n/a for a side nobody prices
func goalLineText(gl podds.EdgeGoalLine) string {
	pair := func(m map[string]float64, format string) string {
		side := func(k string) string {
			if v, ok := m[k]; ok && v != 0 {
				return fmt.Sprintf(format, v)
			}
			return "n/a"
		}
		return side(podds.SelectionOver) + " / " + side(podds.SelectionUnder)
	}
	parts := []string{}
	if gl.Probs != nil {
		parts = append(parts, "model "+pair(gl.Probs, "%.1f%%"), "fair "+pair(gl.FairOdds, "%.2f"))
	}
	parts = append(parts, "market "+pair(gl.MarketOdds, "%.2f"))
	if len(gl.Value) > 0 {
		parts = append(parts, "value "+pair(gl.Value, "%+.3f"))
	}
	return strings.Join(parts, " | ")
}

func scoreText(s podds.ScoreBlock) string {
	text := s.Status
	if s.GoalsH != nil && s.GoalsA != nil {
		text += fmt.Sprintf(" %d-%d", *s.GoalsH, *s.GoalsA)
	}
	if s.Time != nil {
		text += fmt.Sprintf(" (%d')", *s.Time)
	}
	return text
}

func renderPrediction(r *podds.PredictionResult) string {
	fp := r.Prediction
	var d htmlDoc
	d.heading(2, "%s vs %s (%s)", r.HomeTeam, r.AwayTeam, r.League)
	if r.HomeKey != r.HomeTeam || r.AwayKey != r.AwayTeam {
		d.para("Matched to %s and %s.", r.HomeKey, r.AwayKey)
	}
	d.list([][2]string{
		{"Expected goals", fmt.Sprintf("%.2f - %.2f", fp.ExpectedGoalsHome, fp.ExpectedGoalsAway)},
		{"Home", probText(fp.HomeWin)},
		{"Draw", probText(fp.Draw)},
		{"Away", probText(fp.AwayWin)},
		{"Home or draw", probText(fp.HomeOrDraw)},
		{"Draw or away", probText(fp.DrawOrAway)},
		{"Most likely score", fmt.Sprintf("%d-%d (%.1f%%)", fp.MostLikely.Home, fp.MostLikely.Away, podds.Percent(fp.MostLikely.Probability))},
	})

	if len(fp.GoalLines) > 0 {
		d.heading(3, "Goals")
		items := make([][2]string, 0, len(fp.GoalLines))
		for _, gl := range fp.GoalLines {
			items = append(items, [2]string{fmt.Sprintf("Over/under %g", gl.Line), probText(gl.Over) + " / " + probText(gl.Under)})
		}
		d.list(items)
	}
	if len(fp.Handicaps) > 0 {
		d.heading(3, "Handicaps")
		items := make([][2]string, 0, len(fp.Handicaps))
		for _, h := range fp.Handicaps {
			items = append(items, [2]string{fmt.Sprintf("Home %+g", h.Line), probText(h.Home) + " / " + probText(h.Away)})
		}
		d.list(items)
	}
	return d.String()
}

func probText(p float64) string {
	return fmt.Sprintf("%.1f%% (fair %.2f)", podds.Percent(p), podds.RoundedFairOdds(p))
}

func renderSummary(s *podds.ModelSummary) string {
	var d htmlDoc
	d.heading(2, "%s model", s.League)
	d.list([][2]string{
		{"Run", s.RunID.String()},
		{"Metric", string(s.Metric)},
		{"Rated teams", fmt.Sprint(s.Teams)},
		{"Rows used", fmt.Sprint(s.RowsUsed)},
		{"Average home rate", fmt.Sprintf("%.4f", s.AvgHomeGoalRate)},
		{"Average away rate", fmt.Sprintf("%.4f", s.AvgAwayGoalRate)},
		{"Latest match", s.LatestMatchDate.Format("2006-01-02")},
	})
	return d.String()
}

func renderAccuracy(r *podds.AccuracyReport) string {
	var d htmlDoc
	title := r.League
	if title == "" {
		title = "All leagues"
	}
	d.heading(2, "%s accuracy", title)
	if r.TotalPredictions == 0 {
		d.para("No settled predictions yet.")
		return d.String()
	}
	items := [][2]string{
		{"Predictions", fmt.Sprint(r.TotalPredictions)},
		{"Correct", fmt.Sprintf("%d (%.1f%%)", r.CorrectPredictions, r.Accuracy)},
		{"Brier score", fmt.Sprintf("%.4f", r.Brier)},
		{"Log loss", fmt.Sprintf("%.4f", r.LogLoss)},
		{"Goals MAE", fmt.Sprintf("%.4f", r.GoalsMAE)},
	}
	if r.XGSamples > 0 {
		items = append(items, [2]string{"xG MAE", fmt.Sprintf("%.4f over %d fixtures", r.XGMAE, r.XGSamples)})
	}
	d.list(items)

	misses := make([]podds.FixtureEvaluation, 0)
	for _, f := range r.Fixtures {
		if !f.Correct {
			misses = append(misses, f)
		}
	}
	if len(misses) > 0 {
		sort.Slice(misses, func(i, j int) bool { return misses[i].LogLoss > misses[j].LogLoss })
		if len(misses) > 10 {
			misses = misses[:10]
		}
		d.heading(3, "Worst misses")
		items := make([][2]string, 0, len(misses))
		for _, m := range misses {
			items = append(items, [2]string{m.Match, fmt.Sprintf("predicted %s, was %s (log loss %.3f)", m.Predicted, m.Actual, m.LogLoss)})
		}
		d.list(items)
	}
	return d.String()
}

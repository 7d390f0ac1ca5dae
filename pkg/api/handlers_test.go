package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/richard-senior/podds/pkg/util/podds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	edgesErr  error
	settled   int64
	accLeague string
	updatedAt time.Time
}

func (f *fakeBackend) edges() []podds.Edge {
	return []podds.Edge{{ID: 7, Match: "Freiburg vs Köln", League: "Bundesliga", MarketOdds: map[string]float64{"1": 2.1}}}
}

func (f *fakeBackend) LiveView(ctx context.Context) (*podds.LiveView, error) {
	if f.edgesErr != nil {
		return nil, f.edgesErr
	}
	return &podds.LiveView{UpdatedAt: f.updatedAt, Edges: f.edges()}, nil
}

func (f *fakeBackend) Edge(ctx context.Context, fixtureID int64) (*podds.Edge, error) {
	if f.edgesErr != nil {
		return nil, f.edgesErr
	}
	for _, e := range f.edges() {
		if e.ID == fixtureID {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("fixture %d: %w", fixtureID, podds.ErrRecordNotFound)
}

func (f *fakeBackend) Predict(league, home, away string) (*podds.PredictionResult, error) {
	if league != "Bundesliga" {
		return nil, fmt.Errorf("no model for %s: %w", league, podds.ErrNotEnoughData)
	}
	fp := podds.PredictFromRates(1.4, 1.1, podds.DefaultPoddsConfig().MarketConfig())
	return &podds.PredictionResult{League: league, HomeTeam: home, AwayTeam: away, Prediction: fp, Markets: fp.Markets()}, nil
}

func (f *fakeBackend) Retrain(ctx context.Context, league string) (*podds.ModelSummary, error) {
	if league != "Bundesliga" {
		return nil, fmt.Errorf("%q: %w", league, podds.ErrUnknownLeague)
	}
	return &podds.ModelSummary{League: league, Teams: 18}, nil
}

func (f *fakeBackend) SettleFinished(ctx context.Context) (int64, error) {
	return f.settled, nil
}

func (f *fakeBackend) Accuracy(ctx context.Context, league string) (*podds.AccuracyReport, error) {
	f.accLeague = league
	return &podds.AccuracyReport{League: league, Fixtures: []podds.FixtureEvaluation{}}, nil
}

func (f *fakeBackend) Models() []podds.ModelSummary {
	return []podds.ModelSummary{{League: "Bundesliga", Teams: 18}}
}

func serve(t *testing.T, h *APIHandler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestLiveEdges(t *testing.T) {
	built := time.Date(2025, 9, 13, 14, 0, 5, 0, time.UTC)
	h := NewAPIHandler(&fakeBackend{updatedAt: built}, nil)
	rec := serve(t, h, http.MethodGet, "/live-edges")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "Sat, 13 Sep 2025 14:00:05 GMT", rec.Header().Get("Last-Modified"))

	var edges []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edges))
	require.Len(t, edges, 1)
	assert.Equal(t, "Freiburg vs Köln", edges[0]["match"])
}

func TestLiveEdgeByID(t *testing.T) {
	h := NewAPIHandler(&fakeBackend{}, nil)

	rec := serve(t, h, http.MethodGet, "/live-edges/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var edge podds.Edge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edge))
	assert.Equal(t, int64(7), edge.ID)
	assert.Equal(t, 2.1, edge.MarketOdds["1"])

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/live-edges/8").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/live-edges/abc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/live-edges/-3").Code)

	down := NewAPIHandler(&fakeBackend{edgesErr: podds.ErrFeedUnavailable}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, down, http.MethodGet, "/live-edges/7").Code)
	assert.Empty(t, serve(t, NewAPIHandler(&fakeBackend{}, nil), http.MethodGet, "/live-edges").Header().Get("Last-Modified"))
}

func TestLiveEdgesFeedDown(t *testing.T) {
	h := NewAPIHandler(&fakeBackend{edgesErr: podds.ErrFeedUnavailable}, nil)
	rec := serve(t, h, http.MethodGet, "/live-edges")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "fixture feed unavailable")
}

func TestPredict(t *testing.T) {
	h := NewAPIHandler(&fakeBackend{}, nil)

	rec := serve(t, h, http.MethodGet, "/predict/Bundesliga?home=Freiburg&away=K%C3%B6ln")
	require.Equal(t, http.StatusOK, rec.Code)
	var result podds.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Köln", result.AwayTeam)
	assert.NotEmpty(t, result.Markets)

	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/predict/Bundesliga?home=Freiburg").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/predict/Eredivisie?home=Ajax&away=PSV").Code)
}

func TestRetrainSettleModels(t *testing.T) {
	h := NewAPIHandler(&fakeBackend{settled: 1001}, nil)

	rec := serve(t, h, http.MethodPost, "/retrain/Bundesliga")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"teams":18`)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, h, http.MethodGet, "/retrain/Bundesliga").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/retrain/Serie%20A").Code)

	rec = serve(t, h, http.MethodPost, "/settle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settled":true,"fixture_id":1001}`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/models")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bundesliga")
}

func TestAccuracy(t *testing.T) {
	svc := &fakeBackend{}
	h := NewAPIHandler(svc, nil)

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/accuracy/Bundesliga").Code)
	assert.Equal(t, "Bundesliga", svc.accLeague)

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/accuracy").Code)
	assert.Equal(t, "", svc.accLeague)
}

func TestMetrics(t *testing.T) {
	m := podds.NewMetrics()
	m.RecordSettlement("ok")
	h := NewAPIHandler(&fakeBackend{}, m.Registry())

	srv := httptest.NewServer(h.SetupRoutes())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "podds_settlements_total")
}

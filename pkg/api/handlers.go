// Package api is the REST surface of the prediction service
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/util/podds"
)

// Backend is the service behind the routes
type Backend interface {
	LiveView(ctx context.Context) (*podds.LiveView, error)
	Edge(ctx context.Context, fixtureID int64) (*podds.Edge, error)
	Predict(league, home, away string) (*podds.PredictionResult, error)
	Retrain(ctx context.Context, league string) (*podds.ModelSummary, error)
	SettleFinished(ctx context.Context) (int64, error)
	Accuracy(ctx context.Context, league string) (*podds.AccuracyReport, error)
	Models() []podds.ModelSummary
}

// APIHandler handles HTTP requests for the prediction service
type APIHandler struct {
	svc     Backend
	metrics *prometheus.Registry
}

// NewAPIHandler creates a new API handler. metrics may be nil, /metrics then serves an empty registry.
func NewAPIHandler(svc Backend, metrics *prometheus.Registry) *APIHandler {
	if metrics == nil {
		metrics = prometheus.NewRegistry()
	}
	return &APIHandler{svc: svc, metrics: metrics}
}

// SetupRoutes configures the HTTP routes
func (h *APIHandler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, cors)

	r.HandleFunc("/live-edges", h.handleLiveEdges).Methods("GET")
	r.HandleFunc("/live-edges/{id}", h.handleEdge).Methods("GET")
	r.HandleFunc("/predict/{league}", h.handlePredict).Methods("GET")
	r.HandleFunc("/retrain/{league}", h.handleRetrain).Methods("POST")
	r.HandleFunc("/settle", h.handleSettle).Methods("POST")
	r.HandleFunc("/accuracy", h.handleAccuracy).Methods("GET")
	r.HandleFunc("/accuracy/{league}", h.handleAccuracy).Methods("GET")
	r.HandleFunc("/models", h.handleModels).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.metrics, promhttp.HandlerOpts{})).Methods("GET")
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// NewHTTPServer wraps the routes in a server with sane timeouts
func (h *APIHandler) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logger.Debug(r.Method, r.URL.Path, id)
		next.ServeHTTP(w, r)
	})
}

// cors allows any origin, the dashboard is served from elsewhere
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", err)
	}
}

// writeError maps service errors onto status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, podds.ErrNotEnoughData), errors.Is(err, podds.ErrUnrated),
		errors.Is(err, podds.ErrUnknownLeague), errors.Is(err, podds.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, podds.ErrFeedUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleLiveEdges serves the edge list; Last-Modified is when the list was built
func (h *APIHandler) handleLiveEdges(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.LiveView(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !view.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", view.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	writeJSON(w, http.StatusOK, view.Edges)
}

func (h *APIHandler) handleEdge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fixture id must be a positive integer"})
		return
	}
	edge, err := h.svc.Edge(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (h *APIHandler) handlePredict(w http.ResponseWriter, r *http.Request) {
	league := mux.Vars(r)["league"]
	home, away := r.URL.Query().Get("home"), r.URL.Query().Get("away")
	if home == "" || away == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "home and away query parameters are required"})
		return
	}
	result, err := h.svc.Predict(league, home, away)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) handleRetrain(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Retrain(r.Context(), mux.Vars(r)["league"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.SettleFinished(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settled": id != 0, "fixture_id": id})
}

func (h *APIHandler) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Accuracy(r.Context(), mux.Vars(r)["league"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Models())
}

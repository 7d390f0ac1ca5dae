package podds

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ModelRegistry holds the installed model of every league.
// Readers see a whole map snapshot; a retrain builds its model off to the side and
// swaps it in only once complete, so a failed run leaves the previous model serving.
type ModelRegistry struct {
	models  atomic.Pointer[map[string]*LeagueModel]
	corpus  CorpusSource
	cfg     *PoddsConfig
	metrics *Metrics
	group   singleflight.Group
}

// NewModelRegistry returns an empty registry training from corpus
func NewModelRegistry(corpus CorpusSource, cfg *PoddsConfig, metrics *Metrics) *ModelRegistry {
	r := &ModelRegistry{corpus: corpus, cfg: cfg, metrics: metrics}
	empty := map[string]*LeagueModel{}
	r.models.Store(&empty)
	return r
}

// Get returns the installed model for a league
func (r *ModelRegistry) Get(league string) (*LeagueModel, bool) {
	m, ok := (*r.models.Load())[league]
	return m, ok
}

// Snapshot returns a copy of the installed models
func (r *ModelRegistry) Snapshot() map[string]*LeagueModel {
	current := *r.models.Load()
	out := make(map[string]*LeagueModel, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// Install swaps in a model for its league
func (r *ModelRegistry) Install(m *LeagueModel) {
	if m == nil {
		return
	}
	for {
		old := r.models.Load()
		next := make(map[string]*LeagueModel, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[m.League] = m
		if r.models.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Retrain reads the league's corpus, trains and installs the result.
// Concurrent calls for one league share a single run.
func (r *ModelRegistry) Retrain(ctx context.Context, league string) (*LeagueModel, error) {
	v, err, shared := r.group.Do(league, func() (interface{}, error) {
		return r.train(ctx, league)
	})
	if shared {
		logger.Debug("Joined in-flight training run", league)
	}
	if err != nil {
		return nil, err
	}
	return v.(*LeagueModel), nil
}

func (r *ModelRegistry) train(ctx context.Context, league string) (*LeagueModel, error) {
	start := time.Now()
	rows, err := r.corpus.Rows(ctx, league)
	if err == nil {
		var model *LeagueModel
		model, err = Train(league, rows, r.cfg)
		if err == nil {
			r.Install(model)
			r.metrics.RecordTraining(league, "ok", time.Since(start).Seconds(), len(model.Ratings))
			logger.Info("Installed model", league, model.RunID, len(model.Ratings), "teams")
			return model, nil
		}
	}

	result := "error"
	if errors.Is(err, ErrNotEnoughData) {
		result = "no_data"
	}
	r.metrics.RecordTraining(league, result, time.Since(start).Seconds(), 0)
	if _, ok := r.Get(league); ok {
		logger.Warn("Training failed, keeping previous model", league, err)
	} else {
		logger.Warn("Training failed, league has no model", league, err)
	}
	return nil, fmt.Errorf("failed to train %s: %w", league, err)
}

// RetrainAll trains every league concurrently. Each league succeeds or fails on its
// own; the returned error joins the failures.
func (r *ModelRegistry) RetrainAll(ctx context.Context, leagues []string) error {
	errs := make([]error, len(leagues))
	g, gctx := errgroup.WithContext(ctx)
	for i, league := range leagues {
		g.Go(func() error {
			_, errs[i] = r.Retrain(gctx, league)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

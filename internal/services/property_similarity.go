package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/internal/features"
	"github.com/temcen/homerec/internal/similarity"
	"github.com/temcen/homerec/pkg/models"
)

// PropertySimilarityService builds the property-property similarity graph
// from listing attributes and from co-viewing behavior.
type PropertySimilarityService struct {
	catalog   Catalog
	behavior  Behavior
	store     SimilarityStore
	extractor *features.Extractor
	pairs     similarity.PairStrategy
	config    *config.RecommendationConfig
	metrics   *Metrics
	logger    *logrus.Logger
	guard     passGuard
	now       func() time.Time
}

func NewPropertySimilarityService(
	catalog Catalog,
	behavior Behavior,
	store SimilarityStore,
	extractor *features.Extractor,
	cfg *config.RecommendationConfig,
	metrics *Metrics,
	logger *logrus.Logger,
) *PropertySimilarityService {
	return &PropertySimilarityService{
		catalog:   catalog,
		behavior:  behavior,
		store:     store,
		extractor: extractor,
		pairs:     similarity.AllPairs{},
		config:    cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithPairStrategy replaces exhaustive pair enumeration.
func (s *PropertySimilarityService) WithPairStrategy(p similarity.PairStrategy) *PropertySimilarityService {
	s.pairs = p
	return s
}

// ComputeContentSimilarity scores every pair of for-sale properties by the
// cosine of their min-max normalized feature vectors and persists pairs above
// the content threshold.
func (s *PropertySimilarityService) ComputeContentSimilarity(ctx context.Context) (report *models.BatchReport, err error) {
	release, err := s.guard.acquire(PassPropertyContent)
	if err != nil {
		s.metrics.passRejected(PassPropertyContent)
		return nil, err
	}
	defer release()

	report = models.NewBatchReport(PassPropertyContent)
	defer func() { s.finishPass(report, err) }()

	rctx, cancel := readContext(ctx, s.config.ReadTimeout)
	records, err := s.catalog.ListForSale(rctx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("failed to load for-sale properties: %w", err)
	}

	forSale := records[:0:0]
	for _, r := range records {
		if r.IsForSale() {
			forSale = append(forSale, r)
		}
	}

	vectors, extracted := s.extractor.ExtractBatch(forSale)
	report.Absorb(extracted)

	if len(vectors) < 2 {
		report.Note = "fewer than two usable properties"
		s.logger.WithField("usable", len(vectors)).Info("Skipping content similarity pass, not enough properties")
		return report, nil
	}

	features.NormalizeMinMax(vectors)

	metadata := map[string]any{
		"feature_weights": copyWeights(s.config.Property.FeatureWeights),
		"schema_version":  s.extractor.Schema().Version,
	}
	threshold := s.config.Property.ContentThreshold
	computedAt := s.now()
	batcher := NewEdgeBatcher(s.store, s.config.BatchSize, s.logger)

	err = s.pairs.Pairs(len(vectors), func(i, j int) error {
		report.PairsScored++
		score := similarity.Cosine(vectors[i].Values, vectors[j].Values)
		if score <= threshold {
			return nil
		}
		edge, err := models.NewSimilarityEdge(models.EntityProperty, vectors[i].EntityID, vectors[j].EntityID,
			similarity.Clamp01(score), models.AlgorithmCosineVector, metadata, computedAt)
		if err != nil {
			// duplicate listing id in the snapshot
			return nil
		}
		return batcher.Add(ctx, edge)
	})
	if err == nil {
		err = batcher.Flush(ctx)
	}

	report.EdgesWritten = batcher.Written()
	report.Chunks = batcher.Chunks()
	if err != nil {
		return report, fmt.Errorf("content similarity pass stopped: %w", err)
	}

	// pairs rewritten above carry computedAt, so only stale pairs go
	deleted, err := s.store.DeleteOlderThan(ctx, models.EntityProperty, computedAt.Add(-s.config.EdgeRetention))
	if err != nil {
		return report, fmt.Errorf("failed to prune stale property similarity: %w", err)
	}
	report.EdgesDeleted = deleted
	return report, nil
}

// ComputeBehaviorSimilarity scores property pairs co-viewed by the same users
// inside the behavior window with cooc / (pop_i + pop_j - cooc).
func (s *PropertySimilarityService) ComputeBehaviorSimilarity(ctx context.Context) (report *models.BatchReport, err error) {
	release, err := s.guard.acquire(PassPropertyBehavior)
	if err != nil {
		s.metrics.passRejected(PassPropertyBehavior)
		return nil, err
	}
	defer release()

	report = models.NewBatchReport(PassPropertyBehavior)
	defer func() { s.finishPass(report, err) }()

	since := s.now().Add(-s.config.BehaviorWindow)
	rctx, cancel := readContext(ctx, s.config.ReadTimeout)
	interactions, err := s.behavior.Interactions(rctx, since)
	cancel()
	if err != nil {
		return report, fmt.Errorf("failed to load interactions: %w", err)
	}

	viewed := make(map[int64]map[int64]struct{})
	for _, rec := range interactions {
		if rec.UserID <= 0 || rec.PropertyID <= 0 {
			report.Record(models.RecordOutcome{ID: rec.PropertyID, Status: models.RecordSkipped})
			continue
		}
		report.Record(models.RecordOutcome{ID: rec.PropertyID, Status: models.RecordOK})
		set, ok := viewed[rec.UserID]
		if !ok {
			set = make(map[int64]struct{})
			viewed[rec.UserID] = set
		}
		set[rec.PropertyID] = struct{}{}
	}

	popularity, cooccurrence := coViewCounts(viewed)
	if len(cooccurrence) == 0 {
		report.Note = "no co-viewed property pairs in window"
		s.logger.WithField("users", len(viewed)).Info("Skipping behavior similarity pass, no co-viewed pairs")
		return report, nil
	}

	keys := make([][2]int64, 0, len(cooccurrence))
	for k := range cooccurrence {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	threshold := s.config.Property.BehaviorThreshold
	computedAt := s.now()
	batcher := NewEdgeBatcher(s.store, s.config.BatchSize, s.logger)

	for _, k := range keys {
		report.PairsScored++
		cooc := cooccurrence[k]
		union := popularity[k[0]] + popularity[k[1]] - cooc
		if union <= 0 {
			continue
		}
		score := float64(cooc) / float64(union)
		if score <= threshold {
			continue
		}
		edge, edgeErr := models.NewSimilarityEdge(models.EntityProperty, k[0], k[1], similarity.Clamp01(score),
			models.AlgorithmJaccardCF, map[string]any{
				"cooccurrence_count": cooc,
				"calculation_method": "user_behavior",
			}, computedAt)
		if edgeErr != nil {
			continue
		}
		if err = batcher.Add(ctx, edge); err != nil {
			break
		}
	}
	if err == nil {
		err = batcher.Flush(ctx)
	}

	report.EdgesWritten = batcher.Written()
	report.Chunks = batcher.Chunks()
	if err != nil {
		return report, fmt.Errorf("behavior similarity pass stopped: %w", err)
	}
	return report, nil
}

// ComputeAll runs the content pass then the behavior pass. A failing pass is
// logged and does not prevent the other from running.
func (s *PropertySimilarityService) ComputeAll(ctx context.Context) map[string]PassResult {
	results := make(map[string]PassResult, 2)
	for _, pass := range []struct {
		name string
		run  func(context.Context) (*models.BatchReport, error)
	}{
		{PassPropertyContent, s.ComputeContentSimilarity},
		{PassPropertyBehavior, s.ComputeBehaviorSimilarity},
	} {
		report, err := pass.run(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("pass", pass.name).Error("Property similarity pass failed")
		}
		results[pass.name] = PassResult{Report: report, Err: err}
	}
	return results
}

func (s *PropertySimilarityService) finishPass(report *models.BatchReport, err error) {
	report.Finish()
	s.metrics.observePass(report, err, report.Duration)

	entry := s.logger.WithFields(logrus.Fields{
		"pass":          report.Pass,
		"records":       report.Total,
		"degraded":      report.Degraded,
		"skipped":       len(report.Skipped),
		"pairs_scored":  report.PairsScored,
		"edges_written": report.EdgesWritten,
		"chunks":        report.Chunks,
		"duration":      report.Duration,
	})
	if err != nil {
		entry.WithError(err).Warn("Property similarity pass finished with error")
		return
	}
	entry.Info("Property similarity pass completed")
}

// coViewCounts counts, per property, the users who viewed it and, per
// canonical property pair, the users who viewed both.
func coViewCounts(viewed map[int64]map[int64]struct{}) (map[int64]int, map[[2]int64]int) {
	popularity := make(map[int64]int)
	cooccurrence := make(map[[2]int64]int)

	for _, set := range viewed {
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for i, a := range ids {
			popularity[a]++
			for _, b := range ids[i+1:] {
				cooccurrence[[2]int64{a, b}]++
			}
		}
	}
	return popularity, cooccurrence
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/internal/similarity"
	"github.com/temcen/homerec/pkg/models"
)

// UserSimilarityService builds the user-user similarity graph from browsing
// behavior (Pearson over a user x property matrix) and from stated
// preferences (cosine over sparse feature maps).
type UserSimilarityService struct {
	behavior    Behavior
	preferences Preferences
	users       UserDirectory
	store       SimilarityStore
	pairs       similarity.PairStrategy
	config      *config.RecommendationConfig
	metrics     *Metrics
	logger      *logrus.Logger
	guard       passGuard
	now         func() time.Time
}

func NewUserSimilarityService(
	behavior Behavior,
	preferences Preferences,
	users UserDirectory,
	store SimilarityStore,
	cfg *config.RecommendationConfig,
	metrics *Metrics,
	logger *logrus.Logger,
) *UserSimilarityService {
	return &UserSimilarityService{
		behavior:    behavior,
		preferences: preferences,
		users:       users,
		store:       store,
		pairs:       similarity.AllPairs{},
		config:      cfg,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// WithPairStrategy replaces exhaustive pair enumeration.
func (s *UserSimilarityService) WithPairStrategy(p similarity.PairStrategy) *UserSimilarityService {
	s.pairs = p
	return s
}

// ComputeBehaviorSimilarity correlates users by their interaction scores in
// the behavior window. User edges older than the retention window are
// deleted before the new ones are written.
func (s *UserSimilarityService) ComputeBehaviorSimilarity(ctx context.Context) (report *models.BatchReport, err error) {
	release, err := s.guard.acquire(PassUserBehavior)
	if err != nil {
		s.metrics.passRejected(PassUserBehavior)
		return nil, err
	}
	defer release()

	report = models.NewBatchReport(PassUserBehavior)
	defer func() { s.finishPass(report, err) }()

	now := s.now()
	rctx, cancel := readContext(ctx, s.config.ReadTimeout)
	interactions, err := s.behavior.Interactions(rctx, now.Add(-s.config.BehaviorWindow))
	cancel()
	if err != nil {
		return report, fmt.Errorf("failed to load interactions: %w", err)
	}

	matrix := s.buildInteractionMatrix(interactions, report)
	if matrix == nil {
		report.Note = "need at least two users and one property"
		s.logger.WithField("interactions", len(interactions)).Info("Skipping user behavior similarity pass, not enough data")
		return report, nil
	}

	deleted, err := s.store.DeleteOlderThan(ctx, models.EntityUser, now.Add(-s.config.EdgeRetention))
	if err != nil {
		return report, fmt.Errorf("failed to prune stale user similarity: %w", err)
	}
	report.EdgesDeleted = deleted

	rows, cols := matrix.scores.Dims()
	vectors := make([][]float64, rows)
	for i := range vectors {
		vectors[i] = matrix.scores.RawRowView(i)
	}

	threshold := s.config.User.PearsonThreshold
	metadata := map[string]any{
		"features_used":      cols,
		"calculation_method": "pearson_correlation",
	}
	batcher := NewEdgeBatcher(s.store, s.config.BatchSize, s.logger)

	err = s.pairs.Pairs(rows, func(i, j int) error {
		report.PairsScored++
		corr := similarity.Pearson(vectors[i], vectors[j])
		// NaN comparisons are false, so constant rows drop out here
		if !(corr > threshold) {
			return nil
		}
		edge, err := models.NewSimilarityEdge(models.EntityUser, matrix.users[i], matrix.users[j],
			similarity.Clamp01(corr), models.AlgorithmPearsonCF, metadata, now)
		if err != nil {
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
		return report, fmt.Errorf("user behavior similarity pass stopped: %w", err)
	}
	return report, nil
}

// ComputeContentSimilarity compares the latest preference documents of all
// users pairwise.
func (s *UserSimilarityService) ComputeContentSimilarity(ctx context.Context) (report *models.BatchReport, err error) {
	release, err := s.guard.acquire(PassUserContent)
	if err != nil {
		s.metrics.passRejected(PassUserContent)
		return nil, err
	}
	defer release()

	report = models.NewBatchReport(PassUserContent)
	defer func() { s.finishPass(report, err) }()

	rctx, cancel := readContext(ctx, s.config.ReadTimeout)
	prefs, err := s.preferences.ListLatest(rctx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("failed to load preferences: %w", err)
	}

	type userFeatures struct {
		id     int64
		values map[string]float64
	}
	users := make([]userFeatures, 0, len(prefs))
	for i := range prefs {
		p := &prefs[i]
		if p.UserID <= 0 {
			report.Record(models.RecordOutcome{ID: p.UserID, Status: models.RecordSkipped})
			continue
		}
		values, defaulted := s.PreferenceFeatures(p)
		outcome := models.RecordOutcome{ID: p.UserID, Status: models.RecordOK, Defaulted: defaulted}
		if len(defaulted) > 0 {
			outcome.Status = models.RecordDegraded
		}
		report.Record(outcome)
		users = append(users, userFeatures{id: p.UserID, values: values})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].id < users[j].id })

	if len(users) < 2 {
		report.Note = "fewer than two users with preferences"
		s.logger.WithField("users", len(users)).Info("Skipping user content similarity pass, not enough users")
		return report, nil
	}

	threshold := s.config.User.ContentThreshold
	computedAt := s.now()
	metadata := map[string]any{"calculation_method": "preference_vector"}
	batcher := NewEdgeBatcher(s.store, s.config.BatchSize, s.logger)

	err = s.pairs.Pairs(len(users), func(i, j int) error {
		report.PairsScored++
		score := similarity.CosineSparse(users[i].values, users[j].values)
		if score <= threshold {
			return nil
		}
		edge, err := models.NewSimilarityEdge(models.EntityUser, users[i].id, users[j].id,
			similarity.Clamp01(score), models.AlgorithmCosineContent, metadata, computedAt)
		if err != nil {
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
		return report, fmt.Errorf("user content similarity pass stopped: %w", err)
	}
	return report, nil
}

// ComputeComprehensive runs the content pass then the behavior pass, each
// isolated from the other's failure.
func (s *UserSimilarityService) ComputeComprehensive(ctx context.Context) map[string]PassResult {
	results := make(map[string]PassResult, 2)
	for _, pass := range []struct {
		name string
		run  func(context.Context) (*models.BatchReport, error)
	}{
		{PassUserContent, s.ComputeContentSimilarity},
		{PassUserBehavior, s.ComputeBehaviorSimilarity},
	} {
		report, err := pass.run(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("pass", pass.name).Error("User similarity pass failed")
		}
		results[pass.name] = PassResult{Report: report, Err: err}
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"passes": len(results),
		"failed": failed,
	}).Info("Comprehensive user similarity computation finished")

	return results
}

// PairSimilarity compares two users directly: a weighted sum of preference
// cosine, browsing Jaccard and favorite Jaccard.
func (s *UserSimilarityService) PairSimilarity(ctx context.Context, userID1, userID2 int64) (*models.PairSimilarity, error) {
	for _, id := range []int64{userID1, userID2} {
		if err := ensureUser(ctx, s.users, id, s.config.ReadTimeout); err != nil {
			return nil, err
		}
	}

	rctx, cancel := readContext(ctx, s.config.ReadTimeout)
	defer cancel()

	result := &models.PairSimilarity{UserID1: userID1, UserID2: userID2}

	p1, err := s.latestPreference(rctx, userID1)
	if err != nil {
		return nil, err
	}
	p2, err := s.latestPreference(rctx, userID2)
	if err != nil {
		return nil, err
	}
	if p1 != nil && p2 != nil {
		f1, _ := s.PreferenceFeatures(p1)
		f2, _ := s.PreferenceFeatures(p2)
		result.Preference = similarity.Clamp01(similarity.CosineSparse(f1, f2))
	}

	h1, err := s.behavior.History(rctx, userID1)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of user %d: %w", userID1, err)
	}
	h2, err := s.behavior.History(rctx, userID2)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of user %d: %w", userID2, err)
	}
	result.Behavior = similarity.Jaccard(h1.ViewedSet(), h2.ViewedSet())
	result.Favorite = similarity.Jaccard(h1.FavoriteSet(), h2.FavoriteSet())

	w := s.config.User.PairWeights
	result.Total = w.Preference*result.Preference + w.Behavior*result.Behavior + w.Favorite*result.Favorite
	return result, nil
}

// PreferenceFeatures turns a preference document into a sparse feature map:
// scaled range midpoints plus one-hot location, house type and keyword
// entries. It also names the ranges that fell back to configured defaults.
func (s *UserSimilarityService) PreferenceFeatures(p *models.PreferenceRecord) (map[string]float64, []string) {
	d := s.config.User.PreferenceDefaults
	scales := s.config.User.PreferenceScales
	values := make(map[string]float64)
	var defaulted []string

	midpoint := func(name string, r *models.Range, lo, hi, scale float64) {
		// a zero bound means the user left it open
		if r != nil && r.Min != 0 {
			lo = r.Min
		}
		if r != nil && r.Max != 0 {
			hi = r.Max
		}
		if r == nil || r.Min == 0 || r.Max == 0 {
			defaulted = append(defaulted, name)
		}
		values[name] = (lo + hi) / 2 / scale
	}
	midpoint("price", p.PriceRange, d.PriceMin, d.PriceMax, scales.Price)
	midpoint("area", p.AreaRange, d.AreaMin, d.AreaMax, scales.Area)
	midpoint("bedroom", p.BedroomRange, d.BedroomMin, d.BedroomMax, scales.Bedroom)

	oneHot := func(prefix string, labels []string) {
		for _, l := range labels {
			if l = strings.TrimSpace(l); l != "" {
				values[prefix+l] = 1
			}
		}
	}
	oneHot("location_", p.Locations)
	oneHot("house_type_", p.HouseTypes)
	oneHot("keyword_", p.Keywords)

	return values, defaulted
}

func (s *UserSimilarityService) latestPreference(ctx context.Context, userID int64) (*models.PreferenceRecord, error) {
	p, err := s.preferences.Latest(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preference of user %d: %w", userID, err)
	}
	return p, nil
}

type interactionMatrix struct {
	users      []int64
	properties []int64
	scores     *mat.Dense
}

// buildInteractionMatrix aggregates duration and count weighted scores per
// (user, property) and pivots them into a zero-filled dense matrix with users
// as rows. It returns nil when there are fewer than two users or no columns.
func (s *UserSimilarityService) buildInteractionMatrix(interactions []models.InteractionRecord, report *models.BatchReport) *interactionMatrix {
	wDuration, wCount := s.config.User.DurationWeight, s.config.User.CountWeight
	cells := make(map[int64]map[int64]float64)
	propertySet := make(map[int64]struct{})

	for _, rec := range interactions {
		if rec.UserID <= 0 || rec.PropertyID <= 0 {
			report.Record(models.RecordOutcome{ID: rec.UserID, Status: models.RecordSkipped})
			continue
		}
		report.Record(models.RecordOutcome{ID: rec.UserID, Status: models.RecordOK})
		row, ok := cells[rec.UserID]
		if !ok {
			row = make(map[int64]float64)
			cells[rec.UserID] = row
		}
		row[rec.PropertyID] += wDuration*rec.Duration + wCount*rec.Count
		propertySet[rec.PropertyID] = struct{}{}
	}

	if len(cells) < 2 || len(propertySet) == 0 {
		return nil
	}

	m := &interactionMatrix{
		users:      sortedKeys(cells),
		properties: sortedKeys(propertySet),
	}
	column := make(map[int64]int, len(m.properties))
	for j, id := range m.properties {
		column[id] = j
	}

	m.scores = mat.NewDense(len(m.users), len(m.properties), nil)
	for i, uid := range m.users {
		for pid, score := range cells[uid] {
			m.scores.Set(i, column[pid], score)
		}
	}
	return m
}

func (s *UserSimilarityService) finishPass(report *models.BatchReport, err error) {
	report.Finish()
	s.metrics.observePass(report, err, report.Duration)

	entry := s.logger.WithFields(logrus.Fields{
		"pass":          report.Pass,
		"records":       report.Total,
		"degraded":      report.Degraded,
		"pairs_scored":  report.PairsScored,
		"edges_written": report.EdgesWritten,
		"edges_deleted": report.EdgesDeleted,
		"duration":      report.Duration,
	})
	if err != nil {
		entry.WithError(err).Warn("User similarity pass finished with error")
		return
	}
	entry.Info("User similarity pass completed")
}

func ensureUser(ctx context.Context, users UserDirectory, userID int64, timeout time.Duration) error {
	rctx, cancel := readContext(ctx, timeout)
	defer cancel()

	ok, err := users.UserExists(rctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user %d: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	return nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

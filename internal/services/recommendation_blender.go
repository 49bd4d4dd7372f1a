package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/pkg/models"
)

// neighborOverfetch widens stored-neighbor reads so sold listings can be
// dropped without coming up short.
const neighborOverfetch = 3

// RecommendationBlender answers per-user recommendation queries from the
// persisted similarity graph, preferences, behavior and the catalog.
type RecommendationBlender struct {
	catalog     Catalog
	behavior    Behavior
	preferences Preferences
	users       UserDirectory
	similarity  SimilarityStore
	audit       RecommendationStore
	config      *config.RecommendationConfig
	metrics     *Metrics
	logger      *logrus.Logger
	now         func() time.Time
}

func NewRecommendationBlender(
	catalog Catalog,
	behavior Behavior,
	preferences Preferences,
	users UserDirectory,
	similarity SimilarityStore,
	audit RecommendationStore,
	cfg *config.RecommendationConfig,
	metrics *Metrics,
	logger *logrus.Logger,
) *RecommendationBlender {
	return &RecommendationBlender{
		catalog:     catalog,
		behavior:    behavior,
		preferences: preferences,
		users:       users,
		similarity:  similarity,
		audit:       audit,
		config:      cfg,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// GuessYouLike blends content, collaborative and popularity candidates by
// quota, in that order of precedence, and records the result in the audit
// log. A failing source contributes nothing; the blend itself only fails when
// the user is unknown or their history cannot be read.
func (b *RecommendationBlender) GuessYouLike(ctx context.Context, userID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		return []int64{}, nil
	}
	seen, err := b.userContext(ctx, userID)
	if err != nil {
		return nil, err
	}

	blend := b.config.Blend
	contentQuota := quota(limit, blend.ContentShare)
	cfQuota := quota(limit, blend.CFShare)
	popularQuota := quota(limit, blend.PopularityShare)

	content, err := b.contentCandidates(ctx, userID, seen, contentQuota)
	if err != nil {
		b.sourceFailed(models.SourceContent, userID, err)
		content = nil
	}
	cf, err := b.collaborativeCandidates(ctx, userID, seen, cfQuota)
	if err != nil {
		b.sourceFailed(models.SourceCF, userID, err)
		cf = nil
	}
	popular, err := b.popularityCandidates(ctx, seen, popularQuota)
	if err != nil {
		b.sourceFailed(models.SourcePopularity, userID, err)
		popular = nil
	}

	merged := mergeCandidates(limit, seen, content, cf, popular)

	b.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"limit":      limit,
		"content":    len(content),
		"cf":         len(cf),
		"popularity": len(popular),
		"returned":   len(merged),
	}).Debug("Blended recommendations")

	b.record(ctx, userID, models.StrategyGuessYouLike, merged)
	b.metrics.recommendationsServed(models.StrategyGuessYouLike, len(merged))
	return models.PropertyIDs(merged), nil
}

// RecommendByPreference returns for-sale properties matching the user's
// latest preference document. A user without one gets an empty list.
func (b *RecommendationBlender) RecommendByPreference(ctx context.Context, userID int64, limit int) ([]int64, error) {
	return b.single(ctx, userID, limit, models.StrategyPreference, b.contentCandidates)
}

// RecommendByCollaborative returns what the most similar users viewed or
// favorited.
func (b *RecommendationBlender) RecommendByCollaborative(ctx context.Context, userID int64, limit int) ([]int64, error) {
	return b.single(ctx, userID, limit, models.StrategyCollaborative, b.collaborativeCandidates)
}

// OtherUsersAlsoViewed returns the most recent views of strongly similar
// users.
func (b *RecommendationBlender) OtherUsersAlsoViewed(ctx context.Context, userID int64, limit int) ([]int64, error) {
	return b.single(ctx, userID, limit, models.StrategyAlsoViewed, b.alsoViewedCandidates)
}

// RecommendByPopularity ranks for-sale properties by popularity score.
func (b *RecommendationBlender) RecommendByPopularity(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		return []int64{}, nil
	}
	items, err := b.popularityCandidates(ctx, nil, limit)
	if err != nil {
		return nil, err
	}
	b.metrics.recommendationsServed(models.StrategyPopularity, len(items))
	return models.PropertyIDs(items), nil
}

// RecommendSimilarProperties returns the stored neighbors of a property, or
// ranks the catalog live by attribute closeness when none are stored.
func (b *RecommendationBlender) RecommendSimilarProperties(ctx context.Context, propertyID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		return []int64{}, nil
	}

	rctx, cancel := readContext(ctx, b.config.ReadTimeout)
	defer cancel()

	target, err := b.catalog.GetProperty(rctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load property %d: %w", propertyID, err)
	}

	// Content and co-occurrence passes share one row per pair; whichever
	// wrote the pair last is served.
	edges, err := b.similarity.Neighbors(rctx, models.EntityProperty, propertyID, 0, limit*neighborOverfetch)
	if err != nil {
		b.logger.WithError(err).WithField("property_id", propertyID).Warn("Similarity lookup failed, scoring live")
	}
	if err == nil && len(edges) > 0 {
		ids, err := b.forSaleNeighbors(ctx, propertyID, edges, limit)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			b.metrics.recommendationsServed(models.StrategySimilar, len(ids))
			return ids, nil
		}
	}

	candidates, err := b.catalog.ListForSale(rctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load for-sale properties: %w", err)
	}

	scored := make([]models.ScoredProperty, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.ID == target.ID || !c.IsForSale() {
			continue
		}
		scored = append(scored, models.ScoredProperty{
			PropertyID: c.ID,
			Score:      b.closeness(target, c),
			Source:     models.SourceContent,
		})
	}
	top := topN(scored, limit)
	b.metrics.recommendationsServed(models.StrategySimilar, len(top))
	return models.PropertyIDs(top), nil
}

type candidateSource func(ctx context.Context, userID int64, seen map[int64]struct{}, limit int) ([]models.ScoredProperty, error)

func (b *RecommendationBlender) single(ctx context.Context, userID int64, limit int, strategy string, source candidateSource) ([]int64, error) {
	if limit <= 0 {
		return []int64{}, nil
	}
	seen, err := b.userContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := source(ctx, userID, seen, limit)
	if err != nil {
		return nil, err
	}
	b.metrics.recommendationsServed(strategy, len(items))
	return models.PropertyIDs(items), nil
}

// userContext checks the user exists and returns the set of properties the
// user already viewed or favorited.
func (b *RecommendationBlender) userContext(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	if err := ensureUser(ctx, b.users, userID, b.config.ReadTimeout); err != nil {
		return nil, err
	}

	rctx, cancel := readContext(ctx, b.config.ReadTimeout)
	defer cancel()

	history, err := b.behavior.History(rctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of user %d: %w", userID, err)
	}
	return history.Seen(), nil
}

func (b *RecommendationBlender) contentCandidates(ctx context.Context, userID int64, seen map[int64]struct{}, limit int) ([]models.ScoredProperty, error) {
	rctx, cancel := readContext(ctx, b.config.ReadTimeout)
	defer cancel()

	pref, err := b.preferences.Latest(rctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preference: %w", err)
	}

	properties, err := b.catalog.ListForSale(rctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load for-sale properties: %w", err)
	}

	matched := make([]*models.PropertyRecord, 0)
	for i := range properties {
		p := &properties[i]
		if !p.IsForSale() || isSeen(seen, p.ID) || !MatchesPreference(p, pref) {
			continue
		}
		matched = append(matched, p)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].FavoriteCount != matched[j].FavoriteCount {
			return matched[i].FavoriteCount > matched[j].FavoriteCount
		}
		if matched[i].ViewCount != matched[j].ViewCount {
			return matched[i].ViewCount > matched[j].ViewCount
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.ScoredProperty, len(matched))
	for i, p := range matched {
		out[i] = models.ScoredProperty{PropertyID: p.ID, Score: float64(p.FavoriteCount), Source: models.SourceContent}
	}
	return out, nil
}

func (b *RecommendationBlender) collaborativeCandidates(ctx context.Context, userID int64, seen map[int64]struct{}, limit int) ([]models.ScoredProperty, error) {
	blend := b.config.Blend
	histories, err := b.similarUserHistories(ctx, userID, blend.SimilarUserThreshold, blend.SimilarUserLimit)
	if err != nil || len(histories) == 0 {
		return nil, err
	}

	scores := make(map[int64]float64)
	for _, h := range histories {
		for _, v := range h.Views {
			scores[v.PropertyID] += blend.CFViewWeight
		}
		for _, id := range h.Favorites {
			scores[id] += blend.CFFavoriteWeight
		}
	}

	forSale, err := b.forSaleAmong(ctx, scores, seen)
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredProperty, 0, len(forSale))
	for _, id := range forSale {
		scored = append(scored, models.ScoredProperty{PropertyID: id, Score: scores[id], Source: models.SourceCF})
	}
	return topN(scored, limit), nil
}

func (b *RecommendationBlender) alsoViewedCandidates(ctx context.Context, userID int64, seen map[int64]struct{}, limit int) ([]models.ScoredProperty, error) {
	blend := b.config.Blend
	histories, err := b.similarUserHistories(ctx, userID, blend.AlsoViewedThreshold, blend.AlsoViewedUsers)
	if err != nil || len(histories) == 0 {
		return nil, err
	}

	var views []models.InteractionRecord
	for _, h := range histories {
		views = append(views, h.Views...)
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].ViewedAt.After(views[j].ViewedAt) })

	latest := make(map[int64]float64)
	order := make([]int64, 0)
	for _, v := range views {
		if _, ok := latest[v.PropertyID]; ok {
			continue
		}
		latest[v.PropertyID] = float64(v.ViewedAt.Unix())
		order = append(order, v.PropertyID)
	}

	forSale, err := b.forSaleAmong(ctx, latest, seen)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int64]struct{}, len(forSale))
	for _, id := range forSale {
		allowed[id] = struct{}{}
	}

	out := make([]models.ScoredProperty, 0, limit)
	for _, id := range order {
		if _, ok := allowed[id]; !ok {
			continue
		}
		out = append(out, models.ScoredProperty{PropertyID: id, Score: latest[id], Source: models.SourceCF})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *RecommendationBlender) popularityCandidates(ctx context.Context, seen map[int64]struct{}, limit int) ([]models.ScoredProperty, error) {
	rctx, cancel := readContext(ctx, b.config.ReadTimeout)
	defer cancel()

	properties, err := b.catalog.ListForSale(rctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load for-sale properties: %w", err)
	}
	recent, err := b.behavior.RecentViewCounts(rctx, b.now().Add(-b.config.BehaviorWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent view counts: %w", err)
	}

	w := b.config.Blend.Popularity
	scored := make([]models.ScoredProperty, 0, len(properties))
	for i := range properties {
		p := &properties[i]
		if !p.IsForSale() || isSeen(seen, p.ID) {
			continue
		}
		score := w.Favorite*float64(p.FavoriteCount) + w.View*float64(p.ViewCount) + w.Recent*float64(recent[p.ID])
		scored = append(scored, models.ScoredProperty{PropertyID: p.ID, Score: score, Source: models.SourcePopularity})
	}
	return topN(scored, limit), nil
}

// similarUserHistories reads the histories of up to limit users whose stored
// similarity to userID is above threshold, most similar first.
func (b *RecommendationBlender) similarUserHistories(ctx context.Context, userID int64, threshold float64, limit int) ([]*models.UserHistory, error) {
	rctx, cancel := readContext(ctx, b.config.ReadTimeout)
	defer cancel()

	edges, err := b.similarity.Neighbors(rctx, models.EntityUser, userID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load similar users: %w", err)
	}

	histories := make([]*models.UserHistory, 0, len(edges))
	for _, e := range edges {
		h, err := b.behavior.History(rctx, e.Other(userID))
		if err != nil {
			return nil, fmt.Errorf("failed to load history of similar user %d: %w", e.Other(userID), err)
		}
		histories = append(histories, h)
	}
	return histories, nil
}

// forSaleAmong filters the keys of candidates down to unseen, for-sale
// properties.
func (b *RecommendationBlender) forSaleAmong(ctx context.Context, candidates map[int64]float64, seen map[int64]struct{}) ([]int64, error) {
	ids := make([]int64, 0, len(candidates))
	for id := range candidates {
		if !isSeen(seen, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rctx, cancel := readContext(ctx, b.config.ReadTimeout)
	defer cancel()

	records, err := b.catalog.GetProperties(rctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate properties: %w", err)
	}
	out := make([]int64, 0, len(records))
	for i := range records {
		if records[i].IsForSale() {
			out = append(out, records[i].ID)
		}
	}
	return out, nil
}

// forSaleNeighbors keeps the stored neighbors that are still for sale, in
// score order, up to limit.
func (b *RecommendationBlender) forSaleNeighbors(ctx context.Context, propertyID int64, edges []models.SimilarityEdge, limit int) ([]int64, error) {
	candidates := make(map[int64]float64, len(edges))
	for _, e := range edges {
		candidates[e.Other(propertyID)] = e.Score
	}
	delete(candidates, propertyID)

	forSale, err := b.forSaleAmong(ctx, candidates, nil)
	if err != nil {
		return nil, err
	}
	available := make(map[int64]struct{}, len(forSale))
	for _, id := range forSale {
		available[id] = struct{}{}
	}

	ids := make([]int64, 0, limit)
	for _, e := range edges {
		id := e.Other(propertyID)
		if _, ok := available[id]; !ok {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// closeness scores how alike two listings are for the live similar-property
// fallback; higher is closer.
func (b *RecommendationBlender) closeness(target, c *models.PropertyRecord) float64 {
	w := b.config.Blend.Fallback
	score := w.Price * ratioCloseness(target.Pricing.TotalPrice, c.Pricing.TotalPrice)
	score += w.Area * ratioCloseness(target.Layout.Area, c.Layout.Area)

	if tb, ok := models.Int(target.Layout.BedroomCount); ok {
		if cb, ok := models.Int(c.Layout.BedroomCount); ok && tb == cb {
			score += w.Bedroom
		}
	}
	if d := target.District(); d != "" && d == c.District() {
		score += w.District
	}
	return score
}

func (b *RecommendationBlender) record(ctx context.Context, userID int64, strategy string, items []models.ScoredProperty) {
	if len(items) == 0 {
		return
	}
	runID := uuid.New()
	now := b.now()
	rows := make([]models.RecommendationItem, len(items))
	for i, it := range items {
		rows[i] = models.RecommendationItem{
			RunID:       runID,
			UserID:      userID,
			PropertyID:  it.PropertyID,
			Position:    i + 1,
			Strategy:    strategy,
			Source:      it.Source,
			Score:       b.config.Blend.PlaceholderScore,
			Reason:      b.config.Blend.Reason,
			GeneratedAt: now,
		}
	}
	if err := b.audit.AppendRecommendations(ctx, rows); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"run_id":  runID,
		}).Warn("Failed to record recommendations")
	}
}

func (b *RecommendationBlender) sourceFailed(source string, userID int64, err error) {
	b.metrics.sourceFailed(source)
	b.logger.WithError(err).WithFields(logrus.Fields{
		"user_id": userID,
		"source":  source,
	}).Warn("Recommendation source failed, blending without it")
}

// MatchesPreference applies a preference document as inclusive range bounds,
// a district substring match against any preferred location and an exact
// orientation match against any preferred orientation. A property missing a
// constrained attribute does not match.
func MatchesPreference(p *models.PropertyRecord, pref *models.PreferenceRecord) bool {
	if !inRange(pref.PriceRange, p.Pricing.TotalPrice) || !inRange(pref.AreaRange, p.Layout.Area) {
		return false
	}
	if pref.BedroomRange != nil {
		n, ok := models.Int(p.Layout.BedroomCount)
		if !ok || !pref.BedroomRange.Contains(float64(n)) {
			return false
		}
	}
	if len(pref.Locations) > 0 {
		district := p.District()
		matched := false
		for _, loc := range pref.Locations {
			if loc != "" && district != "" && strings.Contains(district, loc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(pref.Orientations) > 0 {
		matched := false
		for _, o := range pref.Orientations {
			if o == p.Layout.Orientation {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func inRange(r *models.Range, v *float64) bool {
	if r == nil {
		return true
	}
	x, ok := models.Float64(v)
	return ok && r.Contains(x)
}

// mergeCandidates concatenates the lists in order, keeping the first
// occurrence of each id and dropping seen ids, up to limit.
func mergeCandidates(limit int, seen map[int64]struct{}, lists ...[]models.ScoredProperty) []models.ScoredProperty {
	out := make([]models.ScoredProperty, 0, limit)
	taken := make(map[int64]struct{}, limit)
	for _, list := range lists {
		for _, it := range list {
			if len(out) == limit {
				return out
			}
			if _, dup := taken[it.PropertyID]; dup || isSeen(seen, it.PropertyID) {
				continue
			}
			taken[it.PropertyID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

// quota is the number of slots a source may fill, rounded up so small limits
// still draw from every source.
func quota(limit int, share float64) int {
	// absorb float error so 10*0.3 stays 3
	return int(math.Ceil(float64(limit)*share - 1e-9))
}

// topN sorts by score descending, id ascending, and truncates.
func topN(items []models.ScoredProperty, n int) []models.ScoredProperty {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].PropertyID < items[j].PropertyID
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

func ratioCloseness(a, b *float64) float64 {
	x, okA := models.Float64(a)
	y, okB := models.Float64(b)
	if !okA || !okB || x <= 0 || y <= 0 {
		return 0
	}
	return 1 - math.Abs(x-y)/math.Max(x, y)
}

func isSeen(seen map[int64]struct{}, id int64) bool {
	_, ok := seen[id]
	return ok
}

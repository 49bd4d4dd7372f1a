package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/homerec/internal/repository/memory"
	"github.com/temcen/homerec/pkg/models"
)

func TestUserSimilarity_BehaviorPass(t *testing.T) {
	store := memory.NewStore()
	counts := map[int64][]float64{
		1: {1, 2, 3},
		2: {1, 2, 3},
		3: {3, 2, 1}, // anti-correlated with 1 and 2
		4: {1, 1, 1}, // constant row, correlation undefined
	}
	for uid, row := range counts {
		for j, c := range row {
			store.AddView(view(uid, int64(10*(j+1)), c, time.Hour))
		}
	}

	stale := edge(models.EntityUser, 5, 6, 0.9, fixedNow.Add(-8*24*time.Hour))
	fresh := edge(models.EntityUser, 7, 8, 0.9, fixedNow.Add(-24*time.Hour))
	require.NoError(t, store.UpsertEdges(context.Background(), []models.SimilarityEdge{stale, fresh}))

	report, err := newUserEngine(store, testRecommendationConfig()).ComputeBehaviorSimilarity(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, report.PairsScored)
	assert.Equal(t, 1, report.EdgesWritten)
	assert.Equal(t, int64(1), report.EdgesDeleted)

	e, ok := store.Edge(models.EntityUser, 1, 2)
	require.True(t, ok)
	assert.InDelta(t, 1.0, e.Score, 1e-9)
	assert.Equal(t, models.AlgorithmPearsonCF, e.Algorithm)
	assert.Equal(t, 3, e.Metadata["features_used"])

	for _, pair := range [][2]int64{{1, 3}, {2, 3}, {1, 4}, {3, 4}} {
		_, ok := store.Edge(models.EntityUser, pair[0], pair[1])
		assert.False(t, ok, "pair %v", pair)
	}

	_, ok = store.Edge(models.EntityUser, 5, 6)
	assert.False(t, ok)
	_, ok = store.Edge(models.EntityUser, 7, 8)
	assert.True(t, ok)
}

func TestUserSimilarity_BehaviorPassNeedsTwoUsers(t *testing.T) {
	store := memory.NewStore()
	store.AddView(view(1, 10, 1, time.Hour))
	store.AddView(view(1, 20, 2, time.Hour))

	report, err := newUserEngine(store, testRecommendationConfig()).ComputeBehaviorSimilarity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.EdgesWritten)
	assert.NotEmpty(t, report.Note)
}

func TestUserSimilarity_ContentPass(t *testing.T) {
	store := memory.NewStore()
	pref := func(uid int64) models.PreferenceRecord {
		return models.PreferenceRecord{
			UserID:       uid,
			PriceRange:   &models.Range{Min: 300, Max: 500},
			AreaRange:    &models.Range{Min: 70, Max: 100},
			BedroomRange: &models.Range{Min: 2, Max: 3},
			Locations:    []string{"南山区"},
			Keywords:     []string{"地铁"},
		}
	}
	store.SetPreference(pref(1))
	store.SetPreference(pref(2))
	// no ranges at all, everything from defaults
	store.SetPreference(models.PreferenceRecord{UserID: 3, Locations: []string{"福田区"}})

	report, err := newUserEngine(store, testRecommendationConfig()).ComputeContentSimilarity(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Degraded)
	assert.Equal(t, []int64{3}, report.DegradedIDs)

	e, ok := store.Edge(models.EntityUser, 2, 1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, e.Score, 1e-9)
	assert.Equal(t, models.AlgorithmCosineContent, e.Algorithm)
}

func TestUserSimilarity_PreferenceFeatures(t *testing.T) {
	engine := newUserEngine(memory.NewStore(), testRecommendationConfig())

	t.Run("explicit ranges", func(t *testing.T) {
		values, defaulted := engine.PreferenceFeatures(&models.PreferenceRecord{
			PriceRange:   &models.Range{Min: 400, Max: 600},
			AreaRange:    &models.Range{Min: 80, Max: 120},
			BedroomRange: &models.Range{Min: 2, Max: 4},
			HouseTypes:   []string{"apartment", " "},
		})
		assert.Empty(t, defaulted)
		assert.InDelta(t, 0.5, values["price"], 1e-9)
		assert.InDelta(t, 0.5, values["area"], 1e-9)
		assert.InDelta(t, 0.6, values["bedroom"], 1e-9)
		assert.Equal(t, 1.0, values["house_type_apartment"])
		assert.Len(t, values, 4)
	})

	t.Run("missing ranges fall back to defaults", func(t *testing.T) {
		values, defaulted := engine.PreferenceFeatures(&models.PreferenceRecord{
			PriceRange: &models.Range{Min: 400},
		})
		assert.ElementsMatch(t, []string{"price", "area", "bedroom"}, defaulted)
		// 400 with the default upper bound of 800
		assert.InDelta(t, 0.6, values["price"], 1e-9)
		assert.InDelta(t, 0.525, values["area"], 1e-9)
		assert.InDelta(t, 0.5, values["bedroom"], 1e-9)
	})
}

func TestUserSimilarity_PairSimilarity(t *testing.T) {
	store := memory.NewStore()
	store.AddUser(1, 2, 3)
	for _, pid := range []int64{1, 2, 3} {
		store.AddView(view(1, pid, 1, time.Hour))
	}
	for _, pid := range []int64{1, 2} {
		store.AddView(view(2, pid, 1, time.Hour))
	}
	store.AddFavorite(1, 5)
	store.AddFavorite(2, 5)

	engine := newUserEngine(store, testRecommendationConfig())

	t.Run("behavior and favorites without preferences", func(t *testing.T) {
		result, err := engine.PairSimilarity(context.Background(), 1, 2)
		require.NoError(t, err)

		assert.Equal(t, 0.0, result.Preference)
		assert.InDelta(t, 2.0/3.0, result.Behavior, 1e-9)
		assert.InDelta(t, 1.0, result.Favorite, 1e-9)
		assert.InDelta(t, 0.35*2.0/3.0+0.25, result.Total, 1e-9)
	})

	t.Run("identical preferences", func(t *testing.T) {
		p := models.PreferenceRecord{PriceRange: &models.Range{Min: 300, Max: 500}, Locations: []string{"南山区"}}
		p.UserID = 1
		store.SetPreference(p)
		p.UserID = 3
		store.SetPreference(p)

		result, err := engine.PairSimilarity(context.Background(), 1, 3)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, result.Preference, 1e-9)
		assert.Equal(t, 0.0, result.Behavior)
		assert.InDelta(t, 0.4, result.Total, 1e-9)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := engine.PairSimilarity(context.Background(), 1, 99)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})
}

func TestUserSimilarity_ComprehensiveIsolatesFailures(t *testing.T) {
	store := memory.NewStore()
	store.AddView(view(1, 10, 1, time.Hour))
	store.AddView(view(1, 20, 2, time.Hour))
	store.AddView(view(2, 10, 1, time.Hour))
	store.AddView(view(2, 20, 2, time.Hour))

	engine := NewUserSimilarityService(store, failingPreferenceList{store}, store, store, testRecommendationConfig(), nil, quietLogger())
	engine.now = func() time.Time { return fixedNow }

	results := engine.ComputeComprehensive(context.Background())
	require.Len(t, results, 2)
	assert.True(t, errors.Is(results[PassUserContent].Err, errUnavailable))
	require.NoError(t, results[PassUserBehavior].Err)
	assert.Equal(t, 1, results[PassUserBehavior].Report.EdgesWritten)
}

type failingPreferenceList struct {
	*memory.Store
}

func (failingPreferenceList) ListLatest(context.Context) ([]models.PreferenceRecord, error) {
	return nil, errUnavailable
}

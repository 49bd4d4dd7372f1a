package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/homerec/internal/features"
	"github.com/temcen/homerec/internal/repository/memory"
	"github.com/temcen/homerec/pkg/models"
)

func TestPropertySimilarity_ContentPass(t *testing.T) {
	t.Run("identical listings produce no edges", func(t *testing.T) {
		store := memory.NewStore()
		for id := int64(1); id <= 3; id++ {
			store.AddProperty(listing(id, 1))
		}

		report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeContentSimilarity(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 3, report.Total)
		assert.Equal(t, 3, report.PairsScored)
		assert.Equal(t, 0, report.EdgesWritten)
		assert.Empty(t, store.Edges(models.EntityProperty))
	})

	t.Run("similar listings above threshold are linked in canonical order", func(t *testing.T) {
		store := memory.NewStore()
		store.AddProperty(listing(3, 3))
		store.AddProperty(listing(1, 1))
		store.AddProperty(listing(2, 3))

		report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeContentSimilarity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.EdgesWritten)

		edges := store.Edges(models.EntityProperty)
		require.Len(t, edges, 1)
		e := edges[0]
		assert.Equal(t, int64(2), e.ID1)
		assert.Equal(t, int64(3), e.ID2)
		assert.InDelta(t, 1.0, e.Score, 1e-9)
		assert.Equal(t, models.AlgorithmCosineVector, e.Algorithm)
		assert.Equal(t, features.SchemaV1.Version, e.Metadata["schema_version"])
		assert.Contains(t, e.Metadata, "feature_weights")
		assert.Equal(t, fixedNow, e.ComputedAt)
	})

	t.Run("stale pairs are pruned after the pass", func(t *testing.T) {
		store := memory.NewStore()
		store.AddProperty(listing(1, 1))
		store.AddProperty(listing(2, 3))
		store.AddProperty(listing(3, 3))
		require.NoError(t, store.UpsertEdges(context.Background(), []models.SimilarityEdge{
			edge(models.EntityProperty, 1, 2, 0.9, fixedNow.AddDate(0, 0, -8)),
			edge(models.EntityProperty, 2, 3, 0.4, fixedNow.AddDate(0, 0, -8)),
		}))

		report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeContentSimilarity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.EdgesDeleted)

		edges := store.Edges(models.EntityProperty)
		require.Len(t, edges, 1)
		assert.Equal(t, int64(2), edges[0].ID1)
		assert.Equal(t, int64(3), edges[0].ID2)
		assert.Equal(t, fixedNow, edges[0].ComputedAt)
	})

	t.Run("sold listings are ignored", func(t *testing.T) {
		store := memory.NewStore()
		store.AddProperty(listing(1, 3))
		sold := listing(2, 3)
		sold.Status = models.PropertyStatusSold
		store.AddProperty(sold)

		report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeContentSimilarity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Total)
		assert.NotEmpty(t, report.Note)
		assert.Empty(t, store.Edges(models.EntityProperty))
	})

	t.Run("degraded records still take part", func(t *testing.T) {
		store := memory.NewStore()
		store.AddProperty(listing(1, 1))
		store.AddProperty(listing(2, 3))
		partial := listing(3, 3)
		partial.Build.BuildYear = nil
		store.AddProperty(partial)

		report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeContentSimilarity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, report.Total)
		assert.Equal(t, 1, report.Degraded)
		assert.Equal(t, []int64{3}, report.DegradedIDs)
	})
}

func TestPropertySimilarity_Chunking(t *testing.T) {
	store := memory.NewStore()
	store.AddProperty(listing(1, 1))
	for id := int64(2); id <= 6; id++ {
		store.AddProperty(listing(id, 3))
	}
	cfg := testRecommendationConfig()
	cfg.BatchSize = 3

	report, err := newPropertyEngine(store, cfg).ComputeContentSimilarity(context.Background())
	require.NoError(t, err)

	// 5 identical listings give 10 edges, written in ceil(10/3) chunks
	assert.Equal(t, 10, report.EdgesWritten)
	assert.Equal(t, 4, report.Chunks)
	assert.Equal(t, 4, store.UpsertCalls())
	assert.Len(t, store.Edges(models.EntityProperty), 10)
}

func TestPropertySimilarity_CancelKeepsFlushedChunks(t *testing.T) {
	inner := memory.NewStore()
	inner.AddProperty(listing(1, 1))
	for id := int64(2); id <= 6; id++ {
		inner.AddProperty(listing(id, 3))
	}
	cfg := testRecommendationConfig()
	cfg.BatchSize = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := cancellingStore{Store: inner, cancel: cancel}

	logger := quietLogger()
	engine := NewPropertySimilarityService(inner, inner, store, features.NewExtractor(cfg.Encoding, logger), cfg, nil, logger)

	report, err := engine.ComputeContentSimilarity(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 3, report.EdgesWritten)
	assert.Equal(t, 1, report.Chunks)
	assert.Len(t, inner.Edges(models.EntityProperty), 3)
}

func TestPropertySimilarity_BehaviorPass(t *testing.T) {
	store := memory.NewStore()
	store.AddView(view(1, 1, 1, time.Hour))
	store.AddView(view(1, 2, 1, time.Hour))
	store.AddView(view(1, 2, 1, 2*time.Hour))
	store.AddView(view(2, 1, 1, time.Hour))
	store.AddView(view(2, 2, 1, time.Hour))
	store.AddView(view(3, 1, 1, time.Hour))
	store.AddView(view(3, 3, 1, time.Hour))
	// outside the window
	store.AddView(view(4, 3, 1, 60*24*time.Hour))
	store.AddView(view(4, 2, 1, 60*24*time.Hour))

	report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeBehaviorSimilarity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.EdgesWritten)

	e12, ok := store.Edge(models.EntityProperty, 2, 1)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, e12.Score, 1e-9)
	assert.Equal(t, models.AlgorithmJaccardCF, e12.Algorithm)
	assert.Equal(t, 2, e12.Metadata["cooccurrence_count"])
	assert.Equal(t, "user_behavior", e12.Metadata["calculation_method"])

	e13, ok := store.Edge(models.EntityProperty, 1, 3)
	require.True(t, ok)
	assert.InDelta(t, 1.0/3.0, e13.Score, 1e-9)

	_, ok = store.Edge(models.EntityProperty, 2, 3)
	assert.False(t, ok)
}

func TestPropertySimilarity_BehaviorPassNoPairs(t *testing.T) {
	store := memory.NewStore()
	store.AddView(view(1, 1, 1, time.Hour))
	store.AddView(view(2, 2, 1, time.Hour))

	report, err := newPropertyEngine(store, testRecommendationConfig()).ComputeBehaviorSimilarity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.EdgesWritten)
	assert.NotEmpty(t, report.Note)
}

func TestPropertySimilarity_PassesAreExclusive(t *testing.T) {
	store := memory.NewStore()
	store.AddProperty(listing(1, 1))
	catalog := blockingCatalog{Store: store, started: make(chan struct{}), release: make(chan struct{})}

	cfg := testRecommendationConfig()
	logger := quietLogger()
	engine := NewPropertySimilarityService(catalog, store, store, features.NewExtractor(cfg.Encoding, logger), cfg, nil, logger)

	done := make(chan error, 1)
	go func() {
		_, err := engine.ComputeContentSimilarity(context.Background())
		done <- err
	}()
	<-catalog.started

	_, err := engine.ComputeBehaviorSimilarity(context.Background())
	assert.True(t, errors.Is(err, models.ErrPassInProgress))

	close(catalog.release)
	require.NoError(t, <-done)

	// the guard is released once the first pass returns
	_, err = engine.ComputeBehaviorSimilarity(context.Background())
	assert.NoError(t, err)
}

func TestPropertySimilarity_ComputeAllIsolatesFailures(t *testing.T) {
	store := memory.NewStore()
	store.AddView(view(1, 1, 1, time.Hour))
	store.AddView(view(1, 2, 1, time.Hour))
	store.AddView(view(2, 1, 1, time.Hour))
	store.AddView(view(2, 2, 1, time.Hour))

	cfg := testRecommendationConfig()
	logger := quietLogger()
	engine := NewPropertySimilarityService(failingCatalog{store}, store, store, features.NewExtractor(cfg.Encoding, logger), cfg, nil, logger)
	engine.now = func() time.Time { return fixedNow }

	results := engine.ComputeAll(context.Background())
	require.Len(t, results, 2)

	content := results[PassPropertyContent]
	assert.True(t, errors.Is(content.Err, errUnavailable))
	assert.NotEmpty(t, content.Message())

	behavior := results[PassPropertyBehavior]
	require.NoError(t, behavior.Err)
	assert.Equal(t, 1, behavior.Report.EdgesWritten)
	assert.Empty(t, behavior.Message())
}

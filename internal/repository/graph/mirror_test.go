package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/homerec/internal/repository/memory"
	"github.com/temcen/homerec/pkg/models"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) MergeEdges(ctx context.Context, kind models.EntityKind, rows []map[string]any) (int64, error) {
	args := m.Called(ctx, kind, rows)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSink) DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, kind, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) UpsertEdges(context.Context, []models.SimilarityEdge) error {
	return errors.New("relation does not exist")
}

var at = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func edgeOf(t *testing.T, kind models.EntityKind, a, b int64, score float64) models.SimilarityEdge {
	t.Helper()
	e, err := models.NewSimilarityEdge(kind, a, b, score, models.AlgorithmJaccardCF, nil, at)
	require.NoError(t, err)
	return e
}

func TestMirror_UpsertEdges(t *testing.T) {
	ctx := context.Background()

	t.Run("mirrors after commit", func(t *testing.T) {
		store := memory.NewStore()
		sink := new(MockSink)
		sink.On("MergeEdges", ctx, models.EntityProperty, mock.MatchedBy(func(rows []map[string]any) bool {
			return len(rows) == 2 && rows[0]["id1"] == int64(1) && rows[0]["id2"] == int64(2)
		})).Return(int64(2), nil)
		sink.On("MergeEdges", ctx, models.EntityUser, mock.Anything).Return(int64(1), nil)

		mirror := NewMirror(store, sink, quietLogger())
		err := mirror.UpsertEdges(ctx, []models.SimilarityEdge{
			edgeOf(t, models.EntityProperty, 2, 1, 0.5),
			edgeOf(t, models.EntityProperty, 3, 4, 0.6),
			edgeOf(t, models.EntityUser, 7, 8, 0.9),
		})
		require.NoError(t, err)

		assert.Len(t, store.Edges(models.EntityProperty), 2)
		sink.AssertExpectations(t)
	})

	t.Run("graph failure is not returned", func(t *testing.T) {
		store := memory.NewStore()
		sink := new(MockSink)
		sink.On("MergeEdges", ctx, models.EntityUser, mock.Anything).Return(int64(0), errors.New("ServiceUnavailable"))

		err := NewMirror(store, sink, quietLogger()).UpsertEdges(ctx, []models.SimilarityEdge{
			edgeOf(t, models.EntityUser, 1, 2, 0.5),
		})
		require.NoError(t, err)
		assert.Len(t, store.Edges(models.EntityUser), 1)
	})

	t.Run("store failure skips the graph", func(t *testing.T) {
		sink := new(MockSink)

		err := NewMirror(failingStore{memory.NewStore()}, sink, quietLogger()).UpsertEdges(ctx, []models.SimilarityEdge{
			edgeOf(t, models.EntityUser, 1, 2, 0.5),
		})
		require.Error(t, err)
		sink.AssertNotCalled(t, "MergeEdges", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMirror_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	old := edgeOf(t, models.EntityUser, 1, 2, 0.5)
	old.ComputedAt = at.Add(-10 * 24 * time.Hour)
	require.NoError(t, store.UpsertEdges(ctx, []models.SimilarityEdge{old, edgeOf(t, models.EntityUser, 3, 4, 0.5)}))

	cutoff := at.Add(-7 * 24 * time.Hour)
	sink := new(MockSink)
	sink.On("DeleteOlderThan", ctx, models.EntityUser, cutoff).Return(int64(0), errors.New("timeout"))

	n, err := NewMirror(store, sink, quietLogger()).DeleteOlderThan(ctx, models.EntityUser, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	sink.AssertExpectations(t)
}

func TestCypher(t *testing.T) {
	assert.Contains(t, mergeCypher("Property"), "MERGE (a:Property {id: e.id1})")
	assert.Contains(t, mergeCypher("User"), "MERGE (a)-[s:SIMILAR_TO]->(b)")
	assert.Contains(t, pruneCypher("User"), "(:User)-[s:SIMILAR_TO]->(:User)")

	_, err := labelFor(models.EntityKind("community"))
	assert.True(t, errors.Is(err, models.ErrInvalidRecord))
}

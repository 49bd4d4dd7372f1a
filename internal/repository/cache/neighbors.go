package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// Store is the edge store whose neighbor lookups are cached.
type Store interface {
	UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error
	Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error)
	DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error)
}

// NeighborCache serves Neighbors from Redis. Every key embeds a per-kind
// generation; any write to a kind bumps it, so stale entries are never read
// and simply expire. Redis being down degrades to uncached reads.
type NeighborCache struct {
	next   Store
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
}

func NewNeighborCache(next Store, client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *NeighborCache {
	return &NeighborCache{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func generationKey(kind models.EntityKind) string {
	return fmt.Sprintf("neighbors:gen:%s", kind)
}

func neighborsKey(kind models.EntityKind, generation int64, id int64, minScore float64, limit int) string {
	return fmt.Sprintf("neighbors:%s:%d:%d:%s:%d",
		kind, generation, id, strconv.FormatFloat(minScore, 'f', -1, 64), limit)
}

func (c *NeighborCache) Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error) {
	generation, err := c.generation(ctx, kind)
	if err != nil {
		c.logger.WithError(err).Debug("Neighbor cache unavailable")
		return c.next.Neighbors(ctx, kind, id, minScore, limit)
	}

	key := neighborsKey(kind, generation, id, minScore, limit)
	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var edges []models.SimilarityEdge
		if err := json.Unmarshal([]byte(cached), &edges); err == nil {
			return edges, nil
		}
		c.logger.WithField("key", key).Warn("Discarding unreadable neighbor cache entry")
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WithError(err).Debug("Neighbor cache read failed")
	}

	edges, err := c.next.Neighbors(ctx, kind, id, minScore, limit)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(edges)
	if err != nil {
		return edges, nil
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Failed to cache neighbors")
	}
	return edges, nil
}

func (c *NeighborCache) UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error {
	if err := c.next.UpsertEdges(ctx, edges); err != nil {
		return err
	}

	touched := make(map[models.EntityKind]bool)
	for _, e := range edges {
		touched[e.Kind] = true
	}
	for kind := range touched {
		c.invalidate(ctx, kind)
	}
	return nil
}

func (c *NeighborCache) DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	n, err := c.next.DeleteOlderThan(ctx, kind, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		c.invalidate(ctx, kind)
	}
	return n, nil
}

func (c *NeighborCache) generation(ctx context.Context, kind models.EntityKind) (int64, error) {
	gen, err := c.redis.Get(ctx, generationKey(kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *NeighborCache) invalidate(ctx context.Context, kind models.EntityKind) {
	if err := c.redis.Incr(ctx, generationKey(kind)).Err(); err != nil {
		// readers keep seeing the old generation until its entries expire
		c.logger.WithError(err).WithField("kind", kind).Warn("Failed to invalidate neighbor cache")
	}
}

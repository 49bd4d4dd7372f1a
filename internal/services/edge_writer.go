package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// EdgeBatcher buffers similarity edges and upserts them in fixed-size chunks
// so no transaction holds an unbounded number of rows. Chunks already flushed
// stay written when the context is cancelled; upserts are idempotent per pair.
type EdgeBatcher struct {
	store   SimilarityStore
	size    int
	pending []models.SimilarityEdge
	written int
	chunks  int
	logger  *logrus.Logger
}

func NewEdgeBatcher(store SimilarityStore, size int, logger *logrus.Logger) *EdgeBatcher {
	if size <= 0 {
		size = 1000
	}
	return &EdgeBatcher{
		store:   store,
		size:    size,
		pending: make([]models.SimilarityEdge, 0, size),
		logger:  logger,
	}
}

// Add queues an edge and flushes when the chunk is full.
func (b *EdgeBatcher) Add(ctx context.Context, edge models.SimilarityEdge) error {
	b.pending = append(b.pending, edge)
	if len(b.pending) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes any pending edges as one chunk.
func (b *EdgeBatcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("edge flush cancelled after %d chunks: %w", b.chunks, err)
	}

	chunk := b.pending
	if err := b.store.UpsertEdges(ctx, chunk); err != nil {
		return fmt.Errorf("failed to upsert edge chunk %d: %w", b.chunks+1, err)
	}

	b.written += len(chunk)
	b.chunks++
	b.pending = make([]models.SimilarityEdge, 0, b.size)

	b.logger.WithFields(logrus.Fields{
		"chunk":   b.chunks,
		"edges":   len(chunk),
		"written": b.written,
	}).Debug("Flushed similarity edge chunk")

	return nil
}

// Written is the number of edges persisted so far.
func (b *EdgeBatcher) Written() int { return b.written }

// Chunks is the number of successful flushes.
func (b *EdgeBatcher) Chunks() int { return b.chunks }

// Pending is the number of buffered edges not yet flushed.
func (b *EdgeBatcher) Pending() int { return len(b.pending) }

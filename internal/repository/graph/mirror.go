package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// Store is the relational edge store the mirror sits in front of.
type Store interface {
	UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error
	Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error)
	DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error)
}

// Sink receives mirrored writes.
type Sink interface {
	MergeEdges(ctx context.Context, kind models.EntityKind, rows []map[string]any) (int64, error)
	DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error)
}

// Mirror copies every committed edge write into the SIMILAR_TO graph. The
// relational store stays the source of truth: reads never touch the graph and
// mirror failures are logged, not returned.
type Mirror struct {
	next   Store
	sink   Sink
	logger *logrus.Logger
}

func NewMirror(next Store, sink Sink, logger *logrus.Logger) *Mirror {
	return &Mirror{next: next, sink: sink, logger: logger}
}

func (m *Mirror) UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error {
	if err := m.next.UpsertEdges(ctx, edges); err != nil {
		return err
	}

	for kind, rows := range edgeRows(edges) {
		merged, err := m.sink.MergeEdges(ctx, kind, rows)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"kind":  kind,
				"edges": len(rows),
			}).Warn("Failed to mirror similarity edges to graph")
			continue
		}
		m.logger.WithFields(logrus.Fields{
			"kind":   kind,
			"merged": merged,
		}).Debug("Mirrored similarity edges")
	}
	return nil
}

func (m *Mirror) Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error) {
	return m.next.Neighbors(ctx, kind, id, minScore, limit)
}

func (m *Mirror) DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	n, err := m.next.DeleteOlderThan(ctx, kind, cutoff)
	if err != nil {
		return n, err
	}
	if _, err := m.sink.DeleteOlderThan(ctx, kind, cutoff); err != nil {
		m.logger.WithError(err).WithField("kind", kind).Warn("Failed to prune mirrored similarity edges")
	}
	return n, nil
}

// edgeRows groups edges by kind as Cypher parameter maps.
func edgeRows(edges []models.SimilarityEdge) map[models.EntityKind][]map[string]any {
	rows := make(map[models.EntityKind][]map[string]any)
	for _, e := range edges {
		rows[e.Kind] = append(rows[e.Kind], map[string]any{
			"id1":         e.ID1,
			"id2":         e.ID2,
			"score":       e.Score,
			"algorithm":   e.Algorithm,
			"computed_at": e.ComputedAt,
		})
	}
	return rows
}

var nodeLabels = map[models.EntityKind]string{
	models.EntityProperty: "Property",
	models.EntityUser:     "User",
}

func labelFor(kind models.EntityKind) (string, error) {
	label, ok := nodeLabels[kind]
	if !ok {
		return "", fmt.Errorf("%w: no graph label for %q", models.ErrInvalidRecord, kind)
	}
	return label, nil
}

// Neo4jSink writes through a Neo4j driver.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jSink(driver neo4j.DriverWithContext, database string) *Neo4jSink {
	return &Neo4jSink{driver: driver, database: database}
}

func (s *Neo4jSink) MergeEdges(ctx context.Context, kind models.EntityKind, rows []map[string]any) (int64, error) {
	label, err := labelFor(kind)
	if err != nil {
		return 0, err
	}
	return s.write(ctx, mergeCypher(label), map[string]any{"edges": rows}, "edges_merged")
}

func (s *Neo4jSink) DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	label, err := labelFor(kind)
	if err != nil {
		return 0, err
	}
	return s.write(ctx, pruneCypher(label), map[string]any{"cutoff": cutoff}, "edges_deleted")
}

func (s *Neo4jSink) write(ctx context.Context, cypher string, params map[string]any, countKey string) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	count, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}

		count, _ := record.Get(countKey)
		return count, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to run graph write: %w", err)
	}

	n, _ := count.(int64)
	return n, nil
}

func mergeCypher(label string) string {
	return fmt.Sprintf(`
		UNWIND $edges AS e
		MERGE (a:%[1]s {id: e.id1})
		MERGE (b:%[1]s {id: e.id2})
		MERGE (a)-[s:SIMILAR_TO]->(b)
		SET s.score = e.score,
			s.algorithm = e.algorithm,
			s.computed_at = e.computed_at
		RETURN COUNT(s) as edges_merged`, label)
}

// Edges are merged a->b with a.id < b.id, so a directed match sees each once.
func pruneCypher(label string) string {
	return fmt.Sprintf(`
		MATCH (:%[1]s)-[s:SIMILAR_TO]->(:%[1]s)
		WHERE s.computed_at < $cutoff
		DELETE s
		RETURN COUNT(s) as edges_deleted`, label)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/temcen/homerec/pkg/models"
)

type edgeTable struct {
	name string
	id1  string
	id2  string
}

var edgeTables = map[models.EntityKind]edgeTable{
	models.EntityProperty: {name: "property_similarity", id1: "property_id1", id2: "property_id2"},
	models.EntityUser:     {name: "user_similarity", id1: "user_id1", id2: "user_id2"},
}

func tableFor(kind models.EntityKind) (edgeTable, error) {
	t, ok := edgeTables[kind]
	if !ok {
		return edgeTable{}, fmt.Errorf("%w: unknown entity kind %q", models.ErrInvalidRecord, kind)
	}
	return t, nil
}

// SimilarityRepository stores edges in property_similarity and
// user_similarity. The score and algorithm live inside similarity_data next
// to the explanation metadata.
type SimilarityRepository struct {
	db     DB
	logger *logrus.Logger
}

func NewSimilarityRepository(db DB, logger *logrus.Logger) *SimilarityRepository {
	return &SimilarityRepository{db: db, logger: logger}
}

// UpsertEdges writes the batch in one transaction, one multi-row statement
// per table.
func (r *SimilarityRepository) UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error {
	if len(edges) == 0 {
		return nil
	}

	byKind := make(map[models.EntityKind][]models.SimilarityEdge)
	order := make([]models.EntityKind, 0, 2)
	for _, e := range edges {
		if _, ok := byKind[e.Kind]; !ok {
			order = append(order, e.Kind)
		}
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin edge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, kind := range order {
		table, err := tableFor(kind)
		if err != nil {
			return err
		}
		query, args, err := upsertStatement(table, lastPerPair(byKind[kind]))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert %s rows: %w", table.name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit edge transaction: %w", err)
	}
	return nil
}

// lastPerPair drops earlier duplicates of a pair; one INSERT .. ON CONFLICT
// statement cannot touch the same row twice.
func lastPerPair(edges []models.SimilarityEdge) []models.SimilarityEdge {
	last := make(map[[2]int64]int, len(edges))
	for i, e := range edges {
		last[e.Key()] = i
	}
	if len(last) == len(edges) {
		return edges
	}
	out := make([]models.SimilarityEdge, 0, len(last))
	for i, e := range edges {
		if last[e.Key()] == i {
			out = append(out, e)
		}
	}
	return out
}

func upsertStatement(t edgeTable, edges []models.SimilarityEdge) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s, %s, similarity_data, created_at, updated_at) VALUES ", t.name, t.id1, t.id2)

	args := make([]interface{}, 0, len(edges)*4)
	for i, e := range edges {
		payload, err := json.Marshal(e.Payload())
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode similarity payload %d-%d: %w", e.ID1, e.ID2, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+4)
		args = append(args, e.ID1, e.ID2, payload, e.ComputedAt)
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s, %s) DO UPDATE SET similarity_data = EXCLUDED.similarity_data, updated_at = EXCLUDED.updated_at", t.id1, t.id2)

	return b.String(), args, nil
}

func (r *SimilarityRepository) Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []models.SimilarityEdge{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %[2]s, %[3]s, similarity_data, updated_at
		FROM %[1]s
		WHERE (%[2]s = $1 OR %[3]s = $1)
		  AND (similarity_data->>'similarity_score')::float8 > $2
		ORDER BY (similarity_data->>'similarity_score')::float8 DESC,
		         CASE WHEN %[2]s = $1 THEN %[3]s ELSE %[2]s END
		LIMIT $3`, t.name, t.id1, t.id2)

	rows, err := r.db.Query(ctx, query, id, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s neighbors of %d: %w", kind, id, err)
	}
	defer rows.Close()

	edges := make([]models.SimilarityEdge, 0)
	for rows.Next() {
		var (
			e    = models.SimilarityEdge{Kind: kind}
			data []byte
		)
		if err := rows.Scan(&e.ID1, &e.ID2, &data, &e.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		if err := decodeEdgePayload(&e, data); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"kind": kind,
				"id1":  e.ID1,
				"id2":  e.ID2,
			}).Warn("Skipping unreadable similarity row")
			continue
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate similarity rows: %w", err)
	}
	return edges, nil
}

func (r *SimilarityRepository) DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE updated_at < $1`, t.name), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale %s rows: %w", t.name, err)
	}
	return tag.RowsAffected(), nil
}

func decodeEdgePayload(e *models.SimilarityEdge, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid similarity_data: %w", err)
	}
	score, err := cast.ToFloat64E(payload["similarity_score"])
	if err != nil {
		return fmt.Errorf("invalid similarity_score: %w", err)
	}
	e.Score = score
	e.Algorithm = cast.ToString(payload["algorithm"])

	delete(payload, "similarity_score")
	delete(payload, "algorithm")
	if len(payload) > 0 {
		e.Metadata = payload
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/temcen/homerec/pkg/models"
)

// RecommendationRepository appends to user_recommendations. Rows are never
// updated.
type RecommendationRepository struct {
	db DB
}

func NewRecommendationRepository(db DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

type recommendationData struct {
	RunID    string  `json:"run_id"`
	Position int     `json:"position"`
	Type     string  `json:"recommendation_type"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
	Viewed   bool    `json:"is_viewed"`
	Clicked  bool    `json:"is_clicked"`
}

func (r *RecommendationRepository) AppendRecommendations(ctx context.Context, items []models.RecommendationItem) error {
	if len(items) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO user_recommendations (user_id, property_id, recommendation_data, created_at) VALUES ")
	args := make([]interface{}, 0, len(items)*4)
	for i, it := range items {
		data, err := json.Marshal(recommendationData{
			RunID:    it.RunID.String(),
			Position: it.Position,
			Type:     it.Strategy,
			Source:   it.Source,
			Score:    it.Score,
			Reason:   it.Reason,
			Viewed:   it.Viewed,
			Clicked:  it.Clicked,
		})
		if err != nil {
			return fmt.Errorf("failed to encode recommendation %d: %w", it.PropertyID, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, it.UserID, it.PropertyID, data, it.GeneratedAt)
	}

	if _, err := r.db.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to insert recommendations: %w", err)
	}
	return nil
}

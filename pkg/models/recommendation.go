package models

import (
	"time"

	"github.com/google/uuid"
)

// Strategy tags written to the recommendation audit log.
const (
	StrategyGuessYouLike  = "guess_you_like"
	StrategyPreference    = "preference"
	StrategyCollaborative = "collaborative"
	StrategyPopularity    = "popularity"
	StrategySimilar       = "similar_properties"
	StrategyAlsoViewed    = "also_viewed"
)

// Candidate sources inside a blended list.
const (
	SourceContent    = "content"
	SourceCF         = "collaborative"
	SourcePopularity = "popularity"
)

// RecommendationItem is one append-only audit row.
type RecommendationItem struct {
	RunID       uuid.UUID `json:"run_id"`
	UserID      int64     `json:"user_id"`
	PropertyID  int64     `json:"property_id"`
	Position    int       `json:"position"`
	Strategy    string    `json:"recommendation_type"`
	Source      string    `json:"source"`
	Score       float64   `json:"score"`
	Reason      string    `json:"reason"`
	Viewed      bool      `json:"is_viewed"`
	Clicked     bool      `json:"is_clicked"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ScoredProperty is an intermediate candidate with its ranking score.
type ScoredProperty struct {
	PropertyID int64   `json:"property_id"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
}

// BlendResult is what a guess-you-like run produced, per source.
type BlendResult struct {
	RunID       uuid.UUID        `json:"run_id"`
	UserID      int64            `json:"user_id"`
	PropertyIDs []int64          `json:"property_ids"`
	Sources     map[int64]string `json:"sources"`
	SourceSizes map[string]int   `json:"source_sizes"`
	SourceErrs  map[string]error `json:"-"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// PropertyIDs extracts ids preserving order.
func PropertyIDs(items []ScoredProperty) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.PropertyID
	}
	return ids
}

package services

import (
	"context"
	"time"

	"github.com/temcen/homerec/pkg/models"
)

// Catalog reads listings. Records are decoded into typed structs by the
// implementation; engines never see raw attribute documents.
type Catalog interface {
	// ListForSale returns every for-sale property joined with its community.
	ListForSale(ctx context.Context) ([]models.PropertyRecord, error)
	// GetProperty returns models.ErrNotFound for an unknown id.
	GetProperty(ctx context.Context, id int64) (*models.PropertyRecord, error)
	// GetProperties returns the known properties among ids, in any order.
	GetProperties(ctx context.Context, ids []int64) ([]models.PropertyRecord, error)
}

// Behavior reads browsing and favorite logs.
type Behavior interface {
	// Interactions returns browsing rows created at or after since.
	Interactions(ctx context.Context, since time.Time) ([]models.InteractionRecord, error)
	// History returns all views and favorites of a user.
	History(ctx context.Context, userID int64) (*models.UserHistory, error)
	// RecentViewCounts counts browsing rows per property since the cutoff.
	RecentViewCounts(ctx context.Context, since time.Time) (map[int64]int, error)
}

// Preferences reads the latest preference document per user.
type Preferences interface {
	// Latest returns models.ErrNotFound when the user has none.
	Latest(ctx context.Context, userID int64) (*models.PreferenceRecord, error)
	ListLatest(ctx context.Context) ([]models.PreferenceRecord, error)
}

// UserDirectory answers whether a user id is known.
type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// SimilarityStore persists similarity edges, one row per (kind, id1, id2).
type SimilarityStore interface {
	// UpsertEdges must be atomic per call; the batch is one transaction.
	UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error
	// Neighbors returns edges touching id with score strictly above
	// minScore, best first, at most limit of them.
	Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error)
	// DeleteOlderThan removes edges of kind computed before cutoff.
	DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error)
}

// RecommendationStore is the append-only recommendation audit log.
type RecommendationStore interface {
	AppendRecommendations(ctx context.Context, items []models.RecommendationItem) error
}

// PropertySimilarityComputer is the trigger surface of the property engine.
type PropertySimilarityComputer interface {
	ComputeContentSimilarity(ctx context.Context) (*models.BatchReport, error)
	ComputeBehaviorSimilarity(ctx context.Context) (*models.BatchReport, error)
	ComputeAll(ctx context.Context) map[string]PassResult
}

// UserSimilarityComputer is the trigger surface of the user engine.
type UserSimilarityComputer interface {
	ComputeContentSimilarity(ctx context.Context) (*models.BatchReport, error)
	ComputeBehaviorSimilarity(ctx context.Context) (*models.BatchReport, error)
	ComputeComprehensive(ctx context.Context) map[string]PassResult
	PairSimilarity(ctx context.Context, userID1, userID2 int64) (*models.PairSimilarity, error)
}

// Recommender is the query surface of the blender.
type Recommender interface {
	GuessYouLike(ctx context.Context, userID int64, limit int) ([]int64, error)
	RecommendByPreference(ctx context.Context, userID int64, limit int) ([]int64, error)
	RecommendByCollaborative(ctx context.Context, userID int64, limit int) ([]int64, error)
	RecommendByPopularity(ctx context.Context, limit int) ([]int64, error)
	RecommendSimilarProperties(ctx context.Context, propertyID int64, limit int) ([]int64, error)
	OtherUsersAlsoViewed(ctx context.Context, userID int64, limit int) ([]int64, error)
}

// PassResult is the outcome of one pass inside an orchestration.
type PassResult struct {
	Report *models.BatchReport `json:"report,omitempty"`
	Err    error               `json:"-"`
}

// Message returns the failure message or "".
func (r PassResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// BehaviorRepository reads browsing_history and favorites.
type BehaviorRepository struct {
	db     DB
	logger *logrus.Logger
}

func NewBehaviorRepository(db DB, logger *logrus.Logger) *BehaviorRepository {
	return &BehaviorRepository{db: db, logger: logger}
}

func (r *BehaviorRepository) Interactions(ctx context.Context, since time.Time) ([]models.InteractionRecord, error) {
	query := `
		SELECT user_id, property_id, behavior_data, created_at
		FROM browsing_history
		WHERE created_at >= $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query browsing history: %w", err)
	}
	return r.collectViews(rows)
}

func (r *BehaviorRepository) History(ctx context.Context, userID int64) (*models.UserHistory, error) {
	query := `
		SELECT user_id, property_id, behavior_data, created_at
		FROM browsing_history
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of user %d: %w", userID, err)
	}
	views, err := r.collectViews(rows)
	if err != nil {
		return nil, err
	}

	favRows, err := r.db.Query(ctx, `SELECT property_id FROM favorites WHERE user_id = $1 ORDER BY property_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites of user %d: %w", userID, err)
	}
	favorites, err := pgx.CollectRows(favRows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan favorites of user %d: %w", userID, err)
	}

	return &models.UserHistory{UserID: userID, Views: views, Favorites: favorites}, nil
}

func (r *BehaviorRepository) RecentViewCounts(ctx context.Context, since time.Time) (map[int64]int, error) {
	query := `
		SELECT property_id, COUNT(*)
		FROM browsing_history
		WHERE created_at >= $1
		GROUP BY property_id`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent view counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var propertyID, n int64
		if err := rows.Scan(&propertyID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan view count: %w", err)
		}
		counts[propertyID] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate view counts: %w", err)
	}
	return counts, nil
}

func (r *BehaviorRepository) collectViews(rows pgx.Rows) ([]models.InteractionRecord, error) {
	defer rows.Close()

	views := make([]models.InteractionRecord, 0)
	for rows.Next() {
		var (
			rec  models.InteractionRecord
			data []byte
		)
		if err := rows.Scan(&rec.UserID, &rec.PropertyID, &data, &rec.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan browsing row: %w", err)
		}
		var malformed []string
		rec.Duration, rec.Count, malformed = decodeBehavior(data)
		if len(malformed) > 0 {
			r.logger.WithFields(logrus.Fields{
				"user_id":     rec.UserID,
				"property_id": rec.PropertyID,
				"malformed":   malformed,
			}).Debug("Browsing row payload partially unreadable")
		}
		views = append(views, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate browsing rows: %w", err)
	}
	return views, nil
}

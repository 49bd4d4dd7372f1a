package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/validation"
	"github.com/temcen/homerec/pkg/models"
)

// PreferenceRepository reads the newest user_preferences row per user.
// Documents failing the preference schema are still decoded leniently; the
// violation is logged.
type PreferenceRepository struct {
	db        DB
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

func NewPreferenceRepository(db DB, validator *validation.SchemaValidator, logger *logrus.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: db, validator: validator, logger: logger}
}

func (r *PreferenceRepository) Latest(ctx context.Context, userID int64) (*models.PreferenceRecord, error) {
	query := `
		SELECT user_id, preference_data, updated_at
		FROM user_preferences
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	var (
		p         models.PreferenceRecord
		data      []byte
		updatedAt time.Time
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.UserID, &data, &updatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("preference of user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preference of user %d: %w", userID, err)
	}

	p.UpdatedAt = updatedAt
	r.decode(&p, data)
	return &p, nil
}

func (r *PreferenceRepository) ListLatest(ctx context.Context) ([]models.PreferenceRecord, error) {
	query := `
		SELECT DISTINCT ON (user_id) user_id, preference_data, updated_at
		FROM user_preferences
		ORDER BY user_id, updated_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}

	prefs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PreferenceRecord, error) {
		var (
			p    models.PreferenceRecord
			data []byte
		)
		if err := row.Scan(&p.UserID, &data, &p.UpdatedAt); err != nil {
			return p, err
		}
		r.decode(&p, data)
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan preferences: %w", err)
	}
	return prefs, nil
}

func (r *PreferenceRepository) decode(p *models.PreferenceRecord, data []byte) {
	if r.validator != nil {
		if result := r.validator.ValidatePreference(data); !result.Valid {
			r.logger.WithFields(logrus.Fields{
				"user_id": p.UserID,
				"fields":  result.Fields(),
			}).Warn("Preference document does not match schema, decoding leniently")
		}
	}
	if malformed := decodePreference(p, data); len(malformed) > 0 {
		r.logger.WithFields(logrus.Fields{
			"user_id":   p.UserID,
			"malformed": malformed,
		}).Debug("Preference document partially unreadable")
	}
}

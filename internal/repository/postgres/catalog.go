package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

const propertyColumns = `
	p.property_id, p.community_id, p.title, p.status,
	p.price_info, p.layout_info, p.basic_info,
	p.favorite_count, p.view_count, p.created_at,
	COALESCE(c.community_id, 0), COALESCE(c.name, ''),
	COALESCE(c.location_info, 'null'::jsonb), COALESCE(c.facility_info, 'null'::jsonb)
FROM properties p
LEFT JOIN communities c ON c.community_id = p.community_id`

// CatalogRepository reads listings joined with their community.
type CatalogRepository struct {
	db     DB
	logger *logrus.Logger
}

func NewCatalogRepository(db DB, logger *logrus.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

func (r *CatalogRepository) ListForSale(ctx context.Context) ([]models.PropertyRecord, error) {
	query := `SELECT ` + propertyColumns + `
		WHERE p.status = $1
		ORDER BY p.property_id`

	rows, err := r.db.Query(ctx, query, string(models.PropertyStatusForSale))
	if err != nil {
		return nil, fmt.Errorf("failed to query for-sale properties: %w", err)
	}
	return r.collect(rows)
}

func (r *CatalogRepository) GetProperty(ctx context.Context, id int64) (*models.PropertyRecord, error) {
	query := `SELECT ` + propertyColumns + `
		WHERE p.property_id = $1`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query property %d: %w", id, err)
	}
	records, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("property %d: %w", id, models.ErrNotFound)
	}
	return &records[0], nil
}

func (r *CatalogRepository) GetProperties(ctx context.Context, ids []int64) ([]models.PropertyRecord, error) {
	if len(ids) == 0 {
		return []models.PropertyRecord{}, nil
	}
	query := `SELECT ` + propertyColumns + `
		WHERE p.property_id = ANY($1)
		ORDER BY p.property_id`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	return r.collect(rows)
}

func (r *CatalogRepository) collect(rows pgx.Rows) ([]models.PropertyRecord, error) {
	defer rows.Close()

	var records []models.PropertyRecord
	for rows.Next() {
		var (
			p                                models.PropertyRecord
			c                                models.CommunityRecord
			status                           string
			priceInfo, layoutInfo, basicInfo []byte
			locationInfo, facilityInfo       []byte
			createdAt                        time.Time
		)
		if err := rows.Scan(
			&p.ID, &p.CommunityID, &p.Title, &status,
			&priceInfo, &layoutInfo, &basicInfo,
			&p.FavoriteCount, &p.ViewCount, &createdAt,
			&c.ID, &c.Name, &locationInfo, &facilityInfo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan property row: %w", err)
		}

		p.Status = models.PropertyStatus(status)
		p.CreatedAt = createdAt
		decodeProperty(&p, priceInfo, layoutInfo, basicInfo)
		if c.ID != 0 {
			decodeCommunity(&c, locationInfo, facilityInfo)
			p.Community = &c
		}

		if len(p.Malformed) > 0 || (p.Community != nil && len(p.Community.Malformed) > 0) {
			r.logger.WithFields(logrus.Fields{
				"property_id": p.ID,
				"malformed":   append(append([]string{}, p.Malformed...), c.Malformed...),
			}).Debug("Property attributes partially unreadable")
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate property rows: %w", err)
	}
	if records == nil {
		records = []models.PropertyRecord{}
	}
	return records, nil
}

// isNoRows reports whether err is pgx's empty result error.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

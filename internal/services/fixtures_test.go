package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/internal/features"
	"github.com/temcen/homerec/internal/repository/memory"
	"github.com/temcen/homerec/pkg/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testRecommendationConfig() *config.RecommendationConfig {
	cfg := config.Default().Recommendation
	return &cfg
}

func newPropertyEngine(store *memory.Store, cfg *config.RecommendationConfig) *PropertySimilarityService {
	logger := quietLogger()
	s := NewPropertySimilarityService(store, store, store,
		features.NewExtractor(cfg.Encoding, logger), cfg, nil, logger)
	s.now = func() time.Time { return fixedNow }
	return s
}

func newUserEngine(store *memory.Store, cfg *config.RecommendationConfig) *UserSimilarityService {
	s := NewUserSimilarityService(store, store, store, store, cfg, nil, quietLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func newBlender(store *memory.Store, cfg *config.RecommendationConfig) *RecommendationBlender {
	b := NewRecommendationBlender(store, store, store, store, store, store, cfg, nil, quietLogger())
	b.now = func() time.Time { return fixedNow }
	return b
}

// listing builds a complete for-sale property. Scale multiplies every numeric
// attribute so listings built with the same scale are identical apart from id.
func listing(id int64, scale float64) models.PropertyRecord {
	return models.PropertyRecord{
		ID:     id,
		Status: models.PropertyStatusForSale,
		Pricing: models.PricingInfo{
			TotalPrice: models.Float64Ptr(300 * scale),
			UnitPrice:  models.Float64Ptr(6 * scale),
		},
		Layout: models.LayoutInfo{
			Area:            models.Float64Ptr(50 * scale),
			BedroomCount:    models.IntPtr(int(1 * scale)),
			LivingRoomCount: models.IntPtr(int(1 * scale)),
			Floor:           models.IntPtr(int(5 * scale)),
			TotalFloors:     models.IntPtr(int(10 * scale)),
			Orientation:     "south",
		},
		Build: models.BuildInfo{Decoration: "精装", BuildYear: models.IntPtr(2000 + int(5*scale))},
		Community: &models.CommunityRecord{
			ID:       id,
			Location: models.LocationInfo{District: "南山区"},
			Facility: models.FacilityInfo{
				ManagementFee: models.Float64Ptr(2 * scale),
				GreenRatio:    models.Float64Ptr(0.1 * scale),
				ParkingSpaces: models.IntPtr(int(100 * scale)),
			},
		},
	}
}

// priced builds a for-sale property with only price, area, bedrooms and
// district set.
func priced(id int64, price, area float64, bedrooms int, district string) models.PropertyRecord {
	return models.PropertyRecord{
		ID:      id,
		Status:  models.PropertyStatusForSale,
		Pricing: models.PricingInfo{TotalPrice: models.Float64Ptr(price)},
		Layout: models.LayoutInfo{
			Area:         models.Float64Ptr(area),
			BedroomCount: models.IntPtr(bedrooms),
			Orientation:  "south",
		},
		Community: &models.CommunityRecord{Location: models.LocationInfo{District: district}},
	}
}

func view(userID, propertyID int64, count float64, age time.Duration) models.InteractionRecord {
	return models.InteractionRecord{
		UserID:     userID,
		PropertyID: propertyID,
		Count:      count,
		ViewedAt:   fixedNow.Add(-age),
	}
}

func edge(kind models.EntityKind, a, b int64, score float64, at time.Time) models.SimilarityEdge {
	e, err := models.NewSimilarityEdge(kind, a, b, score, models.AlgorithmJaccardCF, nil, at)
	if err != nil {
		panic(err)
	}
	return e
}

var errUnavailable = errors.New("backend unavailable")

// failingCatalog fails every catalog read.
type failingCatalog struct {
	*memory.Store
}

func (failingCatalog) ListForSale(context.Context) ([]models.PropertyRecord, error) {
	return nil, errUnavailable
}

// failingPreferences fails every preference read.
type failingPreferences struct {
	*memory.Store
}

func (failingPreferences) Latest(context.Context, int64) (*models.PreferenceRecord, error) {
	return nil, errUnavailable
}

// blockingCatalog holds ListForSale until release is closed.
type blockingCatalog struct {
	*memory.Store
	started chan struct{}
	release chan struct{}
}

func (c blockingCatalog) ListForSale(ctx context.Context) ([]models.PropertyRecord, error) {
	close(c.started)
	<-c.release
	return c.Store.ListForSale(ctx)
}

// cancellingStore cancels the pass context once the first chunk is written.
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s cancellingStore) UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error {
	err := s.Store.UpsertEdges(ctx, edges)
	s.cancel()
	return err
}

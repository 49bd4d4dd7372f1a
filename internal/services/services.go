package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/internal/database"
	"github.com/temcen/homerec/internal/features"
	"github.com/temcen/homerec/internal/messaging"
	"github.com/temcen/homerec/internal/repository/cache"
	"github.com/temcen/homerec/internal/repository/graph"
	"github.com/temcen/homerec/internal/repository/postgres"
	"github.com/temcen/homerec/internal/validation"
)

type Services struct {
	Auth               *AuthService
	Health             *HealthService
	Metrics            *Metrics
	MessageBus         *messaging.MessageBus
	JobManager         *JobManager
	PropertySimilarity *PropertySimilarityService
	UserSimilarity     *UserSimilarityService
	Recommendations    *RecommendationBlender
	PassRunner         *PassRunner
	Scheduler          *Scheduler   // nil unless scheduler.enabled
	RateLimiter        *RateLimiter // nil unless security.rate_limit.enabled
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	catalog := postgres.NewCatalogRepository(db.PG, logger)
	behavior := postgres.NewBehaviorRepository(db.PG, logger)
	preferences := postgres.NewPreferenceRepository(db.PG, validator, logger)
	users := postgres.NewUserRepository(db.PG)
	audit := postgres.NewRecommendationRepository(db.PG)
	edges := similarityStore(cfg, db, logger)

	rc := &cfg.Recommendation
	metrics := NewMetrics(reg, logger)
	extractor := features.NewExtractor(rc.Encoding, logger)

	propertySimilarity := NewPropertySimilarityService(catalog, behavior, edges, extractor, rc, metrics, logger)
	userSimilarity := NewUserSimilarityService(behavior, preferences, users, edges, rc, metrics, logger)
	recommendations := NewRecommendationBlender(catalog, behavior, preferences, users, edges, audit, rc, metrics, logger)

	messageBus, err := messaging.NewMessageBus(cfg, logger)
	if err != nil {
		return nil, err
	}

	jobManager := NewJobManager(cache.NewJobStore(db.Redis.Jobs), logger)
	passRunner := NewPassRunner(propertySimilarity, userSimilarity, jobManager, logger)

	var scheduler *Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = NewScheduler(cfg.Scheduler, passRunner, jobManager, logger)
		if err != nil {
			messageBus.Close()
			return nil, err
		}
	}

	var rateLimiter *RateLimiter
	if cfg.Security.RateLimit.Enabled {
		rateLimiter = NewRateLimiter(cfg.Security.RateLimit, db.Redis.Cache, logger)
	}

	return &Services{
		Auth:               NewAuthService(cfg.Auth, logger),
		Health:             NewHealthService(db, reg, logger),
		Metrics:            metrics,
		MessageBus:         messageBus,
		JobManager:         jobManager,
		PropertySimilarity: propertySimilarity,
		UserSimilarity:     userSimilarity,
		Recommendations:    recommendations,
		PassRunner:         passRunner,
		Scheduler:          scheduler,
		RateLimiter:        rateLimiter,
	}, nil
}

// similarityStore layers the optional graph mirror and neighbor cache over
// the PostgreSQL edge tables.
func similarityStore(cfg *config.Config, db *database.Database, logger *logrus.Logger) SimilarityStore {
	var store SimilarityStore = postgres.NewSimilarityRepository(db.PG, logger)

	if db.Neo4j != nil {
		store = graph.NewMirror(store, graph.NewNeo4jSink(db.Neo4j, cfg.Neo4j.Database), logger)
	}

	if caching := cfg.Recommendation.Caching; caching.Enabled {
		store = cache.NewNeighborCache(store, db.Redis.Cache, caching.NeighborsTTL, logger)
	}
	return store
}

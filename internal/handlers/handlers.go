package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Pass           *PassHandler
	Recommendation *RecommendationHandler
	Similarity     *SimilarityHandler
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Pass:           NewPassHandler(services.MessageBus, services.JobManager, logger),
		Recommendation: NewRecommendationHandler(services.Recommendations, logger),
		Similarity:     NewSimilarityHandler(services.UserSimilarity, logger),
	}
}

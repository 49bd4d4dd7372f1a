package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/services"
)

type RecommendationHandler struct {
	recommender services.Recommender
	logger      *logrus.Logger
}

type RecommendationResponse struct {
	UserID      int64   `json:"user_id,omitempty"`
	PropertyID  int64   `json:"property_id,omitempty"`
	Strategy    string  `json:"strategy"`
	PropertyIDs []int64 `json:"property_ids"`
	Count       int     `json:"count"`
}

func NewRecommendationHandler(recommender services.Recommender, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// ForUser serves GET /users/:userId/recommendations?strategy=&limit=.
func (h *RecommendationHandler) ForUser(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	limit := parseLimit(c)

	var strategy func(context.Context, int64, int) ([]int64, error)
	name := c.DefaultQuery("strategy", "guess")
	switch name {
	case "guess":
		strategy = h.recommender.GuessYouLike
	case "preference":
		strategy = h.recommender.RecommendByPreference
	case "cf":
		strategy = h.recommender.RecommendByCollaborative
	case "also_viewed":
		strategy = h.recommender.OtherUsersAlsoViewed
	default:
		c.JSON(http.StatusBadRequest, errorBody("INVALID_STRATEGY", "Unknown strategy "+name))
		return
	}

	ids, err := strategy(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err, logrus.Fields{"user_id": userID, "strategy": name})
		return
	}

	c.JSON(http.StatusOK, RecommendationResponse{
		UserID:      userID,
		Strategy:    name,
		PropertyIDs: ids,
		Count:       len(ids),
	})
}

func (h *RecommendationHandler) Popular(c *gin.Context) {
	ids, err := h.recommender.RecommendByPopularity(c.Request.Context(), parseLimit(c))
	if err != nil {
		h.fail(c, err, logrus.Fields{"strategy": "popularity"})
		return
	}

	c.JSON(http.StatusOK, RecommendationResponse{
		Strategy:    "popularity",
		PropertyIDs: ids,
		Count:       len(ids),
	})
}

func (h *RecommendationHandler) SimilarProperties(c *gin.Context) {
	propertyID, ok := parseID(c, "propertyId")
	if !ok {
		return
	}

	ids, err := h.recommender.RecommendSimilarProperties(c.Request.Context(), propertyID, parseLimit(c))
	if err != nil {
		h.fail(c, err, logrus.Fields{"property_id": propertyID, "strategy": "similar"})
		return
	}

	c.JSON(http.StatusOK, RecommendationResponse{
		PropertyID:  propertyID,
		Strategy:    "similar",
		PropertyIDs: ids,
		Count:       len(ids),
	})
}

func (h *RecommendationHandler) fail(c *gin.Context, err error, fields logrus.Fields) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(fields).Error("Failed to generate recommendations")
		c.JSON(status, errorBody(code, "Failed to generate recommendations"))
		return
	}
	c.JSON(status, errorBody(code, err.Error()))
}

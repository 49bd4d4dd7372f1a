package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// PairScorer computes the composite similarity of two users.
type PairScorer interface {
	PairSimilarity(ctx context.Context, userID1, userID2 int64) (*models.PairSimilarity, error)
}

type SimilarityHandler struct {
	scorer PairScorer
	logger *logrus.Logger
}

func NewSimilarityHandler(scorer PairScorer, logger *logrus.Logger) *SimilarityHandler {
	return &SimilarityHandler{scorer: scorer, logger: logger}
}

func (h *SimilarityHandler) Pair(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	otherID, ok := parseID(c, "otherUserId")
	if !ok {
		return
	}

	pair, err := h.scorer.PairSimilarity(c.Request.Context(), userID, otherID)
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"user_id1": userID,
				"user_id2": otherID,
			}).Error("Failed to compute pair similarity")
		}
		c.JSON(status, errorBody(code, "Pair similarity not available"))
		return
	}

	c.JSON(http.StatusOK, pair)
}

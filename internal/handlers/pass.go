package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/middleware"
	"github.com/temcen/homerec/pkg/models"
)

// PassPublisher enqueues pass triggers for the runners.
type PassPublisher interface {
	PublishPassTrigger(ctx context.Context, jobID uuid.UUID, kind string) error
}

// JobTracker is the job surface used by the pass API.
type JobTracker interface {
	CreateJob(ctx context.Context, kind, requestedBy string) (*models.PassJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error)
	FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error
}

type PassHandler struct {
	publisher PassPublisher
	jobs      JobTracker
	logger    *logrus.Logger
}

type PassResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Kind    string    `json:"kind"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

type passRequest struct {
	Kind string `json:"kind" binding:"required"`
}

func NewPassHandler(publisher PassPublisher, jobs JobTracker, logger *logrus.Logger) *PassHandler {
	return &PassHandler{
		publisher: publisher,
		jobs:      jobs,
		logger:    logger,
	}
}

// Trigger enqueues a recomputation pass and returns its job.
func (h *PassHandler) Trigger(c *gin.Context) {
	var request passRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_JSON", "Body must be {\"kind\": <pass kind>}"))
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobs.CreateJob(ctx, request.Kind, middleware.GetSubject(c))
	if err != nil {
		h.logger.WithError(err).WithField("kind", request.Kind).Error("Failed to create job")
		status, code := statusFor(err)
		if status == http.StatusConflict {
			status, code = http.StatusBadRequest, "INVALID_PASS_KIND"
		}
		c.JSON(status, errorBody(code, "Failed to create pass job"))
		return
	}

	if err := h.publisher.PublishPassTrigger(ctx, job.JobID, job.Kind); err != nil {
		h.logger.WithError(err).WithField("job_id", job.JobID).Error("Failed to enqueue pass")
		if failErr := h.jobs.FailJob(ctx, job.JobID, "failed to enqueue: "+err.Error()); failErr != nil {
			h.logger.WithError(failErr).WithField("job_id", job.JobID).Warn("Failed to mark job failed")
		}
		c.JSON(http.StatusServiceUnavailable, errorBody("QUEUE_UNAVAILABLE", "Failed to enqueue pass"))
		return
	}

	c.JSON(http.StatusAccepted, PassResponse{
		JobID:   job.JobID,
		Kind:    job.Kind,
		Status:  job.Status,
		Message: "Pass queued",
	})
}

func (h *PassHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to get job")
		}
		c.JSON(status, errorBody(code, "Job not available"))
		return
	}

	c.JSON(http.StatusOK, job)
}

// Cancel cancels a job that has not started.
func (h *PassHandler) Cancel(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, errorBody(code, err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"subject": middleware.GetSubject(c),
	}).Info("Job cancelled")
	c.JSON(http.StatusOK, job)
}

func (h *PassHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_JOB_ID", "Invalid job ID format"))
		return uuid.Nil, false
	}
	return jobID, true
}

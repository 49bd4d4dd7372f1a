package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// JobStore persists pass jobs. Load returns models.ErrNotFound for an unknown
// or expired id.
type JobStore interface {
	Save(ctx context.Context, job *models.PassJob) error
	Load(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error)
}

// JobManager moves pass jobs through queued, processing and one terminal
// status. Terminal jobs are never reopened.
type JobManager struct {
	store  JobStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewJobManager(store JobStore, logger *logrus.Logger) *JobManager {
	return &JobManager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (jm *JobManager) CreateJob(ctx context.Context, kind, requestedBy string) (*models.PassJob, error) {
	if !IsPassKind(kind) {
		return nil, fmt.Errorf("%w: unknown pass kind %q", models.ErrInvalidRecord, kind)
	}

	now := jm.now()
	job := &models.PassJob{
		JobID:       uuid.New(),
		Kind:        kind,
		Status:      models.JobStatusQueued,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := jm.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id":       job.JobID,
		"kind":         kind,
		"requested_by": requestedBy,
	}).Info("Job created")

	return job, nil
}

func (jm *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error) {
	job, err := jm.store.Load(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// StartJob marks the job processing and counts the attempt. It returns false
// when the job is already terminal, for example cancelled while queued.
func (jm *JobManager) StartJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	started := false
	err := jm.update(ctx, jobID, func(job *models.PassJob) {
		job.Status = models.JobStatusProcessing
		job.Attempts++
		started = true
	})
	return started, err
}

// CompleteJob stores pass outcomes. The job fails when every pass failed.
func (jm *JobManager) CompleteJob(ctx context.Context, jobID uuid.UUID, results map[string]PassResult) error {
	return jm.update(ctx, jobID, func(job *models.PassJob) {
		job.Reports = make(map[string]*models.BatchReport, len(results))
		failed := 0
		for pass, res := range results {
			if res.Err != nil {
				if job.Failures == nil {
					job.Failures = make(map[string]string)
				}
				job.Failures[pass] = res.Message()
				failed++
			}
			if res.Report != nil {
				job.Reports[pass] = res.Report
			}
		}

		job.Status = models.JobStatusCompleted
		if len(results) > 0 && failed == len(results) {
			job.Status = models.JobStatusFailed
			msg := fmt.Sprintf("%d of %d passes failed", failed, len(results))
			job.ErrorMessage = &msg
		}
	})
}

func (jm *JobManager) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	return jm.update(ctx, jobID, func(job *models.PassJob) {
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &errorMessage
	})
}

// CancelJob cancels a queued job. Running passes are not interrupted.
func (jm *JobManager) CancelJob(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error) {
	job, err := jm.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusQueued {
		return job, fmt.Errorf("%w: job %s is %s", models.ErrInvalidRecord, jobID, job.Status)
	}

	job.Status = models.JobStatusCancelled
	job.UpdatedAt = jm.now()
	if err := jm.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}
	return job, nil
}

func (jm *JobManager) update(ctx context.Context, jobID uuid.UUID, apply func(*models.PassJob)) error {
	job, err := jm.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Terminal() {
		jm.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"status": job.Status,
		}).Debug("Ignoring update to finished job")
		return nil
	}

	apply(job)
	job.UpdatedAt = jm.now()

	if err := jm.store.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"status":   job.Status,
		"attempts": job.Attempts,
	}).Debug("Job updated")

	return nil
}

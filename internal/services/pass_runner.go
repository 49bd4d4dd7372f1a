package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// PassRunner executes pass kinds against the engines and records the outcome
// on the job.
type PassRunner struct {
	properties PropertySimilarityComputer
	users      UserSimilarityComputer
	jobs       *JobManager
	logger     *logrus.Logger
}

func NewPassRunner(properties PropertySimilarityComputer, users UserSimilarityComputer, jobs *JobManager, logger *logrus.Logger) *PassRunner {
	return &PassRunner{
		properties: properties,
		users:      users,
		jobs:       jobs,
		logger:     logger,
	}
}

// RunPass runs one pass kind. Orchestrating kinds return one result per
// sub-pass.
func (r *PassRunner) RunPass(ctx context.Context, kind string) (map[string]PassResult, error) {
	single := func(run func(context.Context) (*models.BatchReport, error)) map[string]PassResult {
		report, err := run(ctx)
		return map[string]PassResult{kind: {Report: report, Err: err}}
	}

	switch kind {
	case PassPropertyContent:
		return single(r.properties.ComputeContentSimilarity), nil
	case PassPropertyBehavior:
		return single(r.properties.ComputeBehaviorSimilarity), nil
	case PassPropertyAll:
		return r.properties.ComputeAll(ctx), nil
	case PassUserContent:
		return single(r.users.ComputeContentSimilarity), nil
	case PassUserBehavior:
		return single(r.users.ComputeBehaviorSimilarity), nil
	case PassUserComprehensive:
		return r.users.ComputeComprehensive(ctx), nil
	default:
		return nil, fmt.Errorf("%w: unknown pass kind %q", models.ErrInvalidRecord, kind)
	}
}

// Run executes the job. A pass rejected because another one of its class is
// running is returned as an error so the caller can retry, unless final is
// set, in which case the job fails.
func (r *PassRunner) Run(ctx context.Context, jobID uuid.UUID, kind string, final bool) error {
	started, err := r.jobs.StartJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !started {
		r.logger.WithField("job_id", jobID).Info("Skipping finished job")
		return nil
	}

	results, err := r.RunPass(ctx, kind)
	if err != nil {
		if failErr := r.jobs.FailJob(ctx, jobID, err.Error()); failErr != nil {
			r.logger.WithError(failErr).WithField("job_id", jobID).Warn("Failed to mark job failed")
		}
		return err
	}

	if !final && allInProgress(results) {
		return fmt.Errorf("job %s: %w", jobID, models.ErrPassInProgress)
	}

	if err := r.jobs.CompleteJob(ctx, jobID, results); err != nil {
		return err
	}

	fields := logrus.Fields{"job_id": jobID, "kind": kind}
	for pass, res := range results {
		if res.Err != nil {
			r.logger.WithError(res.Err).WithFields(fields).WithField("pass", pass).Warn("Pass failed")
		}
	}
	r.logger.WithFields(fields).Info("Job finished")
	return nil
}

func allInProgress(results map[string]PassResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if !errors.Is(res.Err, models.ErrPassInProgress) {
			return false
		}
	}
	return true
}

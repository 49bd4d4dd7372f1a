package services

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
)

// Scheduler runs the full property and user recomputations on cron specs.
type Scheduler struct {
	cron   *cron.Cron
	runner *PassRunner
	jobs   *JobManager
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg config.SchedulerConfig, runner *PassRunner, jobs *JobManager, logger *logrus.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		jobs:   jobs,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	entries := []struct {
		spec string
		kind string
	}{
		{cfg.PropertySpec, PassPropertyAll},
		{cfg.UserSpec, PassUserComprehensive},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		kind := e.kind
		if _, err := s.cron.AddFunc(e.spec, func() { s.trigger(kind) }); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule %s with %q: %w", kind, e.spec, err)
		}
		logger.WithFields(logrus.Fields{
			"kind": kind,
			"spec": e.spec,
		}).Info("Scheduled similarity pass")
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running passes and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) trigger(kind string) {
	job, err := s.jobs.CreateJob(s.ctx, kind, "scheduler")
	if err != nil {
		s.logger.WithError(err).WithField("kind", kind).Error("Failed to create scheduled job")
		return
	}

	if err := s.runner.Run(s.ctx, job.JobID, kind, true); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": job.JobID,
			"kind":   kind,
		}).Error("Scheduled pass failed")
	}
}

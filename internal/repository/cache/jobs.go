package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/temcen/homerec/pkg/models"
)

// FinishedJobTTL is how long a terminal job stays readable.
const FinishedJobTTL = 24 * time.Hour

// JobStore keeps pass jobs as JSON under job:<uuid>.
type JobStore struct {
	redis redis.Cmdable
}

func NewJobStore(client redis.Cmdable) *JobStore {
	return &JobStore{redis: client}
}

func jobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID.String())
}

func (s *JobStore) Save(ctx context.Context, job *models.PassJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// active jobs never expire
	ttl := time.Duration(0)
	if job.Terminal() {
		ttl = FinishedJobTTL
	}

	if err := s.redis.Set(ctx, jobKey(job.JobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job in Redis: %w", err)
	}
	return nil
}

func (s *JobStore) Load(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job from Redis: %w", err)
	}

	var job models.PassJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

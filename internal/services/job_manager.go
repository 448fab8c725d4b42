package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Maintenance job types.
const (
	JobTypeTrain     = "train"
	JobTypeRescore   = "rescore"
	JobTypeReconcile = "reconcile"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const finishedJobTTL = 24 * time.Hour

// Job tracks one asynchronous maintenance run.
type Job struct {
	ID           uuid.UUID   `json:"job_id"`
	Type         string      `json:"type"`
	Status       string      `json:"status"`
	Result       interface{} `json:"result,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (j *Job) finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobFunc performs the work of a job and returns its result.
type JobFunc func(ctx context.Context) (interface{}, error)

// JobManager runs maintenance jobs in the background. Job state lives in
// process memory and is mirrored to Redis when a client is configured, so
// any instance can report on it.
type JobManager struct {
	redis  *redis.Client
	logger *logrus.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	wg   sync.WaitGroup

	// one running job per type
	running map[string]uuid.UUID
}

// ErrJobRunning is returned when a job of the same type is still running.
var ErrJobRunning = errors.New("a job of this type is already running")

func NewJobManager(redisClient *redis.Client, logger *logrus.Logger) *JobManager {
	return &JobManager{
		redis:   redisClient,
		logger:  logger,
		jobs:    make(map[uuid.UUID]*Job),
		running: make(map[string]uuid.UUID),
	}
}

// Start queues fn under jobType and runs it on a background goroutine. The
// job keeps ctx's values but outlives its cancellation, so a job started from
// a request survives the response. It returns a snapshot of the queued job.
func (jm *JobManager) Start(ctx context.Context, jobType string, fn JobFunc) (*Job, error) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	job := &Job{
		ID:        uuid.New(),
		Type:      jobType,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	jm.mu.Lock()
	if id, busy := jm.running[jobType]; busy {
		jm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	jm.running[jobType] = job.ID
	jm.jobs[job.ID] = job
	snapshot := *job
	jm.mu.Unlock()

	jm.mirror(ctx, &snapshot)
	jm.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": jobType,
	}).Info("Job queued")

	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		jm.run(ctx, job.ID, fn)
	}()

	return &snapshot, nil
}

func (jm *JobManager) run(ctx context.Context, id uuid.UUID, fn JobFunc) {
	jm.update(ctx, id, func(j *Job) { j.Status = JobStatusProcessing })

	start := time.Now()
	result, err := fn(ctx)

	jm.update(ctx, id, func(j *Job) {
		j.Result = result
		if err != nil {
			j.Status = JobStatusFailed
			j.ErrorMessage = err.Error()
		} else {
			j.Status = JobStatusCompleted
		}
	})

	entry := jm.logger.WithFields(logrus.Fields{
		"job_id":   id,
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Error("Job failed")
	} else {
		entry.Info("Job completed")
	}
}

func (jm *JobManager) update(ctx context.Context, id uuid.UUID, mutate func(*Job)) {
	jm.mu.Lock()
	job, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return
	}
	mutate(job)
	job.UpdatedAt = time.Now()
	if job.finished() {
		delete(jm.running, job.Type)
	}
	snapshot := *job
	jm.mu.Unlock()

	jm.mirror(ctx, &snapshot)
}

// Get returns a job from memory, falling back to Redis for jobs started by
// another instance.
func (jm *JobManager) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	jm.mu.RLock()
	job, ok := jm.jobs[id]
	if ok {
		snapshot := *job
		jm.mu.RUnlock()
		return &snapshot, nil
	}
	jm.mu.RUnlock()

	if jm.redis == nil {
		return nil, ErrNotFound
	}
	data, err := jm.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var remote Job
	if err := json.Unmarshal(data, &remote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &remote, nil
}

// List returns this instance's jobs, newest first.
func (jm *JobManager) List() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, j := range jm.jobs {
		snapshot := *j
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs
}

// Cleanup forgets finished jobs last updated before olderThan ago.
func (jm *JobManager) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	jm.mu.Lock()
	defer jm.mu.Unlock()

	removed := 0
	for id, j := range jm.jobs {
		if j.finished() && j.UpdatedAt.Before(cutoff) {
			delete(jm.jobs, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until every started job has returned.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

func jobKey(id uuid.UUID) string {
	return fmt.Sprintf("job:%s", id.String())
}

func (jm *JobManager) mirror(ctx context.Context, job *Job) {
	if jm.redis == nil {
		return
	}

	data, err := json.Marshal(job)
	if err != nil {
		jm.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to marshal job")
		return
	}

	// finished jobs expire, active ones stay until they finish
	ttl := time.Duration(0)
	if job.finished() {
		ttl = finishedJobTTL
	}
	if err := jm.redis.Set(ctx, jobKey(job.ID), data, ttl).Err(); err != nil {
		jm.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to store job in Redis")
	}
}

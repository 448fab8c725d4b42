package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobManager_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	jm := NewJobManager(nil, testLogger())

	job, err := jm.Start(ctx, JobTypeRescore, func(ctx context.Context) (interface{}, error) {
		return map[string]int{"updated": 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)

	jm.Wait()

	got, err := jm.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, map[string]int{"updated": 3}, got.Result)
	assert.Empty(t, got.ErrorMessage)
}

func TestJobManager_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	jm := NewJobManager(nil, testLogger())

	job, err := jm.Start(ctx, JobTypeTrain, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("weights not persisted")
	})
	require.NoError(t, err)
	jm.Wait()

	got, err := jm.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "weights not persisted", got.ErrorMessage)
}

func TestJobManager_OneRunningJobPerType(t *testing.T) {
	ctx := context.Background()
	jm := NewJobManager(nil, testLogger())

	release := make(chan struct{})
	_, err := jm.Start(ctx, JobTypeReconcile, func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = jm.Start(ctx, JobTypeReconcile, func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrJobRunning)

	// other types are independent
	_, err = jm.Start(ctx, JobTypeRescore, func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.NoError(t, err)

	close(release)
	jm.Wait()

	_, err = jm.Start(ctx, JobTypeReconcile, func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.NoError(t, err)
	jm.Wait()

	assert.Len(t, jm.List(), 3)
}

func TestJobManager_GetUnknown(t *testing.T) {
	jm := NewJobManager(nil, testLogger())
	_, err := jm.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	jm := NewJobManager(nil, testLogger())

	_, err := jm.Start(ctx, JobTypeRescore, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	jm.Wait()

	assert.Equal(t, 0, jm.Cleanup(time.Hour))
	assert.Equal(t, 1, jm.Cleanup(-time.Second))
	assert.Empty(t, jm.List())
}

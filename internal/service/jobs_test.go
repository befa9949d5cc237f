package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
	"github.com/chronoshq/chronos/internal/storage/memory"
)

func newService() (*JobService, *memory.Store) {
	store := memory.New()
	return NewJobService(store, nil), store
}

func futureOneTime(name string) *domain.Job {
	at := time.Now().UTC().Add(time.Hour)
	return &domain.Job{
		Name:         name,
		Kind:         domain.JobKindOneTime,
		TaskType:     "echo",
		ScheduleTime: &at,
	}
}

func TestCreateRejectsPastOneTime(t *testing.T) {
	svc, _ := newService()

	at := time.Now().UTC().Add(-time.Minute)
	_, err := svc.Create(context.Background(), &domain.Job{
		Name:         "past job",
		Kind:         domain.JobKindOneTime,
		TaskType:     "echo",
		ScheduleTime: &at,
	})
	require.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestCreateDependencyValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	missing := "00000000-0000-0000-0000-000000000000"
	child := futureOneTime("orphan child")
	child.DependsOnJobID = &missing
	_, err := svc.Create(ctx, child)
	require.ErrorIs(t, err, domain.ErrInvalidJob)

	parent, err := svc.Create(ctx, futureOneTime("parent job"))
	require.NoError(t, err)

	child = futureOneTime("waiting child")
	child.DependsOnJobID = &parent.ID
	created, err := svc.Create(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusWaiting, created.Status)

	// Dependencies on cancelled parents are rejected.
	_, err = svc.Cancel(ctx, parent.ID)
	require.NoError(t, err)

	child = futureOneTime("late child")
	child.DependsOnJobID = &parent.ID
	_, err = svc.Create(ctx, child)
	require.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestCreateDependencyOnCompletedParent(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	at := time.Now().UTC()
	parent := &domain.Job{
		Name:         "finished parent",
		Kind:         domain.JobKindOneTime,
		TaskType:     "echo",
		ScheduleTime: &at,
	}
	_, err := svc.Create(ctx, parent)
	require.NoError(t, err)

	// Run the parent to completion through the claim protocol.
	claimed, err := store.ClaimNextDueJob(ctx, "w1", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = store.MarkJobRunning(ctx, claimed.ID, "w1", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, storage.CompleteParams{
		JobID: claimed.ID, WorkerID: "w1", FinishedAt: time.Now().UTC(),
	}))

	child := futureOneTime("child of finished parent")
	child.DependsOnJobID = &parent.ID
	created, err := svc.Create(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, created.Status, "completed parents do not block children")
	assert.Nil(t, created.DependsOnJobID)
}

func TestGetResolvesBothIDForms(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, futureOneTime("lookup job"))
	require.NoError(t, err)

	byUUID, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byUUID.ID)

	bySeq, err := svc.Get(ctx, created.JobID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySeq.ID)
}

func TestUpdateAndDelete(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, futureOneTime("editable job"))
	require.NoError(t, err)

	name := "renamed job"
	updated, err := svc.Update(ctx, created.JobID, storage.JobUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	require.NoError(t, svc.Delete(ctx, created.ID))

	got, err := store.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	page, err := svc.List(ctx, domain.ListJobsParams{})
	require.NoError(t, err)
	assert.Empty(t, page.Jobs, "inactive jobs are hidden by default")
}

func TestPauseResumeCancelFlow(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, futureOneTime("lifecycle job"))
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, paused.Status)

	resumed, err := svc.Resume(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, resumed.Status)

	cancelled, err := svc.Cancel(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrJobNotCancellable)
}

func TestStatsOverview(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, futureOneTime("stats job a"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, futureOneTime("stats job b"))
	require.NoError(t, err)

	overview, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, overview.ByStatus, 1)
	assert.EqualValues(t, 2, overview.ByStatus[0].Count)
	assert.Zero(t, overview.DueJobs, "future jobs are not due")
	assert.False(t, overview.GeneratedAt.IsZero())
}

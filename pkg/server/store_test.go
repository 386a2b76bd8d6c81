package server

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
)

func newClockedStore() *MemoryStore {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newClockedStore()
	job := &Job{ID: uuid.New(), Topic: "topic", Config: JobConfig{MaxRounds: 2}}

	require.NoError(t, s.CreateJob(ctx, job))
	assert.Equal(t, StatusPending, job.Status)

	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusRunning, ""))
	require.NoError(t, s.SaveProgress(ctx, job.ID, research.Event{Round: 1, Phase: research.PhaseSearching}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.Progress)
	assert.Equal(t, research.PhaseSearching, got.Progress.Phase)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	result := &research.ResearchResult{Topic: "topic", FinalReport: "# report"}
	require.NoError(t, s.CompleteJob(ctx, job.ID, result))

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, "# report", *got.Report)
	assert.Same(t, result, got.Result)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := &Job{ID: uuid.New(), Topic: "original"}
	require.NoError(t, s.CreateJob(ctx, job))

	job.Topic = "changed by caller"
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Topic)
	assert.Equal(t, StatusPending, again.Status)
}

func TestMemoryStoreUnknownJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := uuid.New()

	_, err := s.GetJob(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, id, StatusRunning, ""), ErrJobNotFound)
	assert.ErrorIs(t, s.AppendLog(ctx, id, LogEntry{Message: "x"}), ErrJobNotFound)
	_, err = s.GetLogs(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newClockedStore()
	var ids []uuid.UUID
	for _, topic := range []string{"a", "b", "c"} {
		job := &Job{ID: uuid.New(), Topic: topic}
		require.NoError(t, s.CreateJob(ctx, job))
		ids = append(ids, job.ID)
	}

	jobs, err := s.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
}

func TestMemoryStoreLogs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := &Job{ID: uuid.New(), Topic: "t"}
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.AppendLog(ctx, job.ID, LogEntry{Level: "INFO", Message: "first"}))
	require.NoError(t, s.AppendLog(ctx, job.ID, LogEntry{Level: "WARN", Message: "second"}))

	logs, err := s.GetLogs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 1, logs[0].ID)
	assert.Equal(t, "second", logs[1].Message)
}

func TestMemoryStoreMarkInterrupted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	statuses := []JobStatus{StatusPending, StatusRunning, StatusCompleted, StatusCancelled}
	ids := make([]uuid.UUID, len(statuses))
	for i, st := range statuses {
		job := &Job{ID: uuid.New(), Topic: string(st), Status: st}
		require.NoError(t, s.CreateJob(ctx, job))
		ids[i] = job.ID
	}

	n, err := s.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for i, want := range []JobStatus{StatusFailed, StatusFailed, StatusCompleted, StatusCancelled} {
		job, err := s.GetJob(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, job.Status, statuses[i])
		if want == StatusFailed {
			require.NotNil(t, job.Error)
			assert.Contains(t, *job.Error, "interrupted")
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

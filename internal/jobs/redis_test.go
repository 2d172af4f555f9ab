package jobs_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/jobs"
	"github.com/nhle/mailpipe/internal/model"
)

func newRedisTracker(t *testing.T) (*jobs.RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	tracker, err := jobs.NewRedisTracker("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })
	require.NoError(t, tracker.Ping(context.Background()))
	return tracker, mr
}

func TestRedisTrackerLifecycle(t *testing.T) {
	tracker, mr := newRedisTracker(t)
	ctx := context.Background()

	job := model.Job{ID: "job-1", Kind: model.JobClassify, MessageID: 7, State: model.JobPending}
	require.NoError(t, tracker.Create(ctx, job))

	busy, err := tracker.InFlight(ctx, 7, model.JobClassify)
	require.NoError(t, err)
	assert.True(t, busy)
	busy, err = tracker.InFlight(ctx, 7, model.JobSummarize)
	require.NoError(t, err)
	assert.False(t, busy)

	job.State = model.JobRunning
	job.Attempts = 1
	require.NoError(t, tracker.Update(ctx, job))

	incomplete, err := tracker.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "job-1", incomplete[0].ID)
	assert.Equal(t, model.JobRunning, incomplete[0].State)
	assert.Equal(t, 1, incomplete[0].Attempts)
	assert.Equal(t, int64(7), incomplete[0].MessageID)

	job.State = model.JobDone
	require.NoError(t, tracker.Update(ctx, job))

	busy, err = tracker.InFlight(ctx, 7, model.JobClassify)
	require.NoError(t, err)
	assert.False(t, busy)
	assert.False(t, mr.Exists("mailpipe:inflight:7:classify"))

	incomplete, err = tracker.Incomplete(ctx)
	require.NoError(t, err)
	assert.Empty(t, incomplete)
	members, _ := mr.SMembers("mailpipe:jobs:incomplete")
	assert.Empty(t, members)

	got, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobDone, got.State)
	assert.Equal(t, 24*time.Hour, mr.TTL("mailpipe:job:job-1"))
}

func TestRedisTrackerFailedJobLeavesIncompleteSet(t *testing.T) {
	tracker, mr := newRedisTracker(t)
	ctx := context.Background()

	job := model.Job{ID: "job-2", Kind: model.JobSummarize, MessageID: 3, State: model.JobPending}
	require.NoError(t, tracker.Create(ctx, job))

	job.State = model.JobFailed
	job.Attempts = 3
	job.Error = "quota"
	require.NoError(t, tracker.Update(ctx, job))

	assert.False(t, mr.Exists("mailpipe:inflight:3:summarize"))
	got, err := tracker.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "quota", got.Error)
	assert.Equal(t, 3, got.Attempts)
}

func TestRedisTrackerUnknownJob(t *testing.T) {
	tracker, _ := newRedisTracker(t)
	ctx := context.Background()

	err := tracker.Update(ctx, model.Job{ID: "missing", State: model.JobDone})
	assert.True(t, errors.Is(err, jobs.ErrUnknownJob))

	_, err = tracker.Get(ctx, "missing")
	assert.True(t, errors.Is(err, jobs.ErrUnknownJob))
}

func TestRedisTrackerIncompleteSkipsExpiredJobs(t *testing.T) {
	tracker, mr := newRedisTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Create(ctx, model.Job{ID: "gone", Kind: model.JobClassify, MessageID: 1, State: model.JobPending}))
	require.NoError(t, tracker.Create(ctx, model.Job{ID: "kept", Kind: model.JobClassify, MessageID: 2, State: model.JobPending}))
	mr.Del("mailpipe:job:gone")

	incomplete, err := tracker.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "kept", incomplete[0].ID)
}

func TestPoolRecoversFromRedis(t *testing.T) {
	tracker, _ := newRedisTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Create(ctx, model.Job{
		ID: "left-over", Kind: model.JobClassify, MessageID: 11,
		State: model.JobRunning, Attempts: 1,
	}))

	p := jobs.NewPool(tracker, jobs.Options{
		Workers:     1,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Logger:      log.New(io.Discard),
	})
	var seen atomic.Int64
	p.Handle(model.JobClassify, func(_ context.Context, job model.Job) error {
		seen.Store(job.MessageID)
		return nil
	})
	p.Start(ctx)
	t.Cleanup(p.Stop)

	n, err := p.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := waitFor(t, p, "left-over")
	assert.Equal(t, model.JobDone, got[0].State)
	assert.Equal(t, int64(11), seen.Load())

	busy, err := tracker.InFlight(ctx, 11, model.JobClassify)
	require.NoError(t, err)
	assert.False(t, busy)
}

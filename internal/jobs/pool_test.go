package jobs_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/jobs"
	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/tests/testutil"
)

func newPool(t *testing.T) (*jobs.Pool, *jobs.StoreTracker) {
	t.Helper()
	tracker := jobs.NewStoreTracker(testutil.NewTestStore(t))
	p := jobs.NewPool(tracker, jobs.Options{
		Workers:     2,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Logger:      log.New(io.Discard),
	})
	return p, tracker
}

func waitFor(t *testing.T, p *jobs.Pool, ids ...string) []model.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := p.Wait(ctx, 5*time.Millisecond, ids...)
	require.NoError(t, err)
	return got
}

func TestPoolRunsJob(t *testing.T) {
	p, _ := newPool(t)
	var seen atomic.Int64
	p.Handle(model.JobClassify, func(_ context.Context, job model.Job) error {
		seen.Store(job.MessageID)
		return nil
	})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	id, err := p.Enqueue(context.Background(), model.JobClassify, 42)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	got := waitFor(t, p, id)
	assert.Equal(t, model.JobDone, got[0].State)
	assert.Equal(t, 1, got[0].Attempts)
	assert.Equal(t, int64(42), seen.Load())
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	p, _ := newPool(t)
	var calls atomic.Int32
	p.Handle(model.JobSummarize, func(context.Context, model.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	id, err := p.Enqueue(context.Background(), model.JobSummarize, 1)
	require.NoError(t, err)

	got := waitFor(t, p, id)
	assert.Equal(t, model.JobDone, got[0].State)
	assert.Equal(t, 3, got[0].Attempts)
	assert.Empty(t, got[0].Error)
}

func TestPoolGivesUpAfterMaxAttempts(t *testing.T) {
	p, _ := newPool(t)
	p.Handle(model.JobClassify, func(context.Context, model.Job) error {
		return errors.New("still broken")
	})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	id, err := p.Enqueue(context.Background(), model.JobClassify, 1)
	require.NoError(t, err)

	got := waitFor(t, p, id)
	assert.Equal(t, model.JobFailed, got[0].State)
	assert.Equal(t, 3, got[0].Attempts)
	assert.Equal(t, "still broken", got[0].Error)
}

func TestPoolPermanentErrorIsNotRetried(t *testing.T) {
	p, _ := newPool(t)
	var calls atomic.Int32
	p.Handle(model.JobClassify, func(context.Context, model.Job) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("message gone"))
	})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	id, err := p.Enqueue(context.Background(), model.JobClassify, 1)
	require.NoError(t, err)

	got := waitFor(t, p, id)
	assert.Equal(t, model.JobFailed, got[0].State)
	assert.Equal(t, 1, got[0].Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoolFailsUnknownKind(t *testing.T) {
	p, _ := newPool(t)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	id, err := p.Enqueue(context.Background(), model.JobSummarize, 1)
	require.NoError(t, err)

	got := waitFor(t, p, id)
	assert.Equal(t, model.JobFailed, got[0].State)
	assert.Contains(t, got[0].Error, "no handler")
}

func TestPoolInFlight(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()

	_, err := p.Enqueue(ctx, model.JobClassify, 7)
	require.NoError(t, err)

	inFlight, err := p.InFlight(ctx, 7, model.JobClassify)
	require.NoError(t, err)
	assert.True(t, inFlight)

	inFlight, err = p.InFlight(ctx, 7, model.JobSummarize)
	require.NoError(t, err)
	assert.False(t, inFlight)
}

func TestPoolRecoverRedispatchesUnfinishedJobs(t *testing.T) {
	p, tracker := newPool(t)
	ctx := context.Background()

	crashed := model.Job{ID: uuid.NewString(), Kind: model.JobClassify, MessageID: 9, State: model.JobRunning, Attempts: 1}
	require.NoError(t, tracker.Create(ctx, crashed))
	done := model.Job{ID: uuid.NewString(), Kind: model.JobClassify, MessageID: 10, State: model.JobDone, Attempts: 1}
	require.NoError(t, tracker.Create(ctx, done))

	var calls atomic.Int32
	p.Handle(model.JobClassify, func(context.Context, model.Job) error {
		calls.Add(1)
		return nil
	})

	n, err := p.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p.Start(ctx)
	t.Cleanup(p.Stop)

	got := waitFor(t, p, crashed.ID)
	assert.Equal(t, model.JobDone, got[0].State)
	assert.Equal(t, 2, got[0].Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoolStatusUnknownJob(t *testing.T) {
	p, _ := newPool(t)

	_, err := p.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, jobs.ErrUnknownJob)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p, _ := newPool(t)
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}

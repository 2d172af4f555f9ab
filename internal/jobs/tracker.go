// Package jobs runs annotation work on a bounded set of workers and
// tracks every job's state so crashed work can be recovered.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/store"
)

// ErrUnknownJob is returned for job ids the tracker has never seen.
var ErrUnknownJob = errors.New("unknown job")

// Tracker persists job state.
type Tracker interface {
	Create(ctx context.Context, job model.Job) error
	Update(ctx context.Context, job model.Job) error
	Get(ctx context.Context, id string) (model.Job, error)
	InFlight(ctx context.Context, messageID int64, kind model.JobKind) (bool, error)
	Incomplete(ctx context.Context) ([]model.Job, error)
}

// JobStore is the slice of store.Store the SQLite tracker needs.
type JobStore interface {
	CreateJob(ctx context.Context, job model.Job) error
	UpdateJob(ctx context.Context, id string, state model.JobState, attempts int, errMsg string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	InFlightJob(ctx context.Context, messageID int64, kind model.JobKind) (bool, error)
	ListIncompleteJobs(ctx context.Context) ([]model.Job, error)
}

// StoreTracker keeps job state in the jobs table.
type StoreTracker struct {
	store JobStore
}

// NewStoreTracker returns a Tracker backed by s.
func NewStoreTracker(s JobStore) *StoreTracker {
	return &StoreTracker{store: s}
}

func (t *StoreTracker) Create(ctx context.Context, job model.Job) error {
	return t.store.CreateJob(ctx, job)
}

func (t *StoreTracker) Update(ctx context.Context, job model.Job) error {
	err := t.store.UpdateJob(ctx, job.ID, job.State, job.Attempts, job.Error)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.ID)
	}
	return err
}

func (t *StoreTracker) Get(ctx context.Context, id string) (model.Job, error) {
	job, err := t.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if err != nil {
		return model.Job{}, err
	}
	return *job, nil
}

func (t *StoreTracker) InFlight(ctx context.Context, messageID int64, kind model.JobKind) (bool, error) {
	return t.store.InFlightJob(ctx, messageID, kind)
}

func (t *StoreTracker) Incomplete(ctx context.Context) ([]model.Job, error) {
	return t.store.ListIncompleteJobs(ctx)
}

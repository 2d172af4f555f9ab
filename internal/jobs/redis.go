package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/mailpipe/internal/model"
)

const keyPrefix = "mailpipe:"

// jobTTL bounds how long finished jobs stay queryable.
const jobTTL = 24 * time.Hour

func jobKey(id string) string { return keyPrefix + "job:" + id }

func inFlightKey(messageID int64, kind model.JobKind) string {
	return fmt.Sprintf("%sinflight:%d:%s", keyPrefix, messageID, kind)
}

func incompleteKey() string { return keyPrefix + "jobs:incomplete" }

// RedisTracker keeps job state in Redis hashes. Shared state lets
// several workers on different hosts report on the same jobs.
type RedisTracker struct {
	client redis.UniversalClient
}

// NewRedisTracker parses url (redis://host:port/db) and returns a tracker.
func NewRedisTracker(url string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisTracker{client: redis.NewClient(opts)}, nil
}

// Ping checks connectivity.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) Create(ctx context.Context, job model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(job.ID), jobFields(job))
		pipe.SAdd(ctx, incompleteKey(), job.ID)
		pipe.Set(ctx, inFlightKey(job.MessageID, job.Kind), job.ID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return nil
}

func (t *RedisTracker) Update(ctx context.Context, job model.Job) error {
	n, err := t.client.Exists(ctx, jobKey(job.ID)).Result()
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.ID)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(job.ID),
			"state", string(job.State),
			"attempts", job.Attempts,
			"error", job.Error,
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		if job.State.Terminal() {
			pipe.SRem(ctx, incompleteKey(), job.ID)
			pipe.Del(ctx, inFlightKey(job.MessageID, job.Kind))
			pipe.Expire(ctx, jobKey(job.ID), jobTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, id string) (model.Job, error) {
	fields, err := t.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return model.Job{}, fmt.Errorf("getting job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return model.Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return parseJobFields(id, fields)
}

func (t *RedisTracker) InFlight(ctx context.Context, messageID int64, kind model.JobKind) (bool, error) {
	n, err := t.client.Exists(ctx, inFlightKey(messageID, kind)).Result()
	if err != nil {
		return false, fmt.Errorf("checking in-flight %s job for message %d: %w", kind, messageID, err)
	}
	return n > 0, nil
}

func (t *RedisTracker) Incomplete(ctx context.Context) ([]model.Job, error) {
	ids, err := t.client.SMembers(ctx, incompleteKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing incomplete jobs: %w", err)
	}

	jobs := make([]model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := t.Get(ctx, id)
		if errors.Is(err, ErrUnknownJob) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func jobFields(job model.Job) map[string]interface{} {
	return map[string]interface{}{
		"kind":       string(job.Kind),
		"message_id": job.MessageID,
		"state":      string(job.State),
		"attempts":   job.Attempts,
		"error":      job.Error,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseJobFields(id string, fields map[string]string) (model.Job, error) {
	job := model.Job{
		ID:    id,
		Kind:  model.JobKind(fields["kind"]),
		State: model.JobState(fields["state"]),
		Error: fields["error"],
	}

	var err error
	if job.MessageID, err = strconv.ParseInt(fields["message_id"], 10, 64); err != nil {
		return model.Job{}, fmt.Errorf("parsing job %s message_id: %w", id, err)
	}
	if job.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return model.Job{}, fmt.Errorf("parsing job %s attempts: %w", id, err)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return model.Job{}, fmt.Errorf("parsing job %s created_at: %w", id, err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return model.Job{}, fmt.Errorf("parsing job %s updated_at: %w", id, err)
	}
	return job, nil
}

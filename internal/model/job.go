package model

import "time"

// JobKind names an annotation job type.
type JobKind string

const (
	JobClassify  JobKind = "classify"
	JobSummarize JobKind = "summarize"
)

// JobState is the tracked state of a queued job.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Terminal reports whether the job will not run again.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Job is the persisted record of one unit of annotation work.
type Job struct {
	ID        string
	Kind      JobKind
	MessageID int64
	State     JobState
	Attempts  int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

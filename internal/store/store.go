package store

import (
	"context"

	"github.com/nhle/mailpipe/internal/model"
)

// MessageFilter controls listing of a user's messages.
type MessageFilter struct {
	Status *model.Status
	Limit  int
	Offset int
}

// Store defines the persistence interface for users, mirrored messages
// and annotation jobs.
type Store interface {
	// === Users ===

	UpsertUserTokens(ctx context.Context, upd model.TokenUpdate) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	MostRecentUser(ctx context.Context) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id int64) error

	// === Messages ===

	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertMessages(ctx context.Context, msgs []model.Message) ([]model.Message, error)
	InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	GetUserMessage(ctx context.Context, userID, id int64) (*model.Message, error)
	ListMessages(ctx context.Context, userID int64, filter MessageFilter) ([]model.Message, error)
	ListUnannotated(ctx context.Context, limit int) ([]model.Message, error)
	CountUnannotated(ctx context.Context) (int, error)

	// === Annotations ===

	SetClassification(ctx context.Context, id int64, enc string, spam bool) error
	SetSummary(ctx context.Context, id int64, enc string) error

	// === Status ===

	SetStatus(ctx context.Context, userID, id int64, status model.Status) error
	MarkRead(ctx context.Context, userID, id int64) error

	// === Jobs ===

	CreateJob(ctx context.Context, job model.Job) error
	UpdateJob(ctx context.Context, id string, state model.JobState, attempts int, errMsg string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	InFlightJob(ctx context.Context, messageID int64, kind model.JobKind) (bool, error)
	ListIncompleteJobs(ctx context.Context) ([]model.Job, error)

	// === Maintenance ===

	RotateSecrets(ctx context.Context, fn func(*string) (*string, error)) (int, error)

	Close() error
}

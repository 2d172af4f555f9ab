// Package sync mirrors remote inboxes into the local store, on demand
// through Engine and periodically through Poller.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"

	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/mailbox"
	"github.com/nhle/mailpipe/internal/model"
)

const (
	// fetchTimeout is the maximum time allowed for a single remote call.
	fetchTimeout   = 30 * time.Second
	defaultRetries = 3
	defaultBackoff = time.Second
)

// Store is the persistence the engine needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertMessages(ctx context.Context, msgs []model.Message) ([]model.Message, error)
}

// Credentials hands out a user's decrypted, self-refreshing credential.
// *credential.Manager implements it.
type Credentials interface {
	MaterializeCredential(ctx context.Context, userID int64) (credential.Credential, error)
	TokenSource(ctx context.Context, userID int64) (oauth2.TokenSource, error)
}

// Dialer opens the remote mailbox of user.
type Dialer func(ctx context.Context, user *model.User, ts oauth2.TokenSource) (mailbox.Mailbox, error)

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	FetchTimeout time.Duration
	// Attempts bounds tries per remote call for transient failures.
	Attempts int
	// Backoff is the delay after the first transient failure; it doubles.
	Backoff time.Duration
	Logger  *log.Logger
}

// Engine performs one user's inbox sync.
type Engine struct {
	store  Store
	creds  Credentials
	dial   Dialer
	opts   Options
	logger *log.Logger
}

// NewEngine creates an Engine.
func NewEngine(s Store, creds Credentials, dial Dialer, opts Options) *Engine {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = fetchTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Engine{store: s, creds: creds, dial: dial, opts: opts, logger: opts.Logger}
}

// PartialError reports messages that could not be fetched during a sync
// whose other messages were stored.
type PartialError struct {
	Failed int
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d messages could not be fetched: %v", e.Failed, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// IsPartial reports whether err only describes skipped messages.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// FetchAndStore mirrors up to limit of the user's most recent inbox
// messages and returns the rows it inserted. Messages already stored are
// not fetched again. A message that cannot be fetched is logged and
// skipped; the rest are committed and a *PartialError is returned
// alongside them. An expired authorization ends the sync early, still
// committing what was fetched before it.
func (e *Engine) FetchAndStore(ctx context.Context, userID int64, limit int) ([]model.Message, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}

	if _, err := e.creds.MaterializeCredential(ctx, userID); err != nil {
		return nil, fmt.Errorf("materializing credential for user %d: %w", userID, err)
	}
	ts, err := e.creds.TokenSource(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("building token source for user %d: %w", userID, err)
	}

	mb, err := e.dial(ctx, user, ts)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox for user %d: %w", userID, err)
	}

	logger := e.logger.With("user", user.Email)

	var ids []string
	err = e.retry(ctx, logger, "list", func(ctx context.Context) error {
		var err error
		ids, err = mb.ListRecentMessageIDs(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages for user %d: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	existing, err := e.store.ExistingExternalIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var (
		rows   []model.Message
		failed *multierror.Error
		// stopErr ends the loop: every later call would fail the same way.
		stopErr error
	)
	for _, id := range ids {
		if existing[id] {
			continue
		}

		var rm *mailbox.RemoteMessage
		err := e.retry(ctx, logger, "get", func(ctx context.Context) error {
			var err error
			rm, err = mb.GetMessage(ctx, id)
			return err
		})
		if errors.Is(err, mailbox.ErrNotFound) {
			logger.Debug("message vanished before fetch", "id", id)
			continue
		}
		if err != nil && (mailbox.IsAuthExpired(err) || ctx.Err() != nil) {
			stopErr = fmt.Errorf("fetching message %s: %w", id, err)
			break
		}
		if err != nil {
			logger.Warn("skipping message", "id", id, "err", err)
			failed = multierror.Append(failed, fmt.Errorf("fetching message %s: %w", id, err))
			continue
		}
		rows = append(rows, toMessage(user.ID, rm))
	}

	var inserted []model.Message
	if len(rows) > 0 {
		inserted, err = e.store.InsertMessages(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("storing messages for user %d: %w", userID, err)
		}
	}

	skipped := 0
	if failed != nil {
		skipped = len(failed.Errors)
	}
	logger.Info("inbox synced", "listed", len(ids), "new", len(inserted), "failed", skipped)
	if stopErr != nil {
		return inserted, stopErr
	}
	if failed != nil {
		return inserted, &PartialError{Failed: skipped, Err: failed.ErrorOrNil()}
	}
	return inserted, nil
}

// retry runs fn under the fetch timeout, retrying transient failures
// with doubling backoff.
func (e *Engine) retry(ctx context.Context, logger *log.Logger, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.Attempts-1)), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()

		err := fn(callCtx)
		if err != nil && !mailbox.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, delay time.Duration) {
		logger.Warn("transient mailbox failure, retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
	})
}

func toMessage(userID int64, rm *mailbox.RemoteMessage) model.Message {
	created := rm.Date
	if created.IsZero() {
		created = time.Now()
	}
	return model.Message{
		ExternalID: rm.ID,
		UserID:     userID,
		Sender:     rm.From,
		Recipients: rm.To,
		Subject:    rm.Subject,
		Snippet:    rm.Snippet,
		Labels:     strings.Join(rm.Labels, ","),
		IsSpam:     slices.Contains(rm.Labels, "SPAM"),
		Status:     model.StatusInbox,
		CreatedAt:  created.UTC(),
	}
}

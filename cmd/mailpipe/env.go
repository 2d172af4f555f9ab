package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/annotate"
	"github.com/nhle/mailpipe/internal/apperr"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/jobs"
	"github.com/nhle/mailpipe/internal/mailbox"
	"github.com/nhle/mailpipe/internal/mailflow"
	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/store"
	mailsync "github.com/nhle/mailpipe/internal/sync"
)

// env holds the process-wide components. Commands build only what they
// use; everything is created on first access and closed by Close.
type env struct {
	configPath string
	email      string
	logLevel   string

	cfg    *model.AppConfig
	logger *log.Logger

	store   *store.SQLiteStore
	vault   *credential.Vault
	manager *credential.Manager
	tracker jobs.Tracker
	pool    *jobs.Pool
	orch    *annotate.Orchestrator
	engine  *mailsync.Engine

	closers []func() error
}

// load reads the configuration and builds the logger.
func (e *env) load() error {
	path := e.configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return apperr.New(apperr.Invalid, "could not read configuration", err)
	}
	e.cfg = cfg

	level := cfg.Log.Level
	if e.logLevel != "" {
		level = e.logLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return apperr.Invalidf("unknown log level %q", level)
	}
	e.logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
		Prefix:          "mailpipe",
	})
	return nil
}

func (e *env) log() *log.Logger {
	if e.logger == nil {
		return log.Default()
	}
	return e.logger
}

// Close releases everything that was opened, newest first.
func (e *env) Close() {
	if e.pool != nil {
		e.pool.Stop()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log().Warn("close failed", "error", err)
		}
	}
	e.closers = nil
}

func (e *env) openStore() (*store.SQLiteStore, error) {
	if e.store != nil {
		return e.store, nil
	}
	s, err := store.NewSQLiteStore(e.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.store = s
	e.closers = append(e.closers, s.Close)
	return s, nil
}

func (e *env) openVault() (*credential.Vault, error) {
	if e.vault != nil {
		return e.vault, nil
	}
	key, err := credential.ResolveVaultKey(e.cfg.Vault, credential.OpenKeyring)
	if err != nil {
		if errors.Is(err, credential.ErrNoVaultKey) {
			return nil, apperr.New(apperr.Invalid, "no vault key: set MAILPIPE_VAULT_KEY or vault.generate", err)
		}
		return nil, err
	}
	v, err := credential.NewVault(key)
	if err != nil {
		return nil, apperr.New(apperr.Invalid, "vault key is unusable", err)
	}
	e.vault = v
	return v, nil
}

func (e *env) openManager() (*credential.Manager, error) {
	if e.manager != nil {
		return e.manager, nil
	}
	s, err := e.openStore()
	if err != nil {
		return nil, err
	}
	v, err := e.openVault()
	if err != nil {
		return nil, err
	}
	auth, err := credential.NewGoogleAuthorizer(e.cfg.Google)
	if err != nil {
		return nil, apperr.New(apperr.Invalid, err.Error(), err)
	}
	e.manager = credential.NewManager(v, s, auth, e.logger.WithPrefix("credential"))
	return e.manager, nil
}

// dial opens the configured remote mailbox for user.
func (e *env) dial(ctx context.Context, user *model.User, ts oauth2.TokenSource) (mailbox.Mailbox, error) {
	return mailbox.Open(ctx, e.cfg.Mailbox, e.cfg.Sync.RequestsPerSecond, user.Email, ts, e.logger.WithPrefix("mailbox"))
}

// openMailbox is the mailflow.MailboxOpener of the CLI.
func (e *env) openMailbox(ctx context.Context, userID int64) (mailbox.Mailbox, error) {
	m, err := e.openManager()
	if err != nil {
		return nil, err
	}
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	ts, err := m.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.dial(ctx, user, ts)
}

func (e *env) openEngine() (*mailsync.Engine, error) {
	if e.engine != nil {
		return e.engine, nil
	}
	m, err := e.openManager()
	if err != nil {
		return nil, err
	}
	e.engine = mailsync.NewEngine(e.store, m, e.dial, mailsync.Options{
		FetchTimeout: e.cfg.Sync.FetchTimeout,
		Logger:       e.logger.WithPrefix("sync"),
	})
	return e.engine, nil
}

func (e *env) annotator() *ai.Annotator {
	var remote ai.Capability
	if e.cfg.AI.Provider == "anthropic" && e.cfg.AI.APIKey != "" {
		remote = ai.NewClaude(e.cfg.AI.APIKey, ai.ClaudeOptions{
			Model:             e.cfg.AI.Model,
			MaxTokens:         e.cfg.AI.MaxTokens,
			Timeout:           e.cfg.AI.Timeout,
			RequestsPerSecond: e.cfg.AI.RequestsPerSecond,
			Logger:            e.logger.WithPrefix("claude"),
		})
	} else {
		e.logger.Debug("remote annotation disabled, using heuristics", "provider", e.cfg.AI.Provider)
	}
	return ai.NewAnnotator(remote, e.logger.WithPrefix("ai"))
}

func (e *env) openTracker() (jobs.Tracker, error) {
	if e.tracker != nil {
		return e.tracker, nil
	}
	if e.cfg.Jobs.RedisURL == "" {
		e.tracker = jobs.NewStoreTracker(e.store)
		return e.tracker, nil
	}
	rt, err := jobs.NewRedisTracker(e.cfg.Jobs.RedisURL)
	if err != nil {
		return nil, apperr.New(apperr.Invalid, "jobs.redis_url is invalid", err)
	}
	e.closers = append(e.closers, rt.Close)
	e.tracker = rt
	return rt, nil
}

// openOrchestrator wires the pool, its tracker and the annotation handlers.
// The pool is not started.
func (e *env) openOrchestrator() (*annotate.Orchestrator, error) {
	if e.orch != nil {
		return e.orch, nil
	}
	s, err := e.openStore()
	if err != nil {
		return nil, err
	}
	v, err := e.openVault()
	if err != nil {
		return nil, err
	}
	tracker, err := e.openTracker()
	if err != nil {
		return nil, err
	}

	e.pool = jobs.NewPool(tracker, jobs.Options{
		Workers:     e.cfg.Jobs.Workers,
		MaxAttempts: e.cfg.Jobs.MaxAttempts,
		Logger:      e.logger.WithPrefix("jobs"),
	})
	e.orch = annotate.New(s, v, e.annotator(), e.pool, e.logger.WithPrefix("annotate"))
	e.orch.Register(e.pool)
	return e.orch, nil
}

func (e *env) mailflow() (*mailflow.Service, error) {
	s, err := e.openStore()
	if err != nil {
		return nil, err
	}
	return mailflow.NewService(s, e.openMailbox, e.logger.WithPrefix("mailflow")), nil
}

// currentUser resolves the acting user from --user, falling back to the
// most recently created user.
func (e *env) currentUser(ctx context.Context) (*model.User, error) {
	s, err := e.openStore()
	if err != nil {
		return nil, err
	}

	if e.email != "" {
		u, err := s.GetUserByEmail(ctx, e.email)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("no user %s, run `mailpipe login`", e.email), err)
		}
		return u, err
	}

	u, err := s.MostRecentUser(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "nobody is logged in, run `mailpipe login`", err)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Warn("no --user given, acting as most recent login", "email", u.Email)
	return u, nil
}

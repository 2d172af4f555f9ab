package sync

import (
	"context"
	"fmt"
	"io"
	"sort"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/nhle/mailpipe/internal/annotate"
	"github.com/nhle/mailpipe/internal/mailbox"
	"github.com/nhle/mailpipe/internal/model"
)

// SyncState represents the current state of a user's sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the sync state for a single user.
type SyncStatus struct {
	UserID      int64
	Email       string
	State       SyncState
	LastSync    time.Time
	NewMessages int
	AuthExpired bool
	Error       error
}

// UserLister enumerates the users to poll.
type UserLister interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Dispatcher queues annotation work after a sync round.
// *annotate.Orchestrator implements it.
type Dispatcher interface {
	EnqueueUnannotated(ctx context.Context, batch int) ([]annotate.JobHandle, error)
}

// PollerOptions tunes a Poller.
type PollerOptions struct {
	Interval time.Duration
	// Limit is the per-user message limit of each round.
	Limit int
	// Batch bounds how many messages get annotation jobs per round.
	Batch  int
	Logger *log.Logger
}

// Poller periodically syncs every user and then dispatches annotation.
type Poller struct {
	engine     *Engine
	users      UserLister
	dispatcher Dispatcher
	opts       PollerOptions
	logger     *log.Logger

	mu        gosync.Mutex
	statuses  map[int64]*SyncStatus
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewPoller creates a stopped Poller. dispatcher may be nil.
func NewPoller(engine *Engine, users UserLister, dispatcher Dispatcher, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Minute
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Poller{
		engine:     engine,
		users:      users,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     opts.Logger,
		statuses:   make(map[int64]*SyncStatus),
		triggerCh:  make(chan struct{}, 1),
	}
}

// Start runs a round immediately and then one per interval until Stop
// is called or ctx ends.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.loop(ctx, stopCh, doneCh)
}

// Stop halts polling and waits for an in-progress round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
}

// Trigger requests an immediate round. It never blocks.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A round is already queued.
	}
}

// Statuses returns the sync status of every user seen so far.
func (p *Poller) Statuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].UserID < statuses[j].UserID })
	return statuses
}

func (p *Poller) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.round(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.round(ctx)
		case <-p.triggerCh:
			p.round(ctx)
		}
	}
}

func (p *Poller) round(ctx context.Context) {
	if err := p.RunOnce(ctx); err != nil {
		p.logger.Warn("poll round finished with errors", "err", err)
	}
}

// RunOnce syncs every user once and then dispatches annotation jobs.
// One user's failure does not stop the others; all failures are
// returned together.
func (p *Poller) RunOnce(ctx context.Context) error {
	users, err := p.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	var result *multierror.Error
	for _, u := range users {
		if err := p.syncUser(ctx, u); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", u.Email, err))
		}
	}

	if p.dispatcher != nil {
		if _, err := p.dispatcher.EnqueueUnannotated(ctx, p.opts.Batch); err != nil {
			result = multierror.Append(result, fmt.Errorf("dispatching annotation: %w", err))
		}
	}

	return result.ErrorOrNil()
}

func (p *Poller) syncUser(ctx context.Context, u model.User) error {
	p.setStatus(u, func(s *SyncStatus) {
		s.State = SyncRunning
	})

	inserted, err := p.engine.FetchAndStore(ctx, u.ID, p.opts.Limit)
	if IsPartial(err) {
		p.logger.Warn("sync skipped messages", "user", u.Email, "err", err)
		p.setStatus(u, func(s *SyncStatus) {
			s.NewMessages = len(inserted)
			s.Error = err
			s.AuthExpired = false
			s.State = SyncIdle
			s.LastSync = time.Now()
		})
		return nil
	}

	p.setStatus(u, func(s *SyncStatus) {
		s.NewMessages = len(inserted)
		s.Error = err
		s.AuthExpired = mailbox.IsAuthExpired(err)
		if err != nil {
			s.State = SyncError
			return
		}
		s.State = SyncIdle
		s.LastSync = time.Now()
	})

	if mailbox.IsAuthExpired(err) {
		p.logger.Warn("authorization expired; run `mailpipe login` again", "user", u.Email)
	}
	return err
}

func (p *Poller) setStatus(u model.User, fn func(*SyncStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.statuses[u.ID]
	if !ok {
		s = &SyncStatus{UserID: u.ID, Email: u.Email}
		p.statuses[u.ID] = s
	}
	fn(s)
}

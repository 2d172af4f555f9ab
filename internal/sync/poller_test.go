package sync_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/annotate"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/jobs"
	"github.com/nhle/mailpipe/internal/mailbox"
	"github.com/nhle/mailpipe/internal/model"
	mailsync "github.com/nhle/mailpipe/internal/sync"
	"github.com/nhle/mailpipe/tests/testutil"
)

func newOrchestrator(t *testing.T, h *harness) (*annotate.Orchestrator, *jobs.Pool) {
	t.Helper()
	vault, err := credential.NewVault(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)

	logger := log.New(io.Discard)
	pool := jobs.NewPool(jobs.NewStoreTracker(h.store), jobs.Options{Logger: logger})
	orch := annotate.New(h.store, vault, ai.NewAnnotator(nil, logger), pool, logger)
	orch.Register(pool)
	return orch, pool
}

func TestSyncThenAnnotateEndToEnd(t *testing.T) {
	h := newHarness(t, newFakeMailbox("id1", "id2", "id3"), fakeCreds{})
	ctx := context.Background()
	orch, _ := newOrchestrator(t, h)

	existing := testutil.NewTestMessage(t, h.store, h.user.ID, "id2")
	require.NoError(t, h.store.SetClassification(ctx, existing.ID, "enc", false))
	require.NoError(t, h.store.SetSummary(ctx, existing.ID, "enc"))

	inserted, err := h.engine.FetchAndStore(ctx, h.user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	handles, err := orch.EnqueueUnannotated(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, handles, 4)
	for _, hd := range handles {
		assert.NotEqual(t, existing.ID, hd.MessageID)
	}
}

func TestPollerRunOnce(t *testing.T) {
	h := newHarness(t, newFakeMailbox("a", "b"), fakeCreds{})
	orch, _ := newOrchestrator(t, h)

	p := mailsync.NewPoller(h.engine, h.store, orch, mailsync.PollerOptions{Logger: log.New(io.Discard)})
	require.NoError(t, p.RunOnce(context.Background()))

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, mailsync.SyncIdle, statuses[0].State)
	assert.Equal(t, 2, statuses[0].NewMessages)
	assert.False(t, statuses[0].LastSync.IsZero())

	backlog, err := orch.Backlog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, backlog)

	busy, err := h.store.InFlightJob(context.Background(), 1, model.JobClassify)
	require.NoError(t, err)
	assert.True(t, busy)
}

func TestPollerRecordsAuthExpiry(t *testing.T) {
	mb := newFakeMailbox("a")
	mb.listErrs = []error{&mailbox.AuthExpiredError{Provider: mailbox.ProviderGmail, Message: "revoked"}}
	h := newHarness(t, mb, fakeCreds{})

	p := mailsync.NewPoller(h.engine, h.store, nil, mailsync.PollerOptions{})
	err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "me@example.com")

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, mailsync.SyncError, statuses[0].State)
	assert.True(t, statuses[0].AuthExpired)
}

func TestPollerStartTriggerStop(t *testing.T) {
	h := newHarness(t, newFakeMailbox("a"), fakeCreds{})
	p := mailsync.NewPoller(h.engine, h.store, nil, mailsync.PollerOptions{Interval: time.Hour})

	p.Start(context.Background())
	assert.Eventually(t, func() bool {
		h.mb.mu.Lock()
		defer h.mb.mu.Unlock()
		return h.mb.listCalls >= 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Trigger()
	assert.Eventually(t, func() bool {
		h.mb.mu.Lock()
		defer h.mb.mu.Unlock()
		return h.mb.listCalls >= 2
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
}

func TestPollerTreatsSkippedMessagesAsSuccess(t *testing.T) {
	mb := newFakeMailbox("a", "b")
	mb.getErrs["a"] = errors.New("malformed payload")
	h := newHarness(t, mb, fakeCreds{})

	p := mailsync.NewPoller(h.engine, h.store, nil, mailsync.PollerOptions{})
	require.NoError(t, p.RunOnce(context.Background()))

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, mailsync.SyncIdle, statuses[0].State)
	assert.Equal(t, 1, statuses[0].NewMessages)
	assert.True(t, mailsync.IsPartial(statuses[0].Error))
}

package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/store"
	"github.com/nhle/mailpipe/tests/testutil"
)

func ptr(s string) *string { return &s }

func TestUpsertUserTokensKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	first, err := s.UpsertUserTokens(ctx, model.TokenUpdate{
		Email:           "a@example.com",
		GoogleID:        "sub-1",
		EncAccessToken:  ptr("access-1"),
		EncRefreshToken: ptr("refresh-1"),
	})
	require.NoError(t, err)

	second, err := s.UpsertUserTokens(ctx, model.TokenUpdate{
		Email:          "a@example.com",
		GoogleID:       "sub-1",
		EncAccessToken: ptr("access-2"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.EncAccessToken)
	assert.Equal(t, "access-2", *second.EncAccessToken)
	require.NotNil(t, second.EncRefreshToken)
	assert.Equal(t, "refresh-1", *second.EncRefreshToken)

	third, err := s.UpsertUserTokens(ctx, model.TokenUpdate{
		Email:           "a@example.com",
		EncAccessToken:  ptr("access-3"),
		EncRefreshToken: ptr("refresh-3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "refresh-3", *third.EncRefreshToken)
	assert.Equal(t, "sub-1", third.GoogleID)
}

func TestMostRecentUser(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, err := s.MostRecentUser(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	testutil.NewTestUser(t, s, "old@example.com")
	newest := testutil.NewTestUser(t, s, "new@example.com")

	got, err := s.MostRecentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, got.ID)
}

func TestDeleteUserCascadesMessages(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	u := testutil.NewTestUser(t, s, "a@example.com")
	other := testutil.NewTestUser(t, s, "b@example.com")
	m := testutil.NewTestMessage(t, s, u.ID, "ext-1")
	kept := testutil.NewTestMessage(t, s, other.ID, "ext-2")

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	_, err := s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMessage(ctx, kept.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), store.ErrNotFound)
}

func TestInsertMessagesSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	u := testutil.NewTestUser(t, s, "a@example.com")
	testutil.NewTestMessage(t, s, u.ID, "ext-1")

	inserted, err := s.InsertMessages(ctx, []model.Message{
		{ExternalID: "ext-1", UserID: u.ID},
		{ExternalID: "ext-2", UserID: u.ID, Subject: "hello"},
		{ExternalID: "ext-2", UserID: u.ID, Subject: "again"},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "ext-2", inserted[0].ExternalID)
	assert.Equal(t, model.StatusInbox, inserted[0].Status)
	assert.NotZero(t, inserted[0].ID)

	got, err := s.GetMessage(ctx, inserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
	assert.Nil(t, got.SummaryEnc)
	assert.Nil(t, got.ClassificationEnc)
}

func TestInsertMessageDuplicate(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	u := testutil.NewTestUser(t, s, "a@example.com")
	other := testutil.NewTestUser(t, s, "b@example.com")
	testutil.NewTestMessage(t, s, u.ID, "ext-1")

	// External ids are unique across users, not per user.
	_, err := s.InsertMessage(ctx, model.Message{ExternalID: "ext-1", UserID: other.ID})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestConcurrentInsertsKeepOneRowPerExternalID(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	u := testutil.NewTestUser(t, s, "a@example.com")

	batch := make([]model.Message, 0, 5)
	for i := 0; i < 5; i++ {
		batch = append(batch, model.Message{ExternalID: fmt.Sprintf("ext-%d", i), UserID: u.ID})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.InsertMessages(ctx, batch)
			assert.NoError(t, err)
			mu.Lock()
			total += len(inserted)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, total)
	msgs, err := s.ListMessages(ctx, u.ID, store.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestExistingExternalIDs(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	u := testutil.NewTestUser(t, s, "a@example.com")
	testutil.NewTestMessage(t, s, u.ID, "ext-1")
	testutil.NewTestMessage(t, s, u.ID, "ext-3")

	found, err := s.ExistingExternalIDs(ctx, []string{"ext-1", "ext-2", "ext-3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ext-1": true, "ext-3": true}, found)

	found, err = s.ExistingExternalIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestUnannotatedAndAnnotations(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	u := testutil.NewTestUser(t, s, "a@example.com")
	a := testutil.NewTestMessage(t, s, u.ID, "ext-a")
	testutil.NewTestMessage(t, s, u.ID, "ext-b")
	_, err := s.InsertMessage(ctx, model.Message{
		ExternalID: "draft_1_1", UserID: u.ID, IsDraft: true, Status: model.StatusDraft,
	})
	require.NoError(t, err)

	backlog, err := s.ListUnannotated(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, backlog, 2)

	require.NoError(t, s.SetClassification(ctx, a.ID, "enc-label", true))
	backlog, err = s.ListUnannotated(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, backlog, 2, "half-annotated message stays in the backlog")

	require.NoError(t, s.SetSummary(ctx, a.ID, "enc-summary"))
	n, err := s.CountUnannotated(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetMessage(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Annotated())
	assert.True(t, got.IsSpam)

	// A later non-spam verdict does not clear the flag.
	require.NoError(t, s.SetClassification(ctx, a.ID, "enc-label-2", false))
	got, err = s.GetMessage(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSpam)
	assert.Equal(t, "enc-label-2", *got.ClassificationEnc)

	assert.ErrorIs(t, s.SetSummary(ctx, 9999, "x"), store.ErrNotFound)
}

func TestStatusUpdatesAreUserScoped(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	owner := testutil.NewTestUser(t, s, "a@example.com")
	intruder := testutil.NewTestUser(t, s, "b@example.com")
	m := testutil.NewTestMessage(t, s, owner.ID, "ext-1")

	assert.ErrorIs(t, s.SetStatus(ctx, intruder.ID, m.ID, model.StatusTrashed), store.ErrNotFound)
	assert.ErrorIs(t, s.MarkRead(ctx, intruder.ID, m.ID), store.ErrNotFound)
	_, err := s.GetUserMessage(ctx, intruder.ID, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetStatus(ctx, owner.ID, m.ID, model.StatusArchived))
	require.NoError(t, s.SetStatus(ctx, owner.ID, m.ID, model.StatusArchived))
	require.NoError(t, s.MarkRead(ctx, owner.ID, m.ID))

	got, err := s.GetUserMessage(ctx, owner.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, got.Status)
	assert.True(t, got.IsRead)

	archived := model.StatusArchived
	msgs, err := s.ListMessages(ctx, owner.ID, store.MessageFilter{Status: &archived})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, s.CreateJob(ctx, model.Job{ID: "job-1", Kind: model.JobClassify, MessageID: 7}))

	inFlight, err := s.InFlightJob(ctx, 7, model.JobClassify)
	require.NoError(t, err)
	assert.True(t, inFlight)
	inFlight, err = s.InFlightJob(ctx, 7, model.JobSummarize)
	require.NoError(t, err)
	assert.False(t, inFlight)

	incomplete, err := s.ListIncompleteJobs(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, model.JobPending, incomplete[0].State)

	require.NoError(t, s.UpdateJob(ctx, "job-1", model.JobFailed, 3, "boom"))
	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.State)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "boom", job.Error)
	assert.WithinDuration(t, time.Now(), job.UpdatedAt, time.Minute)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateJob(ctx, "missing", model.JobDone, 1, ""), store.ErrNotFound)
}

func TestRotateSecrets(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	u := testutil.NewTestUser(t, s, "a@example.com")
	m := testutil.NewTestMessage(t, s, u.ID, "ext-1")
	require.NoError(t, s.SetSummary(ctx, m.ID, "sum"))

	n, err := s.RotateSecrets(ctx, func(v *string) (*string, error) {
		if v == nil {
			return nil, nil
		}
		out := "rotated:" + *v
		return &out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated:enc-access", *got.EncAccessToken)
	assert.Nil(t, got.EncRefreshToken)

	msg, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated:sum", *msg.SummaryEnc)
	assert.Nil(t, msg.ClassificationEnc)
}

package review

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/storage"
	"github.com/phishguard/backend/internal/storage/sqlite"
)

type fakeTrigger struct {
	mu        sync.Mutex
	threshold int
	fired     int
}

func (t *fakeTrigger) Threshold() int {
	return t.threshold
}

func (t *fakeTrigger) ThresholdCrossed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fired++
}

func (t *fakeTrigger) firedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

func newTestCoordinator(t *testing.T, threshold int) (*Coordinator, *sqlite.Store, *fakeTrigger) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	trigger := &fakeTrigger{threshold: threshold}
	return NewCoordinator(store, trigger), store, trigger
}

func seedRecord(t *testing.T, store *sqlite.Store, status feedback.Status, submittedAt time.Time) *feedback.Record {
	t.Helper()

	rec := &feedback.Record{
		ID:              feedback.NewRecordID(submittedAt),
		URL:             "http://payp4l-login.suspicious.com/verify",
		Label:           feedback.LabelPhishing,
		Comment:         "This page imitates the PayPal sign-in form and asks for card details.",
		Confidence:      4,
		Expertise:       feedback.ExpertiseIntermediate,
		ValidationScore: 9,
		Flags:           []feedback.Flag{},
		Status:          status,
		SubmittedAt:     submittedAt,
		UpdatedAt:       submittedAt,
		Version:         1,
	}
	if status == feedback.StatusFlagged {
		rec.Flags = []feedback.Flag{feedback.FlagSpamSuspected}
	}

	_, err := store.CreateFeedback(context.Background(), rec, nil, 0)
	require.NoError(t, err)
	return rec
}

func TestReviewOneApproves(t *testing.T) {
	coordinator, store, trigger := newTestCoordinator(t, 50)
	rec := seedRecord(t, store, feedback.StatusPending, time.Now().UTC())

	reviewed, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: rec.ID,
		Decision:   "approve",
		AdminID:    "admin-1",
	})
	require.NoError(t, err)

	assert.Equal(t, feedback.StatusApproved, reviewed.Status)
	assert.Equal(t, "admin-1", reviewed.AdminID)
	assert.Equal(t, 0, trigger.firedCount(), "one approval is far from the threshold")

	trail, err := coordinator.AuditTrail(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, feedback.DecisionApprove, trail[0].Decision)
}

func TestReviewOneRejectRequiresComment(t *testing.T) {
	coordinator, store, _ := newTestCoordinator(t, 50)
	rec := seedRecord(t, store, feedback.StatusPending, time.Now().UTC())

	_, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: rec.ID,
		Decision:   "reject",
		AdminID:    "admin-1",
	})
	assert.ErrorIs(t, err, ErrInvalidReview)

	_, err = coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: rec.ID,
		Decision:   "reject",
		AdminID:    "admin-1",
		Comment:    "screenshot does not match the reported page",
	})
	require.NoError(t, err)
}

func TestReviewOneUnknownRecord(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, 50)

	_, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: "fb_20250101_000000_missing0",
		Decision:   "approve",
		AdminID:    "admin-1",
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReviewOneAlreadyReviewed(t *testing.T) {
	coordinator, store, _ := newTestCoordinator(t, 50)
	rec := seedRecord(t, store, feedback.StatusPending, time.Now().UTC())

	_, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: rec.ID, Decision: "approve", AdminID: "admin-1",
	})
	require.NoError(t, err)

	_, err = coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: rec.ID, Decision: "reject", AdminID: "admin-2", Comment: "disagree",
	})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}

func TestConcurrentReviewsOneWinner(t *testing.T) {
	coordinator, store, _ := newTestCoordinator(t, 50)
	rec := seedRecord(t, store, feedback.StatusPending, time.Now().UTC())

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, admin := range []string{"admin-1", "admin-2"} {
		wg.Add(1)
		go func(admin string) {
			defer wg.Done()
			_, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
				FeedbackID: rec.ID, Decision: "approve", AdminID: admin,
			})
			results <- err
		}(admin)
	}
	wg.Wait()
	close(results)

	succeeded, alreadyReviewed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrAlreadyReviewed):
			alreadyReviewed++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one decision lands")
	assert.Equal(t, 1, alreadyReviewed, "the loser learns the record was already reviewed")

	trail, err := coordinator.AuditTrail(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 1, "the losing decision must leave no audit entry")
}

func TestReviewFiresTriggerAtThreshold(t *testing.T) {
	coordinator, store, trigger := newTestCoordinator(t, 2)

	first := seedRecord(t, store, feedback.StatusPending, time.Now().UTC())
	second := seedRecord(t, store, feedback.StatusPending, time.Now().UTC().Add(time.Second))

	for _, rec := range []*feedback.Record{first, second} {
		_, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
			FeedbackID: rec.ID, Decision: "approve", AdminID: "admin-1",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, trigger.firedCount())
}

func TestBatchReviewNeverAborts(t *testing.T) {
	coordinator, store, _ := newTestCoordinator(t, 50)
	base := time.Now().UTC()
	first := seedRecord(t, store, feedback.StatusPending, base)
	second := seedRecord(t, store, feedback.StatusFlagged, base.Add(time.Second))

	outcomes := coordinator.BatchReview(context.Background(), BatchRequest{
		IDs:      []string{first.ID, "fb_20250101_000000_missing0", second.ID},
		Decision: "approve",
		AdminID:  "admin-1",
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, feedback.StatusApproved, outcomes[0].Status)
	assert.Empty(t, outcomes[0].Error)
	assert.NotEmpty(t, outcomes[1].Error, "a missing record fails only its own id")
	assert.Equal(t, feedback.StatusApproved, outcomes[2].Status,
		"a flagged record can still be approved by an admin")
}

func TestListQueueFlaggedFirstThenOldest(t *testing.T) {
	coordinator, store, _ := newTestCoordinator(t, 50)
	base := time.Now().UTC()

	oldPending := seedRecord(t, store, feedback.StatusPending, base)
	newPending := seedRecord(t, store, feedback.StatusPending, base.Add(2*time.Second))
	flagged := seedRecord(t, store, feedback.StatusFlagged, base.Add(time.Second))

	queue, err := coordinator.ListQueue(context.Background(), QueueFilter{})
	require.NoError(t, err)
	require.Len(t, queue, 3)

	assert.Equal(t, flagged.ID, queue[0].ID, "flagged records jump the queue")
	assert.Equal(t, oldPending.ID, queue[1].ID)
	assert.Equal(t, newPending.ID, queue[2].ID)

	limited, err := coordinator.ListQueue(context.Background(), QueueFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, flagged.ID, limited[0].ID)

	spamOnly, err := coordinator.ListQueue(context.Background(), QueueFilter{Flag: feedback.FlagSpamSuspected})
	require.NoError(t, err)
	require.Len(t, spamOnly, 1)
	assert.Equal(t, flagged.ID, spamOnly[0].ID)
}

func TestDashboardSnapshot(t *testing.T) {
	coordinator, store, _ := newTestCoordinator(t, 50)
	base := time.Now().UTC()

	approved := seedRecord(t, store, feedback.StatusPending, base)
	rejected := seedRecord(t, store, feedback.StatusPending, base.Add(time.Second))
	seedRecord(t, store, feedback.StatusPending, base.Add(2*time.Second))
	seedRecord(t, store, feedback.StatusFlagged, base.Add(3*time.Second))

	_, err := coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: approved.ID, Decision: "approve", AdminID: "admin-1",
	})
	require.NoError(t, err)
	_, err = coordinator.ReviewOne(context.Background(), ReviewRequest{
		FeedbackID: rejected.ID, Decision: "reject", AdminID: "admin-1", Comment: "not phishing",
	})
	require.NoError(t, err)

	dashboard, err := coordinator.DashboardSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, dashboard.TotalFeedback)
	assert.Equal(t, 1, dashboard.PendingReview)
	assert.Equal(t, 1, dashboard.Flagged)
	assert.Equal(t, 2, dashboard.TotalReviewed)
	assert.Equal(t, 50.0, dashboard.ApprovalRate)
	assert.Equal(t, 1, dashboard.FlagHistogram[feedback.FlagSpamSuspected])
	assert.Equal(t, 2, dashboard.DecisionsLast24h)
	assert.Len(t, dashboard.RecentDecisions, 2)
	assert.Equal(t, int64(1), dashboard.ApprovalsTowardRetrain)
	assert.Equal(t, 50, dashboard.RetrainThreshold)
}

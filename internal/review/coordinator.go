// Package review is the moderation side of the feedback pipeline: queue
// listing, single and batch decisions, audit trails, and the quality
// dashboard.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/metrics"
	"github.com/phishguard/backend/internal/storage"
	"github.com/phishguard/backend/internal/storage/sqlite"
	"github.com/phishguard/backend/pkg/logger"
	"github.com/phishguard/backend/pkg/retry"
)

var (
	// ErrAlreadyReviewed means the record reached a terminal status before
	// this decision landed. The existing outcome stands.
	ErrAlreadyReviewed = errors.New("feedback already reviewed")

	// ErrInvalidReview marks malformed review requests.
	ErrInvalidReview = errors.New("invalid review request")
)

// RetrainTrigger reacts to approvals crossing the retraining threshold.
type RetrainTrigger interface {
	Threshold() int
	ThresholdCrossed()
}

// Coordinator serializes review decisions against the store. Concurrent
// decisions on the same record are resolved by optimistic concurrency: the
// loser either retries (the record is still open) or learns it was already
// reviewed.
type Coordinator struct {
	store   *sqlite.Store
	trigger RetrainTrigger
}

func NewCoordinator(store *sqlite.Store, trigger RetrainTrigger) *Coordinator {
	return &Coordinator{store: store, trigger: trigger}
}

// QueueFilter narrows the review queue. Zero values mean no constraint.
type QueueFilter struct {
	Flag      feedback.Flag
	Expertise feedback.Expertise
	Limit     int
}

// ListQueue returns records awaiting review. Flagged records come first
// because they block the most uncertain submissions; within each status the
// queue is oldest first.
func (c *Coordinator) ListQueue(ctx context.Context, filter QueueFilter) ([]feedback.Record, error) {
	records, err := c.store.ListFeedback(ctx, sqlite.ListFilter{
		Statuses:  []feedback.Status{feedback.StatusFlagged, feedback.StatusPending},
		Flag:      filter.Flag,
		Expertise: filter.Expertise,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load review queue: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Status != records[j].Status {
			return records[i].Status == feedback.StatusFlagged
		}
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

// ReviewRequest is one admin decision on one record.
type ReviewRequest struct {
	FeedbackID string `json:"feedback_id"`
	Decision   string `json:"decision"`
	AdminID    string `json:"admin_id"`
	Comment    string `json:"comment"`
}

// ReviewOne applies a single decision. Version conflicts are retried against
// fresh state; a record that turned terminal in the meantime returns
// ErrAlreadyReviewed rather than silently overwriting the earlier outcome.
func (c *Coordinator) ReviewOne(ctx context.Context, req ReviewRequest) (*feedback.Record, error) {
	decisionType, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.InitialDelay = 10 * time.Millisecond
	policy.RetryableOnly = []error{storage.ErrConflict}
	policy.Logger = logger.GetLogger()

	rec, err := retry.DoValue(ctx, policy, func() (*feedback.Record, error) {
		return c.apply(ctx, req, decisionType)
	})
	if err != nil {
		return nil, err
	}

	metrics.ReviewDecisions.WithLabelValues(string(decisionType)).Inc()

	logger.Info("Feedback reviewed",
		zap.String("feedback_id", rec.ID),
		zap.String("decision", string(decisionType)),
		zap.String("admin_id", req.AdminID),
		zap.String("status", string(rec.Status)),
	)

	return rec, nil
}

func (c *Coordinator) apply(ctx context.Context, req ReviewRequest, decisionType feedback.DecisionType) (*feedback.Record, error) {
	rec, err := c.store.GetFeedback(ctx, req.FeedbackID)
	if err != nil {
		return nil, err
	}

	if rec.Status.Terminal() {
		return nil, fmt.Errorf("feedback %s is %s: %w", rec.ID, rec.Status, ErrAlreadyReviewed)
	}

	decision := &feedback.Decision{
		ID:         feedback.NewDecisionID(),
		FeedbackID: rec.ID,
		Decision:   decisionType,
		AdminID:    req.AdminID,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  time.Now().UTC(),
	}

	crossed, err := c.store.TransitionFeedback(ctx, rec, decisionType.TargetStatus(), decision, c.trigger.Threshold())
	if err != nil {
		return nil, err
	}

	if crossed {
		c.trigger.ThresholdCrossed()
	}
	return rec, nil
}

func (c *Coordinator) validate(req ReviewRequest) (feedback.DecisionType, error) {
	if strings.TrimSpace(req.FeedbackID) == "" {
		return "", fmt.Errorf("%w: feedback_id is required", ErrInvalidReview)
	}
	if strings.TrimSpace(req.AdminID) == "" {
		return "", fmt.Errorf("%w: admin_id is required", ErrInvalidReview)
	}

	decisionType, err := feedback.ParseDecision(req.Decision)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReview, err)
	}

	// Rejections need a rationale the submitter can learn from.
	if decisionType == feedback.DecisionReject && strings.TrimSpace(req.Comment) == "" {
		return "", fmt.Errorf("%w: rejections require a comment", ErrInvalidReview)
	}

	return decisionType, nil
}

// BatchRequest applies one decision to many records.
type BatchRequest struct {
	IDs      []string `json:"ids"`
	Decision string   `json:"decision"`
	AdminID  string   `json:"admin_id"`
	Comment  string   `json:"comment"`
}

// BatchOutcome reports how one batch id fared. A failed id never aborts the
// rest of the batch.
type BatchOutcome struct {
	FeedbackID string          `json:"feedback_id"`
	Status     feedback.Status `json:"status,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BatchReview applies the decision to each id independently and reports
// per-id outcomes in input order. Distinct ids run in parallel; the store
// serializes any that collide.
func (c *Coordinator) BatchReview(ctx context.Context, req BatchRequest) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(req.IDs))

	var wg sync.WaitGroup
	for i, id := range req.IDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			rec, err := c.ReviewOne(ctx, ReviewRequest{
				FeedbackID: id,
				Decision:   req.Decision,
				AdminID:    req.AdminID,
				Comment:    req.Comment,
			})

			outcomes[i] = BatchOutcome{FeedbackID: id}
			if err != nil {
				outcomes[i].Error = err.Error()
			} else {
				outcomes[i].Status = rec.Status
			}
		}(i, id)
	}
	wg.Wait()

	return outcomes
}

// AuditTrail returns the decision history of one record, oldest first.
func (c *Coordinator) AuditTrail(ctx context.Context, feedbackID string) ([]feedback.Decision, error) {
	if _, err := c.store.GetFeedback(ctx, feedbackID); err != nil {
		return nil, err
	}
	return c.store.ListDecisions(ctx, feedbackID)
}

// Dashboard is the moderation quality snapshot.
type Dashboard struct {
	TotalFeedback          int                     `json:"total_feedback"`
	StatusCounts           map[feedback.Status]int `json:"status_counts"`
	PendingReview          int                     `json:"pending_review"`
	Flagged                int                     `json:"flagged"`
	TotalReviewed          int                     `json:"total_reviewed"`
	ApprovalRate           float64                 `json:"approval_rate"`
	FlagHistogram          map[feedback.Flag]int   `json:"flag_histogram"`
	DecisionsLast24h       int                     `json:"decisions_last_24h"`
	RecentDecisions        []feedback.Decision     `json:"recent_decisions"`
	ApprovalsTowardRetrain int64                   `json:"approvals_toward_retrain"`
	RetrainThreshold       int                     `json:"retrain_threshold"`
	GeneratedAt            time.Time               `json:"generated_at"`
}

// DashboardSnapshot aggregates moderation health in one read pass.
func (c *Coordinator) DashboardSnapshot(ctx context.Context) (*Dashboard, error) {
	statusCounts, err := c.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	flagCounts, err := c.store.FlagCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	last24h, err := c.store.CountDecisionsSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	recent, err := c.store.RecentDecisions(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	approvals, err := c.store.CounterValue(ctx, sqlite.ApprovalCounter)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	total := 0
	for _, count := range statusCounts {
		total += count
	}

	approved := statusCounts[feedback.StatusApproved] + statusCounts[feedback.StatusAutoApproved]
	reviewed := approved + statusCounts[feedback.StatusRejected]

	approvalRate := 0.0
	if reviewed > 0 {
		approvalRate = float64(approved) / float64(reviewed) * 100
	}

	return &Dashboard{
		TotalFeedback:          total,
		StatusCounts:           statusCounts,
		PendingReview:          statusCounts[feedback.StatusPending],
		Flagged:                statusCounts[feedback.StatusFlagged],
		TotalReviewed:          reviewed,
		ApprovalRate:           approvalRate,
		FlagHistogram:          flagCounts,
		DecisionsLast24h:       last24h,
		RecentDecisions:        recent,
		ApprovalsTowardRetrain: approvals,
		RetrainThreshold:       c.trigger.Threshold(),
		GeneratedAt:            time.Now().UTC(),
	}, nil
}

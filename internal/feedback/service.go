package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/metrics"
	"github.com/phishguard/backend/pkg/logger"
)

// ErrInvalidSubmission marks submissions rejected before they reach the
// pipeline at all.
var ErrInvalidSubmission = errors.New("invalid feedback submission")

const maxCommentLength = 2000

// RecordStore is the persistence the intake path needs.
type RecordStore interface {
	CreateFeedback(ctx context.Context, rec *Record, decision *Decision, retrainThreshold int) (bool, error)
	GetFeedback(ctx context.Context, id string) (*Record, error)
}

// RetrainTrigger reacts to approvals crossing the retraining threshold.
type RetrainTrigger interface {
	Threshold() int
	ThresholdCrossed()
}

// SubmitRequest carries one raw user submission.
type SubmitRequest struct {
	URL        string `json:"url"`
	Label      string `json:"label"`
	Comment    string `json:"comment"`
	Confidence int    `json:"confidence"`
	Expertise  string `json:"expertise"`
	UserID     string `json:"user_id"`
}

// Service is the feedback intake path: structural validation, screening, and
// the atomic write. Auto-approvals that cross the retraining threshold fire
// the trigger after the commit.
type Service struct {
	validator *Validator
	store     RecordStore
	trigger   RetrainTrigger
}

func NewService(validator *Validator, store RecordStore, trigger RetrainTrigger) *Service {
	return &Service{
		validator: validator,
		store:     store,
		trigger:   trigger,
	}
}

// Submit screens and persists one submission, returning the stored record
// with its initial status already decided.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	rec, err := s.buildRecord(req)
	if err != nil {
		return nil, err
	}

	s.validator.Screen(rec)

	var decision *Decision
	if rec.Status.Accepted() {
		decision = &Decision{
			ID:         NewDecisionID(),
			FeedbackID: rec.ID,
			Decision:   DecisionApprove,
			AdminID:    SystemAdminID,
			Comment:    "auto-approved by validation policy",
			CreatedAt:  rec.SubmittedAt,
		}
	}

	crossed, err := s.store.CreateFeedback(ctx, rec, decision, s.trigger.Threshold())
	if err != nil {
		return nil, fmt.Errorf("failed to store feedback: %w", err)
	}

	metrics.FeedbackSubmitted.WithLabelValues(string(rec.Status)).Inc()

	if crossed {
		s.trigger.ThresholdCrossed()
	}

	logger.Info("Feedback submitted",
		zap.String("feedback_id", rec.ID),
		zap.String("label", string(rec.Label)),
		zap.String("status", string(rec.Status)),
	)

	return rec, nil
}

// Get returns one record by id.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.GetFeedback(ctx, id)
}

func (s *Service) buildRecord(req SubmitRequest) (*Record, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidSubmission)
	}

	label, err := ParseLabel(req.Label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	if req.Confidence < 1 || req.Confidence > 5 {
		return nil, fmt.Errorf("%w: confidence must be between 1 and 5", ErrInvalidSubmission)
	}

	expertise, err := ParseExpertise(req.Expertise)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	if len(req.Comment) > maxCommentLength {
		return nil, fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidSubmission, maxCommentLength)
	}

	now := time.Now().UTC()
	return &Record{
		ID:          NewRecordID(now),
		URL:         strings.TrimSpace(req.URL),
		Label:       label,
		Comment:     strings.TrimSpace(req.Comment),
		Confidence:  req.Confidence,
		Expertise:   expertise,
		UserID:      strings.TrimSpace(req.UserID),
		Status:      StatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

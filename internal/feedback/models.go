package feedback

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the review state of a feedback record. All transitions go
// through CanTransitionTo; nothing else in the codebase compares and swaps
// status strings directly.
type Status string

const (
	StatusPending      Status = "pending"
	StatusFlagged      Status = "flagged"
	StatusAutoApproved Status = "auto_approved"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
)

// transitions is the closed transition table. Terminal states have no
// outgoing edges, which is what makes them terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusAutoApproved, StatusFlagged, StatusApproved, StatusRejected},
	StatusFlagged: {StatusApproved, StatusRejected},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Accepted reports whether the record reached an accept-terminal state and
// belongs in the training corpus.
func (s Status) Accepted() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusFlagged, StatusAutoApproved, StatusApproved, StatusRejected:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown feedback status %q", raw)
}

// Label is the user-asserted correct classification.
type Label string

const (
	LabelLegitimate Label = "legitimate"
	LabelPhishing   Label = "phishing"
)

func ParseLabel(raw string) (Label, error) {
	switch Label(strings.ToLower(raw)) {
	case LabelLegitimate:
		return LabelLegitimate, nil
	case LabelPhishing:
		return LabelPhishing, nil
	}
	return "", fmt.Errorf("label must be %q or %q", LabelLegitimate, LabelPhishing)
}

// Expertise is the submitter's self-reported skill level.
type Expertise string

const (
	ExpertiseBeginner     Expertise = "beginner"
	ExpertiseIntermediate Expertise = "intermediate"
	ExpertiseExpert       Expertise = "expert"
)

func ParseExpertise(raw string) (Expertise, error) {
	switch Expertise(strings.ToLower(raw)) {
	case ExpertiseBeginner, ExpertiseIntermediate, ExpertiseExpert:
		return Expertise(strings.ToLower(raw)), nil
	}
	return "", fmt.Errorf("unknown expertise level %q", raw)
}

// Flag is a validation concern attached to a record during intake.
type Flag string

const (
	FlagInvalidURL         Flag = "invalid_url"
	FlagLowConfidence      Flag = "low_confidence"
	FlagMissingExplanation Flag = "missing_explanation"
	FlagContradiction      Flag = "contradiction"
	FlagSpamSuspected      Flag = "spam_suspected"
)

// Record is one user correction moving through the review pipeline. End
// users never mutate it after creation; only the validator (initial scoring)
// and the review flow (status transitions) do.
type Record struct {
	ID              string    `json:"feedback_id"`
	URL             string    `json:"url"`
	Label           Label     `json:"label"`
	Comment         string    `json:"comment,omitempty"`
	Confidence      int       `json:"confidence"`
	Expertise       Expertise `json:"expertise"`
	UserID          string    `json:"user_id,omitempty"`
	ValidationScore int       `json:"validation_score"`
	Flags           []Flag    `json:"flags"`
	Status          Status    `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AdminID         string    `json:"admin_id,omitempty"`
	AdminComment    string    `json:"admin_comment,omitempty"`

	// Version guards concurrent status updates via compare-and-swap.
	Version int `json:"-"`
}

func (r *Record) HasFlag(flag Flag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// DecisionType is an admin verdict on one record.
type DecisionType string

const (
	DecisionApprove DecisionType = "approve"
	DecisionReject  DecisionType = "reject"
)

func ParseDecision(raw string) (DecisionType, error) {
	switch DecisionType(strings.ToLower(raw)) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	}
	return "", fmt.Errorf("decision must be %q or %q", DecisionApprove, DecisionReject)
}

func (d DecisionType) TargetStatus() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// SystemAdminID authors the synthesized decisions behind auto-approvals.
const SystemAdminID = "system"

// Decision is one append-only audit entry. Written once, never edited.
type Decision struct {
	ID         string       `json:"decision_id"`
	FeedbackID string       `json:"feedback_id"`
	Decision   DecisionType `json:"decision"`
	AdminID    string       `json:"admin_id"`
	Comment    string       `json:"comment,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NewRecordID builds a time-ordered, collision-resistant feedback id, e.g.
// fb_20250114_153012_1a2b3c4d.
func NewRecordID(now time.Time) string {
	return fmt.Sprintf("fb_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

func NewDecisionID() string {
	return uuid.NewString()
}

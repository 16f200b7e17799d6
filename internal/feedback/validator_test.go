package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/phishguard/backend/pkg/config"
)

func newRecord(overrides func(*Record)) *Record {
	rec := &Record{
		ID:          NewRecordID(time.Now()),
		URL:         "http://payp4l-login.suspicious.com/verify",
		Label:       LabelPhishing,
		Comment:     "This page imitates the PayPal sign-in form and asks for card details.",
		Confidence:  5,
		Expertise:   ExpertiseExpert,
		SubmittedAt: time.Now().UTC(),
	}
	if overrides != nil {
		overrides(rec)
	}
	return rec
}

func TestScreenAutoApprovesGoldenPath(t *testing.T) {
	validator := NewValidator(config.DefaultFeedback())
	rec := newRecord(nil)

	validator.Screen(rec)

	assert.Equal(t, StatusAutoApproved, rec.Status)
	assert.Empty(t, rec.Flags)
	assert.GreaterOrEqual(t, rec.ValidationScore, 5)
}

func TestScreenSpamOverridesEverything(t *testing.T) {
	validator := NewValidator(config.DefaultFeedback())
	rec := newRecord(func(r *Record) {
		r.Comment = "Congratulations, you win free money, click here for your prize"
	})

	validator.Screen(rec)

	assert.Equal(t, StatusFlagged, rec.Status)
	assert.Contains(t, rec.Flags, FlagSpamSuspected)
}

func TestScreenInvalidURLFlags(t *testing.T) {
	validator := NewValidator(config.DefaultFeedback())
	rec := newRecord(func(r *Record) {
		r.URL = "not a url at all"
	})

	validator.Screen(rec)

	assert.Equal(t, StatusFlagged, rec.Status)
	assert.Contains(t, rec.Flags, FlagInvalidURL)
}

func TestScreenOrdinaryFeedbackStaysPending(t *testing.T) {
	validator := NewValidator(config.DefaultFeedback())
	rec := newRecord(func(r *Record) {
		r.Confidence = 3
		r.Expertise = ExpertiseBeginner
	})

	validator.Screen(rec)

	assert.Equal(t, StatusPending, rec.Status)
}

func TestValidateScoring(t *testing.T) {
	validator := NewValidator(config.DefaultFeedback())

	tests := []struct {
		name      string
		overrides func(*Record)
		wantScore int
		wantFlags []Flag
	}{
		{
			name:      "full marks",
			overrides: nil,
			wantScore: 10,
			wantFlags: []Flag{},
		},
		{
			name: "low confidence flagged",
			overrides: func(r *Record) {
				r.Confidence = 1
			},
			wantScore: 8,
			wantFlags: []Flag{FlagLowConfidence},
		},
		{
			name: "missing comment",
			overrides: func(r *Record) {
				r.Comment = ""
			},
			wantScore: 8,
			wantFlags: []Flag{FlagMissingExplanation},
		},
		{
			name: "short comment is not an explanation",
			overrides: func(r *Record) {
				r.Comment = "bad site"
			},
			wantScore: 8,
			wantFlags: []Flag{FlagMissingExplanation},
		},
		{
			name: "intermediate expertise scores less",
			overrides: func(r *Record) {
				r.Expertise = ExpertiseIntermediate
			},
			wantScore: 9,
			wantFlags: []Flag{},
		},
		{
			name: "beginner expertise scores nothing",
			overrides: func(r *Record) {
				r.Expertise = ExpertiseBeginner
			},
			wantScore: 8,
			wantFlags: []Flag{},
		},
		{
			name: "trusted domain marked phishing without rationale",
			overrides: func(r *Record) {
				r.URL = "https://accounts.google.com/signin"
				r.Comment = "I am certain this page steals credentials from visitors."
			},
			wantScore: 8,
			wantFlags: []Flag{FlagContradiction},
		},
		{
			name: "trusted domain with spoofing rationale is consistent",
			overrides: func(r *Record) {
				r.URL = "https://accounts.google.com/signin"
				r.Comment = "This is a fake clone hosted behind a compromised redirect."
			},
			wantScore: 10,
			wantFlags: []Flag{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord(tt.overrides)
			score, flags := validator.Validate(rec)

			assert.Equal(t, tt.wantScore, score)
			assert.ElementsMatch(t, tt.wantFlags, flags)
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusAutoApproved))
	assert.True(t, StatusPending.CanTransitionTo(StatusFlagged))
	assert.True(t, StatusPending.CanTransitionTo(StatusApproved))
	assert.True(t, StatusPending.CanTransitionTo(StatusRejected))
	assert.True(t, StatusFlagged.CanTransitionTo(StatusApproved))
	assert.True(t, StatusFlagged.CanTransitionTo(StatusRejected))

	assert.False(t, StatusRejected.CanTransitionTo(StatusAutoApproved))
	assert.False(t, StatusApproved.CanTransitionTo(StatusRejected))
	assert.False(t, StatusAutoApproved.CanTransitionTo(StatusPending))
	assert.False(t, StatusApproved.CanTransitionTo(StatusPending))

	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusAutoApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusFlagged.Terminal())

	assert.True(t, StatusApproved.Accepted())
	assert.True(t, StatusAutoApproved.Accepted())
	assert.False(t, StatusRejected.Accepted())
}

func TestNewRecordIDIsTimeOrdered(t *testing.T) {
	early := NewRecordID(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	late := NewRecordID(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	assert.Less(t, early[:20], late[:20])
	assert.NotEqual(t, early, late)
}

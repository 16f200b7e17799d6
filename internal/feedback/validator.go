package feedback

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/features"
	"github.com/phishguard/backend/pkg/config"
	"github.com/phishguard/backend/pkg/logger"
)

// spamTerms marks promotional or throwaway submissions. A single hit flags
// the record no matter how well it scores otherwise.
var spamTerms = map[string]struct{}{
	"free":            {},
	"money":           {},
	"win":             {},
	"winner":          {},
	"prize":           {},
	"congratulations": {},
	"spam":            {},
}

// trustedDomains are sites so widely known that marking them as phishing
// needs an explicit spoofing rationale in the comment.
var trustedDomains = []string{"google.com", "github.com", "microsoft.com", "apple.com"}

var spoofRationaleTerms = []string{"fake", "spoof", "spoofed", "impersonat", "suspicious", "lookalike"}

// Validator screens incoming feedback before it becomes externally visible.
// Scoring weights are policy configuration; the precedence rule (structural
// flags dominate the numeric score) is not.
type Validator struct {
	cfg config.FeedbackConfig
}

func NewValidator(cfg config.FeedbackConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Screen scores a freshly submitted record and routes it to its initial
// status. It mutates only the validation fields.
func (v *Validator) Screen(rec *Record) {
	score, flags := v.Validate(rec)
	rec.ValidationScore = score
	rec.Flags = flags
	rec.Status = v.Route(rec)

	logger.Info("Feedback screened",
		zap.String("feedback_id", rec.ID),
		zap.Int("validation_score", score),
		zap.Int("flag_count", len(flags)),
		zap.String("status", string(rec.Status)),
	)
}

// Validate computes the 0-10 trustworthiness score and the structural flags.
func (v *Validator) Validate(rec *Record) (int, []Flag) {
	score := 0
	flags := make([]Flag, 0, 2)

	if wellFormedURL(rec.URL) {
		score += v.cfg.WellFormedURLPoints
	} else {
		flags = append(flags, FlagInvalidURL)
	}

	if rec.Confidence >= v.cfg.HighConfidenceMin {
		score += v.cfg.HighConfidencePoints
	} else if rec.Confidence <= v.cfg.LowConfidenceMax {
		flags = append(flags, FlagLowConfidence)
	}

	switch rec.Expertise {
	case ExpertiseExpert:
		score += v.cfg.ExpertPoints
	case ExpertiseIntermediate:
		score += v.cfg.IntermediatePoints
	}

	words := commentWords(rec.Comment)
	if len(words) >= v.cfg.MinCommentWords {
		score += v.cfg.CommentPoints
	} else {
		flags = append(flags, FlagMissingExplanation)
	}

	if consistentWithLabel(rec, words) {
		score += v.cfg.ConsistencyPoints
	} else {
		flags = append(flags, FlagContradiction)
	}

	if spamSuspected(rec.Comment, words) {
		flags = append(flags, FlagSpamSuspected)
	}

	return score, flags
}

// Route applies the precedence rule: integrity flags dominate the score, the
// auto-approval gate requires everything at once, and anything in between
// waits for a human.
func (v *Validator) Route(rec *Record) Status {
	if rec.HasFlag(FlagSpamSuspected) || rec.HasFlag(FlagInvalidURL) {
		return StatusFlagged
	}

	if rec.ValidationScore >= v.cfg.AutoApproveScore &&
		len(rec.Flags) == 0 &&
		rec.Confidence >= v.cfg.AutoApproveConfidence &&
		rec.Expertise == ExpertiseExpert &&
		strings.TrimSpace(rec.Comment) != "" {
		return StatusAutoApproved
	}

	return StatusPending
}

// wellFormedURL requires an explicit http(s) scheme: feedback about a URL
// nobody could have visited is not actionable.
func wellFormedURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	_, err := features.Extract(rawURL)
	return err == nil
}

// commentWords tokenizes a comment into meaningful words, dropping
// punctuation tokens.
func commentWords(comment string) []string {
	trimmed := strings.TrimSpace(comment)
	if trimmed == "" {
		return nil
	}

	doc, err := prose.NewDocument(trimmed,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		logger.Warn("Comment tokenization failed, falling back to whitespace split", zap.Error(err))
		return strings.Fields(strings.ToLower(trimmed))
	}

	words := make([]string, 0, 16)
	for _, token := range doc.Tokens() {
		if hasLetterOrDigit(token.Text) {
			words = append(words, strings.ToLower(token.Text))
		}
	}
	return words
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// consistentWithLabel is a lightweight sanity check between the asserted
// label and the comment: reporting a household-name domain as phishing
// without mentioning any spoofing rationale is contradictory.
func consistentWithLabel(rec *Record, words []string) bool {
	if rec.Label != LabelPhishing {
		return true
	}

	feats, err := features.Extract(rec.URL)
	if err != nil {
		return true
	}

	trusted := false
	for _, domain := range trustedDomains {
		if feats.Domain == domain || strings.HasSuffix(feats.Domain, "."+domain) {
			trusted = true
			break
		}
	}
	if !trusted {
		return true
	}

	lowerComment := strings.ToLower(rec.Comment)
	for _, term := range spoofRationaleTerms {
		if strings.Contains(lowerComment, term) {
			return true
		}
	}
	return false
}

func spamSuspected(comment string, words []string) bool {
	trimmed := strings.TrimSpace(comment)
	if trimmed == "" {
		return false
	}

	// Present but too short to mean anything reads as filler.
	if len(trimmed) < 5 {
		return true
	}

	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "click here") {
		return true
	}

	for _, word := range words {
		if _, ok := spamTerms[word]; ok {
			return true
		}
	}
	return false
}

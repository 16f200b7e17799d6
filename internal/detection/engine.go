package detection

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/features"
	"github.com/phishguard/backend/internal/heuristics"
	"github.com/phishguard/backend/internal/metrics"
	"github.com/phishguard/backend/internal/reputation"
	"github.com/phishguard/backend/pkg/logger"
	"github.com/phishguard/backend/pkg/utils"
)

// ErrInvalidInput marks URLs that cannot be analyzed at all, as opposed to
// URLs analyzed under degraded signals. Callers must never present this as a
// low-risk classification.
var ErrInvalidInput = features.ErrInvalidURL

// Predictor is the ML inference collaborator.
type Predictor interface {
	Predict(ctx context.Context, normalizedURL string) (float64, error)
}

// ReputationSource is the threat-intelligence collaborator.
type ReputationSource interface {
	Lookup(ctx context.Context, domain string) (*reputation.Report, error)
}

// ScanCache stores finished scan results keyed by normalized URL hash.
// Optional; nil disables caching.
type ScanCache interface {
	GetScan(ctx context.Context, urlKey string, result interface{}) (bool, error)
	SetScan(ctx context.Context, urlKey string, result interface{}, ttl time.Duration) error
}

// ScanRecorder persists scan outcomes for analytics. Optional.
type ScanRecorder interface {
	RecordScan(ctx context.Context, result *ScanResult) error
}

type Options struct {
	MLTimeout         time.Duration
	ReputationTimeout time.Duration
	CacheTTL          time.Duration
	Cache             ScanCache
	Recorder          ScanRecorder
}

// Engine merges the three signal sources into one bounded risk score. Each
// source runs on its own goroutine with its own timeout, so request latency
// is bounded by the slowest signal, not the sum, and one dead source never
// fails a scan.
type Engine struct {
	heuristics *heuristics.Analyzer
	predictor  Predictor
	reputation ReputationSource
	opts       Options
}

func NewEngine(analyzer *heuristics.Analyzer, predictor Predictor, reputationSource ReputationSource, opts Options) *Engine {
	if opts.MLTimeout == 0 {
		opts.MLTimeout = 5 * time.Second
	}
	if opts.ReputationTimeout == 0 {
		opts.ReputationTimeout = 10 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 15 * time.Minute
	}

	return &Engine{
		heuristics: analyzer,
		predictor:  predictor,
		reputation: reputationSource,
		opts:       opts,
	}
}

type mlSignal struct {
	probability float64
	err         error
}

type reputationSignal struct {
	report *reputation.Report
	err    error
}

// Analyze runs a full hybrid scan of one URL.
func (e *Engine) Analyze(ctx context.Context, rawURL string) (*ScanResult, error) {
	started := time.Now()

	feats, err := features.Extract(rawURL)
	if err != nil {
		metrics.ScanTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	urlKey := utils.URLKey(feats.Normalized)
	if e.opts.Cache != nil {
		var cached ScanResult
		hit, cacheErr := e.opts.Cache.GetScan(ctx, urlKey, &cached)
		if cacheErr != nil {
			logger.Warn("Scan cache read failed", zap.String("url", feats.Normalized), zap.Error(cacheErr))
		} else if hit {
			metrics.CacheHits.WithLabelValues("scan").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("scan").Inc()
	}

	// Fan out the three signal producers. The heuristic pass cannot fail;
	// it joins through a channel anyway so there is exactly one join point.
	heurCh := make(chan heuristics.Result, 1)
	mlCh := make(chan mlSignal, 1)
	repCh := make(chan reputationSignal, 1)

	go func() {
		heurCh <- e.heuristics.Analyze(feats)
	}()

	go func() {
		mlCtx, cancel := context.WithTimeout(ctx, e.opts.MLTimeout)
		defer cancel()
		probability, err := e.predictor.Predict(mlCtx, feats.Normalized)
		mlCh <- mlSignal{probability: probability, err: err}
	}()

	go func() {
		repCtx, cancel := context.WithTimeout(ctx, e.opts.ReputationTimeout)
		defer cancel()
		report, err := e.reputation.Lookup(repCtx, feats.Domain)
		repCh <- reputationSignal{report: report, err: err}
	}()

	heur := <-heurCh
	ml := <-mlCh
	rep := <-repCh

	result := e.aggregate(feats, heur, ml, rep)
	result.ProcessingMS = float64(time.Since(started).Microseconds()) / 1000.0

	e.recordScan(ctx, urlKey, result)

	return result, nil
}

// aggregate combines the tagged signal results deterministically: heuristics
// first, then ML, then reputation, so identical inputs produce identical
// explanations.
func (e *Engine) aggregate(feats *features.URLFeatures, heur heuristics.Result, ml mlSignal, rep reputationSignal) *ScanResult {
	explanation := make([]string, 0, len(heur.Findings)+2)
	for _, finding := range heur.Findings {
		explanation = append(explanation, fmt.Sprintf("heuristic %s: %s", finding.Rule, finding.Evidence))
	}

	mlProbability := ml.probability
	mlAvailable := ml.err == nil
	if !mlAvailable {
		mlProbability = NeutralProbability
		metrics.SignalDegraded.WithLabelValues("ml").Inc()
		explanation = append(explanation,
			fmt.Sprintf("ml: model unavailable, neutral probability %.2f substituted", NeutralProbability))
	} else {
		explanation = append(explanation,
			fmt.Sprintf("ml: model phishing probability %.3f contributes %.1f points", mlProbability, mlProbability*40))
	}

	reputationScore := 0.0
	reputationAvailable := rep.err == nil
	switch {
	case !reputationAvailable:
		metrics.SignalDegraded.WithLabelValues("reputation").Inc()
		explanation = append(explanation, "reputation: lookup unavailable, no contribution")
	case rep.report.Found && rep.report.Total > 0:
		ratio := float64(rep.report.Positives) / float64(rep.report.Total)
		reputationScore = ratio * 20
		if reputationScore > 20 {
			reputationScore = 20
		}
		explanation = append(explanation,
			fmt.Sprintf("reputation: %d/%d engines flagged this domain", rep.report.Positives, rep.report.Total))
	default:
		explanation = append(explanation, "reputation: no detections on record")
	}

	finalScore := heur.Score + mlProbability*40 + reputationScore
	if finalScore < 0 {
		finalScore = 0
	}
	if finalScore > 100 {
		finalScore = 100
	}

	classification := Classify(finalScore)

	return &ScanResult{
		URL:                 feats.Normalized,
		Domain:              feats.Domain,
		HeuristicScore:      heur.Score,
		HeuristicFindings:   heur.Findings,
		MLProbability:       mlProbability,
		MLAvailable:         mlAvailable,
		ReputationScore:     reputationScore,
		ReputationAvailable: reputationAvailable,
		FinalScore:          finalScore,
		Classification:      classification,
		RiskLevel:           riskLevelFor(classification),
		Explanation:         explanation,
		Timestamp:           time.Now().UTC(),
	}
}

func (e *Engine) recordScan(ctx context.Context, urlKey string, result *ScanResult) {
	metrics.ScanTotal.WithLabelValues("ok").Inc()
	metrics.RiskScore.Observe(result.FinalScore)
	metrics.ScanDuration.WithLabelValues(string(result.Classification)).Observe(result.ProcessingMS / 1000.0)

	logger.Info("URL analyzed",
		zap.String("url", result.URL),
		zap.String("domain", result.Domain),
		zap.Float64("final_score", result.FinalScore),
		zap.String("classification", string(result.Classification)),
		zap.Bool("ml_available", result.MLAvailable),
		zap.Bool("reputation_available", result.ReputationAvailable),
		zap.Float64("processing_ms", result.ProcessingMS),
	)

	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.RecordScan(ctx, result); err != nil {
			logger.Warn("Failed to record scan", zap.String("url", result.URL), zap.Error(err))
		}
	}

	if e.opts.Cache != nil {
		if err := e.opts.Cache.SetScan(ctx, urlKey, result, e.opts.CacheTTL); err != nil {
			logger.Warn("Scan cache write failed", zap.String("url", result.URL), zap.Error(err))
		}
	}
}

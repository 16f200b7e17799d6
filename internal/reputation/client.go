package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/phishguard/backend/pkg/circuitbreaker"
	"github.com/phishguard/backend/pkg/logger"
)

// ErrUnavailable means no reputation verdict could be obtained: the client is
// disabled, rate-limited, timed out, or the upstream errored. It is a
// degradation signal, never a scan failure.
var ErrUnavailable = errors.New("reputation lookup unavailable")

// Report is the threat-intelligence verdict for one domain.
type Report struct {
	Domain    string `json:"domain"`
	Positives int    `json:"positives"`
	Total     int    `json:"total"`
	Found     bool   `json:"found"`
}

// Cache lets lookups short-circuit the rate-limited upstream. A nil cache is
// valid and simply disables caching.
type Cache interface {
	GetReputation(ctx context.Context, domain string, report interface{}) (bool, error)
	SetReputation(ctx context.Context, domain string, report interface{}, ttl time.Duration) error
}

// Client wraps a VirusTotal-style URL reputation API.
type Client struct {
	enabled    bool
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	cache      Cache
	cacheTTL   time.Duration
}

type reportResponse struct {
	ResponseCode int `json:"response_code"`
	Positives    int `json:"positives"`
	Total        int `json:"total"`
}

func NewClient(enabled bool, baseURL, apiKey string, timeout time.Duration, cache Cache, cacheTTL time.Duration) *Client {
	cb := circuitbreaker.New("reputation", circuitbreaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		Logger:           logger.GetLogger(),
	})

	return &Client{
		enabled:    enabled && apiKey != "",
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

// Lookup fetches the reputation report for a domain. Cached verdicts are
// served without touching the upstream, which matters under its rate limits.
func (c *Client) Lookup(ctx context.Context, domain string) (*Report, error) {
	if !c.enabled {
		return nil, fmt.Errorf("%w: client disabled", ErrUnavailable)
	}

	if c.cache != nil {
		var cached Report
		hit, err := c.cache.GetReputation(ctx, domain, &cached)
		if err != nil {
			logger.Warn("Reputation cache read failed", zap.String("domain", domain), zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	var report *Report
	err := c.cb.Execute(func() error {
		r, err := c.lookupOnce(ctx, domain)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		logger.Warn("Reputation lookup failed", zap.String("domain", domain), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.cache != nil {
		if err := c.cache.SetReputation(ctx, domain, report, c.cacheTTL); err != nil {
			logger.Warn("Reputation cache write failed", zap.String("domain", domain), zap.Error(err))
		}
	}

	return report, nil
}

func (c *Client) lookupOnce(ctx context.Context, domain string) (*Report, error) {
	endpoint := fmt.Sprintf("%s/url/report?%s", c.baseURL, url.Values{
		"apikey":   {c.apiKey},
		"resource": {domain},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reputation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusTooManyRequests:
		return nil, errors.New("upstream rate limit exceeded")
	default:
		return nil, fmt.Errorf("reputation lookup returned status %d", resp.StatusCode)
	}

	var parsed reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode reputation response: %w", err)
	}

	// response_code 0 means the resource is unknown upstream. That is a
	// clean answer, not a failure.
	if parsed.ResponseCode != 1 {
		return &Report{Domain: domain}, nil
	}

	return &Report{
		Domain:    domain,
		Positives: parsed.Positives,
		Total:     parsed.Total,
		Found:     true,
	}, nil
}

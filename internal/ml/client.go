package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/phishguard/backend/pkg/circuitbreaker"
	"github.com/phishguard/backend/pkg/logger"
	"github.com/phishguard/backend/pkg/retry"
)

// ErrModelUnavailable covers every failure mode of the inference service:
// unreachable, erroring, timing out, or circuit-broken. Callers degrade to a
// neutral probability instead of failing the scan.
var ErrModelUnavailable = errors.New("ml model unavailable")

// Client talks to the external sequence-classifier inference service. The
// model itself is opaque; this client only knows the predict contract.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryPolicy retry.Policy
}

type predictRequest struct {
	URL string `json:"url"`
}

type predictResponse struct {
	Probability  float64 `json:"probability"`
	ModelVersion string  `json:"model_version,omitempty"`
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	cb := circuitbreaker.New("ml-model", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		MaxAttempts:    2,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       500 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		baseURL:     endpoint,
		httpClient:  &http.Client{Timeout: timeout},
		cb:          cb,
		retryPolicy: retryPolicy,
	}
}

// Predict returns the phishing probability in [0,1] for a normalized URL.
// Any failure surfaces as ErrModelUnavailable.
func (c *Client) Predict(ctx context.Context, normalizedURL string) (float64, error) {
	var probability float64

	err := c.cb.Execute(func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			p, err := c.predictOnce(ctx, normalizedURL)
			if err != nil {
				return err
			}
			probability = p
			return nil
		})
	})
	if err != nil {
		logger.Warn("ML prediction failed",
			zap.String("url", normalizedURL),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return probability, nil
}

func (c *Client) predictOnce(ctx context.Context, normalizedURL string) (float64, error) {
	body, err := json.Marshal(predictRequest{URL: normalizedURL})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predict returned status %d", resp.StatusCode)
	}

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode predict response: %w", err)
	}

	if parsed.Probability < 0 || parsed.Probability > 1 {
		return 0, fmt.Errorf("predict returned probability %f outside [0,1]", parsed.Probability)
	}

	return parsed.Probability, nil
}

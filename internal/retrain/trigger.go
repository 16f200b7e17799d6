// Package retrain notifies the model training service once enough approved
// feedback has accumulated. The durable approval counter lives in the store;
// this package owns the threshold policy and the outbound notification.
package retrain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/metrics"
	"github.com/phishguard/backend/pkg/logger"
	"github.com/phishguard/backend/pkg/retry"
)

// Signal describes one retraining request.
type Signal struct {
	Reason      string    `json:"reason"`
	Threshold   int       `json:"threshold"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Notifier delivers a retraining signal to the training service.
type Notifier interface {
	Notify(ctx context.Context, signal Signal) error
}

// Trigger fires retraining notifications asynchronously. Delivery failures
// are logged, never propagated: the approval that crossed the threshold has
// already committed and must not be rolled back over a flaky trainer.
type Trigger struct {
	threshold int
	notifier  Notifier
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewTrigger(threshold int, notifier Notifier, timeout time.Duration) *Trigger {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Trigger{
		threshold: threshold,
		notifier:  notifier,
		timeout:   timeout,
	}
}

// Threshold is the approval count between retraining runs. Zero disables
// triggering entirely.
func (t *Trigger) Threshold() int {
	return t.threshold
}

// ThresholdCrossed fires one notification in the background. Callers invoke
// it exactly once per counter crossing reported by the store.
func (t *Trigger) ThresholdCrossed() {
	metrics.RetrainTriggered.Inc()
	logger.Info("Retraining threshold crossed", zap.Int("threshold", t.threshold))

	if t.notifier == nil {
		return
	}

	signal := Signal{
		Reason:      "approval_threshold",
		Threshold:   t.threshold,
		TriggeredAt: time.Now().UTC(),
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.notifier.Notify(ctx, signal); err != nil {
			logger.Error("Retraining notification failed", zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight notifications finish. Called on shutdown so a
// crossing observed moments before exit still reaches the trainer.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// HTTPNotifier posts retraining signals to the training service endpoint,
// retrying transient failures.
type HTTPNotifier struct {
	endpoint    string
	httpClient  *http.Client
	retryPolicy retry.Policy
}

func NewHTTPNotifier(endpoint string, timeout time.Duration) *HTTPNotifier {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 3

	return &HTTPNotifier{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: timeout},
		retryPolicy: policy,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, signal Signal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to encode retrain signal: %w", err)
	}

	return retry.Do(ctx, n.retryPolicy, func() error {
		return n.post(ctx, payload)
	})
}

func (n *HTTPNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build retrain request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("retrain request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("retrain service returned status %d", resp.StatusCode)
	}
	return nil
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/backend/internal/detection"
	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/heuristics"
	"github.com/phishguard/backend/internal/reputation"
	"github.com/phishguard/backend/internal/review"
	"github.com/phishguard/backend/internal/storage/sqlite"
	"github.com/phishguard/backend/pkg/config"
)

type stubPredictor struct {
	probability float64
}

func (p *stubPredictor) Predict(context.Context, string) (float64, error) {
	return p.probability, nil
}

type stubReputation struct{}

func (stubReputation) Lookup(context.Context, string) (*reputation.Report, error) {
	return nil, reputation.ErrUnavailable
}

type stubTrigger struct {
	fired int
}

func (t *stubTrigger) Threshold() int { return 50 }

func (t *stubTrigger) ThresholdCrossed() { t.fired++ }

func newTestApp(t *testing.T) (*fiber.App, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	analyzer := heuristics.NewAnalyzer(config.DefaultDetection())
	engine := detection.NewEngine(analyzer, &stubPredictor{probability: 0.89}, stubReputation{},
		detection.Options{Recorder: store})

	trigger := &stubTrigger{}
	validator := feedback.NewValidator(config.DefaultFeedback())
	service := feedback.NewService(validator, store, trigger)
	coordinator := review.NewCoordinator(store, trigger)

	scanHandler := NewScanHandler(engine, store)
	feedbackHandler := NewFeedbackHandler(service)
	adminHandler := NewAdminHandler(coordinator, store)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/scan", scanHandler.HandleScan)
	api.Get("/scan/history", scanHandler.GetScanHistory)
	api.Post("/feedback", feedbackHandler.HandleSubmit)
	api.Get("/feedback/:id", feedbackHandler.GetFeedback)
	api.Get("/admin/feedback/pending", adminHandler.GetReviewQueue)
	api.Post("/admin/feedback/batch-review", adminHandler.HandleBatchReview)
	api.Post("/admin/feedback/:id/review", adminHandler.HandleReview)
	api.Get("/admin/feedback/:id/audit", adminHandler.GetAuditTrail)
	api.Get("/admin/dashboard", adminHandler.GetDashboard)
	api.Get("/admin/dataset", adminHandler.GetDataset)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestScanEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/scan",
		map[string]string{"url": "http://payp4l-login.suspicious.com"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Phishing", body["classification"])
	assert.InDelta(t, 68.1, body["final_score"].(float64), 0.001)
	assert.NotEmpty(t, body["explanation"])
}

func TestScanEndpointRejectsBadInput(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/scan", map[string]string{"url": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/scan", map[string]string{"url": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanHistoryEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	_, _ = doJSON(t, app, http.MethodPost, "/api/v1/scan",
		map[string]string{"url": "https://www.example.org/"})

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/scan/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

func submitFeedback(t *testing.T, app *fiber.App, overrides map[string]interface{}) map[string]interface{} {
	t.Helper()

	payload := map[string]interface{}{
		"url":        "http://payp4l-login.suspicious.com/verify",
		"label":      "phishing",
		"comment":    "This page imitates the PayPal sign-in form and asks for card details.",
		"confidence": 4,
		"expertise":  "intermediate",
		"user_id":    "user-1",
	}
	for k, v := range overrides {
		payload[k] = v
	}

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/feedback", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body
}

func TestFeedbackSubmitAndFetch(t *testing.T) {
	app, _ := newTestApp(t)

	created := submitFeedback(t, app, nil)
	assert.Equal(t, "pending", created["status"])

	id := created["feedback_id"].(string)
	resp, fetched := doJSON(t, app, http.MethodGet, "/api/v1/feedback/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, fetched["feedback_id"])

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/feedback/fb_20250101_000000_missing0", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedbackSubmitAutoApproval(t *testing.T) {
	app, _ := newTestApp(t)

	created := submitFeedback(t, app, map[string]interface{}{
		"confidence": 5,
		"expertise":  "expert",
	})
	assert.Equal(t, "auto_approved", created["status"])
}

func TestFeedbackSubmitRejectsBadLabel(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/feedback", map[string]interface{}{
		"url":        "http://example.com",
		"label":      "malware",
		"confidence": 3,
		"expertise":  "beginner",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviewFlow(t *testing.T) {
	app, _ := newTestApp(t)

	created := submitFeedback(t, app, nil)
	id := created["feedback_id"].(string)

	resp, queue := doJSON(t, app, http.MethodGet, "/api/v1/admin/feedback/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), queue["count"])

	resp, reviewed := doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/admin/feedback/%s/review", id),
		map[string]string{"decision": "approve", "admin_id": "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", reviewed["status"])

	resp, _ = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/admin/feedback/%s/review", id),
		map[string]string{"decision": "reject", "admin_id": "admin-2", "comment": "disagree"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, trail := doJSON(t, app, http.MethodGet,
		fmt.Sprintf("/api/v1/admin/feedback/%s/audit", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, trail["decisions"], 1)

	resp, dataset := doJSON(t, app, http.MethodGet, "/api/v1/admin/dataset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), dataset["count"])
}

func TestReviewUnknownRecord(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost,
		"/api/v1/admin/feedback/fb_20250101_000000_missing0/review",
		map[string]string{"decision": "approve", "admin_id": "admin-1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchReviewEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	first := submitFeedback(t, app, nil)["feedback_id"].(string)
	second := submitFeedback(t, app, nil)["feedback_id"].(string)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/admin/feedback/batch-review",
		map[string]interface{}{
			"admin_id": "admin-1",
			"decision": "approve",
			"ids":      []string{first, second, "fb_20250101_000000_missing0"},
		})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]interface{})
	require.Len(t, results, 3)
	assert.Equal(t, "approved", results[0].(map[string]interface{})["status"])
	assert.Equal(t, "approved", results[1].(map[string]interface{})["status"])
	assert.NotEmpty(t, results[2].(map[string]interface{})["error"])
}

func TestDashboardEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	id := submitFeedback(t, app, nil)["feedback_id"].(string)
	_, _ = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/admin/feedback/%s/review", id),
		map[string]string{"decision": "approve", "admin_id": "admin-1"})

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/admin/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total_feedback"])
	assert.Equal(t, float64(100), body["approval_rate"])
	assert.Equal(t, float64(1), body["approvals_toward_retrain"])
}

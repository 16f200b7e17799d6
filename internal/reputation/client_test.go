package reputation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]Report
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]Report)}
}

func (c *fakeCache) GetReputation(_ context.Context, domain string, report interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[domain]
	if !ok {
		return false, nil
	}
	*report.(*Report) = cached
	return true, nil
}

func (c *fakeCache) SetReputation(_ context.Context, domain string, report interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = *report.(*Report)
	c.sets++
	return nil
}

func TestLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/url/report", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		require.Equal(t, "malicious.example.com", r.URL.Query().Get("resource"))

		json.NewEncoder(w).Encode(reportResponse{ResponseCode: 1, Positives: 12, Total: 70})
	}))
	defer server.Close()

	client := NewClient(true, server.URL, "test-key", time.Second, nil, time.Hour)
	report, err := client.Lookup(context.Background(), "malicious.example.com")

	require.NoError(t, err)
	assert.True(t, report.Found)
	assert.Equal(t, 12, report.Positives)
	assert.Equal(t, 70, report.Total)
}

func TestLookupDisabledWithoutKey(t *testing.T) {
	client := NewClient(true, "http://unused", "", time.Second, nil, time.Hour)
	_, err := client.Lookup(context.Background(), "example.com")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(true, server.URL, "test-key", time.Second, nil, time.Hour)
	_, err := client.Lookup(context.Background(), "example.com")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupUnknownResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(reportResponse{ResponseCode: 0})
	}))
	defer server.Close()

	client := NewClient(true, server.URL, "test-key", time.Second, nil, time.Hour)
	report, err := client.Lookup(context.Background(), "unknown.example.com")

	require.NoError(t, err)
	assert.False(t, report.Found)
	assert.Zero(t, report.Positives)
}

func TestLookupUsesCache(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(reportResponse{ResponseCode: 1, Positives: 3, Total: 70})
	}))
	defer server.Close()

	cache := newFakeCache()
	client := NewClient(true, server.URL, "test-key", time.Second, cache, time.Hour)

	first, err := client.Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	second, err := client.Lookup(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second lookup must be served from cache")
	assert.Equal(t, 1, cache.sets)
}

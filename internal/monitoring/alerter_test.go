package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/retention-cli/internal/config"
	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/resilience"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		CriticalShareThreshold: 0.25,
		StaleThreshold:         5,
		AvgChurnThreshold:      0.6,
	}
}

func testRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func healthFor(summary model.RiskSummary, staleCount int) *BoxHealth {
	summary.BoxID = "box-1"
	stale := make([]model.StaleEntry, staleCount)
	return &BoxHealth{
		Summary:          &summary,
		StaleMemberships: stale,
		CollectedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())

	alerts := a.Evaluate(healthFor(model.RiskSummary{
		Total: 20, Low: 15, Medium: 4, Critical: 1,
		AvgChurnProbability: 0.3,
	}, 0))
	assert.Empty(t, alerts)
}

func TestEvaluate_CriticalShare(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())

	alerts := a.Evaluate(healthFor(model.RiskSummary{
		Total: 10, Critical: 4,
		AvgChurnProbability: 0.4,
	}, 0))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCriticalShare, alerts[0].Type)
	assert.Equal(t, "box-1", alerts[0].BoxID)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "critical risk")
}

func TestEvaluate_CriticalShare_SmallBoxSuppressed(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())

	// 2 of 3 critical would alert, but the box is too small to judge.
	alerts := a.Evaluate(healthFor(model.RiskSummary{Total: 3, Critical: 2}, 0))
	assert.Empty(t, alerts)
}

func TestEvaluate_StaleSnapshots(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())

	alerts := a.Evaluate(healthFor(model.RiskSummary{Total: 20, Low: 20}, 7))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleSnapshots, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestEvaluate_AvgChurn(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())

	alerts := a.Evaluate(healthFor(model.RiskSummary{
		Total: 20, Low: 20,
		AvgChurnProbability: 0.72,
	}, 0))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAvgChurn, alerts[0].Type)
}

func TestEvaluate_NilSummary(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())
	assert.Nil(t, a.Evaluate(&BoxHealth{}))
}

func TestSendAlerts(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received = append(received, alert)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg, testRetryConfig())

	alerts := []Alert{
		{Type: AlertCriticalShare, BoxID: "box-1", Severity: "high"},
		{Type: AlertStaleSnapshots, BoxID: "box-1", Severity: "medium"},
	}
	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertCriticalShare, received[0].Type)
}

func TestSendAlerts_WebhookFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg, testRetryConfig())

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertAvgChurn, BoxID: "box-1"}})
	assert.Equal(t, 0, sent)
	// A 502 is retryable, so every configured attempt is spent.
	assert.Equal(t, 3, calls)
}

func TestSendAlerts_RetriesTransientStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg, testRetryConfig())

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCriticalShare, BoxID: "box-1"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 3, calls)
}

func TestSendAlerts_NoRetryOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg, testRetryConfig())

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertAvgChurn, BoxID: "box-1"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, calls)
}

func TestSendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), testRetryConfig())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertAvgChurn}}))
}

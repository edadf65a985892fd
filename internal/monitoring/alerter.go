package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/config"
	"github.com/pulsefit/retention-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCriticalShare  AlertType = "critical_share"
	AlertStaleSnapshots AlertType = "stale_snapshots"
	AlertAvgChurn       AlertType = "avg_churn"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	BoxID     string         `json:"box_id"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates box health against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	retry  resilience.RetryConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
// Webhook posts retry per the retry config, on transient network errors
// and retryable HTTP statuses.
func NewAlerter(cfg config.MonitoringConfig, retry resilience.RetryConfig) *Alerter {
	retry.OnRetry = resilience.RetryLogger("monitoring", "alert_webhook")
	return &Alerter{
		cfg:    cfg,
		retry:  retry,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks box health against thresholds and returns any alerts.
func (a *Alerter) Evaluate(health *BoxHealth) []Alert {
	var alerts []Alert
	if health.Summary == nil {
		return nil
	}
	boxID := health.Summary.BoxID
	now := health.CollectedAt

	// Small boxes produce noisy shares; require a handful of scored rows.
	share := health.CriticalShare()
	if health.Summary.Total >= 5 && share > a.cfg.CriticalShareThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCriticalShare,
			BoxID:    boxID,
			Severity: "high",
			Message: fmt.Sprintf(
				"%.0f%% of scored memberships at critical risk exceeds threshold %.0f%% (%d of %d)",
				share*100, a.cfg.CriticalShareThreshold*100,
				health.Summary.Critical, health.Summary.Total,
			),
			Details: map[string]any{
				"critical_share": share,
				"threshold":      a.cfg.CriticalShareThreshold,
				"critical":       health.Summary.Critical,
				"total":          health.Summary.Total,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleThreshold > 0 && len(health.StaleMemberships) >= a.cfg.StaleThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStaleSnapshots,
			BoxID:    boxID,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d active athletes have expired or missing risk snapshots (threshold %d)",
				len(health.StaleMemberships), a.cfg.StaleThreshold,
			),
			Details: map[string]any{
				"stale_count": len(health.StaleMemberships),
				"threshold":   a.cfg.StaleThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.AvgChurnThreshold > 0 && health.Summary.Total > 0 &&
		health.Summary.AvgChurnProbability > a.cfg.AvgChurnThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAvgChurn,
			BoxID:    boxID,
			Severity: "high",
			Message: fmt.Sprintf(
				"Average churn probability %.2f exceeds threshold %.2f across %d memberships",
				health.Summary.AvgChurnProbability, a.cfg.AvgChurnThreshold, health.Summary.Total,
			),
			Details: map[string]any{
				"avg_churn_probability": health.Summary.AvgChurnProbability,
				"threshold":             a.cfg.AvgChurnThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("box_id", alert.BoxID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("box_id", alert.BoxID),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL, retrying on
// transient network failures and retryable HTTP statuses.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}

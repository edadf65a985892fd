package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/config"
)

// Checker runs periodic box health checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting box health checker",
		zap.Duration("interval", interval),
		zap.Int("boxes", len(c.cfg.Boxes)),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("box health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	for _, boxID := range c.cfg.Boxes {
		health, err := c.collector.Collect(ctx, boxID)
		if err != nil {
			log.Error("monitoring: failed to collect box health",
				zap.String("box_id", boxID),
				zap.Error(err),
			)
			continue
		}

		alerts := c.alerter.Evaluate(health)
		if len(alerts) == 0 {
			log.Debug("monitoring: no alerts triggered", zap.String("box_id", boxID))
			continue
		}

		sent := c.alerter.SendAlerts(ctx, alerts)
		log.Info("monitoring: box check complete",
			zap.String("box_id", boxID),
			zap.Int("alerts_triggered", len(alerts)),
			zap.Int("alerts_sent", sent),
		)
	}
}

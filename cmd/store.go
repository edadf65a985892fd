package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/risk"
	"github.com/pulsefit/retention-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "retention.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newEngine(st store.Store) *risk.Engine {
	return risk.NewEngine(st, risk.Options{
		WindowDays:      cfg.Risk.WindowDays,
		Validity:        time.Duration(cfg.Risk.ValidityHours) * time.Hour,
		BatchRatePerSec: cfg.Batch.RatePerSec,
	}, zap.L())
}

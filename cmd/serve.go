package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/monitoring"
	"github.com/pulsefit/retention-cli/internal/resilience"
	"github.com/pulsefit/retention-cli/internal/risk"
	"github.com/pulsefit/retention-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long:  "Exposes risk recomputation and summary endpoints, and runs the box health checker when monitoring boxes are configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng := newEngine(st)
		router := buildRouter(st, eng, cfg.Server.AllowedOrigins, cfg.Retry)

		if len(cfg.Monitoring.Boxes) > 0 {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitoring, cfg.Retry),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the trigger and summary endpoints. Single-membership
// recomputes retry transient store failures per the retry config; batch
// runs do their own per-membership fault handling and are not retried.
func buildRouter(st store.Store, eng *risk.Engine, allowedOrigins []string, retry resilience.RetryConfig) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/memberships/{id}/risk", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")

		snap, err := resilience.DoVal(req.Context(), retry,
			func(ctx context.Context) (*model.RiskSnapshot, error) {
				return eng.CalculateRiskScore(ctx, id)
			})
		if err != nil {
			if errors.Is(err, store.ErrMembershipNotFound) {
				writeError(w, http.StatusNotFound, "membership not found")
				return
			}
			zap.L().Error("risk recompute failed", zap.String("membership", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "risk computation failed")
			return
		}

		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/boxes/{id}/risk", func(w http.ResponseWriter, req *http.Request) {
		boxID := chi.URLParam(req, "id")

		result, err := eng.CalculateBoxRiskScores(req.Context(), boxID)
		if err != nil {
			zap.L().Error("batch recompute failed", zap.String("box", boxID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "batch computation failed")
			return
		}

		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/boxes/{id}/risk/summary", func(w http.ResponseWriter, req *http.Request) {
		boxID := chi.URLParam(req, "id")

		summary, err := st.RiskSummary(req.Context(), boxID, time.Now().UTC())
		if err != nil {
			zap.L().Error("risk summary failed", zap.String("box", boxID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "summary failed")
			return
		}

		writeJSON(w, http.StatusOK, summary)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

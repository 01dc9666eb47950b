package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/monitoring"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/pipeline"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serves the pipeline over HTTP alongside the background health checker
and periodic maintenance (validation session expiry, cache purge).

Photo processing is asynchronous: POST /v1/process returns 202 with a run
id, and GET /v1/runs/{id} reports status and, once finished, the result.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.Migrate(ctx); err != nil {
		return err
	}

	collector := monitoring.NewCollector(env.store)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		snap, err := collector.Collect(r.Context(), cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics collection failed"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /v1/process", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageBase64 string `json:"image_base64"`
			MediaType   string `json:"media_type"`
			Query       string `json:"query"`
			SessionID   string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil || len(image) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image_base64 must be non-empty base64"})
			return
		}
		if req.MediaType == "" {
			req.MediaType = "image/jpeg"
		}
		if req.SessionID == "" {
			req.SessionID = "http"
		}

		runID := uuid.New().String()
		preq := pipeline.Request{
			ID:        runID,
			Image:     image,
			MediaType: req.MediaType,
			Query:     req.Query,
			SessionID: req.SessionID,
		}

		// Processing takes up to the pipeline deadline; run it detached
		// from the request and let clients poll the run.
		go func() {
			result, err := env.orch.Process(ctx, preq)
			if err != nil {
				zap.L().Error("async processing failed",
					zap.String("run_id", runID),
					zap.Error(err))
				return
			}
			zap.L().Info("async processing complete",
				zap.String("run_id", runID),
				zap.Float64("cost_usd", result.TotalCostUSD))
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"run_id": runID,
		})
	})

	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := env.store.GetRun(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("POST /v1/validate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
			Confirmed *bool  `json:"confirmed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Confirmed == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and confirmed are required"})
			return
		}
		sess, err := env.orch.SubmitValidationAnswer(r.Context(), req.SessionID, *req.Confirmed)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			case errors.Is(err, store.ErrTerminalSession):
				resp := map[string]any{"error": "session already resolved"}
				if sess != nil {
					resp["state"] = sess.State
				}
				writeJSON(w, http.StatusConflict, resp)
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "validation failed"})
			}
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})

	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "serve: listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		checker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		runMaintenance(gctx, env)
		return nil
	})

	return g.Wait()
}

// runMaintenance sweeps expired validation sessions and cache entries on a
// fixed cadence until ctx is cancelled.
func runMaintenance(ctx context.Context, env *pipelineEnv) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	log := zap.L().With(zap.String("component", "maintenance"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := env.orch.ExpireValidationSessions(ctx); err != nil {
				log.Error("session expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Info("expired validation sessions", zap.Int("count", n))
			}
			if n, err := env.orch.PurgeCache(ctx); err != nil {
				log.Error("cache purge failed", zap.Error(err))
			} else if n > 0 {
				log.Info("purged expired cache entries", zap.Int("count", n))
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

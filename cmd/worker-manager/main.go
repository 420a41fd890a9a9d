// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"practice-insights/internal/app"
	"practice-insights/internal/common/camunda"
	"practice-insights/internal/common/config"
	"practice-insights/internal/common/logger"
	"practice-insights/pkg/registry"

	aq "practice-insights/internal/workers/ai-conversation/answer-question"
	rbe "practice-insights/internal/workers/data-export/refresh-bulk-export"
)

const registryPath = "configs/activity-registry.json"

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.NewZapAdapter(zapLog)

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = app.RetryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init storage, practice API and LLM clients ---
	a, err := app.Build(ctx, cfg, zapLog, "worker-manager")
	if err != nil {
		zapLog.Fatal("backend initialization failed", zap.Error(err))
	}
	defer a.Close()

	// --- Register Workers ---
	workers := camunda.NewWorkerSet(zeebe.GetClient(), log)
	workers.Start(aq.TaskType, config.GetWorkerConfig(cfg, aq.TaskType), a.AnswerHandler().Handle)
	workers.Start(rbe.TaskType, config.GetWorkerConfig(cfg, rbe.TaskType), a.ExportHandler().Handle)
	zapLog.Info("Workers registered", zap.Strings("taskTypes", workers.TaskTypes()))

	if reg, err := registry.LoadRegistry(registryPath); err != nil {
		zapLog.Warn("activity registry not loaded", zap.String("path", registryPath), zap.Error(err))
	} else if missing := reg.Unregistered(workers.TaskTypes()); len(missing) > 0 {
		zapLog.Warn("workers missing from activity registry", zap.Strings("taskTypes", missing))
	}

	// --- Health & Metrics Server ---
	checks := a.Checks()
	checks["zeebe"] = zeebe.HealthCheck

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": failed})
			return
		}
		writeStatus(w, http.StatusOK, map[string]interface{}{
			"status":  "ready",
			"workers": workers.TaskTypes(),
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/debug", http.DefaultServeMux)

	srv := &http.Server{Addr: ":8080", Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// cmd/api-server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"practice-insights/internal/api"
	"practice-insights/internal/app"
	"practice-insights/internal/common/config"
	"practice-insights/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, zapLog, "api-server")
	if err != nil {
		zapLog.Fatal("backend initialization failed", zap.Error(err))
	}
	defer a.Close()

	server := api.New(api.Options{
		Answerer:  a.AnswerHandler(),
		Extractor: a.ExportHandler(),
		Practice:  a.Practice,
		Executor:  a.Executor,
		Mailer:    a.Mailer(),
		Checks:    a.Checks(),
		Logger:    a.Logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:      config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("api server listening",
			zap.String("address", cfg.Server.Address),
			zap.Bool("smartRouter", cfg.Server.SmartRouter),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
}

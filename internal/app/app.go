// Package app connects configured backends and builds the handlers shared by
// the API server, the worker manager and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"practice-insights/internal/api"
	"practice-insights/internal/bulk"
	"practice-insights/internal/claude"
	commonaws "practice-insights/internal/common/aws"
	"practice-insights/internal/common/config"
	"practice-insights/internal/common/database"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/common/observability"
	"practice-insights/internal/executor"
	"practice-insights/internal/greyfinch"
	answerquestion "practice-insights/internal/workers/ai-conversation/answer-question"
	refreshbulkexport "practice-insights/internal/workers/data-export/refresh-bulk-export"
)

type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Postgres  *database.PostgresClient
	Redis     *database.RedisClient
	Search    *database.ElasticsearchClient // nil unless configured
	Practice  *greyfinch.Client
	LLM       *claude.Client
	Cache     *bulk.Cache
	Reader    bulk.Reader
	Executor  *executor.Executor
	Notifiers *commonaws.Notifiers
	Obs       *observability.Observability
}

// RetryWithBackoff retries operation with doubling delays.
func RetryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// Build connects Postgres, Redis and, when configured, Elasticsearch, then
// wires the planner stack on top.
func Build(ctx context.Context, cfg *config.Config, zapLog *zap.Logger, serviceName string) (*App, error) {
	log := logger.NewZapAdapter(zapLog)
	a := &App{Config: cfg, Logger: log}

	err := RetryWithBackoff(func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return err
		}
		a.Postgres = pg
		return nil
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	if err := a.Postgres.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}
	zapLog.Info("PostgreSQL connected successfully")

	err = RetryWithBackoff(func() error {
		rdb := database.NewRedis(cfg.Database.Redis)
		if err := rdb.Ping(ctx); err != nil {
			rdb.Close()
			return err
		}
		a.Redis = rdb
		return nil
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		a.Close()
		return nil, err
	}
	zapLog.Info("Redis connected successfully")

	if cfg.Database.Elasticsearch.GetURL() != "" {
		err = RetryWithBackoff(func() error {
			es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := es.Ping(ctx); err != nil {
				return err
			}
			a.Search = es
			return nil
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.Search.EnsureIndex(ctx); err != nil {
			a.Close()
			return nil, err
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	a.Notifiers, err = commonaws.NewNotifiers(ctx, cfg.Notifications)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Obs, err = observability.New(serviceName)
	if err != nil {
		zapLog.Warn("observability disabled", zap.Error(err))
	}

	a.Practice = greyfinch.NewClient(cfg.APIs.Greyfinch, log)
	a.LLM = claude.NewClient(cfg.APIs.Claude)
	a.Cache = bulk.NewCache(a.Redis.Client, config.GetDuration(cfg.Planner.CacheTTL))

	a.Reader = bulk.NewPostgresStore(a.Postgres.DB)
	if cfg.Planner.BulkBackend == "elasticsearch" && a.Search != nil {
		a.Reader = bulk.NewSearchStore(a.Search.Client, a.Search.Index)
	}
	a.Executor = executor.New(a.Practice, a.Reader, log, executor.WithCache(a.Cache),
		executor.WithPaging(cfg.Planner.PageSize, cfg.Planner.SoftCap),
	)

	if !cfg.APIs.Greyfinch.Configured() {
		zapLog.Warn("practice API credentials missing; answers will use demo data")
	}
	if !a.LLM.Configured() {
		zapLog.Warn("LLM API key missing; answers will use demo data")
	}
	return a, nil
}

// AnswerHandler builds the answer-question worker.
func (a *App) AnswerHandler() *answerquestion.Handler {
	hcfg := answerquestion.LoadConfig()
	if timeout := a.workerTimeout(answerquestion.TaskType); timeout > 0 {
		hcfg.Timeout = timeout
	}
	hcfg.SummaryOnly = !a.Config.Server.SmartRouter

	return answerquestion.NewHandler(answerquestion.HandlerOptions{
		Config:    hcfg,
		Auth:      a.Practice,
		Executor:  a.Executor,
		LLM:       a.LLM,
		Summaries: a.Cache,
		Obs:       a.Obs,
		Logger:    a.Logger,
	})
}

// ExportHandler builds the refresh-bulk-export worker.
func (a *App) ExportHandler() *refreshbulkexport.Handler {
	hcfg := refreshbulkexport.LoadConfig()
	if timeout := a.workerTimeout(refreshbulkexport.TaskType); timeout > 0 {
		hcfg.Timeout = timeout
	}

	deps := refreshbulkexport.Dependencies{
		API:       a.Practice,
		Snapshots: bulk.NewPostgresStore(a.Postgres.DB),
		Cache:     a.Cache,
	}
	if a.Search != nil {
		deps.Indexer = bulk.NewSearchStore(a.Search.Client, a.Search.Index)
	}
	if a.Notifiers.SNS != nil {
		deps.Publisher = a.Notifiers.SNS
	}
	return refreshbulkexport.NewHandler(hcfg, deps, a.Logger)
}

// workerTimeout is the configured job timeout, or zero when the worker has no
// section of its own.
func (a *App) workerTimeout(taskType string) time.Duration {
	w, ok := a.Config.Workers[taskType]
	if !ok {
		return 0
	}
	return config.GetDuration(w.Timeout)
}

// Mailer returns the SES mailer, or nil when email delivery is off.
func (a *App) Mailer() api.Mailer {
	if a.Notifiers == nil || a.Notifiers.SES == nil {
		return nil
	}
	return a.Notifiers.SES
}

// Checks are the readiness probes for every connected backend.
func (a *App) Checks() map[string]api.Check {
	checks := map[string]api.Check{
		"postgres": a.Postgres.Ping,
		"redis":    a.Redis.Ping,
	}
	if a.Search != nil {
		checks["elasticsearch"] = a.Search.Ping
	}
	return checks
}

func (a *App) Close() {
	if a.Obs != nil {
		a.Obs.Shutdown()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}

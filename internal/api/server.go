// Package api serves the practice assistant over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"practice-insights/internal/backoff"
	commonaws "practice-insights/internal/common/aws"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/executor"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/planner"
	answerquestion "practice-insights/internal/workers/ai-conversation/answer-question"
	refreshbulkexport "practice-insights/internal/workers/data-export/refresh-bulk-export"
)

type Answerer interface {
	Execute(ctx context.Context, input *answerquestion.Input) (*answerquestion.Output, error)
}

type Extractor interface {
	Execute(ctx context.Context, input *refreshbulkexport.Input) (*refreshbulkexport.Output, error)
}

// PracticeAPI is the live data behind the weekly chart.
type PracticeAPI interface {
	Login(ctx context.Context) (greyfinch.Credential, error)
	AppointmentsPage(ctx context.Context, cred greyfinch.Credential, filter greyfinch.AppointmentFilter, page, pageSize int) ([]greyfinch.AppointmentBooking, error)
}

type PlanExecutor interface {
	Execute(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) (*executor.Result, error)
}

type Mailer interface {
	SendAttachment(ctx context.Context, to, subject, body string, file commonaws.Attachment) (string, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Options struct {
	Answerer  Answerer
	Extractor Extractor
	Practice  PracticeAPI
	Executor  PlanExecutor
	// Mailer is nil when SES delivery is off.
	Mailer Mailer
	Checks map[string]Check
	Logger logger.Logger
	Now    func() time.Time
	// Retry is appended to the backoff options of live practice calls.
	Retry []backoff.Option
}

type Server struct {
	answerer  Answerer
	extractor Extractor
	practice  PracticeAPI
	executor  PlanExecutor
	mailer    Mailer
	checks    map[string]Check
	logger    logger.Logger
	now       func() time.Time
	retry     []backoff.Option
}

func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		answerer:  opts.Answerer,
		extractor: opts.Extractor,
		practice:  opts.Practice,
		executor:  opts.Executor,
		mailer:    opts.Mailer,
		checks:    opts.Checks,
		logger:    opts.Logger,
		now:       now,
		retry:     opts.Retry,
	}
}

func (s *Server) retryOptions(operation string) []backoff.Option {
	opts := []backoff.Option{backoff.WithOperation("api." + operation)}
	if s.logger != nil {
		opts = append(opts, backoff.WithLogger(s.logger))
	}
	return append(opts, s.retry...)
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/ai/ask", s.ask)
		r.Post("/ai/plan", s.plan)
		r.Get("/greyfinch/appointments", s.weeklyAppointments)
		r.Post("/greyfinch/extract", s.extract)
		r.Get("/export/csv", s.exportCSV)
		r.Get("/dashboard/metrics", s.dashboardMetrics)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   s.now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

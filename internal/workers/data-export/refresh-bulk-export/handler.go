// internal/workers/data-export/refresh-bulk-export/handler.go
package refreshbulkexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"practice-insights/internal/backoff"
	commonaws "practice-insights/internal/common/aws"
	commonerrors "practice-insights/internal/common/errors"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/common/metrics"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/paginate"
	"practice-insights/internal/summary"
)

const (
	TaskType = "refresh-bulk-export"
)

var (
	ErrExtractFailed  = errors.New("EXTRACT_FAILED")
	ErrSnapshotFailed = errors.New("SNAPSHOT_FAILED")
	ErrIndexFailed    = errors.New("INDEX_FAILED")
)

// PracticeAPI is the slice of the practice client the export reads.
type PracticeAPI interface {
	Login(ctx context.Context) (greyfinch.Credential, error)
	AppointmentsPage(ctx context.Context, cred greyfinch.Credential, filter greyfinch.AppointmentFilter, page, pageSize int) ([]greyfinch.AppointmentBooking, error)
	Locations(ctx context.Context, cred greyfinch.Credential) ([]greyfinch.Location, error)
	AppointmentTypes(ctx context.Context, cred greyfinch.Credential) ([]greyfinch.AppointmentType, error)
}

type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, runID string, bookings []greyfinch.AppointmentBooking) (int, error)
}

type Indexer interface {
	IndexAppointments(ctx context.Context, runID string, bookings []greyfinch.AppointmentBooking) (int, error)
}

// SummaryCache stores the practice overview and drops stale bulk results.
type SummaryCache interface {
	SetSummary(ctx context.Context, summary interface{}) error
	Invalidate(ctx context.Context) (int, error)
}

type Publisher interface {
	PublishExport(ctx context.Context, event commonaws.ExportEvent) (string, error)
}

// Dependencies wires the export. Indexer, Cache and Publisher are optional.
type Dependencies struct {
	API       PracticeAPI
	Snapshots SnapshotWriter
	Indexer   Indexer
	Cache     SummaryCache
	Publisher Publisher
	Retry     []backoff.Option
}

type Handler struct {
	config       *Config
	deps         Dependencies
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
	now          func() time.Time
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	if config == nil {
		config = LoadConfig()
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		deps:         deps,
		logger:       l,
		errorHandler: commonerrors.NewErrorHandler(l),
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			h.fail(ctx, client, job, commonerrors.NewExportFailedError(fmt.Errorf("parse input: %w", err)))
			return
		}
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.completeJob(ctx, client, job, output)
}

// Execute pulls every booking in range, stores the snapshot, indexes it,
// refreshes the cached overview and announces the run.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	output, err := h.execute(ctx, input)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.BulkExportRuns.WithLabelValues(status).Inc()
	return output, err
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		input = &Input{}
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := h.logger.WithFields(map[string]interface{}{"runId": runID})

	cred, err := h.deps.API.Login(ctx)
	if err != nil {
		return nil, err
	}

	filter := greyfinch.AppointmentFilter{From: input.From, To: input.To}
	res, err := paginate.Paginate(ctx, paginate.Options[greyfinch.AppointmentBooking]{
		PageSize: h.config.PageSize,
		SoftCap:  h.config.MaxAppointments,
		FetchPage: func(ctx context.Context, page, pageSize int) ([]greyfinch.AppointmentBooking, error) {
			return backoff.Do(ctx, func(ctx context.Context) ([]greyfinch.AppointmentBooking, error) {
				return authorized(ctx, h, &cred, func(ctx context.Context, c greyfinch.Credential) ([]greyfinch.AppointmentBooking, error) {
					return h.deps.API.AppointmentsPage(ctx, c, filter, page, pageSize)
				})
			}, h.retryOptions("appointments")...)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}
	bookings := res.Items
	metrics.PaginationPages.WithLabelValues("export").Observe(float64(res.Pages))
	log.Info("appointments extracted", map[string]interface{}{
		"appointments": len(bookings),
		"pages":        res.Pages,
	})

	output := &Output{
		RunID:            runID,
		Appointments:     len(bookings),
		Pages:            res.Pages,
		DateDistribution: DateDistribution(bookings),
	}

	var (
		types     []greyfinch.AppointmentType
		locations []greyfinch.Location
	)
	if !cred.Valid(h.now()) {
		if err := h.relogin(ctx, &cred); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExtractFailed, err)
		}
	}
	typesCred, locationsCred := cred, cred
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		types, err = backoff.Do(gctx, func(ctx context.Context) ([]greyfinch.AppointmentType, error) {
			return authorized(ctx, h, &typesCred, h.deps.API.AppointmentTypes)
		}, h.retryOptions("appointment_types")...)
		return err
	})
	g.Go(func() error {
		var err error
		locations, err = backoff.Do(gctx, func(ctx context.Context) ([]greyfinch.Location, error) {
			return authorized(ctx, h, &locationsCred, h.deps.API.Locations)
		}, h.retryOptions("locations")...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}
	output.AppointmentTypes = len(types)
	output.Locations = len(locations)

	stored, err := h.deps.Snapshots.SaveSnapshot(ctx, runID, bookings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotFailed, err)
	}
	output.Stored = stored

	if h.deps.Indexer != nil {
		indexed, err := h.deps.Indexer.IndexAppointments(ctx, runID, bookings)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIndexFailed, err)
		}
		output.Indexed = indexed
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.SetSummary(ctx, summary.Summarize(bookings)); err != nil {
			log.Warn("practice summary not cached", map[string]interface{}{"error": err.Error()})
		}
		evicted, err := h.deps.Cache.Invalidate(ctx)
		if err != nil {
			log.Warn("bulk cache not invalidated", map[string]interface{}{"error": err.Error()})
		}
		output.CacheEvicted = evicted
	}

	output.CompletedAt = h.now().UTC().Format(time.RFC3339)

	if h.deps.Publisher != nil {
		id, err := h.deps.Publisher.PublishExport(ctx, commonaws.ExportEvent{
			RunID:            runID,
			Appointments:     output.Appointments,
			Pages:            output.Pages,
			Indexed:          output.Indexed,
			AppointmentTypes: output.AppointmentTypes,
			Locations:        output.Locations,
			DateDistribution: output.DateDistribution,
			CompletedAt:      output.CompletedAt,
		})
		switch {
		case errors.Is(err, commonaws.ErrNotificationsDisabled):
		case err != nil:
			log.Warn("export notification failed", map[string]interface{}{"error": err.Error()})
		default:
			output.NotificationID = id
		}
	}

	log.Info("bulk export completed", map[string]interface{}{
		"appointments": output.Appointments,
		"stored":       output.Stored,
		"indexed":      output.Indexed,
	})
	return output, nil
}

// authorized calls fn with cred, logging in again when the credential lapsed
// or the API rejects it as expired. cred is updated in place.
func authorized[T any](ctx context.Context, h *Handler, cred *greyfinch.Credential, fn func(context.Context, greyfinch.Credential) (T, error)) (T, error) {
	var zero T
	if !cred.Valid(h.now()) {
		if err := h.relogin(ctx, cred); err != nil {
			return zero, err
		}
	}
	out, err := fn(ctx, *cred)
	if errors.Is(err, greyfinch.ErrCredentialExpired) {
		if err := h.relogin(ctx, cred); err != nil {
			return zero, err
		}
		return fn(ctx, *cred)
	}
	return out, err
}

func (h *Handler) relogin(ctx context.Context, cred *greyfinch.Credential) error {
	fresh, err := h.deps.API.Login(ctx)
	if err != nil {
		return err
	}
	*cred = fresh
	h.logger.Info("practice credential refreshed", map[string]interface{}{"expiresAt": fresh.ExpiresAt})
	return nil
}

func (h *Handler) retryOptions(operation string) []backoff.Option {
	opts := []backoff.Option{
		backoff.WithOperation("export." + operation),
		backoff.WithLogger(h.logger),
	}
	return append(opts, h.deps.Retry...)
}

// DateDistribution counts bookings per local start date.
func DateDistribution(bookings []greyfinch.AppointmentBooking) map[string]int {
	out := make(map[string]int)
	for _, b := range bookings {
		if b.LocalStartDate == "" {
			continue
		}
		out[b.LocalStartDate]++
	}
	return out
}

func toStandardError(err error) *commonerrors.StandardError {
	var std *commonerrors.StandardError
	if errors.As(err, &std) {
		return std
	}

	var status interface{ StatusCode() int }
	switch {
	case errors.Is(err, greyfinch.ErrAuthFailed), errors.Is(err, greyfinch.ErrNotConfigured):
		return commonerrors.NewPracticeAuthFailedError(err)
	case errors.Is(err, ErrSnapshotFailed):
		return commonerrors.NewBulkWriteFailedError(err)
	case errors.Is(err, ErrIndexFailed):
		return commonerrors.NewSearchIndexFailedError(err)
	case errors.As(err, &status) && status.StatusCode() == 429:
		return commonerrors.NewPracticeAPIRateLimitedError("export", err)
	case errors.Is(err, ErrExtractFailed):
		return commonerrors.NewPracticeAPIFailedError("export", err)
	default:
		return commonerrors.NewExportFailedError(err)
	}
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	std := toStandardError(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(std.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, std)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

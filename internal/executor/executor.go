// Package executor runs a DataPlan against the live practice API, the bulk
// export, or both.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practice-insights/internal/backoff"
	"practice-insights/internal/bulk"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/common/metrics"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/paginate"
	"practice-insights/internal/planner"
)

var (
	ErrMissingFilter = errors.New("MISSING_FILTER")
	ErrNoBulkReader  = errors.New("BULK_READER_NOT_CONFIGURED")
)

// NewPatientsWindow is the default look-back for new_patients_range.
const NewPatientsWindow = 30 * 24 * time.Hour

// PracticeAPI is the live data the executor reads.
type PracticeAPI interface {
	AppointmentsPage(ctx context.Context, cred greyfinch.Credential, filter greyfinch.AppointmentFilter, page, pageSize int) ([]greyfinch.AppointmentBooking, error)
	PatientsPage(ctx context.Context, cred greyfinch.Credential, filter greyfinch.PatientFilter, page, pageSize int) ([]greyfinch.Patient, error)
	Locations(ctx context.Context, cred greyfinch.Credential) ([]greyfinch.Location, error)
	AppointmentTypes(ctx context.Context, cred greyfinch.Credential) ([]greyfinch.AppointmentType, error)
}

// Cache is the bulk result cache.
type Cache interface {
	Get(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]bulk.Row, bool, error)
	Set(ctx context.Context, intent planner.Intent, plan planner.DataPlan, rows []bulk.Row) error
}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Result is what a plan produced.
type Result struct {
	Intent     planner.Intent           `json:"intent"`
	DataSource planner.DataSource       `json:"dataSource"`
	Rows       []map[string]interface{} `json:"rows"`
	Pages      int                      `json:"pages"`
	Cached     bool                     `json:"cached"`
}

type Executor struct {
	api    PracticeAPI
	bulk   bulk.Reader
	cache  Cache
	logger Logger
	now    func() time.Time
	retry  []backoff.Option

	pageSize int
	softCap  int
}

type Option func(*Executor)

func WithCache(c Cache) Option { return func(e *Executor) { e.cache = c } }

func WithRetryOptions(opts ...backoff.Option) Option {
	return func(e *Executor) { e.retry = append(e.retry, opts...) }
}

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithPaging replaces the planner's default page size and soft cap. Plans
// that carry their own paging keep it.
func WithPaging(pageSize, softCap int) Option {
	return func(e *Executor) { e.pageSize, e.softCap = pageSize, softCap }
}

func (e *Executor) paging(plan planner.DataPlan) (int, int) {
	pageSize, softCap := plan.PageSize, plan.SoftCap
	if e.pageSize > 0 && pageSize == planner.DefaultPageSize {
		pageSize = e.pageSize
	}
	if e.softCap > 0 && softCap == planner.DefaultSoftCap {
		softCap = e.softCap
	}
	return pageSize, softCap
}

// New builds an Executor. A nil log discards plan logs.
func New(api PracticeAPI, reader bulk.Reader, log Logger, opts ...Option) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Executor{
		api:    api,
		bulk:   reader,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authenticator issues practice API credentials.
type Authenticator interface {
	Login(ctx context.Context) (greyfinch.Credential, error)
}

// Runner executes a plan with a credential. *Executor is the production Runner.
type Runner interface {
	Execute(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) (*Result, error)
}

// NeedsCredential reports whether plan reads live practice data.
func NeedsCredential(intent planner.Intent, plan planner.DataPlan) bool {
	return plan.DataSource != planner.SourceBulk && intent != planner.IntentGeneralChat
}

// Run logs in when the plan reads live data, then executes it. A nil auth
// fails live plans with greyfinch.ErrNotConfigured.
func Run(ctx context.Context, auth Authenticator, runner Runner, intent planner.Intent, plan planner.DataPlan) (*Result, error) {
	var cred greyfinch.Credential
	if NeedsCredential(intent, plan) {
		if auth == nil {
			return nil, greyfinch.ErrNotConfigured
		}
		c, err := auth.Login(ctx)
		if err != nil {
			return nil, err
		}
		cred = c
	}
	return runner.Execute(ctx, cred, intent, plan)
}

// Execute runs plan for intent. Hybrid plans return dynamic rows followed by
// bulk rows.
func (e *Executor) Execute(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) (*Result, error) {
	result := &Result{Intent: intent, DataSource: plan.DataSource}

	switch plan.DataSource {
	case planner.SourceBulk:
		rows, cached, err := e.readBulk(ctx, intent, plan)
		if err != nil {
			return nil, err
		}
		result.Rows, result.Cached = rows, cached

	case planner.SourceHybrid:
		rows, pages, err := e.readDynamic(ctx, cred, intent, plan)
		if err != nil {
			return nil, err
		}
		bulkRows, cached, err := e.readBulk(ctx, intent, plan)
		if err != nil {
			return nil, err
		}
		result.Rows, result.Pages, result.Cached = append(rows, bulkRows...), pages, cached

	default:
		rows, pages, err := e.readDynamic(ctx, cred, intent, plan)
		if err != nil {
			return nil, err
		}
		result.Rows, result.Pages = rows, pages
	}

	if result.Rows == nil {
		result.Rows = []map[string]interface{}{}
	}
	e.logger.Info("plan executed", map[string]interface{}{
		"intent":     intent,
		"dataSource": plan.DataSource,
		"rows":       len(result.Rows),
		"pages":      result.Pages,
		"cached":     result.Cached,
	})
	return result, nil
}

func (e *Executor) readBulk(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]map[string]interface{}, bool, error) {
	if e.cache != nil {
		rows, hit, err := e.cache.Get(ctx, intent, plan)
		if err != nil {
			e.logger.Warn("bulk cache read failed", map[string]interface{}{"intent": intent, "error": err.Error()})
		} else if hit {
			return rows, true, nil
		}
	}

	if e.bulk == nil {
		return nil, false, ErrNoBulkReader
	}
	rows, err := e.bulk.Read(ctx, intent, plan)
	if err != nil {
		return nil, false, fmt.Errorf("bulk %s: %w", intent, err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, intent, plan, rows); err != nil {
			e.logger.Warn("bulk cache write failed", map[string]interface{}{"intent": intent, "error": err.Error()})
		}
	}
	return rows, false, nil
}

func (e *Executor) readDynamic(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) ([]map[string]interface{}, int, error) {
	today := e.now()

	switch intent {
	case planner.IntentScheduleToday:
		day := today.Format(dateLayout)
		return e.appointments(ctx, cred, plan, greyfinch.AppointmentFilter{From: day, To: day})

	case planner.IntentFilterSchedule:
		day, ok := plan.FilterString("date")
		if !ok {
			day = today.AddDate(0, 0, 1).Format(dateLayout)
		}
		locationID, _ := plan.FilterString("locationId")
		return e.appointments(ctx, cred, plan, greyfinch.AppointmentFilter{From: day, To: day, LocationID: locationID})

	case planner.IntentPatientHistory:
		name, ok := plan.FilterString("patientName")
		if !ok {
			return nil, 0, fmt.Errorf("%w: patientName", ErrMissingFilter)
		}
		return e.appointments(ctx, cred, plan, greyfinch.AppointmentFilter{PatientName: name})

	case planner.IntentNewPatientsRange:
		since, ok := plan.FilterString("since")
		if !ok {
			since = today.Add(-NewPatientsWindow).Format(dateLayout)
		}
		return e.patients(ctx, cred, plan, greyfinch.PatientFilter{CreatedSince: since})

	case planner.IntentListLocations:
		locations, err := call(ctx, e, "locations", func(ctx context.Context) ([]greyfinch.Location, error) {
			return e.api.Locations(ctx, cred)
		})
		if err != nil {
			return nil, 0, err
		}
		var rows []map[string]interface{}
		for _, l := range locations {
			rows = append(rows, map[string]interface{}{
				"id": l.ID, "name": l.Name, "city": l.Address.City, "state": l.Address.State,
			})
		}
		return rows, 1, nil

	case planner.IntentListServices:
		types, err := call(ctx, e, "appointment_types", func(ctx context.Context) ([]greyfinch.AppointmentType, error) {
			return e.api.AppointmentTypes(ctx, cred)
		})
		if err != nil {
			return nil, 0, err
		}
		var rows []map[string]interface{}
		for _, t := range types {
			rows = append(rows, map[string]interface{}{"id": t.ID, "name": t.Name})
		}
		return rows, 1, nil

	default:
		// general_chat and unknown intents need no data.
		return nil, 0, nil
	}
}

const dateLayout = "2006-01-02"

func (e *Executor) appointments(ctx context.Context, cred greyfinch.Credential, plan planner.DataPlan, filter greyfinch.AppointmentFilter) ([]map[string]interface{}, int, error) {
	pageSize, softCap := e.paging(plan)
	res, err := paginate.Paginate(ctx, paginate.Options[greyfinch.AppointmentBooking]{
		PageSize: pageSize,
		SoftCap:  softCap,
		FetchPage: func(ctx context.Context, page, pageSize int) ([]greyfinch.AppointmentBooking, error) {
			return backoff.Do(ctx, func(ctx context.Context) ([]greyfinch.AppointmentBooking, error) {
				return e.api.AppointmentsPage(ctx, cred, filter, page, pageSize)
			}, e.backoffOptions("appointments")...)
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("appointments: %w", err)
	}
	metrics.PaginationPages.WithLabelValues("appointments").Observe(float64(res.Pages))

	rows := make([]map[string]interface{}, 0, len(res.Items))
	for _, b := range res.Items {
		rows = append(rows, b.Row())
	}
	return rows, res.Pages, nil
}

func (e *Executor) patients(ctx context.Context, cred greyfinch.Credential, plan planner.DataPlan, filter greyfinch.PatientFilter) ([]map[string]interface{}, int, error) {
	pageSize, softCap := e.paging(plan)
	res, err := paginate.Paginate(ctx, paginate.Options[greyfinch.Patient]{
		PageSize: pageSize,
		SoftCap:  softCap,
		FetchPage: func(ctx context.Context, page, pageSize int) ([]greyfinch.Patient, error) {
			return backoff.Do(ctx, func(ctx context.Context) ([]greyfinch.Patient, error) {
				return e.api.PatientsPage(ctx, cred, filter, page, pageSize)
			}, e.backoffOptions("patients")...)
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("patients: %w", err)
	}
	metrics.PaginationPages.WithLabelValues("patients").Observe(float64(res.Pages))

	rows := make([]map[string]interface{}, 0, len(res.Items))
	for _, p := range res.Items {
		rows = append(rows, map[string]interface{}{
			"id":        p.ID,
			"name":      p.Person.FullName(),
			"createdAt": p.CreatedAt,
		})
	}
	return rows, res.Pages, nil
}

func call[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := backoff.Do(ctx, fn, e.backoffOptions(operation)...)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", operation, err)
	}
	return v, nil
}

func (e *Executor) backoffOptions(operation string) []backoff.Option {
	opts := []backoff.Option{
		backoff.WithOperation("executor." + operation),
		backoff.WithLogger(e.logger),
	}
	return append(opts, e.retry...)
}

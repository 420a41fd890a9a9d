package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-insights/internal/backoff"
	commonaws "practice-insights/internal/common/aws"
	commonhttp "practice-insights/internal/common/http"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/executor"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/planner"
	answerquestion "practice-insights/internal/workers/ai-conversation/answer-question"
	refreshbulkexport "practice-insights/internal/workers/data-export/refresh-bulk-export"
)

var fixedNow = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

type fakeAnswerer struct {
	out   *answerquestion.Output
	err   error
	input *answerquestion.Input
}

func (f *fakeAnswerer) Execute(ctx context.Context, input *answerquestion.Input) (*answerquestion.Output, error) {
	f.input = input
	return f.out, f.err
}

type fakeExtractor struct {
	input *refreshbulkexport.Input
}

func (f *fakeExtractor) Execute(ctx context.Context, input *refreshbulkexport.Input) (*refreshbulkexport.Output, error) {
	f.input = input
	return &refreshbulkexport.Output{RunID: "run-1", Appointments: 12}, nil
}

type fakePractice struct {
	bookings []greyfinch.AppointmentBooking
	loginErr error
	filter   greyfinch.AppointmentFilter
	pageErrs []error
	calls    int
}

func (f *fakePractice) Login(ctx context.Context) (greyfinch.Credential, error) {
	return greyfinch.Credential{AccessToken: "t"}, f.loginErr
}

func (f *fakePractice) AppointmentsPage(ctx context.Context, cred greyfinch.Credential, filter greyfinch.AppointmentFilter, page, pageSize int) ([]greyfinch.AppointmentBooking, error) {
	f.filter = filter
	f.calls++
	if len(f.pageErrs) > 0 {
		err := f.pageErrs[0]
		f.pageErrs = f.pageErrs[1:]
		return nil, err
	}
	if page > 1 {
		return nil, nil
	}
	return f.bookings, nil
}

type fakeExecutor struct {
	rows   []map[string]interface{}
	intent planner.Intent
}

func (f *fakeExecutor) Execute(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) (*executor.Result, error) {
	f.intent = intent
	return &executor.Result{Intent: intent, DataSource: plan.DataSource, Rows: f.rows}, nil
}

type fakeMailer struct {
	to   string
	file commonaws.Attachment
}

func (m *fakeMailer) SendAttachment(ctx context.Context, to, subject, body string, file commonaws.Attachment) (string, error) {
	m.to, m.file = to, file
	return "ses-1", nil
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	opts.Logger = logger.NewTestLogger(t)
	opts.Now = func() time.Time { return fixedNow }
	opts.Retry = append(opts.Retry, backoff.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }))
	srv := httptest.NewServer(New(opts).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthAndRequestID(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get(requestIDHeader), 36)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestReady(t *testing.T) {
	srv := newTestServer(t, Options{Checks: map[string]Check{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	}})

	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Failed map[string]string `json:"failed"`
	}
	decode(t, resp, &body)
	assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Failed)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	_, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `http_request_duration_seconds_count{method="GET",route="/health",status="200"}`)
}

func TestAsk(t *testing.T) {
	answerer := &fakeAnswerer{out: &answerquestion.Output{Answer: "Three patients today.", Intent: planner.IntentScheduleToday}}
	srv := newTestServer(t, Options{Answerer: answerer})

	resp, err := http.Post(srv.URL+"/api/ai/ask", "application/json", strings.NewReader(`{"question":"today's schedule?","fileIds":["f-1"]}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out answerquestion.Output
	decode(t, resp, &out)
	assert.Equal(t, "Three patients today.", out.Answer)
	assert.Equal(t, []string{"f-1"}, answerer.input.FileIDs)
}

func TestAsk_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"empty question", `{"question":""}`, answerquestion.ErrInvalidQuestion, http.StatusBadRequest},
		{"upstream", `{"question":"x"}`, errors.New("model down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Options{Answerer: &fakeAnswerer{err: tt.err}})
			resp, err := http.Post(srv.URL+"/api/ai/ask", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestPlan(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := http.Post(srv.URL+"/api/ai/plan", "application/json",
		strings.NewReader(`{"question":"How many no-shows lately?","params":{"since":"2025-01-01"}}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out planResponse
	decode(t, resp, &out)
	assert.Equal(t, planner.IntentNoShowRecent, out.Intent)
	assert.Equal(t, planner.SourceBulk, out.Plan.DataSource)
	assert.Equal(t, "2025-01-01", out.Plan.Filters["since"])
}

func TestWeeklyAppointments_Live(t *testing.T) {
	practice := &fakePractice{bookings: []greyfinch.AppointmentBooking{
		{ID: "1", LocalStartDate: "2025-03-10"},
		{ID: "2", LocalStartDate: "2025-03-10"},
		{ID: "3", LocalStartDate: "2025-03-11"},
	}}
	srv := newTestServer(t, Options{Practice: practice})

	resp, err := http.Get(srv.URL + "/api/greyfinch/appointments")
	require.NoError(t, err)

	var out weeklyResponse
	decode(t, resp, &out)
	assert.Equal(t, "live", out.Source)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Days[0].Value)
	assert.Equal(t, greyfinch.AppointmentFilter{From: "2025-03-10", To: "2025-03-15"}, practice.filter)
}

func TestWeeklyAppointments_RetriesRateLimitedPage(t *testing.T) {
	practice := &fakePractice{
		bookings: []greyfinch.AppointmentBooking{{ID: "1", LocalStartDate: "2025-03-12"}},
		pageErrs: []error{&commonhttp.StatusError{Code: http.StatusTooManyRequests}},
	}
	srv := newTestServer(t, Options{Practice: practice})

	resp, err := http.Get(srv.URL + "/api/greyfinch/appointments")
	require.NoError(t, err)

	var out weeklyResponse
	decode(t, resp, &out)
	assert.Equal(t, "live", out.Source)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 2, practice.calls)
}

func TestWeeklyAppointments_DemoFallback(t *testing.T) {
	srv := newTestServer(t, Options{Practice: &fakePractice{loginErr: greyfinch.ErrAuthFailed}})

	resp, err := http.Get(srv.URL + "/api/greyfinch/appointments")
	require.NoError(t, err)

	var out weeklyResponse
	decode(t, resp, &out)
	assert.Equal(t, "demo", out.Source)
	assert.Equal(t, 246, out.Total)
	assert.Equal(t, "Wed", out.Days[2].Name)
}

func TestExtract(t *testing.T) {
	extractor := &fakeExtractor{}
	srv := newTestServer(t, Options{Extractor: extractor})

	resp, err := http.Post(srv.URL+"/api/greyfinch/extract", "application/json", strings.NewReader(`{"from":"2025-01-01"}`))
	require.NoError(t, err)

	var out refreshbulkexport.Output
	decode(t, resp, &out)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "2025-01-01", extractor.input.From)
}

func TestExportCSV_Download(t *testing.T) {
	exec := &fakeExecutor{rows: []map[string]interface{}{
		{"patientName": "Ann Lee", "time": "09:00"},
		{"patientName": "Bo Chen", "time": "10:30"},
	}}
	srv := newTestServer(t, Options{Executor: exec, Practice: &fakePractice{}})

	resp, err := http.Get(srv.URL + "/api/export/csv?query=today%27s+schedule")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "practice-schedule_today-20250312-090000.csv")
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "patientName,time\nAnn Lee,09:00\nBo Chen,10:30\n", buf.String())
	assert.Equal(t, planner.IntentScheduleToday, exec.intent)
}

func TestExportCSV_Email(t *testing.T) {
	mailer := &fakeMailer{}
	exec := &fakeExecutor{rows: []map[string]interface{}{{"status": "NO_SHOW", "count": 3}}}
	srv := newTestServer(t, Options{Executor: exec, Mailer: mailer})

	resp, err := http.Get(srv.URL + "/api/export/csv?query=no-shows&email=office@example.com")
	require.NoError(t, err)

	var out map[string]interface{}
	decode(t, resp, &out)
	assert.Equal(t, true, out["sent"])
	assert.Equal(t, "ses-1", out["messageId"])
	assert.Equal(t, "office@example.com", mailer.to)
	assert.Equal(t, "count,status\n3,NO_SHOW\n", string(mailer.file.Data))
}

func TestExportCSV_Validation(t *testing.T) {
	srv := newTestServer(t, Options{Executor: &fakeExecutor{}})

	resp, err := http.Get(srv.URL + "/api/export/csv")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/export/csv?query=no-shows&email=a@b.c")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDashboardMetrics(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/api/dashboard/metrics")
	require.NoError(t, err)

	var out struct {
		Metrics map[string]interface{} `json:"metrics"`
		Source  string                 `json:"source"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "demo", out.Source)
	assert.EqualValues(t, 1247, out.Metrics["totalPatients"])
}

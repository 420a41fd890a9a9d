package answerquestion

import (
	"context"
	"errors"
	"testing"

	"practice-insights/internal/claude"
	commonerrors "practice-insights/internal/common/errors"
	commonhttp "practice-insights/internal/common/http"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/common/observability"
	"practice-insights/internal/demo"
	"practice-insights/internal/executor"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/planner"
	"practice-insights/internal/summary"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeAuth struct {
	err   error
	calls int
}

func (a *fakeAuth) Login(ctx context.Context) (greyfinch.Credential, error) {
	a.calls++
	if a.err != nil {
		return greyfinch.Credential{}, a.err
	}
	return greyfinch.Credential{AccessToken: "token"}, nil
}

type fakeExecutor struct {
	rows   []map[string]interface{}
	err    error
	intent planner.Intent
	plan   planner.DataPlan
	cred   greyfinch.Credential
}

func (e *fakeExecutor) Execute(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) (*executor.Result, error) {
	e.cred, e.intent, e.plan = cred, intent, plan
	if e.err != nil {
		return nil, e.err
	}
	return &executor.Result{Intent: intent, DataSource: plan.DataSource, Rows: e.rows}, nil
}

type fakeLLM struct {
	reply   string
	err     error
	prompts []string
	images  int
}

func (l *fakeLLM) Ask(ctx context.Context, prompt string) (string, error) {
	l.prompts = append(l.prompts, prompt)
	return l.reply, l.err
}

func (l *fakeLLM) AnalyzeImages(ctx context.Context, question string, images []claude.Image) (string, error) {
	l.images += len(images)
	return l.reply, l.err
}

type fakeSummaries struct {
	practice *summary.Practice
}

func (s *fakeSummaries) Summary(ctx context.Context, out interface{}) (bool, error) {
	if s.practice == nil {
		return false, nil
	}
	*out.(*summary.Practice) = *s.practice
	return true, nil
}

type fixture struct {
	auth    *fakeAuth
	exec    *fakeExecutor
	llm     *fakeLLM
	handler *Handler
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	f := &fixture{
		auth: &fakeAuth{},
		exec: &fakeExecutor{},
		llm:  &fakeLLM{reply: "You have 3 appointments today."},
	}
	f.handler = NewHandler(HandlerOptions{
		Config:    cfg,
		Auth:      f.auth,
		Executor:  f.exec,
		LLM:       f.llm,
		Summaries: &fakeSummaries{practice: &summary.Practice{UniquePatients: 12, TotalAppointments: 40, PeakHour: "09", BusiestDay: "Tuesday"}},
		Logger:    logger.NewTestLogger(t),
	})
	return f
}

func TestExecute_EmptyQuestion(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.handler.Execute(context.Background(), &Input{Question: "   "})

	assert.ErrorIs(t, err, ErrInvalidQuestion)
	assert.Empty(t, f.llm.prompts)
}

func TestExecute_SmallTalk(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, demo.GreetingAnswer, out.Answer)

	out, err = f.handler.Execute(context.Background(), &Input{Question: "how are you doing?"})
	require.NoError(t, err)
	assert.Equal(t, demo.WellbeingAnswer, out.Answer)

	assert.Zero(t, f.auth.calls)
	assert.Empty(t, f.llm.prompts)
}

func TestExecute_DynamicQuestion(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.rows = []map[string]interface{}{{"id": "b-1", "patientName": "Ann Lee"}}

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Who is on the schedule today?"})

	require.NoError(t, err)
	assert.Equal(t, planner.IntentScheduleToday, out.Intent)
	assert.Equal(t, planner.SourceDynamic, out.DataSource)
	assert.Equal(t, 1, out.RowCount)
	assert.Equal(t, "You have 3 appointments today.", out.Answer)
	assert.False(t, out.Fallback)
	assert.Equal(t, 1, f.auth.calls)
	assert.Equal(t, "token", f.exec.cred.AccessToken)

	require.Len(t, f.llm.prompts, 1)
	assert.Contains(t, f.llm.prompts[0], "QUESTION: Who is on the schedule today?")
	assert.Contains(t, f.llm.prompts[0], "Ann Lee")
	assert.Contains(t, f.llm.prompts[0], "PRACTICE OVERVIEW")
}

func TestExecute_BulkQuestionSkipsLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.rows = []map[string]interface{}{{"status": "NO_SHOW", "count": 4}}

	out, err := f.handler.Execute(context.Background(), &Input{Question: "How many no-shows did we have recently?"})

	require.NoError(t, err)
	assert.Equal(t, planner.IntentNoShowRecent, out.Intent)
	assert.Equal(t, planner.SourceBulk, out.DataSource)
	assert.Zero(t, f.auth.calls)
}

func TestExecute_SummaryOnly(t *testing.T) {
	f := newFixture(t, &Config{Timeout: LoadConfig().Timeout, SummaryOnly: true})

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Who is on the schedule today?"})

	require.NoError(t, err)
	assert.Equal(t, planner.IntentGeneralChat, out.Intent)
	assert.Zero(t, f.auth.calls)
	assert.Contains(t, f.llm.prompts[0], "Tuesday")
}

func TestExecute_FileIDsBecomeFilters(t *testing.T) {
	f := newFixture(t, nil)
	params := map[string]interface{}{"since": "2025-01-01"}

	_, err := f.handler.Execute(context.Background(), &Input{
		Question: "Analyze the uploaded PDF",
		Params:   params,
		FileIDs:  []string{"f-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"f-1"}, f.exec.plan.Filters["fileIds"])
	assert.Equal(t, "2025-01-01", f.exec.plan.Filters["since"])
	assert.NotContains(t, params, "fileIds")
}

func TestExecute_Images(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.reply = "The radiograph shows a filling on tooth 14."

	out, err := f.handler.Execute(context.Background(), &Input{
		Question: "What do you see?",
		Images:   []claude.Image{{MediaType: "image/png", Data: "aGVsbG8="}},
	})

	require.NoError(t, err)
	assert.Equal(t, f.llm.reply, out.Answer)
	assert.Equal(t, 1, f.llm.images)
	assert.Empty(t, f.llm.prompts)
}

func TestExecute_FallsBackToDemoData(t *testing.T) {
	f := newFixture(t, nil)
	f.auth.err = greyfinch.ErrAuthFailed

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Show me today's schedule"})

	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, demo.Answer(planner.IntentScheduleToday), out.Answer)
}

func TestExecute_LLMFailureWithoutFallback(t *testing.T) {
	f := newFixture(t, &Config{Timeout: LoadConfig().Timeout})
	f.llm.err = claude.ErrTimeout

	_, err := f.handler.Execute(context.Background(), &Input{Question: "Show me today's schedule"})

	assert.ErrorIs(t, err, claude.ErrTimeout)
}

func TestExecute_StructuredAnswer(t *testing.T) {
	f := newFixture(t, &Config{Timeout: LoadConfig().Timeout, StructuredAnswers: true})
	f.llm.reply = "```json\n{\"analysis\":{\"dataSources\":[\"schedule\"],\"steps\":[\"count\"]},\"format\":\"bullets\",\"title\":\"Busy morning\"}\n```"

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Show me today's schedule"})

	require.NoError(t, err)
	require.NotNil(t, out.Structured)
	assert.Equal(t, "Busy morning", out.Structured.Title)
	assert.Equal(t, "bullets", out.Structured.Format)
}

func TestExecute_UnstructuredReplyIsKept(t *testing.T) {
	f := newFixture(t, &Config{Timeout: LoadConfig().Timeout, StructuredAnswers: true})
	f.llm.reply = "Just plain text."

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Show me today's schedule"})

	require.NoError(t, err)
	assert.Nil(t, out.Structured)
	assert.Equal(t, "Just plain text.", out.Answer)
}

func TestToStandardError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want commonerrors.ErrorCode
	}{
		{"invalid question", ErrInvalidQuestion, commonerrors.ErrCodeInvalidQuestion},
		{"auth", greyfinch.ErrAuthFailed, commonerrors.ErrCodePracticeAuthFailed},
		{"llm timeout", claude.ErrTimeout, commonerrors.ErrCodeLLMTimeout},
		{"llm empty", claude.ErrEmptyResponse, commonerrors.ErrCodeLLMFailed},
		{"bulk", executor.ErrNoBulkReader, commonerrors.ErrCodeBulkReadFailed},
		{"rate limited", &commonhttp.StatusError{Code: 429}, commonerrors.ErrCodePracticeAPIRateLimited},
		{"other", errors.New("boom"), commonerrors.ErrCodePracticeAPIFailed},
		{"already standard", commonerrors.NewExportFailedError(errors.New("x")), commonerrors.ErrCodeExportFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toStandardError(tt.err).Code)
		})
	}
}

func TestExecute_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	obs, err := observability.New("answer-test",
		observability.WithRegisterer(prometheus.NewRegistry()),
		observability.WithSpanProcessor(rec),
	)
	require.NoError(t, err)
	t.Cleanup(obs.Shutdown)

	f := newFixture(t, nil)
	f.handler.obs = obs
	f.exec.err = errors.New("practice api down")

	out, err := f.handler.Execute(context.Background(), &Input{Question: "Who is on the schedule today?"})
	require.NoError(t, err)
	assert.True(t, out.Fallback)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"answer-question.fetch", "answer-question"}, names)
}

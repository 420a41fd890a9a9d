// internal/workers/ai-conversation/answer-question/handler.go
package answerquestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"practice-insights/internal/bulk"
	"practice-insights/internal/claude"
	commonerrors "practice-insights/internal/common/errors"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/common/metrics"
	"practice-insights/internal/common/observability"
	"practice-insights/internal/common/validation"
	"practice-insights/internal/demo"
	"practice-insights/internal/executor"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/planner"
	"practice-insights/internal/summary"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
)

const (
	TaskType = "answer-question"
)

var (
	ErrInvalidQuestion = errors.New("INVALID_QUESTION")
)

// Authenticator issues practice API credentials.
type Authenticator interface {
	Login(ctx context.Context) (greyfinch.Credential, error)
}

type Executor interface {
	Execute(ctx context.Context, cred greyfinch.Credential, intent planner.Intent, plan planner.DataPlan) (*executor.Result, error)
}

type LLM interface {
	Ask(ctx context.Context, prompt string) (string, error)
	AnalyzeImages(ctx context.Context, question string, images []claude.Image) (string, error)
}

// SummarySource returns the practice summary stored by the last export.
type SummarySource interface {
	Summary(ctx context.Context, out interface{}) (bool, error)
}

type HandlerOptions struct {
	Config    *Config
	Auth      Authenticator
	Executor  Executor
	LLM       LLM
	Summaries SummarySource
	Obs       *observability.Observability
	Logger    logger.Logger
}

type Handler struct {
	config       *Config
	auth         Authenticator
	executor     Executor
	llm          LLM
	summaries    SummarySource
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
}

func NewHandler(opts HandlerOptions) *Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg = LoadConfig()
	}
	log := opts.Logger.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		auth:         opts.Auth,
		executor:     opts.Executor,
		llm:          opts.LLM,
		summaries:    opts.Summaries,
		obs:          opts.Obs,
		logger:       log,
		errorHandler: commonerrors.NewErrorHandler(log),
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
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, commonerrors.NewInvalidQuestionError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.completeJob(ctx, client, job, output)
}

// Execute answers one question. With DemoFallback on, data and model
// failures produce a canned answer marked Fallback instead of an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidQuestion
	}

	if answer, ok := smallTalk(question); ok {
		return &Output{Answer: answer, Intent: planner.IntentGeneralChat}, nil
	}

	if len(input.Images) > 0 {
		return h.analyzeImages(ctx, question, input.Images)
	}

	params := input.Params
	if len(input.FileIDs) > 0 {
		params = withFileIDs(params, input.FileIDs)
	}
	intent, plan := planner.PlanQuestion(question, params)
	if h.config.SummaryOnly {
		intent, plan = planner.IntentGeneralChat, planner.BuildPlan(planner.IntentGeneralChat, params)
	}
	metrics.QuestionsPlanned.WithLabelValues(string(intent), string(plan.DataSource)).Inc()

	ctx, span := h.obs.StartSpan(ctx, "answer-question",
		attribute.String("intent", string(intent)),
		attribute.String("data_source", string(plan.DataSource)),
	)
	output := &Output{Intent: intent, DataSource: plan.DataSource, Plan: &plan}
	defer func() {
		span.SetAttributes(attribute.Int("rows", output.RowCount), attribute.Bool("fallback", output.Fallback))
		span.End()
		h.obs.RecordQuestion(ctx, string(intent), string(plan.DataSource), output.Fallback)
		h.obs.RecordQuestionDuration(ctx, time.Since(start), string(intent))
	}()

	fetchCtx, fetchSpan := h.obs.StartSpan(ctx, "answer-question.fetch")
	result, err := h.fetch(fetchCtx, intent, plan)
	observability.EndSpan(fetchSpan, err)
	if err != nil {
		return h.fallback(output, intent, err)
	}
	output.Rows = result.Rows
	output.RowCount = len(result.Rows)

	prompt := summary.BuildPrompt(summary.PromptInput{
		Question:   question,
		Intent:     string(intent),
		DataSource: string(plan.DataSource),
		Practice:   h.practiceSummary(ctx),
		Rows:       result.Rows,
		Structured: h.config.StructuredAnswers,
	})

	askCtx, askSpan := h.obs.StartSpan(ctx, "answer-question.llm")
	answer, err := h.llm.Ask(askCtx, prompt)
	observability.EndSpan(askSpan, err)
	if err != nil {
		return h.fallback(output, intent, err)
	}
	output.Answer = answer

	if h.config.StructuredAnswers {
		h.attachStructured(output, answer)
	}

	h.logger.Info("question answered", map[string]interface{}{
		"intent":     intent,
		"dataSource": plan.DataSource,
		"rows":       output.RowCount,
		"structured": output.Structured != nil,
	})
	return output, nil
}

func (h *Handler) fetch(ctx context.Context, intent planner.Intent, plan planner.DataPlan) (*executor.Result, error) {
	return executor.Run(ctx, h.auth, h.executor, intent, plan)
}

func (h *Handler) analyzeImages(ctx context.Context, question string, images []claude.Image) (*Output, error) {
	answer, err := h.llm.AnalyzeImages(ctx, question, images)
	if err != nil {
		return h.fallback(&Output{Intent: planner.IntentGeneralChat}, planner.IntentGeneralChat, err)
	}
	h.logger.Info("images analyzed", map[string]interface{}{"images": len(images)})
	return &Output{Answer: answer, Intent: planner.IntentGeneralChat}, nil
}

func (h *Handler) fallback(output *Output, intent planner.Intent, cause error) (*Output, error) {
	if !h.config.DemoFallback {
		return nil, cause
	}
	h.logger.Warn("answering from demo data", map[string]interface{}{
		"intent": intent,
		"error":  cause.Error(),
	})
	output.Answer = demo.Answer(intent)
	output.Fallback = true
	return output, nil
}

func (h *Handler) practiceSummary(ctx context.Context) *summary.Practice {
	if h.summaries == nil {
		return nil
	}
	var p summary.Practice
	found, err := h.summaries.Summary(ctx, &p)
	if err != nil {
		h.logger.Warn("practice summary unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if !found {
		return nil
	}
	return &p
}

func (h *Handler) attachStructured(output *Output, answer string) {
	structured, result, err := validation.ParseAnswer(answer)
	switch {
	case err != nil:
		h.logger.Debug("model reply is not structured", map[string]interface{}{"error": err.Error()})
	case structured == nil:
		h.logger.Warn("structured answer failed validation", map[string]interface{}{
			"errors": result.GetErrorMessages(),
		})
	default:
		output.Structured = structured
	}
}

func smallTalk(question string) (string, bool) {
	q := strings.ToLower(question)
	switch {
	case q == "hi" || q == "hello" || q == "hey":
		return demo.GreetingAnswer, true
	case strings.Contains(q, "how are you") || strings.Contains(q, "how's it going"):
		return demo.WellbeingAnswer, true
	}
	return "", false
}

func withFileIDs(params map[string]interface{}, ids []string) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["fileIds"] = ids
	return out
}

// toStandardError maps collaborator failures onto job error codes.
func toStandardError(err error) *commonerrors.StandardError {
	var std *commonerrors.StandardError
	if errors.As(err, &std) {
		return std
	}

	var status interface{ StatusCode() int }
	switch {
	case errors.Is(err, ErrInvalidQuestion):
		return commonerrors.NewInvalidQuestionError("question is required")
	case errors.Is(err, greyfinch.ErrAuthFailed), errors.Is(err, greyfinch.ErrNotConfigured):
		return commonerrors.NewPracticeAuthFailedError(err)
	case errors.Is(err, claude.ErrTimeout):
		return commonerrors.NewLLMTimeoutError()
	case errors.Is(err, claude.ErrNotConfigured), errors.Is(err, claude.ErrEmptyResponse):
		return commonerrors.NewLLMFailedError(err)
	case errors.Is(err, bulk.ErrUnsupportedIntent), errors.Is(err, bulk.ErrInvalidFilter), errors.Is(err, executor.ErrNoBulkReader):
		return commonerrors.NewBulkReadFailedError("", err)
	case errors.As(err, &status) && status.StatusCode() == 429:
		return commonerrors.NewPracticeAPIRateLimitedError("query", err)
	default:
		return commonerrors.NewPracticeAPIFailedError("query", err)
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

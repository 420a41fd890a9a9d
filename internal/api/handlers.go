package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"practice-insights/internal/backoff"
	commonaws "practice-insights/internal/common/aws"
	"practice-insights/internal/demo"
	"practice-insights/internal/executor"
	"practice-insights/internal/export"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/paginate"
	"practice-insights/internal/planner"
	"practice-insights/internal/summary"
	answerquestion "practice-insights/internal/workers/ai-conversation/answer-question"
	refreshbulkexport "practice-insights/internal/workers/data-export/refresh-bulk-export"
)

const maxBody = 10 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var in answerquestion.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.answerer.Execute(r.Context(), &in)
	switch {
	case errors.Is(err, answerquestion.ErrInvalidQuestion):
		writeError(w, http.StatusBadRequest, "question is required")
	case err != nil:
		s.logger.Error("answer failed", map[string]interface{}{
			"requestId": RequestID(r.Context()),
			"error":     err.Error(),
		})
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

type planRequest struct {
	Question string                 `json:"question"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

type planResponse struct {
	Intent planner.Intent   `json:"intent"`
	Plan   planner.DataPlan `json:"plan"`
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	var in planRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	intent, plan := planner.PlanQuestion(in.Question, in.Params)
	writeJSON(w, http.StatusOK, planResponse{Intent: intent, Plan: plan})
}

type weeklyResponse struct {
	Days   []summary.DayCount `json:"days"`
	Total  int                `json:"total"`
	Source string             `json:"source"`
}

// weeklyAppointments serves the Mon-Sat chart for the current week, falling
// back to the demo figures when live data is unavailable or empty.
func (s *Server) weeklyAppointments(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.currentWeek(r.Context())
	if err != nil {
		s.logger.Warn("weekly appointments from demo data", map[string]interface{}{"error": err.Error()})
	}

	days, source := summary.Weekly(bookings), "live"
	if err != nil || total(days) == 0 {
		days, source = demo.Weekly(), "demo"
	}
	writeJSON(w, http.StatusOK, weeklyResponse{Days: days, Total: total(days), Source: source})
}

func total(days []summary.DayCount) int {
	n := 0
	for _, d := range days {
		n += d.Value
	}
	return n
}

func (s *Server) currentWeek(ctx context.Context) ([]greyfinch.AppointmentBooking, error) {
	if s.practice == nil {
		return nil, greyfinch.ErrNotConfigured
	}
	cred, err := s.practice.Login(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	offset := (int(now.Weekday()) + 6) % 7
	monday := now.AddDate(0, 0, -offset)
	filter := greyfinch.AppointmentFilter{
		From: monday.Format("2006-01-02"),
		To:   monday.AddDate(0, 0, 5).Format("2006-01-02"),
	}

	res, err := paginate.Paginate(ctx, paginate.Options[greyfinch.AppointmentBooking]{
		PageSize: 100,
		SoftCap:  5000,
		FetchPage: func(ctx context.Context, page, pageSize int) ([]greyfinch.AppointmentBooking, error) {
			return backoff.Do(ctx, func(ctx context.Context) ([]greyfinch.AppointmentBooking, error) {
				return s.practice.AppointmentsPage(ctx, cred, filter, page, pageSize)
			}, s.retryOptions("weekly_appointments")...)
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var in refreshbulkexport.Input
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	out, err := s.extractor.Execute(r.Context(), &in)
	if err != nil {
		s.logger.Error("extract failed", map[string]interface{}{
			"requestId": RequestID(r.Context()),
			"error":     err.Error(),
		})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email != "" && s.mailer == nil {
		writeError(w, http.StatusServiceUnavailable, "email delivery is not configured")
		return
	}

	intent, plan := planner.PlanQuestion(query, nil)
	rows, err := s.runPlan(r.Context(), intent, plan)
	if err != nil {
		s.logger.Error("export query failed", map[string]interface{}{
			"intent": intent,
			"error":  err.Error(),
		})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	body, err := export.CSV(rows, export.Columns(rows)...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := export.Filename("practice-"+string(intent), s.now())

	if email != "" {
		id, err := s.mailer.SendAttachment(r.Context(), email,
			"Practice export: "+query,
			fmt.Sprintf("Attached are %d rows for %q.", len(rows), query),
			commonaws.Attachment{Filename: name, ContentType: export.ContentType, Data: body},
		)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sent":      true,
			"messageId": id,
			"rows":      len(rows),
			"filename":  name,
		})
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) runPlan(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]map[string]interface{}, error) {
	if s.executor == nil {
		return nil, errors.New("executor not configured")
	}
	res, err := executor.Run(ctx, s.practice, s.executor, intent, plan)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (s *Server) dashboardMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":     demo.DashboardMetrics(),
		"source":      "demo",
		"generatedAt": s.now().UTC().Format(time.RFC3339),
	})
}

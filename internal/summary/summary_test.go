package summary

import (
	"strings"
	"testing"

	"practice-insights/internal/greyfinch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func booking(date, clock, first, typ string) greyfinch.AppointmentBooking {
	b := greyfinch.AppointmentBooking{
		ID:             date + clock + first,
		LocalStartDate: date,
		LocalStartTime: clock,
		Appointment:    &greyfinch.Appointment{},
	}
	if first != "" {
		b.Appointment.Patient = &greyfinch.Patient{Person: greyfinch.Person{FirstName: first}}
	}
	if typ != "" {
		b.Appointment.AppointmentType = &greyfinch.AppointmentType{Name: typ}
	}
	return b
}

func fixture() []greyfinch.AppointmentBooking {
	return []greyfinch.AppointmentBooking{
		booking("2025-03-03", "09:00:00", "Ann", "Hygiene"),
		booking("2025-03-03", "09:30:00", "Bob", "Consult"),
		booking("2025-03-04", "15:00:00", "Ann", "Hygiene"),
		booking("2025-03-05", "15:15:00", "Cy", "Hygiene"),
		booking("2024-11-20", "8:00", "Ann", ""),
		booking("2025-03-08", "10:00:00", "", "Consult"),
	}
}

func TestSummarize(t *testing.T) {
	p := Summarize(fixture())

	assert.Equal(t, 3, p.UniquePatients)
	assert.Equal(t, 6, p.TotalAppointments)
	assert.Equal(t, 1, p.ReturningPatients)
	assert.Equal(t, 33, p.LoyaltyRate())

	assert.Equal(t, []Count{{"09", 2}, {"15", 2}, {"08", 1}, {"10", 1}}, p.BusiestHours)
	assert.Equal(t, "09", p.PeakHour)
	assert.Equal(t, []Count{{"2025-03-03", 2}, {"2024-11-20", 1}, {"2025-03-04", 1}}, p.BusiestDates)
	assert.Equal(t, "2025-03-03", p.BusiestDay)
	assert.Equal(t, []Count{{"Ann", 3}}, p.FrequentPatients)
	assert.Equal(t, []Count{{"Hygiene", 3}, {"Consult", 2}}, p.AppointmentTypes)
	assert.Equal(t, []Count{{"2024", 1}, {"2025", 5}}, p.Years)
	assert.Equal(t, 1, p.AverageDaily)

	require.Len(t, p.Recent, 5)
	assert.Equal(t, "2025-03-08", p.Recent[0].Date)
	assert.Equal(t, "2025-03-05", p.Recent[1].Date)
	assert.Equal(t, "09:00:00", p.Recent[4].Time)
}

func TestSummarize_Deterministic(t *testing.T) {
	assert.Equal(t, Summarize(fixture()), Summarize(fixture()))
}

func TestSummarize_Empty(t *testing.T) {
	p := Summarize(nil)

	assert.Zero(t, p.TotalAppointments)
	assert.Equal(t, "N/A", p.PeakHour)
	assert.Equal(t, "N/A", p.BusiestDay)
	assert.Zero(t, p.LoyaltyRate())
	assert.Empty(t, p.Recent)
}

func TestWeekly(t *testing.T) {
	days := Weekly(append(fixture(),
		booking("2025-03-09", "", "Sun", ""),
		booking("not-a-date", "", "X", ""),
	))

	require.Len(t, days, 6)
	assert.Equal(t, []DayCount{
		{"Mon", 2}, {"Tue", 1}, {"Wed", 2}, {"Thu", 0}, {"Fri", 0}, {"Sat", 1},
	}, days)
}

func TestBuildPrompt(t *testing.T) {
	p := Summarize(fixture())
	prompt := BuildPrompt(PromptInput{
		Question:   "Who are our loyal patients?",
		Intent:     "patient_history",
		DataSource: "dynamic",
		Practice:   &p,
		Rows:       []map[string]interface{}{{"patientName": "Ann"}},
	})

	assert.Contains(t, prompt, "- Patients: 3")
	assert.Contains(t, prompt, "- Returning patients: 1 (33% loyalty rate)")
	assert.Contains(t, prompt, "- Peak hour: 09:00")
	assert.Contains(t, prompt, "FREQUENT PATIENTS:\n- Ann: 3 appointments")
	assert.Contains(t, prompt, "QUERY PLAN: intent=patient_history source=dynamic rows=1")
	assert.Contains(t, prompt, `[{"patientName":"Ann"}]`)
	assert.Contains(t, prompt, "QUESTION: Who are our loyal patients?")
	assert.Contains(t, prompt, "plain text")
}

func TestBuildPrompt_NoDataAndTruncation(t *testing.T) {
	rows := make([]map[string]interface{}, maxPromptRows+3)
	for i := range rows {
		rows[i] = map[string]interface{}{"n": i}
	}

	prompt := BuildPrompt(PromptInput{Question: "q", Rows: rows, Structured: true})

	assert.NotContains(t, prompt, "PRACTICE OVERVIEW")
	assert.NotContains(t, prompt, "QUERY PLAN")
	assert.Contains(t, prompt, "(3 more rows omitted)")
	assert.True(t, strings.Contains(prompt, `"format":"table|cards|bullets|chart|mixed"`))
}

// Package demo holds the fixed figures served when live practice data is
// unavailable. Every surface reads from here so the numbers agree.
package demo

import (
	"practice-insights/internal/planner"
	"practice-insights/internal/summary"
)

const (
	HygieneReappointmentRate = 89
	TreatmentAcceptanceRate  = 82
)

// Weekly returns the fallback Mon-Sat appointment chart.
func Weekly() []summary.DayCount {
	return []summary.DayCount{
		{Name: "Mon", Value: 42},
		{Name: "Tue", Value: 48},
		{Name: "Wed", Value: 51},
		{Name: "Thu", Value: 45},
		{Name: "Fri", Value: 38},
		{Name: "Sat", Value: 22},
	}
}

// Metrics is the dashboard headline set.
type Metrics struct {
	TotalPatients       int             `json:"totalPatients"`
	TotalAppointments   int             `json:"totalAppointments"`
	ServicesOffered     int             `json:"servicesOffered"`
	Locations           int             `json:"locations"`
	AppointmentsPerPt   float64         `json:"averageAppointmentsPerPatient"`
	MostPopularService  string          `json:"mostPopularService"`
	AppointmentYears    []summary.Count `json:"appointmentYears"`
	BusiestHours        []summary.Count `json:"busiestHours"`
	HygieneReappoint    int             `json:"hygieneReappointmentRate"`
	TreatmentAcceptance int             `json:"treatmentAcceptanceRate"`
}

func DashboardMetrics() Metrics {
	return Metrics{
		TotalPatients:      1247,
		TotalAppointments:  3420,
		ServicesOffered:    18,
		Locations:          1,
		AppointmentsPerPt:  2.74,
		MostPopularService: "Routine Cleaning",
		AppointmentYears: []summary.Count{
			{Label: "2024", Count: 1850},
			{Label: "2025", Count: 1570},
		},
		BusiestHours: []summary.Count{
			{Label: "09:00", Count: 245},
			{Label: "10:00", Count: 280},
			{Label: "14:00", Count: 265},
			{Label: "15:00", Count: 290},
			{Label: "16:00", Count: 220},
		},
		HygieneReappoint:    HygieneReappointmentRate,
		TreatmentAcceptance: TreatmentAcceptanceRate,
	}
}

const (
	GreetingAnswer  = "Hi! I'm Opera, your practice assistant. How can I help you today?"
	WellbeingAnswer = "I'm doing great! Ready to help you with your practice. What would you like to know?"
	genericAnswer   = "I can't reach the practice data right now. Here is the latest demo overview: " +
		"1,247 patients, 3,420 appointments, and Wednesday is usually the busiest day with 51 visits."
)

var answers = map[planner.Intent]string{
	planner.IntentScheduleToday: "Today's schedule: 09:00 Sarah Johnson (Routine Cleaning), 10:30 Michael Chen (Crown Prep), " +
		"14:00 Jennifer Brown (Implant Consult), 15:30 David Miller (Fillings).",
	planner.IntentServiceStatsMonthly: "Routine Cleaning is the most popular service this month, followed by fillings and crown preps.",
	planner.IntentProviderLoadWeek:    "Chair 2 ran at 68% utilization this week while Chair 1 reached 92%. Consider moving afternoon hygiene earlier.",
	planner.IntentNoShowRecent:        "Seven upcoming appointments carry a high cancellation risk, three of them high value, worth about $6,400.",
	planner.IntentListLocations:       "The practice operates one location.",
	planner.IntentListServices:        "The practice offers 18 services, with Routine Cleaning the most requested.",
}

// Answer returns the canned reply for intent.
func Answer(intent planner.Intent) string {
	if a, ok := answers[intent]; ok {
		return a
	}
	return genericAnswer
}

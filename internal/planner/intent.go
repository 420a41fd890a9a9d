// Package planner turns a free-text practice question into an intent and a
// data plan describing where and how to fetch the answer's data.
package planner

import (
	"regexp"
	"strings"
)

// Intent is the category of question being asked.
type Intent string

const (
	IntentScheduleToday       Intent = "schedule_today"
	IntentFilterSchedule      Intent = "filter_schedule"
	IntentNewPatientsRange    Intent = "new_patients_range"
	IntentNoShowRecent        Intent = "no_show_recent"
	IntentServiceStatsMonthly Intent = "service_stats_monthly"
	IntentProviderLoadWeek    Intent = "provider_load_week"
	IntentPatientHistory      Intent = "patient_history"
	IntentRescheduleStreaks   Intent = "reschedule_streaks"
	IntentListLocations       Intent = "list_locations"
	IntentListServices        Intent = "list_services"
	IntentPDFAnalyze          Intent = "pdf_analyze"
	IntentGeneralChat         Intent = "general_chat"
)

// DefaultIntent is returned when no rule matches.
const DefaultIntent = IntentScheduleToday

var allIntents = []Intent{
	IntentScheduleToday,
	IntentFilterSchedule,
	IntentNewPatientsRange,
	IntentNoShowRecent,
	IntentServiceStatsMonthly,
	IntentProviderLoadWeek,
	IntentPatientHistory,
	IntentRescheduleStreaks,
	IntentListLocations,
	IntentListServices,
	IntentPDFAnalyze,
	IntentGeneralChat,
}

// AllIntents returns every intent in declaration order.
func AllIntents() []Intent {
	out := make([]Intent, len(allIntents))
	copy(out, allIntents)
	return out
}

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	for _, known := range allIntents {
		if i == known {
			return true
		}
	}
	return false
}

func (i Intent) String() string {
	return string(i)
}

// Rule pairs a case-insensitive pattern with the intent it selects.
type Rule struct {
	Pattern *regexp.Regexp
	Intent  Intent
}

// rules is evaluated top to bottom; the first match wins, so order resolves
// overlaps such as "new patients at the downtown office".
var rules = []Rule{
	rule(`today.*schedule|schedule.*today|todays.*schedule`, IntentScheduleToday),
	rule(`tomorrow.*schedule|schedule.*tomorrow`, IntentFilterSchedule),
	rule(`schedule.*location|location.*schedule`, IntentFilterSchedule),
	rule(`new.*patients?|patients?.*new|recent.*patients?`, IntentNewPatientsRange),
	rule(`patient.*history|history.*patient`, IntentPatientHistory),
	rule(`services?.*offer|offer.*services?|what.*services?`, IntentListServices),
	rule(`appointment.*types?|types?.*appointment`, IntentListServices),
	rule(`service.*stats?|stats?.*service|top.*services?`, IntentServiceStatsMonthly),
	rule(`services?.*popular|popular.*services?`, IntentServiceStatsMonthly),
	rule(`locations?|offices?|practices?`, IntentListLocations),
	rule(`where.*located|address`, IntentListLocations),
	rule(`no.*shows?|missed.*appointments?|cancelled`, IntentNoShowRecent),
	rule(`reschedule.*streaks?|streaks?.*reschedule`, IntentRescheduleStreaks),
	rule(`provider.*load|load.*provider|workload`, IntentProviderLoadWeek),
	rule(`analyze.*pdf|pdf.*analyze|summarize.*file`, IntentPDFAnalyze),
}

func rule(pattern string, intent Intent) Rule {
	return Rule{Pattern: regexp.MustCompile(`(?i)` + pattern), Intent: intent}
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// DetectIntent classifies a question. It never fails: unmatched input,
// including the empty string, yields DefaultIntent.
func DetectIntent(query string) Intent {
	q := strings.ToLower(query)
	for _, r := range rules {
		if r.Pattern.MatchString(q) {
			return r.Intent
		}
	}
	return DefaultIntent
}

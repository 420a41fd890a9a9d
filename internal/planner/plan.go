package planner

import "math"

// DataSource says where a plan's data comes from.
type DataSource string

const (
	// SourceDynamic queries the live practice API page by page.
	SourceDynamic DataSource = "dynamic"
	// SourceBulk reads pre-aggregated export data.
	SourceBulk DataSource = "bulk"
	// SourceHybrid combines both. No intent maps to it today.
	SourceHybrid DataSource = "hybrid"
)

const (
	DefaultPageSize = 20
	DefaultSoftCap  = 200
	ExporterCSV     = "csv"
)

// DataPlan is the execution plan for one question.
type DataPlan struct {
	DataSource DataSource             `json:"dataSource"`
	PageSize   int                    `json:"pageSize"`
	SoftCap    int                    `json:"softCap"`
	Filters    map[string]interface{} `json:"filters"`
	Exporter   string                 `json:"exporter,omitempty"`
}

// FilterString returns filters[key] when it is a non-empty string.
func (p DataPlan) FilterString(key string) (string, bool) {
	s, ok := p.Filters[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// WantsExport reports whether the caller asked for a CSV export.
func (p DataPlan) WantsExport() bool {
	return p.Exporter == ExporterCSV
}

// ChooseDataSource maps an intent to its data source. Unknown intents and
// general_chat go to the live API.
func ChooseDataSource(intent Intent) DataSource {
	switch intent {
	case IntentScheduleToday,
		IntentFilterSchedule,
		IntentPatientHistory,
		IntentListLocations,
		IntentListServices:
		return SourceDynamic
	case IntentServiceStatsMonthly,
		IntentNoShowRecent,
		IntentRescheduleStreaks,
		IntentProviderLoadWeek,
		IntentPDFAnalyze:
		return SourceBulk
	default:
		return SourceDynamic
	}
}

// BuildPlan assembles a DataPlan. params are copied, never retained, and
// are not validated.
func BuildPlan(intent Intent, params map[string]interface{}) DataPlan {
	filters := make(map[string]interface{}, len(params))
	for k, v := range params {
		filters[k] = v
	}

	plan := DataPlan{
		DataSource: ChooseDataSource(intent),
		PageSize:   DefaultPageSize,
		SoftCap:    DefaultSoftCap,
		Filters:    filters,
	}
	if truthy(params["export"]) {
		plan.Exporter = ExporterCSV
	}
	return plan
}

// PlanQuestion classifies question and builds its plan.
func PlanQuestion(question string, params map[string]interface{}) (Intent, DataPlan) {
	intent := DetectIntent(question)
	return intent, BuildPlan(intent, params)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int8:
		return t != 0
	case int16:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint:
		return t != 0
	case uint8:
		return t != 0
	case uint16:
		return t != 0
	case uint32:
		return t != 0
	case uint64:
		return t != 0
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}

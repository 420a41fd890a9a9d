// internal/workers/ai-conversation/answer-question/models.go
package answerquestion

import (
	"practice-insights/internal/claude"
	"practice-insights/internal/common/validation"
	"practice-insights/internal/planner"
)

type Input struct {
	Question string                 `json:"question"`
	Params   map[string]interface{} `json:"params,omitempty"`
	FileIDs  []string               `json:"fileIds,omitempty"`
	Images   []claude.Image         `json:"images,omitempty"`
}

type Output struct {
	Answer     string                   `json:"answer"`
	Intent     planner.Intent           `json:"intent,omitempty"`
	DataSource planner.DataSource       `json:"dataSource,omitempty"`
	Plan       *planner.DataPlan        `json:"plan,omitempty"`
	RowCount   int                      `json:"rowCount"`
	Rows       []map[string]interface{} `json:"rows,omitempty"`
	Structured *validation.Answer       `json:"structured,omitempty"`
	Fallback   bool                     `json:"fallback"`
}

// internal/workers/ai-conversation/answer-question/config.go
package answerquestion

import "time"

type Config struct {
	Timeout time.Duration
	// StructuredAnswers asks the model for the JSON answer shape.
	StructuredAnswers bool
	// DemoFallback answers with canned demo text when data or the model fail.
	DemoFallback bool
	// SummaryOnly skips intent routing and answers from the practice summary.
	SummaryOnly bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      60 * time.Second,
		DemoFallback: true,
	}
}

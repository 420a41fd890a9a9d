package summary

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxPromptRows bounds the result rows embedded in a prompt.
const maxPromptRows = 50

// PromptInput is everything the model sees for one question.
type PromptInput struct {
	Question   string
	Intent     string
	DataSource string
	Practice   *Practice
	Rows       []map[string]interface{}
	Structured bool
}

// BuildPrompt renders the model prompt. Sections with no data are omitted.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are Opera, an intelligent dental practice assistant.\n")

	if p := in.Practice; p != nil && p.TotalAppointments > 0 {
		b.WriteString("\nPRACTICE OVERVIEW:\n")
		fmt.Fprintf(&b, "- Patients: %d\n", p.UniquePatients)
		fmt.Fprintf(&b, "- Appointments: %d\n", p.TotalAppointments)
		fmt.Fprintf(&b, "- Returning patients: %d (%d%% loyalty rate)\n", p.ReturningPatients, p.LoyaltyRate())
		fmt.Fprintf(&b, "- Peak hour: %s\n", clock(p.PeakHour))
		fmt.Fprintf(&b, "- Busiest day: %s\n", p.BusiestDay)
		fmt.Fprintf(&b, "- Daily average: %d appointments\n", p.AverageDaily)

		section(&b, "FREQUENT PATIENTS", p.FrequentPatients, func(c Count) string {
			return fmt.Sprintf("%s: %d appointments", c.Label, c.Count)
		})
		section(&b, "BUSIEST TIMES", p.BusiestHours, func(c Count) string {
			return fmt.Sprintf("%s: %d appointments", clock(c.Label), c.Count)
		})
		section(&b, "BUSIEST DAYS", p.BusiestDates, func(c Count) string {
			return fmt.Sprintf("%s: %d appointments", c.Label, c.Count)
		})
		section(&b, "APPOINTMENTS BY YEAR", p.Years, func(c Count) string {
			return fmt.Sprintf("%s: %d", c.Label, c.Count)
		})
		section(&b, "RECENT ACTIVITY", p.Recent, func(v Visit) string {
			if v.Type != "" {
				return fmt.Sprintf("%s: %s (%s)", v.Date, v.Patient, v.Type)
			}
			return fmt.Sprintf("%s: %s", v.Date, v.Patient)
		})
	}

	if in.Intent != "" {
		fmt.Fprintf(&b, "\nQUERY PLAN: intent=%s source=%s rows=%d\n", in.Intent, in.DataSource, len(in.Rows))
	}
	if len(in.Rows) > 0 {
		rows := in.Rows
		if len(rows) > maxPromptRows {
			rows = rows[:maxPromptRows]
		}
		if data, err := json.Marshal(rows); err == nil {
			b.WriteString("\nDATA:\n")
			b.Write(data)
			b.WriteString("\n")
		}
		if len(in.Rows) > maxPromptRows {
			fmt.Fprintf(&b, "(%d more rows omitted)\n", len(in.Rows)-maxPromptRows)
		}
	}

	fmt.Fprintf(&b, "\nQUESTION: %s\n\n", in.Question)

	if in.Structured {
		b.WriteString(structuredInstructions)
	} else {
		b.WriteString(plainInstructions)
	}
	return b.String()
}

func section[T any](b *strings.Builder, title string, items []T, line func(T) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(line(item))
		b.WriteString("\n")
	}
}

func clock(hour string) string {
	if hour == "" || hour == unavailable {
		return unavailable
	}
	return hour + ":00"
}

const plainInstructions = `Answer in plain text paragraphs without markdown, HTML or emojis.
Start with a direct answer, then supporting numbers, then any recommendation.
Use real names and figures from the data above. Say so when the data does not cover the question.`

const structuredInstructions = `Reply with a single JSON object and nothing else, shaped as:
{"analysis":{"dataSources":[...],"steps":[...]},"title":"...","format":"table|cards|bullets|chart|mixed",
"columns":[...],"rows":[[...]],"bullets":[...],"notes":[...],"followUps":[...]}
Use only figures present in the data above.`

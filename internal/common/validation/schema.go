package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrNoJSON = errors.New("ANSWER_NOT_JSON")

// AnswerSchema is the structured reply the model may return.
const AnswerSchema = `{
  "type": "object",
  "required": ["analysis", "format"],
  "properties": {
    "analysis": {
      "type": "object",
      "required": ["dataSources", "steps"],
      "properties": {
        "dataSources": {"type": "array", "items": {"type": "string"}},
        "steps": {"type": "array", "items": {"type": "string"}},
        "notes": {"type": "array", "items": {"type": "string"}}
      }
    },
    "title": {"type": "string"},
    "subtitle": {"type": "string"},
    "format": {"type": "string", "enum": ["table", "cards", "bullets", "chart", "mixed"]},
    "headers": {"type": "array", "items": {"type": "string"}},
    "columns": {"type": "array", "items": {"type": "string"}},
    "rows": {
      "type": "array",
      "items": {"type": "array", "items": {"type": ["string", "number"]}}
    },
    "cards": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["heading", "body"],
        "properties": {
          "heading": {"type": "string"},
          "body": {"type": "string"},
          "footnote": {"type": "string"}
        }
      }
    },
    "bullets": {"type": "array", "items": {"type": "string"}},
    "blocks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string", "enum": ["table", "cards", "bullets"]}
        }
      }
    },
    "notes": {"type": "array", "items": {"type": "string"}},
    "followUps": {"type": "array", "items": {"type": "string"}}
  }
}`

var answerSchema = gojsonschema.NewStringLoader(AnswerSchema)

type Card struct {
	Heading  string `json:"heading"`
	Body     string `json:"body"`
	Footnote string `json:"footnote,omitempty"`
}

type Block struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title,omitempty"`
	Columns []string        `json:"columns,omitempty"`
	Rows    [][]interface{} `json:"rows,omitempty"`
	Cards   []Card          `json:"cards,omitempty"`
	Bullets []string        `json:"bullets,omitempty"`
}

type Analysis struct {
	DataSources []string `json:"dataSources"`
	Steps       []string `json:"steps"`
	Notes       []string `json:"notes,omitempty"`
}

// Answer is a validated structured reply.
type Answer struct {
	Analysis  Analysis        `json:"analysis"`
	Title     string          `json:"title,omitempty"`
	Subtitle  string          `json:"subtitle,omitempty"`
	Format    string          `json:"format"`
	Headers   []string        `json:"headers,omitempty"`
	Columns   []string        `json:"columns,omitempty"`
	Rows      [][]interface{} `json:"rows,omitempty"`
	Cards     []Card          `json:"cards,omitempty"`
	Bullets   []string        `json:"bullets,omitempty"`
	Blocks    []Block         `json:"blocks,omitempty"`
	Notes     []string        `json:"notes,omitempty"`
	FollowUps []string        `json:"followUps,omitempty"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateDocument checks a decoded JSON document against a schema.
func ValidateDocument(schema gojsonschema.JSONLoader, document interface{}) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return vr, nil
}

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls the first JSON object out of a model reply, accepting a
// bare object or one inside a fenced code block.
func ExtractJSON(text string) (string, bool) {
	if m := fence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// ParseAnswer extracts, validates and decodes a structured reply. The
// result carries field errors when the reply is JSON but off-schema.
func ParseAnswer(text string) (*Answer, *ValidationResult, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, nil, ErrNoJSON
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}

	vr, err := ValidateDocument(answerSchema, doc)
	if err != nil {
		return nil, nil, err
	}
	if !vr.Valid {
		return nil, vr, nil
	}

	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, nil, fmt.Errorf("decode answer: %w", err)
	}
	return &answer, vr, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	emailPattern := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailPattern.MatchString(email)
}

package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

func answerActivity() Activity {
	return Activity{
		ID:                   "answer-question",
		DisplayName:          "Answer Practice Question",
		Category:             "ai-conversation",
		TaskType:             "answer-question",
		ImplementationStatus: StatusCompleted,
		Timeout:              "60s",
	}
}

func TestLoadShippedRegistry(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join("..", "..", "configs", "activity-registry.json"))
	require.NoError(t, err)

	require.NoError(t, reg.Validate())
	assert.Empty(t, reg.Unregistered([]string{"answer-question", "refresh-bulk-export"}))
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	reg := &ActivityRegistry{Version: "1.0.0"}
	require.NoError(t, reg.Add(answerActivity(), now))
	require.NoError(t, Save(reg, path))

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-12T09:00:00Z", loaded.LastUpdated)
	a, ok := loaded.Find("answer-question")
	require.True(t, ok)
	assert.Equal(t, "Answer Practice Question", a.DisplayName)
}

func TestAddRejectsDuplicate(t *testing.T) {
	reg := &ActivityRegistry{}
	require.NoError(t, reg.Add(answerActivity(), now))
	assert.Error(t, reg.Add(answerActivity(), now))
}

func TestUpdate(t *testing.T) {
	reg := &ActivityRegistry{Activities: []Activity{answerActivity()}}

	require.NoError(t, reg.Update("answer-question", "retries", "5", now))
	require.NoError(t, reg.Update("answer-question", "status", StatusVerified, now))
	assert.Equal(t, 5, reg.Activities[0].Retries)
	assert.Equal(t, StatusVerified, reg.Activities[0].ImplementationStatus)

	assert.Error(t, reg.Update("answer-question", "status", "shipped", now))
	assert.Error(t, reg.Update("answer-question", "timeout", "soon", now))
	assert.Error(t, reg.Update("answer-question", "colour", "red", now))
	assert.Error(t, reg.Update("missing", "version", "2.0.0", now))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ActivityRegistry)
	}{
		{"empty", func(r *ActivityRegistry) { r.Activities = nil }},
		{"missing display name", func(r *ActivityRegistry) { r.Activities[0].DisplayName = "" }},
		{"bad status", func(r *ActivityRegistry) { r.Activities[0].ImplementationStatus = "done" }},
		{"bad timeout", func(r *ActivityRegistry) { r.Activities[0].Timeout = "1 minute" }},
		{"duplicate task type", func(r *ActivityRegistry) {
			dup := answerActivity()
			dup.ID = "answer-question-v2"
			r.Activities = append(r.Activities, dup)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &ActivityRegistry{Activities: []Activity{answerActivity()}}
			tt.mutate(reg)
			assert.Error(t, reg.Validate())
		})
	}
}

func TestUnregistered(t *testing.T) {
	planned := answerActivity()
	planned.ID, planned.TaskType, planned.ImplementationStatus = "refresh", "refresh-bulk-export", StatusPlanned
	reg := &ActivityRegistry{Activities: []Activity{answerActivity(), planned}}

	assert.Equal(t, []string{"refresh-bulk-export", "send-digest"},
		reg.Unregistered([]string{"answer-question", "refresh-bulk-export", "send-digest"}))
}

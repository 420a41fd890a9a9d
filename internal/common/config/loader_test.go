package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: practice-insights
database:
  redis:
    address: localhost:6379
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 20, cfg.Planner.PageSize)
	assert.Equal(t, 200, cfg.Planner.SoftCap)
	assert.Equal(t, "postgres", cfg.Planner.BulkBackend)
	assert.Equal(t, "practice-appointments", cfg.Database.Elasticsearch.Index)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.APIs.Claude.Model)
	assert.Equal(t, "2023-06-01", cfg.APIs.Claude.Version)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile_ExpandsAndOverridesSecrets(t *testing.T) {
	t.Setenv("TEST_GF_URL", "https://practice.example.test/graphql")
	t.Setenv("GREYFINCH_API_KEY", "key-from-env")
	t.Setenv("GREYFINCH_API_SECRET", "secret-from-env")
	t.Setenv("CLAUDE_API_KEY", "claude-from-env")

	path := writeConfig(t, `
apis:
  greyfinch:
    base_url: ${TEST_GF_URL}
  claude:
    api_key: configured-key
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://practice.example.test/graphql", cfg.APIs.Greyfinch.BaseURL)
	assert.Equal(t, "key-from-env", cfg.APIs.Greyfinch.APIKey)
	assert.Equal(t, "secret-from-env", cfg.APIs.Greyfinch.APISecret)
	assert.True(t, cfg.APIs.Greyfinch.Configured())
	assert.Equal(t, "configured-key", cfg.APIs.Claude.APIKey, "file value wins over env fallback")
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "unknown bulk backend",
			body: `
planner:
  bulk_backend: mongo
`,
			wantErr: "planner.bulk_backend",
		},
		{
			name: "soft cap below page size",
			body: `
planner:
  page_size: 50
  soft_cap: 30
`,
			wantErr: "planner.soft_cap (30) must be at least planner.page_size (50)",
		},
		{
			name: "page size above default soft cap",
			body: `
planner:
  page_size: 500
`,
			wantErr: "planner.soft_cap",
		},
		{
			name: "elasticsearch backend without address",
			body: `
planner:
  bulk_backend: elasticsearch
`,
			wantErr: "database.elasticsearch",
		},
		{
			name: "sns enabled without topic",
			body: `
notifications:
  sns:
    enabled: true
`,
			wantErr: "topic_arn",
		},
		{
			name: "postgres host without database",
			body: `
database:
  postgres:
    host: db.local
`,
			wantErr: "database.postgres.database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EXPORT_SNS_TOPIC_ARN", "")
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetWorkerConfig(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"answer-question": {Enabled: false, MaxJobsActive: 2, Timeout: 1000, MaxRetries: 1},
	}}

	assert.Equal(t, 2, GetWorkerConfig(cfg, "answer-question").MaxJobsActive)
	assert.False(t, IsWorkerEnabled(cfg, "answer-question"))

	fallback := GetWorkerConfig(cfg, "refresh-bulk-export")
	assert.True(t, fallback.Enabled)
	assert.Equal(t, 5, fallback.MaxJobsActive)
	assert.True(t, IsWorkerEnabled(cfg, "refresh-bulk-export"))
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}

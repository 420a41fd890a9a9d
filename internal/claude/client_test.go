package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"practice-insights/internal/common/config"
	commonhttp "practice-insights/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestConfig(url string) config.ClaudeConfig {
	return config.ClaudeConfig{
		BaseURL:   url + "/",
		APIKey:    "test-key",
		Model:     "claude-3-5-haiku-20241022",
		Version:   "2023-06-01",
		MaxTokens: 1000,
		Timeout:   5000,
	}
}

func TestAsk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-haiku-20241022", req.Model)
		assert.Equal(t, 1000, req.MaxTokens)
		assert.InDelta(t, 0.3, req.Temperature, 0.0001)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "How busy is Monday?", req.Messages[0].Content[0].Text)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Monday is busy."},{"type":"text","text":"Plan ahead."}],"usage":{"input_tokens":10,"output_tokens":6}}`))
	}))
	defer server.Close()

	client := NewClientWith(commonhttp.NewClientWith(server.Client()), createTestConfig(server.URL))
	answer, err := client.Ask(context.Background(), "How busy is Monday?")

	require.NoError(t, err)
	assert.Equal(t, "Monday is busy.\nPlan ahead.", answer)
}

func TestAnalyzeImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		blocks := req.Messages[0].Content
		require.Len(t, blocks, 3)
		assert.Equal(t, "Please analyze this image and answer: what is this?", blocks[0].Text)
		assert.Equal(t, "image", blocks[1].Type)
		assert.Equal(t, "base64", blocks[1].Source.Type)
		assert.Equal(t, "image/png", blocks[1].Source.MediaType)
		assert.Equal(t, "image/jpeg", blocks[2].Source.MediaType)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"An x-ray."}]}`))
	}))
	defer server.Close()

	client := NewClientWith(commonhttp.NewClientWith(server.Client()), createTestConfig(server.URL))
	answer, err := client.AnalyzeImages(context.Background(), "what is this?", []Image{
		{MediaType: "image/png", Data: "aGVsbG8="},
		{Data: "d29ybGQ="},
	})

	require.NoError(t, err)
	assert.Equal(t, "An x-ray.", answer)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"api error status", 529, `{"error":{"message":"overloaded"}}`, nil, "status 529"},
		{"error body", 200, `{"error":{"message":"bad model"}}`, nil, "bad model"},
		{"no text", 200, `{"content":[]}`, ErrEmptyResponse, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClientWith(commonhttp.NewClientWith(server.Client()), createTestConfig(server.URL))
			_, err := client.Ask(context.Background(), "hi")

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClientWith(commonhttp.NewClientWith(server.Client()), createTestConfig(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Ask(ctx, "slow")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestComplete_NotConfigured(t *testing.T) {
	client := NewClient(config.ClaudeConfig{})
	assert.False(t, client.Configured())

	_, err := client.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

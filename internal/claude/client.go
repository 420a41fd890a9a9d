// Package claude calls the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"practice-insights/internal/common/config"
	commonhttp "practice-insights/internal/common/http"
)

var (
	ErrNotConfigured = errors.New("LLM_NOT_CONFIGURED")
	ErrEmptyResponse = errors.New("LLM_EMPTY_RESPONSE")
	ErrTimeout       = errors.New("LLM_TIMEOUT")
)

const DefaultTemperature = 0.3

// Image is a base64 encoded image forwarded as an image block.
type Image struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

type Message struct {
	Role   string
	Text   string
	Images []Image
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Response struct {
	Text  string
	Usage Usage
}

type apiRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string     `json:"role"`
	Content []apiBlock `json:"content"`
}

type apiBlock struct {
	Type   string     `json:"type"`
	Text   string     `json:"text,omitempty"`
	Source *apiSource `json:"source,omitempty"`
}

type apiSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	Content []apiBlock `json:"content"`
	Usage   Usage      `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Client struct {
	http      *commonhttp.Client
	baseURL   string
	apiKey    string
	model     string
	version   string
	maxTokens int
}

func NewClient(cfg config.ClaudeConfig) *Client {
	return NewClientWith(commonhttp.NewClient(config.GetDuration(cfg.Timeout)), cfg)
}

func NewClientWith(hc *commonhttp.Client, cfg config.ClaudeConfig) *Client {
	return &Client{
		http:      hc,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		version:   cfg.Version,
		maxTokens: cfg.MaxTokens,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Complete sends the conversation and joins the returned text blocks.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := apiRequest{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]apiMessage, 0, len(req.Messages)),
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = c.maxTokens
	}

	for _, m := range req.Messages {
		msg := apiMessage{Role: m.Role}
		if m.Text != "" {
			msg.Content = append(msg.Content, apiBlock{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			mediaType := img.MediaType
			if mediaType == "" {
				mediaType = "image/jpeg"
			}
			msg.Content = append(msg.Content, apiBlock{
				Type:   "image",
				Source: &apiSource{Type: "base64", MediaType: mediaType, Data: img.Data},
			})
		}
		if len(msg.Content) == 0 {
			msg.Content = []apiBlock{{Type: "text", Text: ""}}
		}
		payload.Messages = append(payload.Messages, msg)
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": c.version,
	}

	var parsed apiResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/v1/messages", headers, payload, &parsed); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("claude: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("claude error: %s", parsed.Error.Message)
	}

	var texts []string
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	if len(texts) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{Text: strings.Join(texts, "\n"), Usage: parsed.Usage}, nil
}

// Ask sends a single user prompt.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Complete(ctx, Request{
		Messages:    []Message{{Role: "user", Text: prompt}},
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// AnalyzeImages asks question about one or more images.
func (c *Client) AnalyzeImages(ctx context.Context, question string, images []Image) (string, error) {
	resp, err := c.Complete(ctx, Request{
		Messages: []Message{{
			Role:   "user",
			Text:   "Please analyze this image and answer: " + question,
			Images: images,
		}},
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

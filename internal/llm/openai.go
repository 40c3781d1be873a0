package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/auralink/auralink-bridge/internal/config"
	"github.com/auralink/auralink-bridge/internal/httpkit"
)

// DefaultOpenAIBaseURL is the public OpenAI API root.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// Any server that implements POST {base}/chat/completions works,
// including local gateways.
type OpenAIClient struct {
	rc     *resty.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client for the given API root. An empty
// baseURL selects the public OpenAI API.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := resty.NewWithClient(httpkit.NewClient(httpkit.WithTimeout(timeout))).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}

	return &OpenAIClient{
		rc:     rc,
		logger: logger.With("provider", "openai"),
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResponse, error) {
	req := openAIRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}

	c.logger.Debug("sending chat completion", "model", model, "messages", len(messages),
		"temperature", opts.Temperature, "max_tokens", opts.MaxTokens)

	var result openAIResponse
	var apiErr openAIError
	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "response payload", "status", resp.StatusCode(), "json", resp.String())

	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode(), msg)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	out := &ChatResponse{
		Model:         result.Model,
		Message:       result.Choices[0].Message,
		InputTokens:   result.Usage.PromptTokens,
		OutputTokens:  result.Usage.CompletionTokens,
		TotalDuration: time.Since(start),
	}
	if result.Created > 0 {
		out.CreatedAt = time.Unix(result.Created, 0)
	}
	return out, nil
}

// Ping lists models to verify the endpoint and API key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Get("/models")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("openai API error %d", resp.StatusCode())
	}
	return nil
}

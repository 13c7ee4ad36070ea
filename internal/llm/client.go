// Package llm is an OpenAI-compatible chat completion client that
// serves as the translation backend. It speaks the /chat/completions
// surface with json_schema structured output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/batch"
)

// Client is a thread-safe chat completion client. It implements
// batch.Backend.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a client from a validated configuration.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// Call sends one translation batch as a structured chat completion.
// Context cancellation is reported through Response.Cancelled so the
// scheduler can distinguish it from provider failures.
func (c *Client) Call(ctx context.Context, req batch.Request) (batch.Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	chatReq := ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	if req.ResponseSchema != nil {
		chatReq.ResponseFormat = &ResponseFormat{
			Type: "json_schema",
			JSONSchema: JSONSchema{
				Name:   "translated_cues",
				Strict: true,
				Schema: req.ResponseSchema,
			},
		}
	}

	chatResp, err := c.chatCompletion(ctx, chatReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return batch.Response{Cancelled: true}, nil
		}
		return batch.Response{}, err
	}

	if len(chatResp.Choices) == 0 {
		return batch.Response{}, fmt.Errorf("no choices in response")
	}
	choice := chatResp.Choices[0]

	return batch.Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Truncated:    choice.FinishReason == "length",
		Usage: batch.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) chatCompletion(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseBody, &chatResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return nil, chatResponse.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}
	return &chatResponse, nil
}

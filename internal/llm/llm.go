// Package llm explains reviewed quiz answers with an OpenAI-compatible chat
// model. Scoring never depends on it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/kotoba/internal/llm/prompts"
	"github.com/pavelanni/kotoba/internal/model"
)

// Explanation is the model's feedback on one answer.
type Explanation struct {
	Explanation string `json:"explanation"`
	Example     string `json:"example"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Ping checks that the endpoint answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == c.model {
			return nil
		}
	}
	slog.Warn("configured model not listed by endpoint", "model", c.model, "available", len(list.Models))
	return nil
}

// ExplainAnswer asks the model why answer is right or wrong for q. lang picks
// the prompt and response language.
func (c *Client) ExplainAnswer(ctx context.Context, lang string, q model.Question, answer string, correct bool) (*Explanation, error) {
	prompt, err := prompts.BuildExplainPrompt(lang, q, answer, correct)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return parseExplanation(raw)
}

func parseExplanation(raw string) (*Explanation, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in a markdown fence despite the response format.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var e Explanation
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if strings.TrimSpace(e.Explanation) == "" {
		return nil, fmt.Errorf("LLM response has no explanation (raw: %s)", raw)
	}
	return &e, nil
}

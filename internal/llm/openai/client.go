// Package openai generates scripts with any OpenAI-compatible chat endpoint
// (OpenAI, DeepSeek, OpenRouter).
package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"reelforge/internal/llm"
	"reelforge/pkg/prompts"
)

var _ llm.ScriptGenerator = (*Client)(nil)

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	prompts     *prompts.Prompts
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

func NewClient(cfg Config, p *prompts.Prompts) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: cfg.Temperature,
		prompts:     p,
	}
}

func (c *Client) GenerateScript(ctx context.Context, req llm.ScriptRequest) (*llm.Script, error) {
	system, user, err := llm.RenderPrompts(c.prompts, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	return llm.ParseScript(content)
}

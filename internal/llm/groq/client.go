package groq

import (
	"context"
	"fmt"

	"github.com/conneroisu/groq-go"

	"reelforge/internal/llm"
	"reelforge/pkg/prompts"
)

var _ llm.ScriptGenerator = (*Client)(nil)

type Client struct {
	client      *groq.Client
	model       groq.ChatModel
	temperature float32
	prompts     *prompts.Prompts
}

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	BaseURL     string
}

func NewClient(cfg Config, p *prompts.Prompts) (*Client, error) {
	var opts []groq.Opts
	if cfg.BaseURL != "" {
		opts = append(opts, groq.WithBaseURL(cfg.BaseURL))
	}
	client, err := groq.NewClient(cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("create groq client: %w", err)
	}

	return &Client{
		client:      client,
		model:       groq.ChatModel(cfg.Model),
		temperature: cfg.Temperature,
		prompts:     p,
	}, nil
}

func (c *Client) GenerateScript(ctx context.Context, req llm.ScriptRequest) (*llm.Script, error) {
	system, user, err := llm.RenderPrompts(c.prompts, req)
	if err != nil {
		return nil, err
	}

	content, err := c.generateJSONContent(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return llm.ParseScript(content)
}

func (c *Client) generateJSONContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := groq.ChatCompletionRequest{
		Model: c.model,
		Messages: []groq.ChatCompletionMessage{
			{Role: groq.RoleSystem, Content: systemPrompt},
			{Role: groq.RoleUser, Content: userPrompt},
		},
		Temperature:    c.temperature,
		ResponseFormat: &groq.ChatResponseFormat{Type: "json_object"},
	}

	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty response")
	}

	return content, nil
}

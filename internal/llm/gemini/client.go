package gemini

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"reelforge/internal/llm"
	"reelforge/pkg/prompts"
)

const dailyLimit = 1500

var _ llm.ScriptGenerator = (*Client)(nil)

type Client struct {
	client    *genai.Client
	model     string
	prompts   *prompts.Prompts
	usageFile string
	mu        sync.Mutex
}

var sceneSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"narration":    {Type: genai.TypeString, Description: "Spoken text for the scene"},
		"overlay":      {Type: genai.TypeString, Description: "Short on-screen text"},
		"duration":     {Type: genai.TypeNumber, Description: "Scene length in seconds"},
		"image_prompt": {Type: genai.TypeString, Description: "Visual description for a background image"},
	},
	Required: []string{"narration", "duration"},
}

var scriptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":    {Type: genai.TypeString},
		"caption":  {Type: genai.TypeString},
		"hashtags": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"scenes":   {Type: genai.TypeArray, Items: sceneSchema},
	},
	Required: []string{"title", "scenes"},
}

func NewClient(ctx context.Context, project, location, model string, p *prompts.Prompts) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	home, _ := os.UserHomeDir()

	return &Client{
		client:    client,
		model:     model,
		prompts:   p,
		usageFile: filepath.Join(home, ".reelforge_gemini_usage"),
	}, nil
}

func (c *Client) GenerateScript(ctx context.Context, req llm.ScriptRequest) (*llm.Script, error) {
	system, user, err := llm.RenderPrompts(c.prompts, req)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   scriptSchema,
	}

	content, err := c.call(ctx, user, config)
	if err != nil {
		return nil, err
	}
	return llm.ParseScript(content)
}

func (c *Client) call(ctx context.Context, userPrompt string, config *genai.GenerateContentConfig) (string, error) {
	if err := c.checkUsage(); err != nil {
		return "", err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), config)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	c.incrementUsage()

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response")
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

func (c *Client) checkUsage() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	date, count := readUsage(c.usageFile)
	if date != time.Now().Format(time.DateOnly) {
		return nil
	}
	if count >= dailyLimit {
		return fmt.Errorf("daily limit of %d requests reached, resets tomorrow", dailyLimit)
	}
	return nil
}

func (c *Client) incrementUsage() {
	c.mu.Lock()
	defer c.mu.Unlock()

	date, count := readUsage(c.usageFile)
	today := time.Now().Format(time.DateOnly)
	if date != today {
		count = 0
	}
	count++

	_ = os.WriteFile(c.usageFile, []byte(fmt.Sprintf("%s:%d", today, count)), 0644)
}

func readUsage(path string) (string, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0
	}
	parts := strings.Split(strings.TrimSpace(string(data)), ":")
	if len(parts) != 2 {
		return "", 0
	}
	count, _ := strconv.Atoi(parts[1])
	return parts[0], count
}

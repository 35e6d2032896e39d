// Package llm turns a content request into a scene-by-scene video script.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"reelforge/pkg/prompts"
)

const (
	defaultSceneSeconds = 5
	maxTitleLength      = 100
)

var ErrEmptyScript = errors.New("script has no scenes")

type ScriptRequest struct {
	Topic           string
	Niche           string
	Tone            string
	Language        string
	DurationSeconds int
	SceneCount      int
}

type Script struct {
	Title    string        `json:"title"`
	Caption  string        `json:"caption"`
	Hashtags []string      `json:"hashtags"`
	Scenes   []SceneScript `json:"scenes"`
}

type SceneScript struct {
	Narration   string  `json:"narration"`
	Overlay     string  `json:"overlay"`
	Duration    float64 `json:"duration"`
	ImagePrompt string  `json:"image_prompt"`
}

type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (*Script, error)
}

// RenderPrompts returns the system and user prompts for req.
func RenderPrompts(p *prompts.Prompts, req ScriptRequest) (string, string, error) {
	language := req.Language
	if language == "" {
		language = "English"
	}
	user, err := p.RenderScript(prompts.ScriptParams{
		Topic:           req.Topic,
		Niche:           req.Niche,
		Tone:            req.Tone,
		Language:        language,
		DurationSeconds: req.DurationSeconds,
		SceneCount:      req.SceneCount,
	})
	if err != nil {
		return "", "", fmt.Errorf("render prompt: %w", err)
	}
	return p.System.Script, user, nil
}

// ParseScript decodes a model answer. It tolerates markdown fences and a
// top-level "script" wrapper, normalizes hashtags and drops empty scenes.
func ParseScript(content string) (*Script, error) {
	raw := stripFences(content)

	var s Script
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(s.Scenes) == 0 {
		var wrapped struct {
			Script Script `json:"script"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && len(wrapped.Script.Scenes) > 0 {
			s = wrapped.Script
		}
	}

	scenes := make([]SceneScript, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		sc.Narration = strings.TrimSpace(sc.Narration)
		if sc.Narration == "" {
			continue
		}
		if sc.Duration <= 0 {
			sc.Duration = defaultSceneSeconds
		}
		scenes = append(scenes, sc)
	}
	if len(scenes) == 0 {
		return nil, ErrEmptyScript
	}

	s.Scenes = scenes
	s.Title = cleanTitle(s.Title)
	s.Caption = strings.TrimSpace(s.Caption)
	s.Hashtags = cleanHashtags(s.Hashtags)
	return &s, nil
}

func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'")

	if idx := strings.Index(title, "\n"); idx > 0 {
		title = title[:idx]
	}

	title = strings.TrimSpace(title)
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	return title
}

func cleanHashtags(tags []string) []string {
	result := make([]string, 0, len(tags))
	seen := make(map[string]bool)

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimLeft(tag, "#")
		tag = strings.ToLower(strings.ReplaceAll(tag, " ", ""))

		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, "#"+tag)
	}

	return result
}

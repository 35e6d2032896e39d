package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

const defaultPromptsPath = "prompts.yaml"

//go:embed default_prompts.yaml
var defaultPrompts []byte

type Prompts struct {
	System SystemPrompts `yaml:"system"`
	Script ScriptPrompts `yaml:"script"`
	Video  VideoPrompts  `yaml:"video"`
}

type SystemPrompts struct {
	Script string `yaml:"script"`
}

type ScriptPrompts struct {
	Generate string `yaml:"generate"`
}

type VideoPrompts struct {
	Prompt string `yaml:"prompt"`
}

type ScriptParams struct {
	Topic           string
	Niche           string
	Tone            string
	Language        string
	DurationSeconds int
	SceneCount      int
}

type SceneText struct {
	Narration string
}

type VideoParams struct {
	Title  string
	Scenes []SceneText
}

// Default returns the embedded prompt set.
func Default() (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(defaultPrompts, &p); err != nil {
		return nil, fmt.Errorf("parse default prompts: %w", err)
	}
	return &p, nil
}

func Load() (*Prompts, error) {
	return LoadFrom(defaultPromptsPath)
}

// LoadFrom reads path over the embedded defaults. A missing file yields the defaults.
func LoadFrom(path string) (*Prompts, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}
	return p, nil
}

func (p *Prompts) RenderScript(params ScriptParams) (string, error) {
	return render(p.Script.Generate, params)
}

func (p *Prompts) RenderVideo(params VideoParams) (string, error) {
	return render(p.Video.Prompt, params)
}

func render(tmpl string, data any) (string, error) {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

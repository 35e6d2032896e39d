// Package imagegen creates scene background images.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type Options struct {
	Size    string
	Quality string
	Style   string
}

type Image struct {
	Data   []byte
	Format string
}

type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Image, error)
}

var _ Generator = (*OpenAI)(nil)

type OpenAI struct {
	client   *openai.Client
	model    string
	defaults Options
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	Quality string
}

func NewOpenAI(cfg Config) *OpenAI {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	size := cfg.Size
	if size == "" {
		size = openai.CreateImageSize1024x1792
	}
	quality := cfg.Quality
	if quality == "" {
		quality = openai.CreateImageQualityStandard
	}

	return &OpenAI{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		defaults: Options{Size: size, Quality: quality},
	}
}

func (g *OpenAI) Generate(ctx context.Context, prompt string, opts Options) (*Image, error) {
	if prompt == "" {
		return nil, errors.New("empty image prompt")
	}
	if opts.Size == "" {
		opts.Size = g.defaults.Size
	}
	if opts.Quality == "" {
		opts.Quality = g.defaults.Quality
	}

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           opts.Size,
		Quality:        opts.Quality,
		Style:          opts.Style,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("no image returned")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Image{Data: data, Format: "png"}, nil
}

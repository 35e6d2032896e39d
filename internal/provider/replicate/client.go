// Package replicate runs hosted text-to-video models on Replicate.
package replicate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/provider"
	"reelforge/pkg/httputil"
)

const (
	Name           = "replicate"
	defaultBaseURL = "https://api.replicate.com"
	defaultModel   = "minimax/video-01"
	timeout        = 30 * time.Second
)

type Client struct {
	token   string
	baseURL string
	model   string
	http    *httputil.RetryClient
}

type Config struct {
	APIToken string
	BaseURL  string
	Model    string
}

type option func(*Client)

func withHTTPClient(hc *http.Client) option {
	return func(c *Client) {
		c.http = httputil.NewRetryClient(hc, httputil.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})
	}
}

func NewClient(cfg Config, opts ...option) *Client {
	c := &Client{
		token:   cfg.APIToken,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		http:    httputil.NewRetryClient(&http.Client{Timeout: timeout}, httputil.DefaultRetryConfig()),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictionRequest struct {
	Input   input  `json:"input"`
	Webhook string `json:"webhook,omitempty"`
}

type input struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind model.JobKind) bool {
	return kind == model.KindTextToVideo || kind == model.KindAIVideo
}

func (c *Client) Submit(ctx context.Context, p provider.Params) (string, error) {
	prompt := p.Prompt
	if prompt == "" {
		prompt = p.Script
	}
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.Validation("replicate needs a prompt", apperr.Violation{Field: "prompt", Rule: "required"})
	}

	req := predictionRequest{
		Input: input{
			Prompt:      prompt,
			AspectRatio: p.AspectRatio,
			Duration:    p.DurationSeconds,
		},
		Webhook: p.CallbackURL,
	}

	var resp prediction
	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", c.baseURL, c.model)
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, c.header(), req, &resp); err != nil {
		return "", provider.SubmitError(Name, err)
	}
	if resp.ID == "" {
		return "", provider.SubmitError(Name, fmt.Errorf("response has no prediction id"))
	}
	return resp.ID, nil
}

func (c *Client) Poll(ctx context.Context, externalID string) (*provider.Result, error) {
	var resp prediction
	endpoint := c.baseURL + "/v1/predictions/" + url.PathEscape(externalID)
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, c.header(), nil, &resp); err != nil {
		return nil, fmt.Errorf("poll replicate prediction %s: %w", externalID, err)
	}
	return normalize(resp), nil
}

func normalize(p prediction) *provider.Result {
	switch p.Status {
	case "succeeded":
		out := outputURL(p.Output)
		if out == "" {
			return &provider.Result{Status: provider.StatusError, Error: "prediction succeeded without output"}
		}
		return &provider.Result{Status: provider.StatusSuccess, ResultURL: out}
	case "failed", "canceled":
		msg := "prediction " + p.Status
		if p.Error != nil {
			msg = fmt.Sprint(p.Error)
		}
		return &provider.Result{Status: provider.StatusError, Error: msg}
	default:
		return &provider.Result{Status: provider.StatusProcessing}
	}
}

// outputURL accepts both a single URL and a list of URLs, taking the last.
func outputURL(out any) string {
	switch v := out.(type) {
	case string:
		return v
	case []any:
		for i := len(v) - 1; i >= 0; i-- {
			if s, ok := v[i].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Prefer", "respond-async")
	return h
}

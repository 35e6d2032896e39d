// Package did submits talking-head videos to D-ID.
package did

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/provider"
	"reelforge/pkg/httputil"
)

const (
	Name           = "did"
	defaultBaseURL = "https://api.d-id.com"
	timeout        = 30 * time.Second
)

type Client struct {
	apiKey        string
	baseURL       string
	defaultAvatar string
	http          *httputil.RetryClient
}

type Config struct {
	APIKey        string
	BaseURL       string
	DefaultAvatar string
}

type option func(*Client)

func withHTTPClient(hc *http.Client) option {
	return func(c *Client) {
		c.http = httputil.NewRetryClient(hc, httputil.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})
	}
}

func NewClient(cfg Config, opts ...option) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	c := &Client{
		apiKey:        cfg.APIKey,
		baseURL:       base,
		defaultAvatar: cfg.DefaultAvatar,
		http:          httputil.NewRetryClient(&http.Client{Timeout: timeout}, httputil.DefaultRetryConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type talkRequest struct {
	SourceURL string  `json:"source_url"`
	Script    script  `json:"script"`
	Webhook   string  `json:"webhook,omitempty"`
	Config    options `json:"config"`
}

type script struct {
	Type     string    `json:"type"`
	Input    string    `json:"input"`
	Provider *voiceRef `json:"provider,omitempty"`
}

type voiceRef struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

type options struct {
	Stitch bool `json:"stitch"`
}

type talkResponse struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	ResultURL string  `json:"result_url"`
	Error     *apiErr `json:"error"`
}

type apiErr struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind model.JobKind) bool {
	return kind == model.KindAvatar
}

func (c *Client) Submit(ctx context.Context, p provider.Params) (string, error) {
	text := p.Script
	if text == "" {
		text = p.Prompt
	}
	source := p.AvatarImageURL
	if source == "" {
		source = c.defaultAvatar
	}

	var violations []apperr.Violation
	if text == "" {
		violations = append(violations, apperr.Violation{Field: "script", Rule: "required"})
	}
	if source == "" {
		violations = append(violations, apperr.Violation{Field: "avatar_image_url", Rule: "required"})
	}
	if len(violations) > 0 {
		return "", apperr.Validation("d-id request is incomplete", violations...)
	}

	req := talkRequest{
		SourceURL: source,
		Script:    script{Type: "text", Input: text},
		Webhook:   p.CallbackURL,
		Config:    options{Stitch: true},
	}
	if p.VoiceID != "" {
		req.Script.Provider = &voiceRef{Type: "elevenlabs", VoiceID: p.VoiceID}
	}

	var resp talkResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/talks", c.header(), req, &resp); err != nil {
		return "", provider.SubmitError(Name, err)
	}
	if resp.ID == "" {
		return "", provider.SubmitError(Name, fmt.Errorf("response has no id (status %q)", resp.Status))
	}
	return resp.ID, nil
}

func (c *Client) Poll(ctx context.Context, externalID string) (*provider.Result, error) {
	var resp talkResponse
	endpoint := c.baseURL + "/talks/" + url.PathEscape(externalID)
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, c.header(), nil, &resp); err != nil {
		return nil, fmt.Errorf("poll d-id talk %s: %w", externalID, err)
	}
	return normalize(resp), nil
}

func normalize(r talkResponse) *provider.Result {
	switch r.Status {
	case "done":
		return &provider.Result{Status: provider.StatusSuccess, ResultURL: r.ResultURL}
	case "error", "rejected":
		msg := "d-id talk " + r.Status
		if r.Error != nil && r.Error.Description != "" {
			msg = r.Error.Description
		}
		return &provider.Result{Status: provider.StatusError, Error: msg}
	default:
		return &provider.Result{Status: provider.StatusProcessing}
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+c.apiKey)
	return h
}

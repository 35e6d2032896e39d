// Package heygen submits avatar and script videos to HeyGen.
package heygen

import (
	"context"
	"errors"
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
	Name           = "heygen"
	defaultBaseURL = "https://api.heygen.com"
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

type generateRequest struct {
	VideoInputs []videoInput `json:"video_inputs"`
	Dimension   dimension    `json:"dimension"`
	CallbackURL string       `json:"callback_url,omitempty"`
}

type videoInput struct {
	Character character `json:"character"`
	Voice     voice     `json:"voice"`
}

type character struct {
	Type     string `json:"type"`
	AvatarID string `json:"avatar_id"`
}

type voice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id,omitempty"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type envelope[T any] struct {
	Error *apiError `json:"error"`
	Data  T         `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type generateData struct {
	VideoID string `json:"video_id"`
}

type statusData struct {
	Status   string    `json:"status"`
	VideoURL string    `json:"video_url"`
	Error    *apiError `json:"error"`
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind model.JobKind) bool {
	return kind == model.KindAvatar || kind == model.KindTextToVideo
}

func (c *Client) Submit(ctx context.Context, p provider.Params) (string, error) {
	text := p.Script
	if text == "" {
		text = p.Prompt
	}
	if text == "" {
		return "", apperr.Validation("heygen needs a script or prompt")
	}
	avatarID := p.AvatarID
	if avatarID == "" {
		avatarID = c.defaultAvatar
	}
	if avatarID == "" {
		return "", apperr.Validation("heygen needs an avatar id", apperr.Violation{Field: "avatar_id", Rule: "required"})
	}

	req := generateRequest{
		VideoInputs: []videoInput{{
			Character: character{Type: "avatar", AvatarID: avatarID},
			Voice:     voice{Type: "text", InputText: text, VoiceID: p.VoiceID},
		}},
		Dimension:   dimensionFor(p.AspectRatio),
		CallbackURL: p.CallbackURL,
	}

	var resp envelope[generateData]
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/v2/video/generate", c.header(), req, &resp); err != nil {
		return "", provider.SubmitError(Name, err)
	}
	if resp.Error != nil {
		return "", provider.SubmitError(Name, errors.New(resp.Error.Message))
	}
	if resp.Data.VideoID == "" {
		return "", provider.SubmitError(Name, errors.New("response has no video_id"))
	}
	return resp.Data.VideoID, nil
}

func (c *Client) Poll(ctx context.Context, externalID string) (*provider.Result, error) {
	endpoint := c.baseURL + "/v1/video_status.get?video_id=" + url.QueryEscape(externalID)

	var resp envelope[statusData]
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, c.header(), nil, &resp); err != nil {
		return nil, fmt.Errorf("poll heygen video %s: %w", externalID, err)
	}
	return normalize(resp.Data), nil
}

func normalize(d statusData) *provider.Result {
	switch d.Status {
	case "completed":
		return &provider.Result{Status: provider.StatusSuccess, ResultURL: d.VideoURL}
	case "failed":
		msg := "heygen reported failure"
		if d.Error != nil && d.Error.Message != "" {
			msg = d.Error.Message
		}
		return &provider.Result{Status: provider.StatusError, Error: msg}
	default:
		// pending, waiting, processing
		return &provider.Result{Status: provider.StatusProcessing}
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("X-Api-Key", c.apiKey)
	return h
}

func dimensionFor(aspect string) dimension {
	switch aspect {
	case "16:9":
		return dimension{Width: 1920, Height: 1080}
	case "1:1":
		return dimension{Width: 1080, Height: 1080}
	default:
		return dimension{Width: 1080, Height: 1920}
	}
}

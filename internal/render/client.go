// Package render talks to the video composition service. The service consumes
// a scene list and produces a file asynchronously, so the client implements
// the same submit/poll contract as the generation providers.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/provider"
	"reelforge/internal/storage"
	"reelforge/pkg/httputil"
)

const (
	Name    = "render"
	timeout = 30 * time.Second
)

var _ provider.Adapter = (*Client)(nil)

type Client struct {
	baseURL string
	token   string
	http    *httputil.RetryClient
}

type Config struct {
	BaseURL string
	Token   string
}

type option func(*Client)

func withHTTPClient(hc *http.Client) option {
	return func(c *Client) {
		c.http = httputil.NewRetryClient(hc, httputil.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})
	}
}

func NewClient(cfg Config, opts ...option) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httputil.NewRetryClient(&http.Client{Timeout: timeout}, httputil.DefaultRetryConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type renderRequest struct {
	JobID       string       `json:"job_id"`
	Title       string       `json:"title,omitempty"`
	AspectRatio string       `json:"aspect_ratio"`
	Scenes      []sceneInput `json:"scenes"`
	CallbackURL string       `json:"callback_url,omitempty"`
}

type sceneInput struct {
	Narration      string  `json:"narration"`
	Overlay        string  `json:"overlay,omitempty"`
	Duration       float64 `json:"duration"`
	BackgroundType string  `json:"background_type"`
	BackgroundSrc  string  `json:"background_src,omitempty"`
	AudioURL       string  `json:"audio_url,omitempty"`
}

type renderStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind model.JobKind) bool {
	return kind == model.KindStandard
}

func (c *Client) Submit(ctx context.Context, p provider.Params) (string, error) {
	if len(p.Scenes) == 0 {
		return "", apperr.Validation("nothing to render", apperr.Violation{Field: "scenes", Rule: "min=1"})
	}

	req := renderRequest{
		JobID:       p.JobID,
		Title:       p.Title,
		AspectRatio: p.AspectRatio,
		Scenes:      make([]sceneInput, len(p.Scenes)),
		CallbackURL: p.CallbackURL,
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "9:16"
	}
	for i, s := range p.Scenes {
		// audio duration wins so narration is never cut off
		duration := s.Duration
		if s.AudioDuration > duration {
			duration = s.AudioDuration
		}
		req.Scenes[i] = sceneInput{
			Narration:      s.Narration,
			Overlay:        s.Overlay,
			Duration:       duration,
			BackgroundType: s.Background.Type,
			BackgroundSrc:  s.Background.Source,
			AudioURL:       s.AudioURL,
		}
	}

	var resp renderStatus
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/renders", c.header(), req, &resp); err != nil {
		return "", provider.SubmitError(Name, err)
	}
	if resp.ID == "" {
		return "", provider.SubmitError(Name, errors.New("response has no render id"))
	}
	return resp.ID, nil
}

func (c *Client) Poll(ctx context.Context, externalID string) (*provider.Result, error) {
	var resp renderStatus
	endpoint := c.baseURL + "/renders/" + url.PathEscape(externalID)
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, c.header(), nil, &resp); err != nil {
		return nil, fmt.Errorf("poll render %s: %w", externalID, err)
	}

	switch resp.Status {
	case "done":
		return &provider.Result{Status: provider.StatusSuccess, ResultURL: resp.URL}, nil
	case "failed":
		msg := resp.Error
		if msg == "" {
			msg = "render failed"
		}
		return &provider.Result{Status: provider.StatusError, Error: msg}, nil
	default:
		return &provider.Result{Status: provider.StatusProcessing}, nil
	}
}

// Fetch copies the rendered file at src into store under the job's video key
// and returns the public URL.
func (c *Client) Fetch(ctx context.Context, src string, store storage.Store, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	req.Header = c.header()

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download render: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &httputil.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	out, err := store.Save(ctx, storage.VideoKey(jobID), resp.Body, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("store render: %w", err)
	}
	return out, nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

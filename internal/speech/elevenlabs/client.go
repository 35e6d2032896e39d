package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"reelforge/internal/speech"
)

const (
	baseURL      = "https://api.elevenlabs.io/v1"
	timeout      = 120 * time.Second
	defaultModel = "eleven_multilingual_v2"
)

var _ speech.Provider = (*Client)(nil)

type Client struct {
	apiKeys    []string
	keyIndex   uint64
	httpClient *http.Client
	baseURL    string
	model      string
	defaults   speech.VoiceOptions
}

type Config struct {
	APIKeys    []string
	VoiceID    string
	Model      string
	Speed      float64
	Stability  float64
	Similarity float64
}

type option func(*Client)

type timestampResponse struct {
	AudioBase64 string     `json:"audio_base64"`
	Alignment   *alignment `json:"alignment"`
}

type alignment struct {
	Characters          []string  `json:"characters"`
	CharacterStartTimes []float64 `json:"character_start_times_seconds"`
	CharacterEndTimes   []float64 `json:"character_end_times_seconds"`
}

func withBaseURL(url string) option {
	return func(c *Client) {
		c.baseURL = url
	}
}

func withHTTPClient(client *http.Client) option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func NewClient(cfg Config, opts ...option) *Client {
	keys := cfg.APIKeys
	if len(keys) == 0 {
		keys = []string{""}
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	c := &Client{
		apiKeys:    keys,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
		defaults: speech.VoiceOptions{
			VoiceID:    cfg.VoiceID,
			Speed:      cfg.Speed,
			Stability:  cfg.Stability,
			Similarity: cfg.Similarity,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Synthesize converts text to speech. Options left zero fall back to the
// client defaults. An empty audio payload is reported as speech.ErrNoAudio.
func (c *Client) Synthesize(ctx context.Context, text string, opts speech.VoiceOptions) (*speech.Result, error) {
	opts = c.merge(opts)
	url := fmt.Sprintf("%s/text-to-speech/%s/with-timestamps", c.baseURL, opts.VoiceID)

	startKey := c.nextAPIKey()
	result, err := c.doRequestWithKey(ctx, url, text, opts, startKey)
	if err == nil {
		return result, nil
	}
	if !isQuotaError(err) {
		return nil, err
	}

	for i := 1; i < len(c.apiKeys); i++ {
		key := c.getKeyAtOffset(i)
		if key == startKey {
			continue
		}
		result, err = c.doRequestWithKey(ctx, url, text, opts, key)
		if err == nil {
			return result, nil
		}
		if !isQuotaError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all API keys exhausted: %w", err)
}

func (c *Client) merge(opts speech.VoiceOptions) speech.VoiceOptions {
	if opts.VoiceID == "" {
		opts.VoiceID = c.defaults.VoiceID
	}
	if opts.Speed == 0 {
		opts.Speed = c.defaults.Speed
	}
	if opts.Stability == 0 {
		opts.Stability = c.defaults.Stability
	}
	if opts.Similarity == 0 {
		opts.Similarity = c.defaults.Similarity
	}
	return opts
}

func (c *Client) nextAPIKey() string {
	if len(c.apiKeys) == 1 {
		return c.apiKeys[0]
	}
	idx := atomic.AddUint64(&c.keyIndex, 1)
	return c.apiKeys[idx%uint64(len(c.apiKeys))]
}

func (c *Client) getKeyAtOffset(offset int) string {
	idx := atomic.LoadUint64(&c.keyIndex)
	return c.apiKeys[(idx+uint64(offset))%uint64(len(c.apiKeys))]
}

func (c *Client) doRequestWithKey(ctx context.Context, url, text string, opts speech.VoiceOptions, apiKey string) (*speech.Result, error) {
	req, err := c.buildRequest(ctx, url, text, opts, apiKey)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: %s - %s", resp.Status, string(body))
	}

	return parseResponse(text, body)
}

func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "quota_exceeded") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429")
}

func (c *Client) buildRequest(ctx context.Context, url, text string, opts speech.VoiceOptions, apiKey string) (*http.Request, error) {
	payload := map[string]any{
		"text":     text,
		"model_id": c.model,
		"voice_settings": map[string]any{
			"stability":        opts.Stability,
			"similarity_boost": opts.Similarity,
			"speed":            opts.Speed,
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", apiKey)

	return req, nil
}

func parseResponse(text string, body []byte) (*speech.Result, error) {
	var tsResp timestampResponse
	if err := json.Unmarshal(body, &tsResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(tsResp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, speech.ErrNoAudio
	}

	timings := parseTimings(text, tsResp.Alignment, audio)
	return &speech.Result{
		Audio:    audio,
		Format:   "mp3",
		Duration: speech.Duration(timings),
		Timings:  timings,
	}, nil
}

func parseTimings(text string, align *alignment, audio []byte) []speech.WordTiming {
	if align == nil || len(align.Characters) == 0 {
		return speech.EstimateTimings(text, audio)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	timings := make([]speech.WordTiming, 0, len(words))
	charIdx := 0

	for _, word := range words {
		for charIdx < len(align.Characters) && align.Characters[charIdx] == " " {
			charIdx++
		}

		if charIdx >= len(align.Characters) {
			break
		}

		startIdx := charIdx
		endIdx := startIdx
		matchedChars := 0
		for endIdx < len(align.Characters) && matchedChars < len(word) {
			if align.Characters[endIdx] != " " {
				matchedChars++
			}
			endIdx++
		}

		if startIdx < len(align.CharacterStartTimes) && endIdx > 0 && endIdx-1 < len(align.CharacterEndTimes) {
			timings = append(timings, speech.WordTiming{
				Word:      word,
				StartTime: align.CharacterStartTimes[startIdx],
				EndTime:   align.CharacterEndTimes[endIdx-1],
			})
		}

		charIdx = endIdx
	}

	if len(timings) == 0 {
		return speech.EstimateTimings(text, audio)
	}

	return timings
}

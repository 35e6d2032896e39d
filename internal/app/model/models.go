package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobKind string

const (
	KindStandard    JobKind = "standard"
	KindTextToVideo JobKind = "text-to-video"
	KindAvatar      JobKind = "avatar"
	KindAIVideo     JobKind = "ai-video"
)

var JobKinds = []JobKind{KindStandard, KindTextToVideo, KindAvatar, KindAIVideo}

func (k JobKind) Valid() bool {
	for _, known := range JobKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ProviderBacked reports whether the final render is produced by an external provider.
func (k JobKind) ProviderBacked() bool {
	return k == KindTextToVideo || k == KindAvatar || k == KindAIVideo
}

// Scripted reports whether the pipeline generates a script before rendering.
func (k JobKind) Scripted() bool {
	return k == KindStandard || k == KindTextToVideo
}

const (
	MetaTitle    = "title"
	MetaCaption  = "caption"
	MetaHashtags = "hashtags"
	MetaRequest  = "request"
)

type Job struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Kind         JobKind        `json:"kind"`
	Status       JobStatus      `json:"status"`
	Scenes       []Scene        `json:"scenes"`
	Provider     *ProviderRef   `json:"provider,omitempty"`
	ResultURL    string         `json:"result_url,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type ProviderRef struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
}

type Scene struct {
	ID            string     `json:"id"`
	Narration     string     `json:"narration"`
	Overlay       string     `json:"overlay,omitempty"`
	Duration      float64    `json:"duration"`
	Background    Background `json:"background"`
	AudioURL      string     `json:"audio_url,omitempty"`
	AudioDuration float64    `json:"audio_duration,omitempty"`
}

type Background struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

const (
	BackgroundStock = "stock"
	BackgroundImage = "image"
	BackgroundColor = "color"
)

func (j *Job) Title() string {
	s, _ := j.Metadata[MetaTitle].(string)
	return s
}

func (j *Job) Caption() string {
	s, _ := j.Metadata[MetaCaption].(string)
	return s
}

func (j *Job) Hashtags() []string {
	switch v := j.Metadata[MetaHashtags].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	default:
		return nil
	}
}

func (j *Job) SetMeta(key string, value any) {
	if j.Metadata == nil {
		j.Metadata = make(map[string]any)
	}
	j.Metadata[key] = value
}

// SetRequest stores the generation parameters so the job can be regenerated later.
func (j *Job) SetRequest(req any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	j.SetMeta(MetaRequest, generic)
	return nil
}

func (j *Job) DecodeRequest(dst any) error {
	raw, ok := j.Metadata[MetaRequest]
	if !ok {
		return fmt.Errorf("job %s has no stored request", j.ID)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// Complete moves a rendering job to completed with the given result.
func (j *Job) Complete(resultURL string) error {
	if resultURL == "" {
		return fmt.Errorf("complete job %s: empty result url", j.ID)
	}
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.ResultURL = resultURL
	j.ErrorMessage = ""
	return nil
}

// Fail moves a non-terminal job to failed with a human-readable reason.
func (j *Job) Fail(message string) error {
	if message == "" {
		message = "generation failed"
	}
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.ErrorMessage = message
	j.ResultURL = ""
	return nil
}

func (j *Job) Advance(to JobStatus) error {
	if to.Terminal() {
		return fmt.Errorf("advance job %s: use Complete or Fail for %s", j.ID, to)
	}
	return j.transition(to)
}

// Reset returns the job to draft for regeneration, keeping id, owner, kind and request.
func (j *Job) Reset() {
	j.Status = StatusDraft
	j.Scenes = nil
	j.Provider = nil
	j.ResultURL = ""
	j.ErrorMessage = ""
	req, hasReq := j.Metadata[MetaRequest]
	j.Metadata = make(map[string]any)
	if hasReq {
		j.Metadata[MetaRequest] = req
	}
}

func (j *Job) transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return &TransitionError{JobID: j.ID, From: j.Status, To: to}
	}
	j.Status = to
	return nil
}

// CheckInvariants verifies the result and error fields agree with the status.
func (j *Job) CheckInvariants() error {
	if (j.ResultURL != "") != (j.Status == StatusCompleted) {
		return fmt.Errorf("job %s: result url set=%t with status %s", j.ID, j.ResultURL != "", j.Status)
	}
	if (j.ErrorMessage != "") != (j.Status == StatusFailed) {
		return fmt.Errorf("job %s: error message set=%t with status %s", j.ID, j.ErrorMessage != "", j.Status)
	}
	return nil
}

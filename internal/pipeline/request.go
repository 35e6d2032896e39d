package pipeline

import (
	"github.com/go-playground/validator/v10"

	"reelforge/internal/app/model"
	"reelforge/internal/validate"
)

// GenerationRequest holds the parameters of a job. It is stored in the job's
// metadata so the job can be regenerated without the original caller.
type GenerationRequest struct {
	Kind model.JobKind `json:"kind" validate:"required,jobkind"`

	Topic           string `json:"topic,omitempty" validate:"max=500"`
	Niche           string `json:"niche,omitempty" validate:"max=100"`
	Tone            string `json:"tone,omitempty" validate:"max=100"`
	Language        string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"omitempty,min=5,max=180"`
	SceneCount      int    `json:"scene_count,omitempty" validate:"omitempty,min=1,max=20"`
	VoiceID         string `json:"voice_id,omitempty"`
	GenerateImages  bool   `json:"generate_images,omitempty"`

	// Script is spoken verbatim by an avatar; Prompt describes an ai-video.
	Script         string   `json:"script,omitempty" validate:"max=5000"`
	Prompt         string   `json:"prompt,omitempty" validate:"max=2000"`
	AvatarID       string   `json:"avatar_id,omitempty"`
	AvatarImageURL string   `json:"avatar_image_url,omitempty" validate:"omitempty,url"`
	AspectRatio    string   `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=9:16 16:9 1:1"`
	Providers      []string `json:"providers,omitempty" validate:"omitempty,unique,dive,required"`
}

// registerRules adds the per-kind required fields.
func registerRules(v *validate.Validator) {
	v.RegisterStructRule(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(GenerationRequest)
		switch req.Kind {
		case model.KindStandard, model.KindTextToVideo:
			if req.Topic == "" {
				sl.ReportError(req.Topic, "topic", "Topic", "required", "")
			}
		case model.KindAvatar:
			if req.Script == "" {
				sl.ReportError(req.Script, "script", "Script", "required", "")
			}
		case model.KindAIVideo:
			if req.Prompt == "" {
				sl.ReportError(req.Prompt, "prompt", "Prompt", "required", "")
			}
		}
		if req.GenerateImages && req.Kind != model.KindStandard {
			sl.ReportError(req.GenerateImages, "generate_images", "GenerateImages", "excluded_unless", "kind standard")
		}
	}, GenerationRequest{})
}

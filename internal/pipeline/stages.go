package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/llm"
	"reelforge/internal/speech"
	"reelforge/internal/storage"
)

const fallbackBackgroundColor = "#101010"

// script generates the scenes and metadata of job. It returns the image
// prompt of each scene, aligned with job.Scenes.
func (p *Pipeline) script(ctx context.Context, job *model.Job, req GenerationRequest) ([]string, error) {
	duration := p.duration(req)
	sceneCount := req.SceneCount
	if sceneCount <= 0 {
		sceneCount = max(1, duration/p.cfg.SceneSeconds)
	}
	language := req.Language
	if language == "" {
		language = p.cfg.Language
	}

	s, err := p.scripts.GenerateScript(ctx, llm.ScriptRequest{
		Topic:           req.Topic,
		Niche:           req.Niche,
		Tone:            req.Tone,
		Language:        language,
		DurationSeconds: duration,
		SceneCount:      sceneCount,
	})
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindProvider, Message: "script generation failed", Provider: "llm", Err: err}
	}
	if len(s.Scenes) == 0 {
		return nil, &apperr.Error{Kind: apperr.KindProvider, Message: "script generation failed", Provider: "llm", Err: llm.ErrEmptyScript}
	}

	background := p.defaultBackground(ctx)
	job.Scenes = make([]model.Scene, len(s.Scenes))
	imagePrompts := make([]string, len(s.Scenes))
	for i, sc := range s.Scenes {
		job.Scenes[i] = model.Scene{
			ID:         uuid.NewString(),
			Narration:  sc.Narration,
			Overlay:    sc.Overlay,
			Duration:   sc.Duration,
			Background: background,
		}
		imagePrompts[i] = sc.ImagePrompt
		if imagePrompts[i] == "" {
			imagePrompts[i] = sc.Narration
		}
	}

	title := s.Title
	if title == "" {
		title = req.Topic
	}
	job.SetMeta(model.MetaTitle, title)
	job.SetMeta(model.MetaCaption, s.Caption)
	job.SetMeta(model.MetaHashtags, s.Hashtags)
	return imagePrompts, nil
}

func (p *Pipeline) defaultBackground(ctx context.Context) model.Background {
	if p.media != nil {
		if url, err := storage.RandomBackgroundClip(ctx, p.media); err == nil {
			return model.Background{Type: model.BackgroundStock, Source: url}
		}
	}
	return model.Background{Type: model.BackgroundColor, Source: fallbackBackgroundColor}
}

// voice attaches narration audio to every scene it can. A scene whose
// synthesis fails keeps no audio and the job moves on.
func (p *Pipeline) voice(ctx context.Context, job *model.Job, req GenerationRequest) error {
	opts := p.cfg.Voice
	opts.VoiceID = p.voiceID(req)

	return p.eachScene(ctx, job, "voice", func(ctx context.Context, scene *model.Scene) error {
		res, err := p.speech.Synthesize(ctx, scene.Narration, opts)
		if err != nil {
			return err
		}
		if res == nil || len(res.Audio) == 0 {
			return speech.ErrNoAudio
		}

		format := res.Format
		if format == "" {
			format = "mp3"
		}
		url, err := p.media.Save(ctx, storage.AudioKey(job.ID, scene.ID, format), bytes.NewReader(res.Audio), audioContentType(format))
		if err != nil {
			return fmt.Errorf("store audio: %w", err)
		}

		duration := res.Duration
		if duration <= 0 {
			duration = speech.EstimateAudioDuration(res.Audio)
		}
		scene.AudioURL = url
		scene.AudioDuration = duration
		return nil
	})
}

// illustrate replaces scene backgrounds with generated images where it can.
func (p *Pipeline) illustrate(ctx context.Context, job *model.Job, imagePrompts []string) error {
	if p.images == nil {
		p.logger.Warn("Image generation requested but not configured", zap.String("job_id", job.ID))
		return nil
	}

	index := make(map[string]string, len(job.Scenes))
	for i, s := range job.Scenes {
		if i < len(imagePrompts) {
			index[s.ID] = imagePrompts[i]
		}
	}

	return p.eachScene(ctx, job, "image", func(ctx context.Context, scene *model.Scene) error {
		prompt := index[scene.ID]
		if prompt == "" {
			prompt = scene.Narration
		}
		img, err := p.images.Generate(ctx, prompt, p.cfg.Images)
		if err != nil {
			return err
		}

		format := img.Format
		if format == "" {
			format = "png"
		}
		url, err := p.media.Save(ctx, storage.ImageKey(job.ID, scene.ID, format), bytes.NewReader(img.Data), "image/"+format)
		if err != nil {
			return fmt.Errorf("store image: %w", err)
		}
		scene.Background = model.Background{Type: model.BackgroundImage, Source: url}
		return nil
	})
}

// eachScene runs fn for every scene with bounded concurrency. Each call only
// touches its own slot of job.Scenes, so results keep the script order no
// matter which call finishes first. Per-scene errors and panics are logged and
// swallowed; only cancellation of ctx fails the stage.
func (p *Pipeline) eachScene(ctx context.Context, job *model.Job, stage string, fn func(context.Context, *model.Scene) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)

	for i := range job.Scenes {
		scene := &job.Scenes[i]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					p.logger.Warn("Scene step failed, continuing without it",
						zap.String("job_id", job.ID),
						zap.String("stage", stage),
						zap.Int("scene", i),
						zap.Error(err))
				}
				err = nil
			}()
			return fn(gctx, scene)
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s stage: %w", stage, err)
	}
	return nil
}

func audioContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	default:
		return "audio/" + format
	}
}

func joinNarration(parts []string) string {
	return strings.Join(parts, "\n\n")
}

// Package pipeline drives a generation job from script to render. Run returns
// once the job reaches rendering; the render itself completes in a background
// task handled by Completer.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/imagegen"
	"reelforge/internal/llm"
	"reelforge/internal/notify"
	"reelforge/internal/provider"
	"reelforge/internal/speech"
	"reelforge/internal/storage"
	"reelforge/internal/store"
	"reelforge/internal/task"
	"reelforge/internal/validate"
	"reelforge/pkg/prompts"
)

const (
	defaultParallelism  = 4
	defaultDuration     = 45
	defaultSceneSeconds = 6
	defaultLanguage     = "en"
)

type Config struct {
	Parallelism     int
	DefaultDuration int
	SceneSeconds    int
	Language        string
	Voice           speech.VoiceOptions
	Images          imagegen.Options
}

func (c *Config) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = defaultDuration
	}
	if c.SceneSeconds <= 0 {
		c.SceneSeconds = defaultSceneSeconds
	}
	if c.Language == "" {
		c.Language = defaultLanguage
	}
}

type Deps struct {
	Jobs    store.JobStore
	Scripts llm.ScriptGenerator
	Speech  speech.Provider
	// Images may be nil, which turns background generation off.
	Images    imagegen.Generator
	Media     storage.Store
	Providers *provider.Registry
	Orch      *provider.Orchestrator
	Tasks     task.Dispatcher
	Notifier  notify.Notifier
	Prompts   *prompts.Prompts
	Validator *validate.Validator
}

type Pipeline struct {
	jobWriter
	scripts   llm.ScriptGenerator
	speech    speech.Provider
	images    imagegen.Generator
	media     storage.Store
	providers *provider.Registry
	orch      *provider.Orchestrator
	tasks     task.Dispatcher
	prompts   *prompts.Prompts
	validator *validate.Validator
	cfg       Config
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	cfg.applyDefaults()

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	v := deps.Validator
	if v == nil {
		v = validate.New()
	}
	registerRules(v)

	return &Pipeline{
		jobWriter: jobWriter{jobs: deps.Jobs, notifier: notifier, logger: logger.Named("pipeline")},
		scripts:   deps.Scripts,
		speech:    deps.Speech,
		images:    deps.Images,
		media:     deps.Media,
		providers: deps.Providers,
		orch:      deps.Orch,
		tasks:     deps.Tasks,
		prompts:   deps.Prompts,
		validator: v,
		cfg:       cfg,
	}
}

// Register routes pipeline runs dispatched through Start to Run.
func (p *Pipeline) Register(r task.Registrar) {
	r.Handle(task.TypeRunPipeline, func(ctx context.Context, jobID string) error {
		err := p.Run(ctx, jobID)
		// Only persistence failures are worth a redelivery; anything else has
		// already landed on the job or means another run owns it.
		if apperr.Is(err, apperr.KindPersistence) {
			return err
		}
		return nil
	})
}

// CreateJob validates req and persists a draft job carrying it.
func (p *Pipeline) CreateJob(ctx context.Context, ownerID string, kind model.JobKind, req GenerationRequest) (*model.Job, error) {
	if ownerID == "" {
		return nil, apperr.Auth("owner is required")
	}
	req.Kind = kind
	if err := p.validator.Struct(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    model.StatusDraft,
		Scenes:    []model.Scene{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := job.SetRequest(req); err != nil {
		return nil, err
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		return nil, apperr.Persistence("create job", err)
	}

	p.logger.Info("Job created", zap.String("job_id", job.ID), zap.String("kind", string(kind)))
	p.observe(ctx, job)
	return job, nil
}

// Start hands the job to a background worker that calls Run.
func (p *Pipeline) Start(ctx context.Context, jobID string) error {
	if err := p.tasks.Dispatch(ctx, task.TypeRunPipeline, jobID); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	return nil
}

// Run executes the job's stages up to rendering. Only a job in draft can be
// run; the draft to first-stage write is conditional, so of two concurrent
// runs one gets a conflict. Any failure after the claim is recorded on the
// job before Run returns it.
func (p *Pipeline) Run(ctx context.Context, jobID string) (err error) {
	job, err := p.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusDraft {
		return apperr.Conflict("job %s is already %s", job.ID, job.Status)
	}

	var req GenerationRequest
	if err := job.DecodeRequest(&req); err != nil {
		cause := apperr.Validation("job has no usable generation request")
		_ = p.markFailed(ctx, job.ID, cause)
		return cause
	}

	first := model.StatusScripting
	if !job.Kind.Scripted() {
		first = model.StatusRendering
	}
	if err := p.advance(ctx, job, first); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return apperr.Conflict("job %s is already running", job.ID)
		}
		return err
	}

	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	logger.Info("Pipeline started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			_ = p.markFailed(ctx, job.ID, err)
		}
	}()

	return p.execute(ctx, job, req, logger)
}

func (p *Pipeline) execute(ctx context.Context, job *model.Job, req GenerationRequest, logger *zap.Logger) error {
	if job.Kind.Scripted() {
		imagePrompts, err := p.script(ctx, job, req)
		if err != nil {
			return err
		}
		logger.Info("Script ready", zap.Int("scenes", len(job.Scenes)), zap.String("title", job.Title()))

		if job.Kind == model.KindStandard {
			return p.compose(ctx, job, req, imagePrompts, logger)
		}
		if err := p.advance(ctx, job, model.StatusRendering); err != nil {
			return err
		}
	}
	return p.submit(ctx, job, req, logger)
}

// compose voices and illustrates a standard job, then hands it to the renderer.
func (p *Pipeline) compose(ctx context.Context, job *model.Job, req GenerationRequest, imagePrompts []string, logger *zap.Logger) error {
	if err := p.advance(ctx, job, model.StatusVoicing); err != nil {
		return err
	}
	if err := p.voice(ctx, job, req); err != nil {
		return err
	}

	if err := p.advance(ctx, job, model.StatusImaging); err != nil {
		return err
	}
	if req.GenerateImages {
		if err := p.illustrate(ctx, job, imagePrompts); err != nil {
			return err
		}
	}

	if err := p.advance(ctx, job, model.StatusRendering); err != nil {
		return err
	}
	if err := p.tasks.Dispatch(ctx, task.TypeRender, job.ID); err != nil {
		return fmt.Errorf("dispatch render: %w", err)
	}
	logger.Info("Render dispatched")
	return nil
}

// submit hands a provider-backed job to the first provider that accepts it
// and schedules the wait for its result.
func (p *Pipeline) submit(ctx context.Context, job *model.Job, req GenerationRequest, logger *zap.Logger) error {
	candidates, err := p.providers.Candidates(job.Kind, req.Providers)
	if err != nil {
		return err
	}
	params, err := p.providerParams(job, req)
	if err != nil {
		return err
	}

	sub, err := p.orch.Attempt(ctx, candidates, params)
	if err != nil {
		return err
	}

	job.Provider = &model.ProviderRef{Name: sub.Provider, ExternalID: sub.ExternalID}
	if err := p.save(ctx, job, model.StatusRendering); err != nil {
		return err
	}
	if err := p.tasks.Dispatch(ctx, task.TypeAwaitProvider, job.ID); err != nil {
		return fmt.Errorf("dispatch provider wait: %w", err)
	}
	logger.Info("Submitted to provider", zap.String("provider", sub.Provider), zap.String("external_id", sub.ExternalID))
	return nil
}

func (p *Pipeline) providerParams(job *model.Job, req GenerationRequest) (provider.Params, error) {
	params := provider.Params{
		JobID:           job.ID,
		Kind:            job.Kind,
		Title:           job.Title(),
		Scenes:          job.Scenes,
		Prompt:          req.Prompt,
		Script:          req.Script,
		AvatarID:        req.AvatarID,
		AvatarImageURL:  req.AvatarImageURL,
		VoiceID:         p.voiceID(req),
		AspectRatio:     req.AspectRatio,
		DurationSeconds: p.duration(req),
	}
	if params.Title == "" {
		params.Title = req.Topic
	}

	if job.Kind == model.KindTextToVideo {
		scenes := make([]prompts.SceneText, len(job.Scenes))
		narration := make([]string, len(job.Scenes))
		for i, s := range job.Scenes {
			scenes[i] = prompts.SceneText{Narration: s.Narration}
			narration[i] = s.Narration
		}
		prompt, err := p.prompts.RenderVideo(prompts.VideoParams{Title: params.Title, Scenes: scenes})
		if err != nil {
			return params, fmt.Errorf("render video prompt: %w", err)
		}
		params.Prompt = prompt
		params.Script = joinNarration(narration)
	}
	return params, nil
}

// GetStatus returns the job if it exists and belongs to ownerID.
func (p *Pipeline) GetStatus(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	if ownerID == "" {
		return nil, apperr.Auth("owner is required")
	}
	job, err := p.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	return job, nil
}

// Regenerate resets an idle job to draft, keeping its id and stored request,
// and starts a new run.
func (p *Pipeline) Regenerate(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	job, err := p.GetStatus(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Idle() {
		return nil, apperr.Conflict("job %s is still %s", job.ID, job.Status)
	}
	var req GenerationRequest
	if err := job.DecodeRequest(&req); err != nil {
		return nil, apperr.Validation("job has no stored generation request")
	}

	from := job.Status
	job.Reset()
	if err := p.save(ctx, job, from); err != nil {
		return nil, err
	}
	p.logger.Info("Job reset for regeneration", zap.String("job_id", job.ID), zap.String("from", string(from)))
	p.observe(ctx, job)

	if err := p.Start(ctx, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

func (p *Pipeline) voiceID(req GenerationRequest) string {
	if req.VoiceID != "" {
		return req.VoiceID
	}
	return p.cfg.Voice.VoiceID
}

func (p *Pipeline) duration(req GenerationRequest) int {
	if req.DurationSeconds > 0 {
		return req.DurationSeconds
	}
	return p.cfg.DefaultDuration
}

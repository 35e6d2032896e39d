package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/imagegen"
	"reelforge/internal/llm"
	"reelforge/internal/notify"
	"reelforge/internal/provider"
	"reelforge/internal/speech"
	"reelforge/internal/storage"
	"reelforge/internal/store/memory"
	"reelforge/internal/task"
	"reelforge/pkg/prompts"
)

type fakeScripts struct {
	script *llm.Script
	err    error
	panics bool
}

func (f *fakeScripts) GenerateScript(_ context.Context, req llm.ScriptRequest) (*llm.Script, error) {
	if f.panics {
		panic("generator exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.script, nil
}

type fakeSpeech struct {
	failOn map[string]error
	delay  map[string]time.Duration
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string, _ speech.VoiceOptions) (*speech.Result, error) {
	time.Sleep(f.delay[text])
	if err, ok := f.failOn[text]; ok {
		return nil, err
	}
	return &speech.Result{Audio: []byte("audio:" + text), Format: "mp3", Duration: 2.5}, nil
}

type fakeImages struct {
	failOn string
}

func (f *fakeImages) Generate(_ context.Context, prompt string, _ imagegen.Options) (*imagegen.Image, error) {
	if prompt == f.failOn {
		return nil, errors.New("content policy violation")
	}
	return &imagegen.Image{Data: []byte("png:" + prompt), Format: "png"}, nil
}

type dispatched struct {
	taskType string
	jobID    string
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, taskType, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatched{taskType, jobID})
	return nil
}

func (d *recordingDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = c.taskType
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses map[string][]string
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.statuses == nil {
		n.statuses = make(map[string][]string)
	}
	n.statuses[e.ID] = append(n.statuses[e.ID], e.Status)
}

func (n *recordingNotifier) of(id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.statuses[id]...)
}

type fakeAdapter struct {
	name      string
	kinds     []model.JobKind
	submitErr error
	poll      *provider.Result
	panics    bool

	mu         sync.Mutex
	submits    int
	lastParams provider.Params
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Supports(kind model.JobKind) bool {
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *fakeAdapter) Submit(_ context.Context, p provider.Params) (string, error) {
	if f.panics {
		panic("adapter exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastParams = p
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.name + "-ext", nil
}

func (f *fakeAdapter) Poll(context.Context, string) (*provider.Result, error) {
	if f.poll == nil {
		return &provider.Result{Status: provider.StatusProcessing}, nil
	}
	return f.poll, nil
}

func (f *fakeAdapter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type harness struct {
	jobs    *memory.JobStore
	tasks   *recordingDispatcher
	notes   *recordingNotifier
	scripts *fakeScripts
	speech  *fakeSpeech
	images  *fakeImages
	primary *fakeAdapter
	backup  *fakeAdapter
	media   *storage.LocalStorage
	p       *Pipeline
}

var providerKinds = []model.JobKind{model.KindTextToVideo, model.KindAvatar, model.KindAIVideo}

func threeSceneScript() *llm.Script {
	return &llm.Script{
		Title:    "Octopus facts",
		Caption:  "Eight arms, three hearts.",
		Hashtags: []string{"#ocean", "#facts"},
		Scenes: []llm.SceneScript{
			{Narration: "one", Overlay: "1", Duration: 4, ImagePrompt: "first"},
			{Narration: "two", Overlay: "2", Duration: 5, ImagePrompt: "second"},
			{Narration: "three", Overlay: "3", Duration: 6, ImagePrompt: "third"},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		jobs:    memory.NewJobStore(),
		tasks:   &recordingDispatcher{},
		notes:   &recordingNotifier{},
		scripts: &fakeScripts{script: threeSceneScript()},
		speech:  &fakeSpeech{},
		images:  &fakeImages{},
		primary: &fakeAdapter{name: "primary", kinds: providerKinds},
		backup:  &fakeAdapter{name: "backup", kinds: providerKinds},
		media:   storage.NewLocalStorage(t.TempDir(), "http://ops:8080", "/videos/"),
	}

	registry, err := provider.NewRegistry(
		[]provider.Adapter{h.primary, h.backup},
		map[model.JobKind][]string{
			model.KindAvatar:      {"primary", "backup"},
			model.KindTextToVideo: {"primary"},
			model.KindAIVideo:     {"primary", "backup"},
		},
	)
	require.NoError(t, err)

	p, err := prompts.Default()
	require.NoError(t, err)

	h.p = New(Deps{
		Jobs:      h.jobs,
		Scripts:   h.scripts,
		Speech:    h.speech,
		Images:    h.images,
		Media:     h.media,
		Providers: registry,
		Orch:      provider.NewOrchestrator(zap.NewNop()),
		Tasks:     h.tasks,
		Notifier:  h.notes,
		Prompts:   p,
	}, Config{Parallelism: 3}, zap.NewNop())
	return h
}

func (h *harness) create(t *testing.T, kind model.JobKind, req GenerationRequest) *model.Job {
	t.Helper()
	job, err := h.p.CreateJob(context.Background(), "user-1", kind, req)
	require.NoError(t, err)
	return job
}

func (h *harness) get(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestCreateJobValidation(t *testing.T) {
	tests := []struct {
		name     string
		owner    string
		kind     model.JobKind
		req      GenerationRequest
		wantKind apperr.Kind
		fields   []string
	}{
		{name: "missing owner", owner: "", kind: model.KindStandard, req: GenerationRequest{Topic: "x"}, wantKind: apperr.KindAuth},
		{name: "standard without topic", owner: "u", kind: model.KindStandard, wantKind: apperr.KindValidation, fields: []string{"topic"}},
		{name: "avatar without script", owner: "u", kind: model.KindAvatar, wantKind: apperr.KindValidation, fields: []string{"script"}},
		{name: "ai-video without prompt", owner: "u", kind: model.KindAIVideo, wantKind: apperr.KindValidation, fields: []string{"prompt"}},
		{name: "unknown kind", owner: "u", kind: model.JobKind("slideshow"), wantKind: apperr.KindValidation, fields: []string{"kind"}},
		{
			name:  "every violation at once",
			owner: "u",
			kind:  model.KindStandard,
			req: GenerationRequest{
				DurationSeconds: 1000,
				AspectRatio:     "4:3",
				AvatarImageURL:  "not a url",
			},
			wantKind: apperr.KindValidation,
			fields:   []string{"topic", "duration_seconds", "aspect_ratio", "avatar_image_url"},
		},
		{
			name:     "images only for standard jobs",
			owner:    "u",
			kind:     model.KindAvatar,
			req:      GenerationRequest{Script: "hello", GenerateImages: true},
			wantKind: apperr.KindValidation,
			fields:   []string{"generate_images"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.p.CreateJob(context.Background(), tt.owner, tt.kind, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))

			if len(tt.fields) > 0 {
				var appErr *apperr.Error
				require.ErrorAs(t, err, &appErr)
				got := make([]string, 0, len(appErr.Violations))
				for _, v := range appErr.Violations {
					got = append(got, v.Field)
				}
				assert.ElementsMatch(t, tt.fields, got)
			}
		})
	}
}

func TestCreateJobStoresRequest(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus", DurationSeconds: 30})

	stored := h.get(t, job.ID)
	assert.Equal(t, model.StatusDraft, stored.Status)
	assert.Equal(t, "user-1", stored.OwnerID)

	var req GenerationRequest
	require.NoError(t, stored.DecodeRequest(&req))
	assert.Equal(t, "octopus", req.Topic)
	assert.Equal(t, model.KindStandard, req.Kind)
}

func TestRunSceneSynthesisFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.speech.failOn = map[string]error{"two": errors.New("quota exceeded")}
	// The first scene finishes last so completion order differs from scene order.
	h.speech.delay = map[string]time.Duration{"one": 30 * time.Millisecond}
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusRendering, got.Status)
	require.Len(t, got.Scenes, 3)
	assert.Equal(t, []string{"one", "two", "three"}, narrations(got.Scenes))

	assert.NotEmpty(t, got.Scenes[0].AudioURL)
	assert.Empty(t, got.Scenes[1].AudioURL)
	assert.Zero(t, got.Scenes[1].AudioDuration)
	assert.NotEmpty(t, got.Scenes[2].AudioURL)
	assert.Contains(t, got.Scenes[0].AudioURL, "/videos/audio/"+job.ID+"/"+got.Scenes[0].ID+".mp3")

	assert.Equal(t, "Octopus facts", got.Title())
	assert.Equal(t, []string{"#ocean", "#facts"}, got.Hashtags())
	assert.Equal(t, []string{task.TypeRender}, h.tasks.types())
	assert.NoError(t, got.CheckInvariants())
}

func TestRunNoAudioSentinelIsAbsence(t *testing.T) {
	h := newHarness(t)
	h.p.speech = speech.NewStubProvider(0)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusRendering, got.Status)
	for _, s := range got.Scenes {
		assert.Empty(t, s.AudioURL)
	}
}

func TestRunStandardStatusSequence(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	assert.Equal(t, []string{"draft", "scripting", "voicing", "imaging", "rendering"}, h.notes.of(job.ID))
}

func TestRunGeneratesImagesPerScene(t *testing.T) {
	h := newHarness(t)
	h.images.failOn = "second"
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus", GenerateImages: true})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, model.BackgroundImage, got.Scenes[0].Background.Type)
	assert.Contains(t, got.Scenes[0].Background.Source, "/videos/images/"+job.ID+"/")
	assert.Equal(t, model.BackgroundColor, got.Scenes[1].Background.Type)
	assert.Equal(t, model.BackgroundImage, got.Scenes[2].Background.Type)
}

func TestRunScriptFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t)
	h.scripts.err = errors.New("rate limited")
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	err := h.p.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProvider))

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "script generation failed")
	assert.Contains(t, got.ErrorMessage, "rate limited")
	assert.NoError(t, got.CheckInvariants())
	assert.Empty(t, h.tasks.types())
}

func TestRunPanicLandsOnJob(t *testing.T) {
	h := newHarness(t)
	h.scripts.panics = true
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	err := h.p.Run(context.Background(), job.ID)
	require.Error(t, err)

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "generator exploded")
}

func TestRunDispatchFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t)
	h.tasks.err = errors.New("redis down")
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	require.Error(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "redis down")
}

func TestRunOnlyOnceConcurrently(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	const runners = 8
	errs := make([]error, runners)
	var wg sync.WaitGroup
	for i := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.p.Run(context.Background(), job.ID)
		}()
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, runners-1, conflicts)
	assert.Equal(t, []string{task.TypeRender}, h.tasks.types())
}

func TestRunAvatarSubmitsToProvider(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindAvatar, GenerationRequest{Script: "Hello there", AvatarID: "anna"})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusRendering, got.Status)
	require.NotNil(t, got.Provider)
	assert.Equal(t, model.ProviderRef{Name: "primary", ExternalID: "primary-ext"}, *got.Provider)
	assert.Equal(t, "Hello there", h.primary.lastParams.Script)
	assert.Equal(t, "anna", h.primary.lastParams.AvatarID)
	assert.Equal(t, 0, h.backup.submitCount())
	assert.Equal(t, []string{task.TypeAwaitProvider}, h.tasks.types())
	assert.Equal(t, []string{"draft", "rendering"}, h.notes.of(job.ID))
}

func TestRunFallsBackToNextProvider(t *testing.T) {
	h := newHarness(t)
	h.primary.submitErr = errors.New("503 service unavailable")
	job := h.create(t, model.KindAIVideo, GenerationRequest{Prompt: "a fox in the snow"})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	require.NotNil(t, got.Provider)
	assert.Equal(t, "backup", got.Provider.Name)
	assert.Equal(t, 1, h.primary.submitCount())
	assert.Equal(t, 1, h.backup.submitCount())
}

func TestRunProviderValidationStopsFallback(t *testing.T) {
	h := newHarness(t)
	h.primary.submitErr = apperr.Validation("an avatar image is required for this mode")
	job := h.create(t, model.KindAvatar, GenerationRequest{Script: "Hello"})

	err := h.p.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 0, h.backup.submitCount())

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "avatar image is required")
}

func TestRunPreferredProvidersOverrideChain(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindAvatar, GenerationRequest{Script: "Hello", Providers: []string{"backup"}})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	assert.Equal(t, 0, h.primary.submitCount())
	assert.Equal(t, "backup", h.get(t, job.ID).Provider.Name)
}

func TestRunUnknownPreferredProviderFailsClosed(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindAvatar, GenerationRequest{Script: "Hello", Providers: []string{"synthesia"}})

	err := h.p.Run(context.Background(), job.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, model.StatusFailed, h.get(t, job.ID).Status)
}

func TestRunTextToVideoScriptsThenSubmits(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindTextToVideo, GenerationRequest{Topic: "octopus"})

	require.NoError(t, h.p.Run(context.Background(), job.ID))

	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusRendering, got.Status)
	assert.Len(t, got.Scenes, 3)
	assert.Equal(t, "one\n\ntwo\n\nthree", h.primary.lastParams.Script)
	assert.Contains(t, h.primary.lastParams.Prompt, "Octopus facts")
	assert.Equal(t, []string{"draft", "scripting", "rendering"}, h.notes.of(job.ID))
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	got, err := h.p.GetStatus(context.Background(), job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = h.p.GetStatus(context.Background(), job.ID, "user-2")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.p.GetStatus(context.Background(), "missing", "user-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.p.GetStatus(context.Background(), job.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestRegenerate(t *testing.T) {
	h := newHarness(t)
	h.scripts.err = errors.New("rate limited")
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})
	require.Error(t, h.p.Run(context.Background(), job.ID))
	require.Equal(t, model.StatusFailed, h.get(t, job.ID).Status)

	reset, err := h.p.Regenerate(context.Background(), job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, reset.ID)
	assert.Equal(t, model.StatusDraft, reset.Status)
	assert.Empty(t, reset.ErrorMessage)
	assert.Equal(t, []string{task.TypeRunPipeline}, h.tasks.types())

	h.scripts.err = nil
	require.NoError(t, h.p.Run(context.Background(), job.ID))
	got := h.get(t, job.ID)
	assert.Equal(t, model.StatusRendering, got.Status)
	assert.Len(t, got.Scenes, 3)
}

func TestRegenerateRejectsActiveAndForeignJobs(t *testing.T) {
	h := newHarness(t)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})
	require.NoError(t, h.p.Run(context.Background(), job.ID))

	_, err := h.p.Regenerate(context.Background(), job.ID, "user-1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = h.p.Regenerate(context.Background(), job.ID, "user-2")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRegisterRunsPipelineThroughDispatcher(t *testing.T) {
	h := newHarness(t)
	d := task.NewGoDispatcher(zap.NewNop())
	h.p.Register(d)
	job := h.create(t, model.KindStandard, GenerationRequest{Topic: "octopus"})

	require.NoError(t, d.Dispatch(context.Background(), task.TypeRunPipeline, job.ID))
	d.Wait()

	assert.Equal(t, model.StatusRendering, h.get(t, job.ID).Status)
}

func narrations(scenes []model.Scene) []string {
	out := make([]string, len(scenes))
	for i, s := range scenes {
		out[i] = strings.TrimSpace(s.Narration)
	}
	return out
}

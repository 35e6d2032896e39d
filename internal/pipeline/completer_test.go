package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/provider"
	"reelforge/internal/storage"
	"reelforge/internal/store/memory"
)

type fakeRenderer struct {
	*fakeAdapter

	mu       sync.Mutex
	fetched  []string
	fetchErr error
}

func (r *fakeRenderer) Fetch(_ context.Context, src string, s storage.Store, jobID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = append(r.fetched, src)
	if r.fetchErr != nil {
		return "", r.fetchErr
	}
	return s.URL(storage.VideoKey(jobID)), nil
}

type completerHarness struct {
	jobs     *memory.JobStore
	renderer *fakeRenderer
	avatar   *fakeAdapter
	notes    *recordingNotifier
	c        *Completer
}

func newCompleterHarness(t *testing.T) *completerHarness {
	t.Helper()

	h := &completerHarness{
		jobs: memory.NewJobStore(),
		renderer: &fakeRenderer{fakeAdapter: &fakeAdapter{
			name:  "render",
			kinds: []model.JobKind{model.KindStandard},
			poll:  &provider.Result{Status: provider.StatusSuccess, ResultURL: "https://render.example/out/r.mp4"},
		}},
		avatar: &fakeAdapter{name: "heygen", kinds: []model.JobKind{model.KindAvatar}},
		notes:  &recordingNotifier{},
	}

	registry, err := provider.NewRegistry([]provider.Adapter{h.avatar}, nil)
	require.NoError(t, err)

	h.c = NewCompleter(CompleterDeps{
		Jobs:      h.jobs,
		Renderer:  h.renderer,
		Providers: registry,
		Orch:      provider.NewOrchestrator(zap.NewNop()),
		Media:     storage.NewLocalStorage(t.TempDir(), "http://ops:8080", "/videos/"),
		Notifier:  h.notes,
	}, CompleterConfig{
		RenderTimeout:  time.Second,
		RenderInterval: time.Millisecond,
		WaitTimeout:    50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, zap.NewNop())
	return h
}

func (h *completerHarness) seed(t *testing.T, job *model.Job) {
	t.Helper()
	require.NoError(t, h.jobs.Create(context.Background(), job))
}

func (h *completerHarness) get(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func renderingJob(id string, kind model.JobKind) *model.Job {
	return &model.Job{
		ID:      id,
		OwnerID: "user-1",
		Kind:    kind,
		Status:  model.StatusRendering,
		Scenes:  []model.Scene{{ID: "s1", Narration: "one", Duration: 4}},
	}
}

func TestRenderCompletesJob(t *testing.T) {
	h := newCompleterHarness(t)
	h.seed(t, renderingJob("job-1", model.KindStandard))

	require.NoError(t, h.c.Render(context.Background(), "job-1"))

	got := h.get(t, "job-1")
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "http://ops:8080/videos/job-1.mp4", got.ResultURL)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.Provider)
	assert.Equal(t, "render", got.Provider.Name)
	assert.Equal(t, []string{"https://render.example/out/r.mp4"}, h.renderer.fetched)
	assert.Equal(t, []string{"completed"}, h.notes.of("job-1"))
}

func TestRenderResumesExistingSubmission(t *testing.T) {
	h := newCompleterHarness(t)
	job := renderingJob("job-1", model.KindStandard)
	job.Provider = &model.ProviderRef{Name: "render", ExternalID: "r-earlier"}
	h.seed(t, job)

	require.NoError(t, h.c.Render(context.Background(), "job-1"))

	assert.Equal(t, 0, h.renderer.submitCount())
	assert.Equal(t, model.StatusCompleted, h.get(t, "job-1").Status)
}

func TestRenderFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *completerHarness)
		message string
	}{
		{
			name:    "submit rejected",
			setup:   func(h *completerHarness) { h.renderer.submitErr = errors.New("render service down") },
			message: "render service down",
		},
		{
			name: "render reported failure",
			setup: func(h *completerHarness) {
				h.renderer.poll = &provider.Result{Status: provider.StatusError, Error: "missing asset"}
			},
			message: "missing asset",
		},
		{
			name:    "download failed",
			setup:   func(h *completerHarness) { h.renderer.fetchErr = errors.New("404") },
			message: "store rendered video",
		},
		{
			name:    "panic",
			setup:   func(h *completerHarness) { h.renderer.panics = true },
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCompleterHarness(t)
			tt.setup(h)
			h.seed(t, renderingJob("job-1", model.KindStandard))

			require.NoError(t, h.c.Render(context.Background(), "job-1"))

			got := h.get(t, "job-1")
			assert.Equal(t, model.StatusFailed, got.Status)
			assert.Contains(t, got.ErrorMessage, tt.message)
			assert.NoError(t, got.CheckInvariants())
		})
	}
}

func TestAwaitCompletesWithProviderURL(t *testing.T) {
	h := newCompleterHarness(t)
	h.avatar.poll = &provider.Result{Status: provider.StatusSuccess, ResultURL: "https://heygen.example/v.mp4"}
	job := renderingJob("job-2", model.KindAvatar)
	job.Provider = &model.ProviderRef{Name: "heygen", ExternalID: "vid-1"}
	h.seed(t, job)

	require.NoError(t, h.c.Await(context.Background(), "job-2"))

	got := h.get(t, "job-2")
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "https://heygen.example/v.mp4", got.ResultURL)
}

func TestAwaitTimeoutFailsJobWithDistinctMessage(t *testing.T) {
	h := newCompleterHarness(t)
	job := renderingJob("job-3", model.KindAvatar)
	job.Provider = &model.ProviderRef{Name: "heygen", ExternalID: "vid-1"}
	h.seed(t, job)

	require.NoError(t, h.c.Await(context.Background(), "job-3"))

	got := h.get(t, "job-3")
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "timed out")
	assert.Contains(t, got.ErrorMessage, "may still be running")
}

func TestAwaitUnknownProviderFailsJob(t *testing.T) {
	h := newCompleterHarness(t)
	job := renderingJob("job-4", model.KindAvatar)
	job.Provider = &model.ProviderRef{Name: "synthesia", ExternalID: "x"}
	h.seed(t, job)

	require.NoError(t, h.c.Await(context.Background(), "job-4"))

	got := h.get(t, "job-4")
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "unknown provider")
}

func TestAwaitCancelledLeavesJobRendering(t *testing.T) {
	h := newCompleterHarness(t)
	job := renderingJob("job-5", model.KindAvatar)
	job.Provider = &model.ProviderRef{Name: "heygen", ExternalID: "vid-1"}
	h.seed(t, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, h.c.Await(ctx, "job-5"))
	assert.Equal(t, model.StatusRendering, h.get(t, "job-5").Status)
}

func TestCompleterDropsFinishedAndUnknownJobs(t *testing.T) {
	h := newCompleterHarness(t)
	done := renderingJob("job-6", model.KindStandard)
	done.Status = model.StatusCompleted
	done.ResultURL = "http://ops:8080/videos/job-6.mp4"
	h.seed(t, done)

	require.NoError(t, h.c.Render(context.Background(), "job-6"))
	require.NoError(t, h.c.Render(context.Background(), "missing"))

	assert.Equal(t, 0, h.renderer.submitCount())
	assert.Equal(t, "http://ops:8080/videos/job-6.mp4", h.get(t, "job-6").ResultURL)
}

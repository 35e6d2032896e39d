package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/internal/app/model"
	"reelforge/pkg/config"
)

func TestScheduleFlag(t *testing.T) {
	tests := []struct {
		name    string
		at      string
		in      time.Duration
		want    time.Time
		wantErr bool
	}{
		{name: "now", want: time.Time{}},
		{name: "absolute", at: "2026-05-01T18:00:00+02:00", want: time.Date(2026, 5, 1, 16, 0, 0, 0, time.UTC)},
		{name: "bad timestamp", at: "tomorrow", wantErr: true},
		{name: "both", at: "2026-05-01T18:00:00Z", in: time.Hour, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queueAt, queueIn = tt.at, tt.in
			t.Cleanup(func() { queueAt, queueIn = "", 0 })

			got, err := scheduleFlag()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestScheduleFlagRelative(t *testing.T) {
	queueIn = 2 * time.Hour
	t.Cleanup(func() { queueIn = 0 })

	got, err := scheduleFlag()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), got, time.Minute)
}

func TestPlatformsFlagNormalizes(t *testing.T) {
	queuePlatforms = []string{" YouTube", "instagram "}
	t.Cleanup(func() { queuePlatforms = nil })

	assert.Equal(t, []model.Platform{model.PlatformYouTube, model.PlatformInstagram}, platformsFlag())
}

func TestResultsCell(t *testing.T) {
	pending := &model.QueueEntry{Platforms: []model.Platform{model.PlatformYouTube, model.PlatformInstagram}}
	assert.Equal(t, "youtube, instagram", resultsCell(pending))

	done := &model.QueueEntry{Results: []model.PlatformResult{
		{Platform: model.PlatformYouTube, Success: true, PostID: "yt-1"},
		{Platform: model.PlatformInstagram, Error: "not connected"},
	}}
	assert.Equal(t, "youtube ✓ yt-1\ninstagram ✗ not connected", resultsCell(done))
}

func TestCredentialChecks(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.Speech.Provider = "stub"

	checks := credentialChecks(cfg)
	require.NotEmpty(t, checks)
	assert.Equal(t, "OpenAI", checks[0].name)
	assert.True(t, checks[0].ok)
	assert.True(t, checks[1].optional, "elevenlabs is optional with stub speech")

	cfg.LLM.Provider = "llamafile"
	assert.Equal(t, "LLM", credentialChecks(cfg)[0].name)
}

func TestSetEnvSkipsBlank(t *testing.T) {
	env := map[string]string{}
	setEnv(env, "GROQ_API_KEY", "  gsk-1 ")
	setEnv(env, "DID_API_KEY", "   ")

	assert.Equal(t, map[string]string{"GROQ_API_KEY": "gsk-1"}, env)
}

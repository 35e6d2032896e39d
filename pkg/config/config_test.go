package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	orig, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(orig) })
	require.NoError(t, os.Chdir(tmp))
	return tmp
}

func TestLoadFromYAML(t *testing.T) {
	tmp := chdirTemp(t)

	content := `
llm:
  provider: openai
providers:
  chains:
    avatar: [did]
  wait_timeout: 2m
  poll_interval: 3s
scheduler:
  interval: 30s
  batch_size: 5
vault:
  refresh_margin: 10m
`
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, defaultOpenAIModel, cfg.LLM.Model)
	assert.Equal(t, []string{"did"}, cfg.Providers.Chains["avatar"])
	assert.Equal(t, 2*time.Minute, cfg.Providers.WaitTimeout)
	assert.Equal(t, 3*time.Second, cfg.Providers.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Vault.RefreshMargin)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GROQ_API_KEY", "test-groq")
	t.Setenv("DATABASE_URL", "postgres://localhost/reelforge")
	t.Setenv("ELEVENLABS_API_KEYS", "k1,k2")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "test-groq", cfg.GroqAPIKey)
	assert.Equal(t, "postgres://localhost/reelforge", cfg.DatabaseURL)
	assert.Equal(t, []string{"k1", "k2"}, cfg.ElevenLabsAPIKeys)
}

func TestLoadMissingConfigFileUsesDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, defaultSchedInterval, cfg.Scheduler.Interval)
	assert.Equal(t, defaultServePath, cfg.Storage.ServePath)
	assert.Equal(t, []string{"heygen", "did"}, cfg.Providers.Chains["avatar"])
	assert.Equal(t, "inline", cfg.Tasks.Backend)
}

func TestLoadCustomPath(t *testing.T) {
	tmp := chdirTemp(t)
	path := filepath.Join(tmp, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  parallelism: 9\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pipeline.Parallelism)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmp := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "config.yaml"), []byte("llm: [broken"), 0o644))

	_, err := Load(context.Background())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(*Config) {}, ""},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "GCS_BUCKET"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"asynq without redis", func(c *Config) { c.Tasks.Backend = "asynq" }, "REDIS_ADDR"},
		{"serve path", func(c *Config) { c.Storage.ServePath = "videos" }, "serve_path"},
		{"poll interval", func(c *Config) { c.Providers.PollInterval = time.Hour }, "poll_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type fakeSecrets map[string]string

func (f fakeSecrets) access(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestFillSecretsKeepsEnvironmentValues(t *testing.T) {
	s := &Secrets{GroqAPIKey: "from-env"}
	src := fakeSecrets{
		"GROQ_API_KEY":        "from-manager",
		"HEYGEN_API_KEY":      "heygen-secret",
		"ELEVENLABS_API_KEYS": "a, b ,",
	}

	require.NoError(t, fillSecrets(context.Background(), src, s))

	assert.Equal(t, "from-env", s.GroqAPIKey)
	assert.Equal(t, "heygen-secret", s.HeyGenAPIKey)
	assert.Equal(t, []string{"a", "b"}, s.ElevenLabsAPIKeys)
	assert.Empty(t, s.DIDAPIKey)
}

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath     = "config.yaml"
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultServerAddr     = ":8080"
	defaultPublicBaseURL  = "http://localhost:8080"
	defaultMaxConns       = 10
	defaultLLMProvider    = "groq"
	defaultGroqModel      = "llama-3.3-70b-versatile"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultGeminiLocation = "us-central1"
	defaultTemperature    = 0.8
	defaultSpeechProvider = "elevenlabs"
	defaultVoiceID        = "JBFqnCBsd6RMkjVDRZzb"
	defaultVoiceModel     = "eleven_flash_v2_5"
	defaultStability      = 0.5
	defaultSimilarity     = 0.75
	defaultImageModel     = "dall-e-3"
	defaultImageSize      = "1024x1792"
	defaultImageQuality   = "standard"
	defaultParallelism    = 4
	defaultDuration       = 30
	defaultSceneSeconds   = 6
	defaultLanguage       = "en"
	defaultWaitTimeout    = 10 * time.Minute
	defaultPollInterval   = 5 * time.Second
	defaultHeyGenURL      = "https://api.heygen.com"
	defaultDIDURL         = "https://api.d-id.com"
	defaultReplicateURL   = "https://api.replicate.com"
	defaultReplicateModel = "minimax/video-01"
	defaultRenderTimeout  = 15 * time.Minute
	defaultStorageBackend = "local"
	defaultStorageDir     = "./output"
	defaultServePath      = "/videos/"
	defaultTaskBackend    = "inline"
	defaultTaskQueue      = "render"
	defaultConcurrency    = 4
	defaultSchedInterval  = 60 * time.Second
	defaultSchedBatch     = 50
	defaultRefreshMargin  = 5 * time.Minute
	defaultPrivacyStatus  = "private"
	defaultCategoryID     = "22"
	defaultRedirectURL    = "http://localhost:8085/callback"
	defaultGraphURL       = "https://graph.instagram.com"
	defaultPublishTimeout = 5 * time.Minute
)

// Secrets come from the environment (or .env) and optionally Secret Manager.
type Secrets struct {
	DatabaseURL         string   `envconfig:"DATABASE_URL"`
	RedisAddr           string   `envconfig:"REDIS_ADDR"`
	RedisPassword       string   `envconfig:"REDIS_PASSWORD"`
	GroqAPIKey          string   `envconfig:"GROQ_API_KEY"`
	OpenAIAPIKey        string   `envconfig:"OPENAI_API_KEY"`
	GCPProject          string   `envconfig:"GOOGLE_CLOUD_PROJECT"`
	GCSBucket           string   `envconfig:"GCS_BUCKET"`
	ElevenLabsAPIKeys   []string `envconfig:"ELEVENLABS_API_KEYS"`
	HeyGenAPIKey        string   `envconfig:"HEYGEN_API_KEY"`
	DIDAPIKey           string   `envconfig:"DID_API_KEY"`
	ReplicateAPIToken   string   `envconfig:"REPLICATE_API_TOKEN"`
	RenderServiceToken  string   `envconfig:"RENDER_SERVICE_TOKEN"`
	YouTubeClientID     string   `envconfig:"YOUTUBE_CLIENT_ID"`
	YouTubeClientSecret string   `envconfig:"YOUTUBE_CLIENT_SECRET"`
	InstagramAppID      string   `envconfig:"INSTAGRAM_APP_ID"`
	InstagramAppSecret  string   `envconfig:"INSTAGRAM_APP_SECRET"`
	SecretsProject      string   `envconfig:"SECRETS_PROJECT"`
}

type Config struct {
	Secrets `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Speech    SpeechConfig    `yaml:"speech"`
	Images    ImagesConfig    `yaml:"images"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Render    RenderConfig    `yaml:"render"`
	Storage   StorageConfig   `yaml:"storage"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Vault     VaultConfig     `yaml:"vault"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Instagram InstagramConfig `yaml:"instagram"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type DatabaseConfig struct {
	MaxConns    int32 `yaml:"max_conns"`
	AutoMigrate bool  `yaml:"auto_migrate"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"` // "groq", "openai" or "gemini"
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	Temperature    float32 `yaml:"temperature"`
	GeminiLocation string  `yaml:"gemini_location"`
	PromptsPath    string  `yaml:"prompts_path"`
}

type SpeechConfig struct {
	Provider   string  `yaml:"provider"` // "elevenlabs" or "stub"
	VoiceID    string  `yaml:"voice_id"`
	Model      string  `yaml:"model"`
	Stability  float64 `yaml:"stability"`
	Similarity float64 `yaml:"similarity"`
}

type ImagesConfig struct {
	Model   string `yaml:"model"`
	Size    string `yaml:"size"`
	Quality string `yaml:"quality"`
}

type PipelineConfig struct {
	Parallelism     int    `yaml:"parallelism"`
	DefaultDuration int    `yaml:"default_duration"`
	SceneSeconds    int    `yaml:"scene_seconds"`
	Language        string `yaml:"language"`
}

type ProvidersConfig struct {
	// Chains lists provider names per job kind in priority order.
	Chains       map[string][]string `yaml:"chains"`
	WaitTimeout  time.Duration       `yaml:"wait_timeout"`
	PollInterval time.Duration       `yaml:"poll_interval"`
	HeyGen       EndpointConfig      `yaml:"heygen"`
	DID          EndpointConfig      `yaml:"did"`
	Replicate    ReplicateConfig     `yaml:"replicate"`
}

type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`

	// DefaultAvatar is a HeyGen avatar id or a D-ID presenter image URL,
	// used when the request does not name one.
	DefaultAvatar string `yaml:"default_avatar"`
}

type ReplicateConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type RenderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // "local" or "gcs"
	LocalDir  string `yaml:"local_dir"`
	ServePath string `yaml:"serve_path"`
}

type TasksConfig struct {
	Backend     string `yaml:"backend"` // "inline" or "asynq"
	Queue       string `yaml:"queue"`
	Concurrency int    `yaml:"concurrency"`
}

type SchedulerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type VaultConfig struct {
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

type YouTubeConfig struct {
	PrivacyStatus string   `yaml:"privacy_status"`
	CategoryID    string   `yaml:"category_id"`
	DefaultTags   []string `yaml:"default_tags"`
	RedirectURL   string   `yaml:"redirect_url"`
}

type InstagramConfig struct {
	GraphBaseURL   string        `yaml:"graph_base_url"`
	RedirectURL    string        `yaml:"redirect_url"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Load reads .env, the environment and config.yaml (or CONFIG_PATH), in that order.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := envconfig.Process("", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := loadYAML(getEnvOrDefault("CONFIG_PATH", defaultConfigPath), cfg); err != nil {
		return nil, err
	}

	if cfg.SecretsProject != "" {
		if err := resolveSecrets(ctx, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("No config file found, using defaults", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Backend != "local" && c.Storage.Backend != "gcs" {
		errs = append(errs, fmt.Errorf("storage.backend %q: want local or gcs", c.Storage.Backend))
	}
	if c.Storage.Backend == "gcs" && c.GCSBucket == "" {
		errs = append(errs, errors.New("storage.backend gcs requires GCS_BUCKET"))
	}
	if c.Tasks.Backend != "inline" && c.Tasks.Backend != "asynq" {
		errs = append(errs, fmt.Errorf("tasks.backend %q: want inline or asynq", c.Tasks.Backend))
	}
	if c.Tasks.Backend == "asynq" && c.RedisAddr == "" {
		errs = append(errs, errors.New("tasks.backend asynq requires REDIS_ADDR"))
	}
	if !strings.HasPrefix(c.Storage.ServePath, "/") || !strings.HasSuffix(c.Storage.ServePath, "/") {
		errs = append(errs, fmt.Errorf("storage.serve_path %q must start and end with /", c.Storage.ServePath))
	}
	if c.Providers.PollInterval >= c.Providers.WaitTimeout {
		errs = append(errs, errors.New("providers.poll_interval must be shorter than providers.wait_timeout"))
	}
	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	applyLogDefaults(cfg)
	applyServerDefaults(cfg)
	applyLLMDefaults(cfg)
	applySpeechDefaults(cfg)
	applyImagesDefaults(cfg)
	applyPipelineDefaults(cfg)
	applyProvidersDefaults(cfg)
	applyRenderDefaults(cfg)
	applyStorageDefaults(cfg)
	applyTasksDefaults(cfg)
	applySchedulerDefaults(cfg)
	applyVaultDefaults(cfg)
	applyYouTubeDefaults(cfg)
	applyInstagramDefaults(cfg)
}

func applyLogDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultLogFormat
	}
}

func applyServerDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = defaultPublicBaseURL
	}
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = defaultMaxConns
	}
}

func applyLLMDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaultLLMProvider
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.Model = defaultOpenAIModel
		case "gemini":
			cfg.LLM.Model = defaultGeminiModel
		default:
			cfg.LLM.Model = defaultGroqModel
		}
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = defaultTemperature
	}
	if cfg.LLM.GeminiLocation == "" {
		cfg.LLM.GeminiLocation = defaultGeminiLocation
	}
}

func applySpeechDefaults(cfg *Config) {
	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = defaultSpeechProvider
	}
	if cfg.Speech.VoiceID == "" {
		cfg.Speech.VoiceID = defaultVoiceID
	}
	if cfg.Speech.Model == "" {
		cfg.Speech.Model = defaultVoiceModel
	}
	if cfg.Speech.Stability == 0 {
		cfg.Speech.Stability = defaultStability
	}
	if cfg.Speech.Similarity == 0 {
		cfg.Speech.Similarity = defaultSimilarity
	}
}

func applyImagesDefaults(cfg *Config) {
	if cfg.Images.Model == "" {
		cfg.Images.Model = defaultImageModel
	}
	if cfg.Images.Size == "" {
		cfg.Images.Size = defaultImageSize
	}
	if cfg.Images.Quality == "" {
		cfg.Images.Quality = defaultImageQuality
	}
}

func applyPipelineDefaults(cfg *Config) {
	if cfg.Pipeline.Parallelism == 0 {
		cfg.Pipeline.Parallelism = defaultParallelism
	}
	if cfg.Pipeline.DefaultDuration == 0 {
		cfg.Pipeline.DefaultDuration = defaultDuration
	}
	if cfg.Pipeline.SceneSeconds == 0 {
		cfg.Pipeline.SceneSeconds = defaultSceneSeconds
	}
	if cfg.Pipeline.Language == "" {
		cfg.Pipeline.Language = defaultLanguage
	}
}

func applyProvidersDefaults(cfg *Config) {
	if cfg.Providers.Chains == nil {
		cfg.Providers.Chains = map[string][]string{
			"avatar":        {"heygen", "did"},
			"text-to-video": {"replicate", "heygen"},
			"ai-video":      {"replicate"},
		}
	}
	if cfg.Providers.WaitTimeout == 0 {
		cfg.Providers.WaitTimeout = defaultWaitTimeout
	}
	if cfg.Providers.PollInterval == 0 {
		cfg.Providers.PollInterval = defaultPollInterval
	}
	if cfg.Providers.HeyGen.BaseURL == "" {
		cfg.Providers.HeyGen.BaseURL = defaultHeyGenURL
	}
	if cfg.Providers.DID.BaseURL == "" {
		cfg.Providers.DID.BaseURL = defaultDIDURL
	}
	if cfg.Providers.Replicate.BaseURL == "" {
		cfg.Providers.Replicate.BaseURL = defaultReplicateURL
	}
	if cfg.Providers.Replicate.Model == "" {
		cfg.Providers.Replicate.Model = defaultReplicateModel
	}
}

func applyRenderDefaults(cfg *Config) {
	if cfg.Render.Timeout == 0 {
		cfg.Render.Timeout = defaultRenderTimeout
	}
	if cfg.Render.PollInterval == 0 {
		cfg.Render.PollInterval = defaultPollInterval
	}
}

func applyStorageDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultStorageBackend
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = defaultStorageDir
	}
	if cfg.Storage.ServePath == "" {
		cfg.Storage.ServePath = defaultServePath
	}
}

func applyTasksDefaults(cfg *Config) {
	if cfg.Tasks.Backend == "" {
		cfg.Tasks.Backend = defaultTaskBackend
	}
	if cfg.Tasks.Queue == "" {
		cfg.Tasks.Queue = defaultTaskQueue
	}
	if cfg.Tasks.Concurrency == 0 {
		cfg.Tasks.Concurrency = defaultConcurrency
	}
}

func applySchedulerDefaults(cfg *Config) {
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = defaultSchedInterval
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = defaultSchedBatch
	}
}

func applyVaultDefaults(cfg *Config) {
	if cfg.Vault.RefreshMargin == 0 {
		cfg.Vault.RefreshMargin = defaultRefreshMargin
	}
}

func applyYouTubeDefaults(cfg *Config) {
	if cfg.YouTube.PrivacyStatus == "" {
		cfg.YouTube.PrivacyStatus = defaultPrivacyStatus
	}
	if cfg.YouTube.CategoryID == "" {
		cfg.YouTube.CategoryID = defaultCategoryID
	}
	if len(cfg.YouTube.DefaultTags) == 0 {
		cfg.YouTube.DefaultTags = []string{"shorts"}
	}
	if cfg.YouTube.RedirectURL == "" {
		cfg.YouTube.RedirectURL = defaultRedirectURL
	}
}

func applyInstagramDefaults(cfg *Config) {
	if cfg.Instagram.GraphBaseURL == "" {
		cfg.Instagram.GraphBaseURL = defaultGraphURL
	}
	if cfg.Instagram.RedirectURL == "" {
		cfg.Instagram.RedirectURL = defaultRedirectURL
	}
	if cfg.Instagram.PublishTimeout == 0 {
		cfg.Instagram.PublishTimeout = defaultPublishTimeout
	}
}

// secretTargets maps Secret Manager secret names to the fields they fill.
func secretTargets(s *Secrets) map[string]*string {
	return map[string]*string{
		"DATABASE_URL":          &s.DatabaseURL,
		"REDIS_PASSWORD":        &s.RedisPassword,
		"GROQ_API_KEY":          &s.GroqAPIKey,
		"OPENAI_API_KEY":        &s.OpenAIAPIKey,
		"HEYGEN_API_KEY":        &s.HeyGenAPIKey,
		"DID_API_KEY":           &s.DIDAPIKey,
		"REPLICATE_API_TOKEN":   &s.ReplicateAPIToken,
		"RENDER_SERVICE_TOKEN":  &s.RenderServiceToken,
		"YOUTUBE_CLIENT_SECRET": &s.YouTubeClientSecret,
		"INSTAGRAM_APP_SECRET":  &s.InstagramAppSecret,
	}
}

type secretAccessor interface {
	access(ctx context.Context, name string) (string, error)
}

type gcpSecrets struct {
	client  *secretmanager.Client
	project string
}

func (g *gcpSecrets) access(ctx context.Context, name string) (string, error) {
	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.project, name),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func resolveSecrets(ctx context.Context, cfg *Config) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create secret manager client: %w", err)
	}
	defer func() { _ = client.Close() }()

	return fillSecrets(ctx, &gcpSecrets{client: client, project: cfg.SecretsProject}, &cfg.Secrets)
}

// fillSecrets resolves only fields the environment left empty.
func fillSecrets(ctx context.Context, src secretAccessor, s *Secrets) error {
	for name, target := range secretTargets(s) {
		if *target != "" {
			continue
		}
		value, err := src.access(ctx, name)
		if err != nil {
			zap.L().Debug("Secret not resolved", zap.String("secret", name), zap.Error(err))
			continue
		}
		*target = value
	}

	if len(s.ElevenLabsAPIKeys) == 0 {
		if value, err := src.access(ctx, "ELEVENLABS_API_KEYS"); err == nil && value != "" {
			for _, k := range strings.Split(value, ",") {
				if k = strings.TrimSpace(k); k != "" {
					s.ElevenLabsAPIKeys = append(s.ElevenLabsAPIKeys, k)
				}
			}
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

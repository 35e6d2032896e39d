package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/imagegen"
	"reelforge/internal/llm"
	"reelforge/internal/llm/gemini"
	"reelforge/internal/llm/groq"
	"reelforge/internal/llm/openai"
	"reelforge/internal/notify"
	"reelforge/internal/pipeline"
	"reelforge/internal/platform"
	"reelforge/internal/platform/instagram"
	"reelforge/internal/platform/youtube"
	"reelforge/internal/provider"
	"reelforge/internal/provider/did"
	"reelforge/internal/provider/heygen"
	"reelforge/internal/provider/replicate"
	"reelforge/internal/queue"
	"reelforge/internal/render"
	"reelforge/internal/server"
	"reelforge/internal/speech"
	"reelforge/internal/speech/elevenlabs"
	"reelforge/internal/storage"
	"reelforge/internal/store"
	"reelforge/internal/store/memory"
	"reelforge/internal/store/postgres"
	"reelforge/internal/task"
	"reelforge/internal/vault"
	"reelforge/pkg/config"
	"reelforge/pkg/prompts"
)

// BuildResult holds the long-lived components of one process.
type BuildResult struct {
	App       *App
	Pipeline  *pipeline.Pipeline
	Completer *pipeline.Completer
	Queue     *queue.Service
	Scheduler *queue.Scheduler
	Vault     *vault.Vault
	Ops       *server.Server

	// Exactly one of Inline and Worker is set, depending on tasks.backend.
	Inline *task.GoDispatcher
	Worker *task.Server

	closers []func() error
}

type stores struct {
	jobs     store.JobStore
	queue    store.QueueStore
	accounts store.AccountStore
	pinger   store.Pinger
}

// Build wires every component from cfg. Without DATABASE_URL the stores live
// in memory; without Redis tasks run in-process and notifications are off.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (res *BuildResult, err error) {
	res = &BuildResult{}
	defer func() {
		if err != nil {
			_ = res.Close()
		}
	}()

	st, err := res.buildStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		res.closers = append(res.closers, rdb.Close)
		notifier = notify.NewRedisNotifier(rdb, logger)
	}

	dispatcher, registrar := res.buildTasks(cfg, logger)

	media, err := res.buildStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p, err := loadPrompts(cfg)
	if err != nil {
		return nil, err
	}
	scripts, err := buildScriptGenerator(ctx, cfg, p)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	orch := provider.NewOrchestrator(logger)

	var images imagegen.Generator
	if cfg.OpenAIAPIKey != "" {
		images = imagegen.NewOpenAI(imagegen.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Images.Model,
			Size:    cfg.Images.Size,
			Quality: cfg.Images.Quality,
		})
	}

	voice := speech.VoiceOptions{
		VoiceID:    cfg.Speech.VoiceID,
		Speed:      1.0,
		Stability:  cfg.Speech.Stability,
		Similarity: cfg.Speech.Similarity,
	}

	res.Pipeline = pipeline.New(pipeline.Deps{
		Jobs:      st.jobs,
		Scripts:   scripts,
		Speech:    buildSpeech(cfg, voice),
		Images:    images,
		Media:     media,
		Providers: registry,
		Orch:      orch,
		Tasks:     dispatcher,
		Notifier:  notifier,
		Prompts:   p,
	}, pipeline.Config{
		Parallelism:     cfg.Pipeline.Parallelism,
		DefaultDuration: cfg.Pipeline.DefaultDuration,
		SceneSeconds:    cfg.Pipeline.SceneSeconds,
		Language:        cfg.Pipeline.Language,
		Voice:           voice,
		Images:          imagegen.Options{Size: cfg.Images.Size, Quality: cfg.Images.Quality},
	}, logger)

	res.Completer = pipeline.NewCompleter(pipeline.CompleterDeps{
		Jobs:      st.jobs,
		Renderer:  render.NewClient(render.Config{BaseURL: cfg.Render.BaseURL, Token: cfg.RenderServiceToken}),
		Providers: registry,
		Orch:      orch,
		Media:     media,
		Notifier:  notifier,
	}, pipeline.CompleterConfig{
		RenderTimeout:  cfg.Render.Timeout,
		RenderInterval: cfg.Render.PollInterval,
		WaitTimeout:    cfg.Providers.WaitTimeout,
		PollInterval:   cfg.Providers.PollInterval,
	}, logger)

	res.Pipeline.Register(registrar)
	res.Completer.Register(registrar)

	vaultOpts := []vault.Option{vault.WithMargin(cfg.Vault.RefreshMargin)}
	var publishers []platform.Publisher
	if cfg.YouTubeClientID != "" {
		yt := youtube.NewClient(youtube.Config{
			ClientID:      cfg.YouTubeClientID,
			ClientSecret:  cfg.YouTubeClientSecret,
			RedirectURL:   cfg.YouTube.RedirectURL,
			PrivacyStatus: cfg.YouTube.PrivacyStatus,
			CategoryID:    cfg.YouTube.CategoryID,
			DefaultTags:   cfg.YouTube.DefaultTags,
		})
		publishers = append(publishers, yt)
		vaultOpts = append(vaultOpts, vault.WithRefresher(yt), vault.WithConnector(yt))
	}
	if cfg.InstagramAppID != "" {
		ig := instagram.NewClient(instagram.Config{
			AppID:          cfg.InstagramAppID,
			AppSecret:      cfg.InstagramAppSecret,
			RedirectURL:    cfg.Instagram.RedirectURL,
			GraphBaseURL:   cfg.Instagram.GraphBaseURL,
			PublishTimeout: cfg.Instagram.PublishTimeout,
		})
		publishers = append(publishers, ig)
		vaultOpts = append(vaultOpts, vault.WithRefresher(ig), vault.WithConnector(ig))
	}
	res.Vault = vault.New(st.accounts, logger, vaultOpts...)

	poster := queue.NewPoster(st.queue, st.jobs, res.Vault, publishers, notifier, logger)
	res.Queue = queue.NewService(st.queue, st.jobs, poster, notifier, logger)
	res.Scheduler = queue.NewScheduler(st.queue, poster, queue.SchedulerConfig{
		Interval:  cfg.Scheduler.Interval,
		BatchSize: cfg.Scheduler.BatchSize,
	}, logger)

	serverCfg := server.Config{Addr: cfg.Server.Addr, ServePath: cfg.Storage.ServePath, Debug: cfg.Log.Level == "debug"}
	if cfg.Storage.Backend == "local" {
		serverCfg.MediaDir = cfg.Storage.LocalDir
	}
	res.Ops = server.New(serverCfg, logger, st.pinger)

	res.App = New(Options{
		Pipeline: res.Pipeline,
		Queue:    res.Queue,
		Vault:    res.Vault,
		Logger:   logger,
	})

	logger.Info("Components built",
		zap.String("store", storeKind(cfg)),
		zap.String("tasks", cfg.Tasks.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("llm", cfg.LLM.Provider),
		zap.Strings("providers", registry.Names()),
		zap.Int("publishers", len(publishers)))
	return res, nil
}

// Close releases connections in reverse order of creation.
func (r *BuildResult) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *BuildResult) buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		return &stores{
			jobs:     memory.NewJobStore(),
			queue:    memory.NewQueueStore(),
			accounts: memory.NewAccountStore(),
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(cfg.DatabaseURL, logger).Up(); err != nil {
			return nil, err
		}
	}
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.Database.MaxConns}, logger)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, func() error { pool.Close(); return nil })

	return &stores{
		jobs:     postgres.NewJobStore(pool, logger),
		queue:    postgres.NewQueueStore(pool, logger),
		accounts: postgres.NewAccountStore(pool, logger),
		pinger:   pool,
	}, nil
}

func (r *BuildResult) buildTasks(cfg *config.Config, logger *zap.Logger) (task.Dispatcher, task.Registrar) {
	if cfg.Tasks.Backend == "asynq" {
		redisCfg := task.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		d := task.NewAsynqDispatcher(redisCfg, cfg.Tasks.Queue)
		r.closers = append(r.closers, d.Close)
		r.Worker = task.NewServer(redisCfg, task.ServerConfig{
			Queue:       cfg.Tasks.Queue,
			Concurrency: cfg.Tasks.Concurrency,
			LogLevel:    cfg.Log.Level,
		}, logger)
		return d, r.Worker
	}
	r.Inline = task.NewGoDispatcher(logger)
	return r.Inline, r.Inline
}

func (r *BuildResult) buildStorage(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend == "gcs" {
		gcs, err := storage.NewGCSStorage(ctx, cfg.GCSBucket, "")
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, gcs.Close)
		return gcs, nil
	}
	local := storage.NewLocalStorage(cfg.Storage.LocalDir, cfg.Server.PublicBaseURL, cfg.Storage.ServePath)
	if err := local.EnsureDirectories(); err != nil {
		return nil, err
	}
	return local, nil
}

func loadPrompts(cfg *config.Config) (*prompts.Prompts, error) {
	if cfg.LLM.PromptsPath != "" {
		return prompts.LoadFrom(cfg.LLM.PromptsPath)
	}
	return prompts.Load()
}

func buildScriptGenerator(ctx context.Context, cfg *config.Config, p *prompts.Prompts) (llm.ScriptGenerator, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		}, p), nil
	case "gemini":
		return gemini.NewClient(ctx, cfg.GCPProject, cfg.LLM.GeminiLocation, cfg.LLM.Model, p)
	case "groq":
		return groq.NewClient(groq.Config{
			APIKey:      cfg.GroqAPIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			BaseURL:     cfg.LLM.BaseURL,
		}, p)
	default:
		return nil, fmt.Errorf("llm.provider %q: want groq, openai or gemini", cfg.LLM.Provider)
	}
}

func buildSpeech(cfg *config.Config, voice speech.VoiceOptions) speech.Provider {
	if cfg.Speech.Provider == "stub" || len(cfg.ElevenLabsAPIKeys) == 0 {
		return speech.NewStubProvider(speech.DefaultWordsPerMinute)
	}
	return elevenlabs.NewClient(elevenlabs.Config{
		APIKeys:    cfg.ElevenLabsAPIKeys,
		VoiceID:    voice.VoiceID,
		Model:      cfg.Speech.Model,
		Speed:      voice.Speed,
		Stability:  voice.Stability,
		Similarity: voice.Similarity,
	})
}

// knownProviders are the adapter names a chain may reference.
var knownProviders = map[string]bool{heygen.Name: true, did.Name: true, replicate.Name: true}

// buildRegistry registers the providers that have credentials and keeps
// only those in the configured chains. A chain naming an unknown provider
// fails; a known provider without credentials is skipped.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	var adapters []provider.Adapter
	if cfg.HeyGenAPIKey != "" {
		adapters = append(adapters, heygen.NewClient(heygen.Config{
			APIKey:        cfg.HeyGenAPIKey,
			BaseURL:       cfg.Providers.HeyGen.BaseURL,
			DefaultAvatar: cfg.Providers.HeyGen.DefaultAvatar,
		}))
	}
	if cfg.DIDAPIKey != "" {
		adapters = append(adapters, did.NewClient(did.Config{
			APIKey:        cfg.DIDAPIKey,
			BaseURL:       cfg.Providers.DID.BaseURL,
			DefaultAvatar: cfg.Providers.DID.DefaultAvatar,
		}))
	}
	if cfg.ReplicateAPIToken != "" {
		adapters = append(adapters, replicate.NewClient(replicate.Config{
			APIToken: cfg.ReplicateAPIToken,
			BaseURL:  cfg.Providers.Replicate.BaseURL,
			Model:    cfg.Providers.Replicate.Model,
		}))
	}

	configured := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		configured[a.Name()] = true
	}
	chains := make(map[model.JobKind][]string, len(cfg.Providers.Chains))
	for kind, names := range cfg.Providers.Chains {
		for _, name := range names {
			if !knownProviders[name] {
				return nil, apperr.Validation("unknown provider in chain", apperr.Violation{
					Field: "providers.chains." + kind,
					Rule:  "unknown provider " + name,
				})
			}
			if !configured[name] {
				logger.Warn("Provider in chain has no credentials, skipping",
					zap.String("kind", kind), zap.String("provider", name))
				continue
			}
			chains[model.JobKind(kind)] = append(chains[model.JobKind(kind)], name)
		}
	}
	return provider.NewRegistry(adapters, chains)
}

func storeKind(cfg *config.Config) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"reelforge/internal/app"
	"reelforge/internal/app/model"
	"reelforge/pkg/config"
)

const authTimeout = 5 * time.Minute

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Connect and inspect social platform accounts",
	Long:  `Connect YouTube or Instagram accounts with the credentials from .env and check which services are configured.`,
}

var authYouTubeCmd = &cobra.Command{
	Use:   "youtube",
	Short: "Connect a YouTube channel (OAuth)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context(), model.PlatformYouTube)
	},
}

var authInstagramCmd = &cobra.Command{
	Use:   "instagram",
	Short: "Connect an Instagram professional account (OAuth)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context(), model.PlatformInstagram)
	},
}

var authDisconnectCmd = &cobra.Command{
	Use:   "disconnect <youtube|instagram>",
	Short: "Disconnect a platform account",
	Long:  `Mark the account inactive. Tokens are not revoked at the platform and the account can be connected again.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthDisconnect,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check credentials and connected accounts",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authYouTubeCmd, authInstagramCmd, authDisconnectCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func runConnect(ctx context.Context, p model.Platform) error {
	res, cfg, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	redirect := cfg.YouTube.RedirectURL
	if p == model.PlatformInstagram {
		redirect = cfg.Instagram.RedirectURL
	}
	return authorize(ctx, res.App, p, redirect)
}

// authorize runs the browser half of the OAuth flow against a local callback
// listener on the redirect URL and stores the resulting account.
func authorize(ctx context.Context, a *app.App, p model.Platform, redirect string) error {
	callback, err := url.Parse(redirect)
	if err != nil {
		return fmt.Errorf("parse redirect url: %w", err)
	}

	state := uuid.NewString()
	authURL, err := a.AuthURL(p, state)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return fmt.Errorf("failed to start callback server: %w", err)
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	server := &http.Server{ReadHeaderTimeout: 10 * time.Second}
	server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != callback.Path {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			errCh <- errors.New("callback state does not match")
			_, _ = fmt.Fprint(w, "<html><body><h1>Error</h1><p>State mismatch.</p></body></html>")
		case q.Get("error") != "":
			errCh <- fmt.Errorf("authorization denied: %s", q.Get("error_description"))
			_, _ = fmt.Fprint(w, "<html><body><h1>Error</h1><p>Authorization was denied.</p></body></html>")
		default:
			codeCh <- q.Get("code")
			_, _ = fmt.Fprint(w, "<html><body><h1>Success!</h1><p>You can close this window and return to the terminal.</p></body></html>")
		}
	})

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Println(infoStyle.Render(fmt.Sprintf("\nOpening browser for %s authentication...", p)))
	fmt.Println(infoStyle.Render("If browser doesn't open, visit:\n" + authURL.Data))
	_ = browser.OpenURL(authURL.Data)
	fmt.Println(infoStyle.Render("\nWaiting for authentication..."))

	select {
	case code := <-codeCh:
		env, err := a.ConnectAccount(ctx, userID, p, code)
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ %s connected as %s", p, displayName(env.Data))))
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(authTimeout):
		return errors.New("authentication timed out")
	}
}

func runAuthDisconnect(cmd *cobra.Command, args []string) error {
	p := model.Platform(args[0])
	if !p.Valid() {
		return fmt.Errorf("unknown platform %q", args[0])
	}

	ctx := cmd.Context()
	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.DisconnectAccount(ctx, userID, p)
	if err != nil {
		return err
	}
	fmt.Println(successStyle.Render("✓ " + env.Message))
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	fmt.Println(infoStyle.Render("\nService Credentials:\n"))
	for _, c := range credentialChecks(cfg) {
		switch {
		case c.ok:
			fmt.Println(successStyle.Render("✓ " + c.name + ": configured"))
		case c.optional:
			fmt.Println(infoStyle.Render("○ " + c.name + ": not configured (optional)"))
		default:
			fmt.Println(errorStyle.Render("✗ " + c.name + ": missing " + c.env))
		}
	}

	if cfg.DatabaseURL == "" {
		fmt.Println(warnStyle.Render("\nConnected accounts need DATABASE_URL"))
		return nil
	}

	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.ListAccounts(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Println(infoStyle.Render("\nConnected Accounts:\n"))
	if len(env.Data) == 0 {
		fmt.Println(infoStyle.Render("No accounts. Run: reelforge auth youtube"))
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("PLATFORM", "ACCOUNT", "ACTIVE", "TOKEN EXPIRES")
	for _, acc := range env.Data {
		expires := "unknown"
		if !acc.TokenExpiresAt.IsZero() {
			expires = acc.TokenExpiresAt.Local().Format(time.DateTime)
		}
		t.Row(string(acc.Platform), displayName(&acc), fmt.Sprint(acc.IsActive), expires)
	}
	fmt.Println(t.Render())
	return nil
}

type credentialCheck struct {
	name     string
	env      string
	ok       bool
	optional bool
}

func credentialChecks(cfg *config.Config) []credentialCheck {
	llmKey := map[string]credentialCheck{
		"groq":   {name: "Groq", env: "GROQ_API_KEY", ok: cfg.GroqAPIKey != ""},
		"openai": {name: "OpenAI", env: "OPENAI_API_KEY", ok: cfg.OpenAIAPIKey != ""},
		"gemini": {name: "Gemini", env: "GOOGLE_CLOUD_PROJECT", ok: cfg.GCPProject != ""},
	}[cfg.LLM.Provider]
	if llmKey.name == "" {
		llmKey = credentialCheck{name: "LLM", env: "a supported llm.provider"}
	}

	return []credentialCheck{
		llmKey,
		{name: "ElevenLabs", env: "ELEVENLABS_API_KEYS", ok: len(cfg.ElevenLabsAPIKeys) > 0, optional: cfg.Speech.Provider == "stub"},
		{name: "Database", env: "DATABASE_URL", ok: cfg.DatabaseURL != "", optional: true},
		{name: "Redis", env: "REDIS_ADDR", ok: cfg.RedisAddr != "", optional: cfg.Tasks.Backend != "asynq"},
		{name: "YouTube", env: "YOUTUBE_CLIENT_ID", ok: cfg.YouTubeClientID != "" && cfg.YouTubeClientSecret != "", optional: true},
		{name: "Instagram", env: "INSTAGRAM_APP_ID", ok: cfg.InstagramAppID != "" && cfg.InstagramAppSecret != "", optional: true},
		{name: "HeyGen", env: "HEYGEN_API_KEY", ok: cfg.HeyGenAPIKey != "", optional: true},
		{name: "D-ID", env: "DID_API_KEY", ok: cfg.DIDAPIKey != "", optional: true},
		{name: "Replicate", env: "REPLICATE_API_TOKEN", ok: cfg.ReplicateAPIToken != "", optional: true},
		{name: "OpenAI images", env: "OPENAI_API_KEY", ok: cfg.OpenAIAPIKey != "", optional: true},
		{name: "Render service", env: "render.base_url", ok: cfg.Render.BaseURL != "", optional: true},
	}
}

func displayName(a *model.Account) string {
	if a.PlatformUsername != "" {
		return a.PlatformUsername
	}
	return a.PlatformUserID
}

// Package youtube publishes videos through the YouTube Data API and manages
// the Google OAuth credentials behind a connected channel.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"reelforge/internal/app/model"
	"reelforge/internal/platform"
)

const (
	defaultCategoryID    = "22"
	defaultPrivacyStatus = "private"
	maxTitleLength       = 100
	downloadTimeout      = 10 * time.Minute
)

var scopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeReadonlyScope,
}

var (
	_ platform.Publisher = (*Client)(nil)
	_ platform.Connector = (*Client)(nil)
	_ platform.Refresher = (*Client)(nil)
)

type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	PrivacyStatus string
	CategoryID    string
	DefaultTags   []string
}

type Client struct {
	oauth       *oauth2.Config
	privacy     string
	categoryID  string
	defaultTags []string
	endpoint    string
	http        *http.Client
}

type clientOption func(*Client)

// withEndpoint points both the OAuth and the Data API calls at baseURL.
func withEndpoint(baseURL string, hc *http.Client) clientOption {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(baseURL, "/") + "/"
		c.http = hc
		c.oauth.Endpoint = oauth2.Endpoint{
			AuthURL:   baseURL + "/auth",
			TokenURL:  baseURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
}

func NewClient(cfg Config, opts ...clientOption) *Client {
	privacy := cfg.PrivacyStatus
	if privacy == "" {
		privacy = defaultPrivacyStatus
	}
	category := cfg.CategoryID
	if category == "" {
		category = defaultCategoryID
	}

	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
			RedirectURL:  cfg.RedirectURL,
		},
		privacy:     privacy,
		categoryID:  category,
		defaultTags: cfg.DefaultTags,
		http:        &http.Client{Timeout: downloadTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Platform() model.Platform {
	return model.PlatformYouTube
}

func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and looks up the channel
// they belong to.
func (c *Client) Exchange(ctx context.Context, code string) (*platform.Grant, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	svc, err := c.service(ctx, tok)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("look up channel: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, errors.New("the authorized google account has no youtube channel")
	}
	channel := resp.Items[0]

	grant := &platform.Grant{
		Token:          fromOAuth(tok),
		PlatformUserID: channel.Id,
	}
	if channel.Snippet != nil {
		grant.PlatformUsername = channel.Snippet.Title
	}
	return grant, nil
}

// Refresh runs the refresh-token grant. Google answers invalid_grant for
// revoked or expired refresh tokens.
func (c *Client) Refresh(ctx context.Context, account *model.Account) (*platform.Token, error) {
	if account.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", platform.ErrRevoked)
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: account.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && (rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "unauthorized_client") {
			return nil, fmt.Errorf("%w: %s", platform.ErrRevoked, rerr.ErrorCode)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	t := fromOAuth(tok)
	if t.RefreshToken == "" {
		t.RefreshToken = account.RefreshToken
	}
	return &t, nil
}

// Publish uploads the video as a new upload of the account's channel.
func (c *Client) Publish(ctx context.Context, account *model.Account, post platform.Post) (string, error) {
	video, err := platform.OpenVideo(ctx, c.http, post.VideoURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = video.Close() }()

	svc, err := c.service(ctx, &oauth2.Token{AccessToken: account.AccessToken, TokenType: "Bearer"})
	if err != nil {
		return "", err
	}

	upload := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncate(post.Title, maxTitleLength),
			Description: platform.Caption(post.Description, post.Tags),
			Tags:        c.tags(post.Tags),
			CategoryId:  c.categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           c.privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, upload).
		Media(video, googleapi.ContentType("video/mp4")).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}
	return resp.Id, nil
}

func (c *Client) service(ctx context.Context, tok *oauth2.Token) (*youtube.Service, error) {
	hc := oauth2.NewClient(c.oauthContext(ctx), oauth2.StaticTokenSource(tok))
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return svc, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	if c.endpoint == "" {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) tags(extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string(nil), extra...), c.defaultTags...) {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

func fromOAuth(tok *oauth2.Token) platform.Token {
	return platform.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

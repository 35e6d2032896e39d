// Package instagram publishes Reels through the Instagram Graph API and
// manages the long-lived tokens behind a connected business account.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"reelforge/internal/app/model"
	"reelforge/internal/platform"
	"reelforge/pkg/httputil"
)

const (
	defaultGraphURL       = "https://graph.instagram.com"
	defaultPublishTimeout = 5 * time.Minute
	defaultPollInterval   = 5 * time.Second
	requestTimeout        = 30 * time.Second
	maxCaptionLength      = 2200

	// Graph API code for an invalid or expired OAuth access token.
	codeInvalidToken = 190
)

var endpoint = oauth2.Endpoint{
	AuthURL:   "https://www.instagram.com/oauth/authorize",
	TokenURL:  "https://api.instagram.com/oauth/access_token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var scopes = []string{
	"instagram_business_basic",
	"instagram_business_content_publish",
}

var (
	_ platform.Publisher = (*Client)(nil)
	_ platform.Connector = (*Client)(nil)
	_ platform.Refresher = (*Client)(nil)
)

type Config struct {
	AppID          string
	AppSecret      string
	RedirectURL    string
	GraphBaseURL   string
	PublishTimeout time.Duration
}

type Client struct {
	oauth          *oauth2.Config
	appSecret      string
	graph          string
	publishTimeout time.Duration
	pollInterval   time.Duration
	http           *httputil.RetryClient
	raw            *http.Client
}

type option func(*Client)

func withHTTPClient(hc *http.Client) option {
	return func(c *Client) {
		c.raw = hc
		c.http = httputil.NewRetryClient(hc, httputil.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})
	}
}

// withEndpoints points the token exchange and the Graph API at baseURL.
func withEndpoints(baseURL string) option {
	return func(c *Client) {
		c.graph = baseURL
		c.oauth.Endpoint = oauth2.Endpoint{
			AuthURL:   baseURL + "/oauth/authorize",
			TokenURL:  baseURL + "/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
}

func withPollInterval(d time.Duration) option {
	return func(c *Client) { c.pollInterval = d }
}

func NewClient(cfg Config, opts ...option) *Client {
	graph := cfg.GraphBaseURL
	if graph == "" {
		graph = defaultGraphURL
	}
	timeout := cfg.PublishTimeout
	if timeout == 0 {
		timeout = defaultPublishTimeout
	}
	raw := &http.Client{Timeout: requestTimeout}

	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
			RedirectURL:  cfg.RedirectURL,
		},
		appSecret:      cfg.AppSecret,
		graph:          strings.TrimRight(graph, "/"),
		publishTimeout: timeout,
		pollInterval:   defaultPollInterval,
		http:           httputil.NewRetryClient(raw, httputil.DefaultRetryConfig()),
		raw:            raw,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Platform() model.Platform {
	return model.PlatformInstagram
}

func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

type longLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type profile struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Exchange trades the code for a short-lived token, upgrades it to a
// long-lived one and reads the profile it belongs to.
func (c *Client) Exchange(ctx context.Context, code string) (*platform.Grant, error) {
	short, err := c.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.raw), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	q := url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {c.appSecret},
		"access_token":  {short.AccessToken},
	}
	var long longLivedToken
	if err := c.get(ctx, "/access_token", q, &long); err != nil {
		return nil, fmt.Errorf("exchange for long-lived token: %w", err)
	}

	var me profile
	if err := c.get(ctx, "/me", url.Values{"fields": {"user_id,username"}, "access_token": {long.AccessToken}}, &me); err != nil {
		return nil, fmt.Errorf("look up profile: %w", err)
	}

	return &platform.Grant{
		Token: platform.Token{
			AccessToken: long.AccessToken,
			// Long-lived tokens refresh themselves; the access token doubles as refresh token.
			RefreshToken: long.AccessToken,
			ExpiresAt:    expiry(long.ExpiresIn),
		},
		PlatformUserID:   me.UserID,
		PlatformUsername: me.Username,
	}, nil
}

// Refresh extends a long-lived token. Instagram rejects tokens that expired
// or were revoked with OAuthException code 190.
func (c *Client) Refresh(ctx context.Context, account *model.Account) (*platform.Token, error) {
	current := account.RefreshToken
	if current == "" {
		current = account.AccessToken
	}
	if current == "" {
		return nil, fmt.Errorf("%w: no token stored", platform.ErrRevoked)
	}

	var long longLivedToken
	q := url.Values{"grant_type": {"ig_refresh_token"}, "access_token": {current}}
	if err := c.get(ctx, "/refresh_access_token", q, &long); err != nil {
		if revoked(err) {
			return nil, fmt.Errorf("%w: %v", platform.ErrRevoked, err)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &platform.Token{
		AccessToken:  long.AccessToken,
		RefreshToken: long.AccessToken,
		ExpiresAt:    expiry(long.ExpiresIn),
	}, nil
}

type container struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

// Publish creates a Reels container from the public video URL, waits for
// Instagram to ingest it and publishes it.
func (c *Client) Publish(ctx context.Context, account *model.Account, post platform.Post) (string, error) {
	if account.PlatformUserID == "" {
		return "", errors.New("account has no instagram user id")
	}
	token := account.AccessToken
	caption := platform.Caption(post.Description, post.Tags)
	if post.Title != "" && !strings.Contains(caption, post.Title) {
		caption = post.Title + "\n\n" + caption
	}

	var created container
	q := url.Values{
		"media_type":   {"REELS"},
		"video_url":    {post.VideoURL},
		"caption":      {truncate(caption, maxCaptionLength)},
		"access_token": {token},
	}
	if err := c.post(ctx, "/"+account.PlatformUserID+"/media", q, &created); err != nil {
		return "", fmt.Errorf("create media container: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("create media container: empty container id")
	}

	if err := c.waitForContainer(ctx, created.ID, token); err != nil {
		return "", err
	}

	var published container
	q = url.Values{"creation_id": {created.ID}, "access_token": {token}}
	if err := c.post(ctx, "/"+account.PlatformUserID+"/media_publish", q, &published); err != nil {
		return "", fmt.Errorf("publish media: %w", err)
	}
	return published.ID, nil
}

func (c *Client) waitForContainer(ctx context.Context, id, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	q := url.Values{"fields": {"status_code,status"}, "access_token": {token}}
	for {
		var st container
		if err := c.get(ctx, "/"+id, q, &st); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("media container %s not ready after %s", id, c.publishTimeout)
			}
			return fmt.Errorf("check media container: %w", err)
		}

		switch st.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			msg := st.Status
			if msg == "" {
				msg = st.StatusCode
			}
			return fmt.Errorf("instagram could not process the video: %s", msg)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("media container %s not ready after %s", id, c.publishTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.http.DoJSON(ctx, http.MethodGet, c.graph+path+"?"+q.Encode(), nil, nil, out)
}

func (c *Client) post(ctx context.Context, path string, q url.Values, out any) error {
	return c.http.DoJSON(ctx, http.MethodPost, c.graph+path+"?"+q.Encode(), nil, nil, out)
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func revoked(err error) bool {
	var se *httputil.StatusError
	if !errors.As(err, &se) || !se.ClientError() {
		return false
	}
	var ge graphError
	if json.Unmarshal([]byte(se.Body), &ge) != nil {
		return false
	}
	return ge.Error.Code == codeInvalidToken
}

func expiry(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

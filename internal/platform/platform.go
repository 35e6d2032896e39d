// Package platform defines what the service needs from a social platform:
// publishing a video and the OAuth primitives behind connected accounts.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelforge/internal/app/model"
)

// ErrRevoked means the platform rejected a stored credential for good. The
// account must be reconnected.
var ErrRevoked = errors.New("credential revoked")

type Post struct {
	VideoURL    string
	Title       string
	Description string
	Tags        []string
}

type Publisher interface {
	Platform() model.Platform
	// Publish posts the video on behalf of account and returns the platform's post id.
	Publish(ctx context.Context, account *model.Account, post Post) (string, error)
}

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Grant is the result of a completed authorization: credentials plus the
// identity they belong to.
type Grant struct {
	Token
	PlatformUserID   string
	PlatformUsername string
}

type Connector interface {
	Platform() model.Platform
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Grant, error)
}

// Refresher renews the credentials of an account. It returns ErrRevoked when
// the platform will never accept them again.
type Refresher interface {
	Platform() model.Platform
	Refresh(ctx context.Context, account *model.Account) (*Token, error)
}

// OpenVideo streams the video at url. The caller closes the reader.
func OpenVideo(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download video: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download video: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Caption joins a description and hashtags the way short-video platforms expect.
func Caption(description string, tags []string) string {
	hashtags := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		hashtags = append(hashtags, t)
	}
	if len(hashtags) == 0 {
		return description
	}
	if description == "" {
		return strings.Join(hashtags, " ")
	}
	return description + "\n\n" + strings.Join(hashtags, " ")
}

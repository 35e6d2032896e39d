package model

import "time"

type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
)

var Platforms = []Platform{PlatformYouTube, PlatformInstagram}

func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformInstagram
}

type Account struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Platform         Platform  `json:"platform" db:"platform"`
	PlatformUserID   string    `json:"platform_user_id" db:"platform_user_id"`
	PlatformUsername string    `json:"platform_username" db:"platform_username"`
	AccessToken      string    `json:"-" db:"access_token"`
	RefreshToken     string    `json:"-" db:"refresh_token"`
	TokenExpiresAt   time.Time `json:"token_expires_at" db:"token_expires_at"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Redacted returns a copy without credentials.
func (a Account) Redacted() Account {
	a.AccessToken = ""
	a.RefreshToken = ""
	return a
}

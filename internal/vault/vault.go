// Package vault keeps the platform credentials of connected accounts and
// hands out access tokens that are valid for the next call.
package vault

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/metrics"
	"reelforge/internal/platform"
	"reelforge/internal/store"
	"reelforge/internal/validate"
)

const (
	defaultMargin         = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
)

// ErrRevoked is returned by refreshers when the platform will never accept
// the stored credentials again.
var ErrRevoked = platform.ErrRevoked

type AccountInput struct {
	UserID           string         `json:"user_id" validate:"required"`
	Platform         model.Platform `json:"platform" validate:"required,platform"`
	PlatformUserID   string         `json:"platform_user_id" validate:"required"`
	PlatformUsername string         `json:"platform_username"`
	AccessToken      string         `json:"access_token" validate:"required"`
	RefreshToken     string         `json:"refresh_token"`
	ExpiresAt        time.Time      `json:"expires_at"`
}

type Vault struct {
	accounts   store.AccountStore
	refreshers map[model.Platform]platform.Refresher
	connectors map[model.Platform]platform.Connector
	margin     time.Duration
	timeout    time.Duration
	now        func() time.Time
	validator  *validate.Validator
	inflight   singleflight.Group
	logger     *zap.Logger
}

type Option func(*Vault)

func WithRefresher(r platform.Refresher) Option {
	return func(v *Vault) { v.refreshers[r.Platform()] = r }
}

func WithConnector(c platform.Connector) Option {
	return func(v *Vault) { v.connectors[c.Platform()] = c }
}

// WithMargin sets how long before expiry a token is refreshed.
func WithMargin(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.margin = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func New(accounts store.AccountStore, logger *zap.Logger, opts ...Option) *Vault {
	v := &Vault{
		accounts:   accounts,
		refreshers: make(map[model.Platform]platform.Refresher),
		connectors: make(map[model.Platform]platform.Connector),
		margin:     defaultMargin,
		timeout:    defaultRefreshTimeout,
		now:        time.Now,
		validator:  validate.New(),
		logger:     logger.Named("vault"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GetValidAccessToken returns a token usable right now, or "" when the user
// has no usable account on the platform.
func (v *Vault) GetValidAccessToken(ctx context.Context, userID string, p model.Platform) (string, error) {
	account, err := v.GetValidAccount(ctx, userID, p)
	if err != nil || account == nil {
		return "", err
	}
	return account.AccessToken, nil
}

// GetValidAccount returns the active account with a token that does not
// expire within the refresh margin, refreshing it first when needed. It
// returns nil without error when the account is missing, inactive, revoked
// or holds an expired token that could not be refreshed.
func (v *Vault) GetValidAccount(ctx context.Context, userID string, p model.Platform) (*model.Account, error) {
	account, err := v.accounts.Get(ctx, userID, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("load account", err)
	}
	if !account.IsActive {
		return nil, nil
	}
	if !v.needsRefresh(account) {
		return account, nil
	}

	// Concurrent callers for the same account share one refresh. It runs
	// detached from the caller that started it so a cancelled caller does
	// not fail the others.
	ch := v.inflight.DoChan(account.ID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		return v.refresh(rctx, account)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	refreshed, _ := res.Val.(*model.Account)
	if refreshed == nil {
		return nil, nil
	}
	out := *refreshed
	return &out, nil
}

func (v *Vault) needsRefresh(a *model.Account) bool {
	if a.TokenExpiresAt.IsZero() {
		return false
	}
	return !v.now().Add(v.margin).Before(a.TokenExpiresAt)
}

func (v *Vault) expired(a *model.Account) bool {
	return !a.TokenExpiresAt.IsZero() && !v.now().Before(a.TokenExpiresAt)
}

func (v *Vault) refresh(ctx context.Context, account *model.Account) (*model.Account, error) {
	log := v.logger.With(zap.String("account", account.ID), zap.String("platform", string(account.Platform)))

	r, ok := v.refreshers[account.Platform]
	if !ok {
		log.Warn("No refresher configured for platform")
		return v.fallback(account), nil
	}

	tok, err := r.Refresh(ctx, account)
	switch {
	case errors.Is(err, ErrRevoked):
		metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "revoked").Inc()
		log.Warn("Credentials revoked, deactivating account", zap.Error(err))
		if derr := v.accounts.Deactivate(ctx, account.ID); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			return nil, apperr.Persistence("deactivate account", derr)
		}
		return nil, nil
	case err != nil:
		metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "error").Inc()
		log.Warn("Token refresh failed", zap.Error(err))
		return v.fallback(account), nil
	}

	err = v.accounts.UpdateTokens(ctx, account.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
	if errors.Is(err, store.ErrStale) || errors.Is(err, store.ErrNotFound) {
		// Disconnected while refreshing.
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("store refreshed token", err)
	}
	metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "success").Inc()
	log.Debug("Token refreshed", zap.Time("expires_at", tok.ExpiresAt))

	refreshed := *account
	refreshed.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	refreshed.TokenExpiresAt = tok.ExpiresAt
	return &refreshed, nil
}

// fallback keeps using the current token until it actually expires.
func (v *Vault) fallback(account *model.Account) *model.Account {
	if v.expired(account) {
		return nil
	}
	return account
}

// StoreAccount creates or replaces the account of the user on the platform
// and marks it active.
func (v *Vault) StoreAccount(ctx context.Context, in AccountInput) (*model.Account, error) {
	if err := v.validator.Struct(in); err != nil {
		return nil, err
	}
	stored, err := v.accounts.Upsert(ctx, &model.Account{
		UserID:           in.UserID,
		Platform:         in.Platform,
		PlatformUserID:   in.PlatformUserID,
		PlatformUsername: in.PlatformUsername,
		AccessToken:      in.AccessToken,
		RefreshToken:     in.RefreshToken,
		TokenExpiresAt:   in.ExpiresAt,
		IsActive:         true,
	})
	if err != nil {
		return nil, apperr.Persistence("store account", err)
	}
	v.logger.Info("Account connected",
		zap.String("user", in.UserID),
		zap.String("platform", string(in.Platform)),
		zap.String("username", in.PlatformUsername))

	redacted := stored.Redacted()
	return &redacted, nil
}

// Disconnect deactivates the account. The row and its tokens are kept and
// nothing is revoked remotely.
func (v *Vault) Disconnect(ctx context.Context, userID string, p model.Platform) error {
	account, err := v.accounts.Get(ctx, userID, p)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("no %s account connected", p)
	}
	if err != nil {
		return apperr.Persistence("load account", err)
	}
	if err := v.accounts.Deactivate(ctx, account.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("no %s account connected", p)
		}
		return apperr.Persistence("deactivate account", err)
	}
	v.logger.Info("Account disconnected", zap.String("user", userID), zap.String("platform", string(p)))
	return nil
}

func (v *Vault) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	accounts, err := v.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("list accounts", err)
	}
	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Redacted())
	}
	return out, nil
}

func (v *Vault) AuthURL(p model.Platform, state string) (string, error) {
	c, err := v.connector(p)
	if err != nil {
		return "", err
	}
	return c.AuthCodeURL(state), nil
}

// Connect completes an authorization by exchanging code for credentials and
// storing the resulting account.
func (v *Vault) Connect(ctx context.Context, userID string, p model.Platform, code string) (*model.Account, error) {
	if userID == "" {
		return nil, apperr.Auth("missing user")
	}
	c, err := v.connector(p)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperr.Validation("invalid request", apperr.Violation{Field: "code", Rule: "required"})
	}

	grant, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, &apperr.Error{
			Kind:     apperr.KindAuth,
			Message:  "authorization with " + string(p) + " failed",
			Platform: string(p),
			Err:      err,
		}
	}

	return v.StoreAccount(ctx, AccountInput{
		UserID:           userID,
		Platform:         p,
		PlatformUserID:   grant.PlatformUserID,
		PlatformUsername: grant.PlatformUsername,
		AccessToken:      grant.AccessToken,
		RefreshToken:     grant.RefreshToken,
		ExpiresAt:        grant.ExpiresAt,
	})
}

func (v *Vault) connector(p model.Platform) (platform.Connector, error) {
	c, ok := v.connectors[p]
	if !ok {
		return nil, apperr.Validation("unsupported platform", apperr.Violation{Field: "platform", Rule: "platform"})
	}
	return c, nil
}

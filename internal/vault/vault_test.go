package vault

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/platform"
	"reelforge/internal/store/memory"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	calls atomic.Int32
	token *platform.Token
	err   error
	delay time.Duration
}

func (f *fakeRefresher) Platform() model.Platform { return model.PlatformYouTube }

func (f *fakeRefresher) Refresh(_ context.Context, _ *model.Account) (*platform.Token, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

type fakeConnector struct {
	grant *platform.Grant
	err   error
}

func (f *fakeConnector) Platform() model.Platform { return model.PlatformInstagram }

func (f *fakeConnector) AuthCodeURL(state string) string {
	return "https://auth.example/authorize?state=" + state
}

func (f *fakeConnector) Exchange(context.Context, string) (*platform.Grant, error) {
	return f.grant, f.err
}

func newVault(t *testing.T, accounts *memory.AccountStore, opts ...Option) *Vault {
	t.Helper()
	opts = append([]Option{withClock(func() time.Time { return now })}, opts...)
	return New(accounts, zap.NewNop(), opts...)
}

func seedAccount(t *testing.T, accounts *memory.AccountStore, expiresAt time.Time) *model.Account {
	t.Helper()
	a, err := accounts.Upsert(context.Background(), &model.Account{
		UserID:         "user-1",
		Platform:       model.PlatformYouTube,
		PlatformUserID: "UC1",
		AccessToken:    "old-token",
		RefreshToken:   "refresh-1",
		TokenExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return a
}

func TestGetValidAccessToken(t *testing.T) {
	fresh := &platform.Token{AccessToken: "new-token", ExpiresAt: now.Add(time.Hour)}

	tests := []struct {
		name        string
		expiresAt   time.Time
		refresher   *fakeRefresher
		want        string
		wantCalls   int32
		wantActive  bool
		wantExpires time.Time
	}{
		{
			name:        "valid token is returned as is",
			expiresAt:   now.Add(time.Hour),
			refresher:   &fakeRefresher{token: fresh},
			want:        "old-token",
			wantActive:  true,
			wantExpires: now.Add(time.Hour),
		},
		{
			name:        "token inside the margin is refreshed",
			expiresAt:   now.Add(2 * time.Minute),
			refresher:   &fakeRefresher{token: fresh},
			want:        "new-token",
			wantCalls:   1,
			wantActive:  true,
			wantExpires: now.Add(time.Hour),
		},
		{
			name:        "expired token is refreshed",
			expiresAt:   now.Add(-time.Hour),
			refresher:   &fakeRefresher{token: fresh},
			want:        "new-token",
			wantCalls:   1,
			wantActive:  true,
			wantExpires: now.Add(time.Hour),
		},
		{
			name:        "revoked credentials deactivate the account",
			expiresAt:   now.Add(-time.Hour),
			refresher:   &fakeRefresher{err: errors.Join(ErrRevoked, errors.New("invalid_grant"))},
			want:        "",
			wantCalls:   1,
			wantActive:  false,
			wantExpires: now.Add(-time.Hour),
		},
		{
			name:        "transient failure keeps an unexpired token",
			expiresAt:   now.Add(time.Minute),
			refresher:   &fakeRefresher{err: errors.New("connection reset")},
			want:        "old-token",
			wantCalls:   1,
			wantActive:  true,
			wantExpires: now.Add(time.Minute),
		},
		{
			name:        "transient failure with an expired token",
			expiresAt:   now.Add(-time.Minute),
			refresher:   &fakeRefresher{err: errors.New("connection reset")},
			want:        "",
			wantCalls:   1,
			wantActive:  true,
			wantExpires: now.Add(-time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := memory.NewAccountStore()
			seedAccount(t, accounts, tt.expiresAt)
			v := newVault(t, accounts, WithRefresher(tt.refresher))

			token, err := v.GetValidAccessToken(context.Background(), "user-1", model.PlatformYouTube)
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
			assert.Equal(t, tt.wantCalls, tt.refresher.calls.Load())

			stored, err := accounts.Get(context.Background(), "user-1", model.PlatformYouTube)
			require.NoError(t, err)
			assert.Equal(t, tt.wantActive, stored.IsActive)
			assert.True(t, tt.wantExpires.Equal(stored.TokenExpiresAt))
			assert.Equal(t, "refresh-1", stored.RefreshToken)
		})
	}
}

func TestGetValidAccessTokenMissingOrInactive(t *testing.T) {
	accounts := memory.NewAccountStore()
	v := newVault(t, accounts)

	token, err := v.GetValidAccessToken(context.Background(), "user-1", model.PlatformYouTube)
	require.NoError(t, err)
	assert.Empty(t, token)

	a := seedAccount(t, accounts, now.Add(time.Hour))
	require.NoError(t, accounts.Deactivate(context.Background(), a.ID))

	token, err = v.GetValidAccessToken(context.Background(), "user-1", model.PlatformYouTube)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	accounts := memory.NewAccountStore()
	seedAccount(t, accounts, now.Add(-time.Hour))
	r := &fakeRefresher{
		token: &platform.Token{AccessToken: "new-token", ExpiresAt: now.Add(time.Hour)},
		delay: 50 * time.Millisecond,
	}
	v := newVault(t, accounts, WithRefresher(r))

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], _ = v.GetValidAccessToken(context.Background(), "user-1", model.PlatformYouTube)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "new-token", tok)
	}
}

type slowRefresher struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *slowRefresher) Platform() model.Platform { return model.PlatformYouTube }

func (s *slowRefresher) Refresh(ctx context.Context, _ *model.Account) (*platform.Token, error) {
	s.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return &platform.Token{AccessToken: "new-token", ExpiresAt: now.Add(time.Hour)}, nil
	}
}

func TestCancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	accounts := memory.NewAccountStore()
	seedAccount(t, accounts, now.Add(-time.Hour))
	r := &slowRefresher{delay: 50 * time.Millisecond}
	v := newVault(t, accounts, WithRefresher(r))

	first, cancel := context.WithCancel(context.Background())
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = v.GetValidAccessToken(first, "user-1", model.PlatformYouTube)
	}()

	time.Sleep(5 * time.Millisecond)
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	token, err := v.GetValidAccessToken(context.Background(), "user-1", model.PlatformYouTube)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, "new-token", token)
	assert.ErrorIs(t, firstErr, context.Canceled)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestStoreAccount(t *testing.T) {
	accounts := memory.NewAccountStore()
	v := newVault(t, accounts)

	_, err := v.StoreAccount(context.Background(), AccountInput{UserID: "user-1", Platform: "tiktok"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	a := seedAccount(t, accounts, now.Add(time.Hour))
	require.NoError(t, v.Disconnect(context.Background(), "user-1", model.PlatformYouTube))

	stored, err := v.StoreAccount(context.Background(), AccountInput{
		UserID:         "user-1",
		Platform:       model.PlatformYouTube,
		PlatformUserID: "UC1",
		AccessToken:    "reconnected",
		ExpiresAt:      now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)
	assert.True(t, stored.IsActive)
	assert.Empty(t, stored.AccessToken)

	token, err := v.GetValidAccessToken(context.Background(), "user-1", model.PlatformYouTube)
	require.NoError(t, err)
	assert.Equal(t, "reconnected", token)
}

func TestDisconnect(t *testing.T) {
	accounts := memory.NewAccountStore()
	v := newVault(t, accounts)

	err := v.Disconnect(context.Background(), "user-1", model.PlatformYouTube)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	seedAccount(t, accounts, now.Add(time.Hour))
	require.NoError(t, v.Disconnect(context.Background(), "user-1", model.PlatformYouTube))

	stored, err := accounts.Get(context.Background(), "user-1", model.PlatformYouTube)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "old-token", stored.AccessToken)
}

func TestListAccountsRedactsTokens(t *testing.T) {
	accounts := memory.NewAccountStore()
	seedAccount(t, accounts, now.Add(time.Hour))
	v := newVault(t, accounts)

	list, err := v.ListAccounts(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].AccessToken)
	assert.Empty(t, list[0].RefreshToken)
	assert.Equal(t, "UC1", list[0].PlatformUserID)
}

func TestConnect(t *testing.T) {
	grant := &platform.Grant{
		Token:            platform.Token{AccessToken: "ig-long", RefreshToken: "ig-long", ExpiresAt: now.Add(24 * time.Hour)},
		PlatformUserID:   "17841",
		PlatformUsername: "octo.facts",
	}

	t.Run("stores the exchanged account", func(t *testing.T) {
		accounts := memory.NewAccountStore()
		v := newVault(t, accounts, WithConnector(&fakeConnector{grant: grant}))

		a, err := v.Connect(context.Background(), "user-1", model.PlatformInstagram, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "octo.facts", a.PlatformUsername)

		token, err := v.GetValidAccessToken(context.Background(), "user-1", model.PlatformInstagram)
		require.NoError(t, err)
		assert.Equal(t, "ig-long", token)
	})

	t.Run("failed exchange is an auth error", func(t *testing.T) {
		v := newVault(t, memory.NewAccountStore(), WithConnector(&fakeConnector{err: errors.New("invalid code")}))

		_, err := v.Connect(context.Background(), "user-1", model.PlatformInstagram, "code-1")
		assert.True(t, apperr.Is(err, apperr.KindAuth))
	})

	t.Run("platform without connector", func(t *testing.T) {
		v := newVault(t, memory.NewAccountStore())

		_, err := v.Connect(context.Background(), "user-1", model.PlatformYouTube, "code-1")
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		_, err = v.AuthURL(model.PlatformYouTube, "s")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

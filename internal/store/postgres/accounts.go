package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"reelforge/internal/app/model"
	"reelforge/internal/store"
)

var _ store.AccountStore = (*AccountStore)(nil)

type AccountStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewAccountStore(pool *pgxpool.Pool, logger *zap.Logger) *AccountStore {
	return &AccountStore{pool: pool, logger: logger.Named("account_store")}
}

const accountColumns = `id, user_id, platform, platform_user_id, platform_username,
	access_token, refresh_token, token_expires_at, is_active, created_at, updated_at`

const upsertAccountQuery = `
INSERT INTO connected_accounts (id, user_id, platform, platform_user_id, platform_username,
	access_token, refresh_token, token_expires_at, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, now(), now())
ON CONFLICT (user_id, platform) DO UPDATE SET
	platform_user_id  = EXCLUDED.platform_user_id,
	platform_username = EXCLUDED.platform_username,
	access_token      = EXCLUDED.access_token,
	refresh_token     = EXCLUDED.refresh_token,
	token_expires_at  = EXCLUDED.token_expires_at,
	is_active         = TRUE,
	updated_at        = now()
RETURNING ` + accountColumns

const getAccountQuery = `SELECT ` + accountColumns + `
FROM connected_accounts WHERE user_id = $1 AND platform = $2`

const listAccountsQuery = `SELECT ` + accountColumns + `
FROM connected_accounts WHERE user_id = $1 ORDER BY platform`

const updateTokensQuery = `
UPDATE connected_accounts SET
	access_token     = $2,
	refresh_token    = COALESCE(NULLIF($3, ''), refresh_token),
	token_expires_at = $4,
	updated_at       = now()
WHERE id = $1 AND is_active`

const deactivateAccountQuery = `
UPDATE connected_accounts SET is_active = FALSE, updated_at = now() WHERE id = $1`

const accountExistsQuery = `SELECT EXISTS (SELECT 1 FROM connected_accounts WHERE id = $1)`

func (s *AccountStore) Upsert(ctx context.Context, account *model.Account) (*model.Account, error) {
	id := account.ID
	if id == "" {
		id = uuid.NewString()
	}
	var stored model.Account
	err := pgxscan.Get(ctx, s.pool, &stored, upsertAccountQuery,
		id, account.UserID, string(account.Platform), account.PlatformUserID, account.PlatformUsername,
		account.AccessToken, account.RefreshToken, account.TokenExpiresAt,
	)
	if err != nil {
		s.logger.Error("Failed to upsert account",
			zap.String("user_id", account.UserID), zap.String("platform", string(account.Platform)), zap.Error(err))
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return &stored, nil
}

func (s *AccountStore) Get(ctx context.Context, userID string, platform model.Platform) (*model.Account, error) {
	var a model.Account
	if err := pgxscan.Get(ctx, s.pool, &a, getAccountQuery, userID, string(platform)); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get %s account of %s: %w", platform, userID, err)
	}
	return &a, nil
}

func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]*model.Account, error) {
	var accounts []*model.Account
	if err := pgxscan.Select(ctx, s.pool, &accounts, listAccountsQuery, userID); err != nil {
		return nil, fmt.Errorf("list accounts of %s: %w", userID, err)
	}
	return accounts, nil
}

func (s *AccountStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, updateTokensQuery, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		s.logger.Error("Failed to update tokens", zap.String("account_id", id), zap.Error(err))
		return fmt.Errorf("update tokens of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, id)
	}
	return nil
}

func (s *AccountStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deactivateAccountQuery, id)
	if err != nil {
		return fmt.Errorf("deactivate account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *AccountStore) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, accountExistsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check account %s: %w", id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrStale
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"backoffice/internal/models"
)

var ErrCredentialNotFound = errors.New("oauth credential not found")

type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Upsert stores the latest provider grant for an account. A provider that
// omits the refresh token on re-consent keeps the previously stored one.
func (r *CredentialRepository) Upsert(ctx context.Context, cred models.OAuthCredential) error {
	const query = `
		INSERT INTO oauth_credentials (
			provider, provider_account_id, user_id, access_token, refresh_token, scope, expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW(), NOW()
		)
		ON CONFLICT (provider, provider_account_id)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_credentials.refresh_token),
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		cred.Provider,
		cred.ProviderAccountID,
		cred.UserID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.Scope,
		cred.ExpiresAt,
	)
	return err
}

func (r *CredentialRepository) FindByUser(ctx context.Context, provider, userID string) (models.OAuthCredential, error) {
	const query = `
		SELECT provider, provider_account_id, user_id, access_token, refresh_token, scope, expires_at, created_at, updated_at
		FROM oauth_credentials
		WHERE provider = $1 AND user_id = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var cred models.OAuthCredential
	if err := r.pool.QueryRow(ctx, query, provider, userID).Scan(
		&cred.Provider,
		&cred.ProviderAccountID,
		&cred.UserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.Scope,
		&cred.ExpiresAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OAuthCredential{}, ErrCredentialNotFound
		}
		return models.OAuthCredential{}, err
	}
	return cred, nil
}

func (r *CredentialRepository) Delete(ctx context.Context, provider, providerAccountID string) error {
	const query = `DELETE FROM oauth_credentials WHERE provider = $1 AND provider_account_id = $2`
	_, err := r.pool.Exec(ctx, query, provider, providerAccountID)
	return err
}

// DeleteStale drops grants whose access token expired before cutoff and that
// carry no refresh token to renew them.
func (r *CredentialRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM oauth_credentials WHERE expires_at < $1 AND refresh_token = ''`
	cmd, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runtheworld/internal/domain"
)

// TokenRepository implements domain.TokenStore.
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository constructs a TokenRepository.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Get returns the athlete's stored tokens or nil when none exist.
func (r *TokenRepository) Get(ctx context.Context, athleteID string) (*domain.Tokens, error) {
	const query = `SELECT athlete_id, access_token, refresh_token, expires_at, scopes
        FROM tokens WHERE athlete_id = $1`

	row := r.pool.QueryRow(ctx, query, athleteID)
	var tokens domain.Tokens
	err := row.Scan(&tokens.AthleteID, &tokens.AccessToken, &tokens.RefreshToken, &tokens.ExpiresAt, &tokens.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Save upserts the athlete's tokens. Credential refresh persists through
// this path mid-sync.
func (r *TokenRepository) Save(ctx context.Context, tokens domain.Tokens) error {
	const stmt = `INSERT INTO tokens (athlete_id, access_token, refresh_token, expires_at, scopes)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (athlete_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            scopes = EXCLUDED.scopes`

	_, err := r.pool.Exec(ctx, stmt,
		tokens.AthleteID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt.UTC(), tokens.Scopes)
	return err
}

// Delete removes the athlete's tokens.
func (r *TokenRepository) Delete(ctx context.Context, athleteID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE athlete_id = $1`, athleteID)
	return err
}

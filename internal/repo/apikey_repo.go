package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/basego/server/internal/model"
)

// APIKeyRepo defines the interface for API key repository operations
type APIKeyRepo interface {
	Create(ctx context.Context, k model.APIKey) (model.APIKey, error)
	GetByKeyID(ctx context.Context, keyID string) (model.APIKey, error)
}

type apiKeyRepo struct {
	db *sql.DB
}

// NewAPIKeyRepo creates a new APIKeyRepo instance
func NewAPIKeyRepo(db *sql.DB) APIKeyRepo {
	return &apiKeyRepo{db: db}
}

func (r *apiKeyRepo) Create(ctx context.Context, k model.APIKey) (model.APIKey, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (key_id, secret_hash, platform, app_identifier, is_enabled, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, k.KeyID, k.SecretHash, k.Platform, k.AppIdentifier, k.IsEnabled, k.ExpiresAt).Scan(&k.CreatedAt)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

func (r *apiKeyRepo) GetByKeyID(ctx context.Context, keyID string) (model.APIKey, error) {
	var k model.APIKey
	err := r.db.QueryRowContext(ctx, `
		SELECT key_id, secret_hash, platform, app_identifier, is_enabled, expires_at, created_at
		FROM api_keys WHERE key_id = $1
	`, keyID).Scan(&k.KeyID, &k.SecretHash, &k.Platform, &k.AppIdentifier, &k.IsEnabled, &k.ExpiresAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

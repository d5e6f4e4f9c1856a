package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

// APIKeyValidator checks the API-Key header against the stored client keys.
type APIKeyValidator struct {
	keys repo.APIKeyRepo
	now  func() time.Time
}

// NewAPIKeyValidator creates a new validator. A nil clock means time.Now.
func NewAPIKeyValidator(keys repo.APIKeyRepo, now func() time.Time) *APIKeyValidator {
	if now == nil {
		now = time.Now
	}
	return &APIKeyValidator{keys: keys, now: now}
}

// Validate decodes raw ("base64(keyID:secret)") and checks it is usable by a
// client on platform with the given app identifier.
func (v *APIKeyValidator) Validate(ctx context.Context, raw, platform, appIdentifier string) (model.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.APIKey{}, ErrAPIKeyEmpty
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return model.APIKey{}, ErrAPIKeyInvalid
	}
	keyID, secret, ok := strings.Cut(string(decoded), ":")
	if !ok || keyID == "" || secret == "" {
		return model.APIKey{}, ErrAPIKeyInvalid
	}

	key, err := v.keys.GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.APIKey{}, ErrAPIKeyNotFound
		}
		return model.APIKey{}, errors.Join(ErrAPIKeyLookup, err)
	}

	if subtle.ConstantTimeCompare([]byte(HashSecret(secret)), []byte(key.SecretHash)) != 1 {
		return model.APIKey{}, ErrAPIKeyInvalid
	}
	if key.Platform != platform {
		return model.APIKey{}, ErrAPIKeyPlatform
	}
	if key.AppIdentifier != "" && key.AppIdentifier != appIdentifier {
		return model.APIKey{}, ErrAPIKeyAppIdentifier
	}
	if !v.now().Before(key.ExpiresAt) {
		return model.APIKey{}, ErrAPIKeyExpired
	}
	if !key.IsEnabled {
		return model.APIKey{}, ErrAPIKeyDisabled
	}
	return key, nil
}

// IssueAPIKey creates an enabled key for platform and returns it with the
// API-Key header value. The secret is only available here.
func IssueAPIKey(ctx context.Context, keys repo.APIKeyRepo, platform, appIdentifier string, expiresAt time.Time) (model.APIKey, string, error) {
	if !model.IsValidPlatform(platform) {
		return model.APIKey{}, "", fmt.Errorf("unknown platform %q", platform)
	}
	secret, hash, err := GenerateSecret()
	if err != nil {
		return model.APIKey{}, "", fmt.Errorf("generate secret: %w", err)
	}
	key, err := keys.Create(ctx, model.APIKey{
		KeyID:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		SecretHash:    hash,
		Platform:      platform,
		AppIdentifier: appIdentifier,
		IsEnabled:     true,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return model.APIKey{}, "", fmt.Errorf("create api key: %w", err)
	}
	return key, EncodeAPIKey(key.KeyID, secret), nil
}

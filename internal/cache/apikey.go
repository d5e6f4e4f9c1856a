package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

type apiKeyRepo struct {
	inner repo.APIKeyRepo
	cache store
}

// NewAPIKeyRepo caches API key lookups for ttl. Unknown keys are not cached.
func NewAPIKeyRepo(inner repo.APIKeyRepo, rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) repo.APIKeyRepo {
	return &apiKeyRepo{
		inner: inner,
		cache: store{rdb: rdb, namespace: "apikey", ttl: ttl, log: log},
	}
}

func (r *apiKeyRepo) Create(ctx context.Context, k model.APIKey) (model.APIKey, error) {
	created, err := r.inner.Create(ctx, k)
	if err != nil {
		return model.APIKey{}, err
	}
	r.cache.del(ctx, created.KeyID)
	return created, nil
}

func (r *apiKeyRepo) GetByKeyID(ctx context.Context, keyID string) (model.APIKey, error) {
	var k model.APIKey
	if r.cache.get(ctx, keyID, &k) {
		return k, nil
	}
	k, err := r.inner.GetByKeyID(ctx, keyID)
	if err != nil {
		return model.APIKey{}, err
	}
	r.cache.set(ctx, keyID, k)
	return k, nil
}

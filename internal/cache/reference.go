package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

type referenceRepo struct {
	inner repo.ReferenceRepo
	cache store
}

// NewReferenceRepo caches the country and time zone lists for ttl.
func NewReferenceRepo(inner repo.ReferenceRepo, rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) repo.ReferenceRepo {
	return &referenceRepo{
		inner: inner,
		cache: store{rdb: rdb, namespace: "reference", ttl: ttl, log: log},
	}
}

func (r *referenceRepo) ListCountries(ctx context.Context) ([]model.Country, error) {
	var countries []model.Country
	if r.cache.get(ctx, "countries", &countries) {
		return countries, nil
	}
	countries, err := r.inner.ListCountries(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.set(ctx, "countries", countries)
	return countries, nil
}

func (r *referenceRepo) ListTimeZones(ctx context.Context) ([]model.TimeZone, error) {
	var zones []model.TimeZone
	if r.cache.get(ctx, "time_zones", &zones) {
		return zones, nil
	}
	zones, err := r.inner.ListTimeZones(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.set(ctx, "time_zones", zones)
	return zones, nil
}

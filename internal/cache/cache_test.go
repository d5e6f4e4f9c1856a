package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
	"github.com/basego/server/internal/repo/memrepo"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis test")
	}
	client, err := NewClient(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// countingKeys counts lookups that reach the backing store.
type countingKeys struct {
	repo.APIKeyRepo
	gets int
}

func (c *countingKeys) GetByKeyID(ctx context.Context, keyID string) (model.APIKey, error) {
	c.gets++
	return c.APIKeyRepo.GetByKeyID(ctx, keyID)
}

func TestAPIKeyRepo_ReadThrough(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	inner := &countingKeys{APIKeyRepo: memrepo.New().APIKeys()}
	keys := NewAPIKeyRepo(inner, client, time.Minute, zap.NewNop())

	keyID := "test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, "basego:apikey:"+keyID) })

	_, err := keys.GetByKeyID(ctx, keyID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = keys.Create(ctx, model.APIKey{KeyID: keyID, SecretHash: "h", Platform: model.PlatformIOS, IsEnabled: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		k, err := keys.GetByKeyID(ctx, keyID)
		require.NoError(t, err)
		assert.Equal(t, model.PlatformIOS, k.Platform)
	}
	assert.Equal(t, 2, inner.gets, "misses are not cached, hits are")
}

func TestReferenceRepo_ReadThrough(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	client.Del(ctx, "basego:reference:countries")
	t.Cleanup(func() { client.Del(ctx, "basego:reference:countries") })

	store := memrepo.New()
	ref := NewReferenceRepo(store.Reference(), client, time.Minute, zap.NewNop())

	first, err := ref.ListCountries(ctx)
	require.NoError(t, err)
	store.Countries = nil

	second, err := ref.ListCountries(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second, "second read is served from redis")
}

func TestFixedWindowLimiter(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l := NewFixedWindowLimiter(client, "test-"+uuid.NewString(), time.Minute, 3)
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "ip:10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are counted separately")
}

func TestFixedWindowLimiter_CounterAlwaysExpires(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	l := NewFixedWindowLimiter(client, "test-"+uuid.NewString(), time.Minute, 3)

	_, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	ttl, err := client.PTTL(ctx, l.key("ip:10.0.0.1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	// a counter left without a TTL gets one on the next hit
	stuck := l.key("ip:10.0.0.3")
	require.NoError(t, client.Set(ctx, stuck, 10, 0).Err())
	ok, err := l.Allow(ctx, "ip:10.0.0.3")
	require.NoError(t, err)
	assert.False(t, ok)
	ttl, err = client.PTTL(ctx, stuck).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	t.Cleanup(func() { client.Del(context.Background(), stuck) })
}

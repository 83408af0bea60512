package cache

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisProvider) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisProviderWithClient(client, "cw")
}

func TestKeySortsQuery(t *testing.T) {
	q := url.Values{"site": {"Baud"}, "page": {"2"}, "b": {"z", "a"}}
	assert.Equal(t, "alerts:/v1/alerts:b=a:b=z:page=2:site=Baud", Key("alerts", "/v1/alerts", q))
	assert.Equal(t, "evolution:/v1/evolution", Key("evolution", "/v1/evolution", nil))
}

func TestRedisRoundTripAndTTL(t *testing.T) {
	mr, p := setupRedis(t)
	ctx := context.Background()

	_, err := p.Get(ctx, "alerts:/v1/alerts")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, p.Set(ctx, "alerts:/v1/alerts", []byte(`{"total":1}`), time.Minute))
	got, err := p.Get(ctx, "alerts:/v1/alerts")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":1}`, string(got))
	assert.True(t, mr.Exists("cw:alerts:/v1/alerts"))

	mr.FastForward(2 * time.Minute)
	_, err = p.Get(ctx, "alerts:/v1/alerts")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDeleteNamespace(t *testing.T) {
	mr, p := setupRedis(t)
	ctx := context.Background()
	for _, k := range []string{"alerts:/v1/alerts", "alerts:/v1/alerts:site=Baud", "evolution:/v1/evolution"} {
		require.NoError(t, p.Set(ctx, k, []byte("x"), time.Minute))
	}
	n, err := p.DeleteNamespace(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("cw:alerts:/v1/alerts"))
	assert.True(t, mr.Exists("cw:evolution:/v1/evolution"))
}

func TestRedisUnavailableIsExternal(t *testing.T) {
	mr, p := setupRedis(t)
	mr.Close()
	_, err := p.Get(context.Background(), "alerts:x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestNoop(t *testing.T) {
	var p Provider = Noop{}
	require.NoError(t, p.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, err := p.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}

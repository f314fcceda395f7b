package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	c, err := New(Config{Enabled: true, TTL: time.Minute, MaxEntries: 100})
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("polish", "hello")
	assert.False(t, ok)

	require.True(t, c.Set("polish", "hello", "Hello."))
	c.Wait()

	got, ok := c.Get("polish", "hello")
	require.True(t, ok)
	assert.Equal(t, "Hello.", got)

	_, ok = c.Get("simplify", "hello")
	assert.False(t, ok)
}

func TestResponseCacheExpires(t *testing.T) {
	c, err := New(Config{TTL: 20 * time.Millisecond, MaxEntries: 100})
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Set("polish", "hello", "Hello."))
	c.Wait()

	assert.Eventually(t, func() bool {
		_, ok := c.Get("polish", "hello")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestKeySeparatesFields(t *testing.T) {
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.Len(t, Key("a", "b"), 64)
}

func newSharedTier(t *testing.T) (*SharedTier, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSharedTier(client, time.Minute, "test:cache:"), mr, client
}

func TestSharedTierServesOtherReplicas(t *testing.T) {
	tier, mr, _ := newSharedTier(t)

	writer, err := New(Config{TTL: time.Minute, MaxEntries: 100})
	require.NoError(t, err)
	defer writer.Close()
	writer.WithShared(tier, nil)

	reader, err := New(Config{TTL: time.Minute, MaxEntries: 100})
	require.NoError(t, err)
	defer reader.Close()
	reader.WithShared(tier, nil)

	writer.Set("polish", "hello", "Hello.")
	assert.True(t, mr.Exists("test:cache:"+Key("polish", "hello")))

	got, ok := reader.Get("polish", "hello")
	require.True(t, ok)
	assert.Equal(t, "Hello.", got)
	assert.Equal(t, int64(1), tier.stats().Hits)
}

func TestSharedTierCompressesLargeCompletions(t *testing.T) {
	tier, mr, _ := newSharedTier(t)
	ctx := context.Background()

	large := strings.Repeat("a long completion ", 200)
	require.NoError(t, tier.Set(ctx, "k", large))

	raw, err := mr.Get("test:cache:k")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(large))

	got, ok, err := tier.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, large, got)

	_, ok, err = tier.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedTierFailureIsAMiss(t *testing.T) {
	tier, _, client := newSharedTier(t)
	require.NoError(t, client.Close())

	var seen []error
	c, err := New(Config{TTL: time.Minute, MaxEntries: 100})
	require.NoError(t, err)
	defer c.Close()
	c.WithShared(tier, func(err error) { seen = append(seen, err) })

	_, ok := c.Get("polish", "hello")
	assert.False(t, ok)
	assert.NotEmpty(t, seen)
	assert.Equal(t, int64(1), tier.stats().Errors)
}

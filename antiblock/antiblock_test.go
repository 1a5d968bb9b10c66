package antiblock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/redblock-app/chainblock/internal/fakegraph"
	"github.com/redblock-app/chainblock/xrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	graph *fakegraph.Graph
	dids  []string
	host  string
}

func newTestEnv(t *testing.T) *testEnv {
	g := fakegraph.New()
	dids := g.Populate(gofakeit.New(3), 5)
	srv := fakegraph.NewServer(g)
	t.Cleanup(srv.Close)
	return &testEnv{graph: g, dids: dids, host: srv.URL}
}

func (e *testEnv) client(did string) *xrpc.Client {
	return &xrpc.Client{
		Host:   e.host,
		Auth:   &xrpc.AuthInfo{AccessJwt: did, Did: did},
		Client: xrpc.RobustHTTPClient(nil),
	}
}

func (e *testEnv) retriever(t *testing.T, cache Cache, alternates ...string) *Retriever {
	cfg := Config{Operator: e.client(e.dids[0]), Cache: cache}
	for _, did := range alternates {
		cfg.Alternates = append(cfg.Alternates, e.client(did))
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

const getProfile = "app.bsky.actor.getProfile"

func TestOperatorReadsWhenNotBlocked(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	r := env.retriever(t, NewMemCache(100, time.Hour), env.dids[1])

	c, err := r.ClientFor(ctx, env.dids[4])
	require.NoError(t, err)
	assert.Equal(t, env.dids[0], c.Auth.Did)
	assert.Equal(t, 1, env.graph.Calls(getProfile))
}

func TestAlternateReaderIsPickedAndCached(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	me, subject, alt1, alt2 := env.dids[0], env.dids[4], env.dids[1], env.dids[2]
	env.graph.Block(subject, me)
	env.graph.Block(subject, alt1)

	r := env.retriever(t, NewMemCache(100, time.Hour), alt1, alt2)
	c, err := r.ClientFor(ctx, subject)
	require.NoError(t, err)
	assert.Equal(alt2, c.Auth.Did)
	assert.Equal(3, env.graph.Calls(getProfile))

	c, err = r.ClientFor(ctx, subject)
	require.NoError(t, err)
	assert.Equal(alt2, c.Auth.Did)
	assert.Equal(3, env.graph.Calls(getProfile))

	require.NoError(t, r.Forget(ctx, subject))
	_, err = r.ClientFor(ctx, subject)
	require.NoError(t, err)
	assert.Equal(6, env.graph.Calls(getProfile))
}

func TestOperatorBlockingSubjectNeedsAlternate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.graph.Block(env.dids[0], env.dids[4])

	r := env.retriever(t, NewMemCache(100, time.Hour), env.dids[1])
	c, err := r.ClientFor(ctx, env.dids[4])
	require.NoError(t, err)
	assert.Equal(t, env.dids[1], c.Auth.Did)
}

func TestNoReader(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := env.dids[4]
	env.graph.Block(subject, env.dids[0])
	env.graph.Block(subject, env.dids[1])

	r := env.retriever(t, NewMemCache(100, time.Hour), env.dids[1])
	_, err := r.ClientFor(ctx, subject)
	assert.ErrorIs(t, err, ErrNoReader)

	// failures aren't remembered
	_, err = r.ClientFor(ctx, subject)
	assert.ErrorIs(t, err, ErrNoReader)
	assert.Equal(t, 4, env.graph.Calls(getProfile))
}

func TestConcurrentLookupsExamineOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := env.dids[4]
	env.graph.Block(subject, env.dids[0])
	env.graph.Block(subject, env.dids[1])

	r := env.retriever(t, NewMemCache(100, time.Hour), env.dids[1], env.dids[2])

	var wg sync.WaitGroup
	picked := make([]string, 20)
	for i := range picked {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.ClientFor(ctx, subject)
			if assert.NoError(t, err) {
				picked[i] = c.Auth.Did
			}
		}()
	}
	wg.Wait()

	for _, did := range picked {
		assert.Equal(t, env.dids[2], did)
	}
	assert.Equal(t, 3, env.graph.Calls(getProfile))
}

func TestStaleCacheEntryIsReexamined(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cache := NewMemCache(100, time.Hour)
	r := env.retriever(t, cache)

	require.NoError(t, cache.Set(ctx, cacheName, r.cacheKey(env.dids[4]), "did:plc:gone"))
	c, err := r.ClientFor(ctx, env.dids[4])
	require.NoError(t, err)
	assert.Equal(t, env.dids[0], c.Auth.Did)
}

type purgeFailingCache struct {
	*MemCache
}

func (c purgeFailingCache) Purge(ctx context.Context, name, key string) error {
	return errors.New("cache unavailable")
}

func TestStaleEntryPurgeFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cache := purgeFailingCache{NewMemCache(100, time.Hour)}
	var logs bytes.Buffer
	r, err := New(Config{
		Operator: env.client(env.dids[0]),
		Cache:    cache,
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, cacheName, r.cacheKey(env.dids[4]), "did:plc:gone"))
	c, err := r.ClientFor(ctx, env.dids[4])
	require.NoError(t, err)
	assert.Equal(t, env.dids[0], c.Auth.Did)
	assert.Contains(t, logs.String(), "retriever cache purge failed")
	assert.Contains(t, logs.String(), "cache unavailable")
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Cache: NewMemCache(1, time.Minute)})
	assert.Error(t, err)
	_, err = New(Config{
		Operator:   &xrpc.Client{Auth: &xrpc.AuthInfo{Did: "did:plc:me"}},
		Alternates: []*xrpc.Client{{Host: "https://example.test"}},
		Cache:      NewMemCache(1, time.Minute),
	})
	assert.Error(t, err)
	_, err = New(Config{Operator: &xrpc.Client{Auth: &xrpc.AuthInfo{Did: "did:plc:me"}}})
	assert.Error(t, err)
}

func TestMemCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemCache(10, 20*time.Millisecond)
	require.NoError(t, c.Set(ctx, "n", "k", "v"))
	v, err := c.Get(ctx, "n", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	assert.Eventually(t, func() bool {
		v, _ := c.Get(ctx, "n", "k")
		return v == ""
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Set(ctx, "n", "k", "v"))
	require.NoError(t, c.Purge(ctx, "n", "k"))
	v, _ = c.Get(ctx, "n", "k")
	assert.Empty(t, v)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("CHAINBLOCK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHAINBLOCK_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(url, time.Minute)
	require.NoError(t, err)

	key := gofakeit.UUID()
	v, err := c.Get(ctx, "test", key)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, c.Set(ctx, "test", key, "did:plc:alt"))
	v, err = c.Get(ctx, "test", key)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alt", v)

	require.NoError(t, c.Purge(ctx, "test", key))
	require.NoError(t, c.Purge(ctx, "test", key))
}

func TestMemcacheCache(t *testing.T) {
	servers := os.Getenv("CHAINBLOCK_TEST_MEMCACHED")
	if servers == "" {
		t.Skip("CHAINBLOCK_TEST_MEMCACHED not set")
	}
	ctx := context.Background()
	c := NewMemcacheCache(strings.Split(servers, ","), time.Minute)

	key := gofakeit.UUID()
	v, err := c.Get(ctx, "test", key)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, c.Set(ctx, "test", key, "did:plc:alt"))
	v, err = c.Get(ctx, "test", key)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alt", v)

	require.NoError(t, c.Purge(ctx, "test", key))
	require.NoError(t, c.Purge(ctx, "test", key))
}

func TestMemcacheExpiryClamp(t *testing.T) {
	assert.Equal(t, int32(maxMemcacheExpiry), NewMemcacheCache([]string{"localhost:11211"}, 90*24*time.Hour).expiry)
	assert.Equal(t, int32(3600), NewMemcacheCache([]string{"localhost:11211"}, time.Hour).expiry)
	assert.Equal(t, int32(1), NewMemcacheCache([]string{"localhost:11211"}, time.Millisecond).expiry)
}

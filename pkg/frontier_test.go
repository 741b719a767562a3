package frontier

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devraulu/sitesearch/pkg/config"
)

func TestMemorySeenVisitsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySeen()

	var first atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Visit(ctx, "https://example.com/a/")
			assert.NoError(t, err)
			if ok {
				first.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), first.Load())
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSeen(t *testing.T) {
	s, err := NewSeen("memory", "", "run")
	require.NoError(t, err)
	assert.IsType(t, &MemorySeen{}, s)

	s, err = NewSeen("redis", "localhost:6379", "run")
	require.NoError(t, err)
	rs, ok := s.(*RedisSeen)
	require.True(t, ok)
	assert.Equal(t, "sitesearch:seen:run", rs.key)

	_, err = NewSeen("etcd", "", "run")
	assert.Error(t, err)
}

func TestReadSites(t *testing.T) {
	input := `
# comment
https://www.Example.com/docs Example Docs
http://other.org
not a url
`
	sites, err := ReadSites(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []config.SiteConfig{
		{Name: "Example Docs", URL: "https://example.com/"},
		{Name: "other.org", URL: "http://other.org/"},
	}, sites)
}

func TestMergeSites(t *testing.T) {
	configured := []config.SiteConfig{{Name: "A", URL: "https://www.a.com"}}
	extra := []config.SiteConfig{{Name: "A again", URL: "https://a.com/"}, {Name: "B", URL: "https://b.com/"}}

	sites, err := MergeSites(configured, extra)
	require.NoError(t, err)
	assert.Equal(t, []config.SiteConfig{
		{Name: "A", URL: "https://a.com/"},
		{Name: "B", URL: "https://b.com/"},
	}, sites)

	_, err = MergeSites(nil, nil)
	assert.ErrorIs(t, err, ErrNoSites)
}

func TestRedisSeen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s := NewRedisSeen(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "run-1")
	key := "sitesearch:seen:run-1"

	ok, err := s.Visit(ctx, "https://example.com/a/")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Visit(ctx, "https://example.com/a/")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Visit(ctx, "https://example.com/b/")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, seenTTL, mr.TTL(key))

	require.NoError(t, s.Close(ctx))
	assert.False(t, mr.Exists(key))
}

func TestRedisSeenSharedByRun(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	a, err := NewSeen("redis", mr.Addr(), "run-2")
	require.NoError(t, err)
	b, err := NewSeen("redis", mr.Addr(), "run-2")
	require.NoError(t, err)
	other, err := NewSeen("redis", mr.Addr(), "run-3")
	require.NoError(t, err)

	ok, err := a.Visit(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Visit(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = other.Visit(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Close(ctx))
	require.NoError(t, b.Close(ctx))
	require.NoError(t, other.Close(ctx))
}

func TestRedisSeenUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisSeen(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "run-4")
	mr.Close()

	_, err := s.Visit(context.Background(), "https://example.com/")
	assert.Error(t, err)
	_ = s.Close(context.Background())
}

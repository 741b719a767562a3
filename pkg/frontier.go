package frontier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Seen is the set of canonical links already scheduled during one crawl
// run. Visit reports whether the caller is the first to see the link and
// records it in the same step.
type Seen interface {
	Visit(ctx context.Context, link string) (bool, error)
	Len(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

type MemorySeen struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySeen() *MemorySeen {
	return &MemorySeen{seen: make(map[string]struct{})}
}

func (m *MemorySeen) Visit(_ context.Context, link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[link]; ok {
		slog.Debug("seen duplicate, skipping", slog.String("url", link))
		return false, nil
	}
	m.seen[link] = struct{}{}
	return true, nil
}

func (m *MemorySeen) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}

func (m *MemorySeen) Close(context.Context) error {
	return nil
}

// RedisSeen keeps the set in a redis SET scoped to one run, so several
// crawler processes can share it.
type RedisSeen struct {
	client *redis.Client
	key    string
}

const seenTTL = 24 * time.Hour

func NewRedisSeen(client *redis.Client, runID string) *RedisSeen {
	return &RedisSeen{
		client: client,
		key:    "sitesearch:seen:" + runID,
	}
}

func (r *RedisSeen) Visit(ctx context.Context, link string) (bool, error) {
	added, err := r.client.SAdd(ctx, r.key, link).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd: %w", err)
	}
	if added == 0 {
		slog.Debug("seen duplicate, skipping", slog.String("url", link))
		return false, nil
	}

	if err := r.client.Expire(ctx, r.key, seenTTL).Err(); err != nil {
		slog.Warn("couldn't set seen-set expiry", slog.String("key", r.key), slog.Any("err", err))
	}
	return true, nil
}

func (r *RedisSeen) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	return int(n), err
}

// Close drops the set and closes the client.
func (r *RedisSeen) Close(ctx context.Context) error {
	delErr := r.client.Del(ctx, r.key).Err()
	if err := r.client.Close(); err != nil {
		return err
	}
	return delErr
}

// NewSeen picks the seen-set backend by name ("memory" or "redis").
func NewSeen(store, redisAddr, runID string) (Seen, error) {
	switch store {
	case "", "memory":
		return NewMemorySeen(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return NewRedisSeen(client, runID), nil
	default:
		return nil, fmt.Errorf("unknown seen store %q", store)
	}
}

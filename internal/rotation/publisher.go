package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher exposes the current rotating code of a session to display clients. The
// published value is a cache of a derivable number, never authoritative; republishing
// the same code must be a no-op side effect.
type Publisher interface {
	Publish(ctx context.Context, sessionID, code string) error
	Current(ctx context.Context, sessionID string) (string, error)
	Clear(ctx context.Context, sessionID string) error
}

// InMemoryPublisher keeps published codes in a map. Used in dev and tests.
type InMemoryPublisher struct {
	mu    sync.RWMutex
	codes map[string]string
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{codes: make(map[string]string)}
}

func (p *InMemoryPublisher) Publish(_ context.Context, sessionID, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[sessionID] = code
	return nil
}

func (p *InMemoryPublisher) Current(_ context.Context, sessionID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.codes[sessionID], nil
}

func (p *InMemoryPublisher) Clear(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.codes, sessionID)
	return nil
}

// RedisPublisher stores codes under a per-session key with a TTL a little over the
// rotation interval, so stale codes expire on their own if a scheduler dies.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublisher builds a publisher over an existing client.
func NewRedisPublisher(client *redis.Client, prefix string, ttl time.Duration) *RedisPublisher {
	if prefix == "" {
		prefix = "geoattend:code:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPublisher{client: client, prefix: prefix, ttl: ttl}
}

func (p *RedisPublisher) Publish(ctx context.Context, sessionID, code string) error {
	return p.client.Set(ctx, p.prefix+sessionID, code, p.ttl).Err()
}

func (p *RedisPublisher) Current(ctx context.Context, sessionID string) (string, error) {
	val, err := p.client.Get(ctx, p.prefix+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (p *RedisPublisher) Clear(ctx context.Context, sessionID string) error {
	return p.client.Del(ctx, p.prefix+sessionID).Err()
}

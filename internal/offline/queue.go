// Package offline holds check-ins captured without connectivity and replays them
// into the ledger once connectivity returns.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PendingCheckIn is a locally captured check-in awaiting sync. Proof binds the
// session, user, moment, position and entered code at capture time; it is carried
// forward for later verification and not checked at sync today.
type PendingCheckIn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
	Distance  float64   `json:"distance"`
	Proof     string    `json:"proof"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Queue is ordered local persistence for pending check-ins: add, list in queue
// order, delete by id. Items must survive until explicitly deleted after a
// successful replay.
type Queue interface {
	Enqueue(ctx context.Context, item PendingCheckIn) (string, error)
	List(ctx context.Context) ([]PendingCheckIn, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryQueue is a slice-backed queue for dev and tests.
type InMemoryQueue struct {
	mu    sync.Mutex
	items []PendingCheckIn
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

func (q *InMemoryQueue) Enqueue(_ context.Context, item PendingCheckIn) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now().UTC()
	}
	q.items = append(q.items, item)
	return item.ID, nil
}

func (q *InMemoryQueue) List(_ context.Context) ([]PendingCheckIn, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingCheckIn, len(q.items))
	copy(out, q.items)
	return out, nil
}

func (q *InMemoryQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// RedisQueue keeps pending check-ins in a Redis list, RPUSH order, so items survive
// a client restart and replay FIFO.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "geoattend:pending-checkins"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, item PendingCheckIn) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode pending check-in: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue pending check-in: %w", err)
	}
	return item.ID, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]PendingCheckIn, error) {
	raw, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending check-ins: %w", err)
	}
	out := make([]PendingCheckIn, 0, len(raw))
	for _, el := range raw {
		var item PendingCheckIn
		if err := json.Unmarshal([]byte(el), &item); err != nil {
			return nil, fmt.Errorf("decode pending check-in: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	raw, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan pending check-ins: %w", err)
	}
	for _, el := range raw {
		var item PendingCheckIn
		if err := json.Unmarshal([]byte(el), &item); err != nil {
			continue
		}
		if item.ID == id {
			return q.client.LRem(ctx, q.key, 1, el).Err()
		}
	}
	return nil
}

package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store claims Kafka offsets in Redis so a redelivered message is processed
// once per TTL window. Keys are namespaced by consumer so two consumer groups
// reading the same topic never share claims.
type Store struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

func NewStore(rdb *redis.Client, namespace string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, namespace: namespace, ttl: ttl}
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", s.namespace, topic, partition, offset)
}

// Seen claims key and reports whether it had already been claimed.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	claimed, err := s.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !claimed, nil
}

// Release drops a claim so a message whose processing failed can be handled
// again.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

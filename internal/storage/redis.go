package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// RedisStore persists the history document as a single Redis string.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redisURL (redis://host:port/db) and pings it.
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key}, nil
}

// Save overwrites the stored document.
func (s *RedisStore) Save(ctx context.Context, doc models.HistoryDocument) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write history to redis: %w", err)
	}
	return nil
}

// Load reads the stored document.
func (s *RedisStore) Load(ctx context.Context) (models.HistoryDocument, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewHistoryDocument(), nil
	}
	if err != nil {
		return models.HistoryDocument{}, fmt.Errorf("failed to read history from redis: %w", err)
	}
	return Decode(data)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

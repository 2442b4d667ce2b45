package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yzhou-ml/comfyfleet/pkg/models"
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client  redis.Cmdable
	ownsCli bool
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client, ownsCli: true}, nil
}

// NewRedisWithClient wraps an existing client. The caller keeps ownership
// of the client lifecycle.
func NewRedisWithClient(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// SetStatus writes the task record as JSON with the status TTL.
func (s *RedisStore) SetStatus(ctx context.Context, jobID string, status models.TaskStatus, data map[string]any) error {
	record := models.TaskRecord{
		Status:    status,
		UpdatedAt: time.Now(),
		Data:      data,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	if err := s.client.Set(ctx, taskKey(jobID), payload, StatusTTL).Err(); err != nil {
		return fmt.Errorf("set task status %s: %w", jobID, err)
	}
	return nil
}

// GetStatus reads the task record, returning (nil, nil) on a miss.
func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (*models.TaskRecord, error) {
	payload, err := s.client.Get(ctx, taskKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task status %s: %w", jobID, err)
	}
	var record models.TaskRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal task record %s: %w", jobID, err)
	}
	return &record, nil
}

// CacheImage stores a raw blob with the image TTL.
func (s *RedisStore) CacheImage(ctx context.Context, jobID, nodeID string, data []byte) error {
	if err := s.client.Set(ctx, imageKey(jobID, nodeID), data, ImageTTL).Err(); err != nil {
		return fmt.Errorf("cache image %s/%s: %w", jobID, nodeID, err)
	}
	return nil
}

// CachedImage returns a cached blob, (nil, nil) on a miss.
func (s *RedisStore) CachedImage(ctx context.Context, jobID, nodeID string) ([]byte, error) {
	data, err := s.client.Get(ctx, imageKey(jobID, nodeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached image %s/%s: %w", jobID, nodeID, err)
	}
	return data, nil
}

// Close closes the connection if this store opened it.
func (s *RedisStore) Close() error {
	if !s.ownsCli {
		return nil
	}
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

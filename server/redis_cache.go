package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisCache implements the Cache interface using Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(ctx context.Context, address string, ttlSeconds int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func imageCacheKey(imageID string) string {
	return fmt.Sprintf("image:%s", imageID)
}

// GetImage gets a record from the cache. A miss is ErrNotFound.
func (c *RedisCache) GetImage(ctx context.Context, imageID string) (*Image, error) {
	data, err := c.client.Get(ctx, imageCacheKey(imageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var image Image
	if err := msgpack.Unmarshal(data, &image); err != nil {
		return nil, fmt.Errorf("failed to decode cached image: %w", err)
	}
	// msgpack decodes timestamps in time.Local
	image.CreatedAt = image.CreatedAt.UTC()
	return &image, nil
}

// SetImage sets a record in the cache
func (c *RedisCache) SetImage(ctx context.Context, image *Image) error {
	data, err := msgpack.Marshal(image)
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return c.client.Set(ctx, imageCacheKey(image.ImageID), data, c.ttl).Err()
}

// DeleteImage deletes a record from the cache
func (c *RedisCache) DeleteImage(ctx context.Context, imageID string) error {
	return c.client.Del(ctx, imageCacheKey(imageID)).Err()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCredentialPrefix = "tg:cred:"
	redisDevicesKey       = "tg:devices"
)

// RedisStore implements Repository on Redis. Each device's credentials live
// in one hash; a sorted set scored by last-seen time indexes devices.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client. A positive ttl expires a device's
// credential hash when the device is not touched for that long.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func credentialKey(deviceID string) string {
	return redisCredentialPrefix + deviceID
}

// GetCredential returns the value stored under key for a device.
func (s *RedisStore) GetCredential(ctx context.Context, deviceID, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, credentialKey(deviceID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget: %w", err)
	}
	return value, true, nil
}

// PutCredential creates or replaces a credential value.
func (s *RedisStore) PutCredential(ctx context.Context, deviceID, key, value string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, credentialKey(deviceID), key, value)
		pipe.ZAddNX(ctx, redisDevicesKey, redis.Z{Score: float64(time.Now().Unix()), Member: deviceID})
		if s.ttl > 0 {
			pipe.Expire(ctx, credentialKey(deviceID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a single credential key.
func (s *RedisStore) DeleteCredential(ctx context.Context, deviceID, key string) error {
	if err := s.client.HDel(ctx, credentialKey(deviceID), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// TouchDevice records the last-seen time and refreshes the credential TTL.
func (s *RedisStore) TouchDevice(ctx context.Context, deviceID string, seen time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisDevicesKey, redis.Z{Score: float64(seen.Unix()), Member: deviceID})
		if s.ttl > 0 {
			pipe.Expire(ctx, credentialKey(deviceID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis touch device: %w", err)
	}
	return nil
}

// ListStaleDevices returns devices last seen before the cutoff.
func (s *RedisStore) ListStaleDevices(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, redisDevicesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list stale devices: %w", err)
	}
	return ids, nil
}

// DeleteDevice removes a device and its credentials.
func (s *RedisStore) DeleteDevice(ctx context.Context, deviceID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, credentialKey(deviceID))
		pipe.ZRem(ctx, redisDevicesKey, deviceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete device: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

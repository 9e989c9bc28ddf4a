// Package store provides credential persistence for device Sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Repository defines the interface for persisting device credential records.
type Repository interface {
	// GetCredential returns the value stored under key for a device.
	GetCredential(ctx context.Context, deviceID, key string) (value string, found bool, err error)

	// PutCredential creates or replaces a credential value.
	PutCredential(ctx context.Context, deviceID, key, value string) error

	// DeleteCredential removes a single credential key. Missing keys are not an error.
	DeleteCredential(ctx context.Context, deviceID, key string) error

	// TouchDevice records that the device was seen at the given time.
	TouchDevice(ctx context.Context, deviceID string, seen time.Time) error

	// ListStaleDevices returns devices last seen before the cutoff.
	ListStaleDevices(ctx context.Context, cutoff time.Time) ([]string, error)

	// DeleteDevice removes a device and every credential it holds.
	DeleteDevice(ctx context.Context, deviceID string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend   string
	DBPath    string
	RedisAddr string
	DeviceTTL time.Duration
}

// Open constructs the Repository named by opts.Backend.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		s, err := NewSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(client, opts.DeviceTTL), nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

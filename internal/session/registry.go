package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Factory builds the Store for a device.
type Factory func(deviceID string) *Store

// Registry holds one Session per device. The first access for a device
// constructs and restores its Session exactly once.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Store
	group    singleflight.Group
	factory  Factory
	logger   *slog.Logger
}

// NewRegistry creates a new registry.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Store),
		factory:  factory,
		logger:   logger,
	}
}

// Get returns the device's Session, restoring it on first access.
func (r *Registry) Get(ctx context.Context, deviceID string) *Store {
	if s := r.lookup(deviceID); s != nil {
		s.Touch()
		return s
	}

	v, _, shared := r.group.Do(deviceID, func() (any, error) {
		if s := r.lookup(deviceID); s != nil {
			return s, nil
		}
		s := r.factory(deviceID)
		// Restore outlives the request that triggered it.
		if err := s.Restore(context.WithoutCancel(ctx)); err != nil {
			// Serve this request unauthenticated; the next one retries.
			r.logger.Warn("Session restore deferred", "device_id", deviceID, "error", err)
			return s, nil
		}

		r.mu.Lock()
		r.sessions[deviceID] = s
		r.mu.Unlock()
		r.logger.Info("Session restored", "device_id", deviceID, "authenticated", s.IsAuthenticated())
		return s, nil
	})
	if shared {
		r.logger.Debug("Session restore coalesced", "device_id", deviceID)
	}
	return v.(*Store)
}

// Peek returns the device's Session without creating it.
func (r *Registry) Peek(deviceID string) (*Store, bool) {
	s := r.lookup(deviceID)
	return s, s != nil
}

// Evict drops the in-memory Session of a device. Persisted credentials are untouched.
func (r *Registry) Evict(deviceID string) {
	r.mu.Lock()
	delete(r.sessions, deviceID)
	r.mu.Unlock()
}

// EvictIdle drops Sessions unused for longer than idle and returns their device IDs.
func (r *Registry) EvictIdle(idle time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActive()) > idle {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of live Sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) lookup(deviceID string) *Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[deviceID]
}

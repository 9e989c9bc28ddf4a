// Package sweeper prunes the credentials of abandoned devices and evicts idle
// Sessions from memory.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// DeviceStore lists and removes persisted devices.
type DeviceStore interface {
	ListStaleDevices(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteDevice(ctx context.Context, deviceID string) error
}

// Sessions is the in-memory Session registry.
type Sessions interface {
	Evict(deviceID string)
	EvictIdle(idle time.Duration, now time.Time) []string
}

// Recorder counts sweep results.
type Recorder interface {
	RecordSweep(devicesDeleted, sessionsEvicted int)
}

// CleanupCallback is called for every device whose credentials were deleted.
type CleanupCallback func(deviceID string)

// Config controls sweep cadence and thresholds.
type Config struct {
	Interval       time.Duration
	DeviceTTL      time.Duration
	SessionIdleTTL time.Duration
}

// Result summarizes one sweep.
type Result struct {
	DevicesDeleted  int
	SessionsEvicted int
}

// Sweeper periodically removes stale devices and idle Sessions.
type Sweeper struct {
	devices   DeviceStore
	sessions  Sessions
	cfg       Config
	onCleanup CleanupCallback
	recorder  Recorder
	now       func() time.Time
}

// New creates a sweeper. onCleanup and recorder may be nil.
func New(devices DeviceStore, sessions Sessions, cfg Config, onCleanup CleanupCallback, recorder Recorder) *Sweeper {
	return &Sweeper{
		devices:   devices,
		sessions:  sessions,
		cfg:       cfg,
		onCleanup: onCleanup,
		recorder:  recorder,
		now:       time.Now,
	}
}

const defaultInterval = 5 * time.Minute

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.cfg.Interval = defaultInterval
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	slog.Info("Sweeper started",
		"interval", s.cfg.Interval,
		"device_ttl", s.cfg.DeviceTTL,
		"session_idle_ttl", s.cfg.SessionIdleTTL)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs a single pass.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	now := s.now()

	if s.cfg.DeviceTTL > 0 {
		res.DevicesDeleted = s.sweepDevices(ctx, now)
	}
	if s.cfg.SessionIdleTTL > 0 {
		evicted := s.sessions.EvictIdle(s.cfg.SessionIdleTTL, now)
		res.SessionsEvicted = len(evicted)
		if len(evicted) > 0 {
			slog.Info("Sweeper evicted idle sessions", "count", len(evicted))
		}
	}

	if s.recorder != nil {
		s.recorder.RecordSweep(res.DevicesDeleted, res.SessionsEvicted)
	}
	return res
}

func (s *Sweeper) sweepDevices(ctx context.Context, now time.Time) int {
	stale, err := s.devices.ListStaleDevices(ctx, now.Add(-s.cfg.DeviceTTL))
	if err != nil {
		slog.Error("Sweeper failed to list stale devices", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	slog.Info("Sweeper found stale devices", "count", len(stale))

	deleted := 0
	for _, deviceID := range stale {
		if err := s.devices.DeleteDevice(ctx, deviceID); err != nil {
			if ctx.Err() != nil {
				slog.Debug("Sweeper: context canceled, cleanup may be incomplete",
					"device_id", deviceID,
					"error", err)
				break
			}
			slog.Warn("Sweeper failed to delete device",
				"error", err,
				"device_id", deviceID)
			continue
		}

		s.sessions.Evict(deviceID)
		if s.onCleanup != nil {
			s.onCleanup(deviceID)
		}
		deleted++
	}

	slog.Info("Sweeper cleanup completed", "deleted", deleted)
	return deleted
}

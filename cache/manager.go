package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/wasmrunner/host/engine"
)

// ManagerConfig carries the subset of configuration the manager needs:
// whether each tier is enabled and the memory tier's budget/LFU threshold.
type ManagerConfig struct {
	DiskEnabled    bool
	MemoryEnabled  bool
	MemoryMaxBytes int64
	LFUProtectHits uint64
}

// Manager composes the engine profile, memory cache, disk cache and
// singleflight coalescer into the single get_component entry point.
type Manager struct {
	engine  engine.Engine
	memory  *MemoryCache
	disk    *DiskCache
	flight  Coalescer
	metrics *Metrics
	log     *zap.Logger
	cfg     ManagerConfig
}

// NewManager wires the cache tiers for one engine/profile pair. disk may be
// nil when cfg.DiskEnabled is false.
func NewManager(eng engine.Engine, disk *DiskCache, metrics *Metrics, log *zap.Logger, cfg ManagerConfig) *Manager {
	var memory *MemoryCache
	if cfg.MemoryEnabled {
		memory = NewMemoryCache(cfg.MemoryMaxBytes, cfg.LFUProtectHits)
	}
	return &Manager{engine: eng, memory: memory, disk: disk, metrics: metrics, log: log, cfg: cfg}
}

// Profile returns the engine profile this manager's tiers are partitioned
// under, for callers that need to build an ArtifactKey.
func (m *Manager) Profile() engine.Profile { return m.engine.Profile() }

// ProduceFn yields raw, uncompiled component bytes on a cache miss.
type ProduceFn func(ctx context.Context) ([]byte, error)

// GetComponent is the primary cache manager operation: memory -> disk ->
// singleflight(compile + persist).
func (m *Manager) GetComponent(ctx context.Context, key engine.ArtifactKey, produce ProduceFn) (engine.Component, error) {
	if m.cfg.MemoryEnabled {
		if c, ok := m.memory.Get(key); ok {
			m.metrics.MemoryHits.Inc()
			return c, nil
		}
	}

	if c, ok := m.tryDisk(ctx, key); ok {
		return c, nil
	}

	flightKey := key.EngineProfileID + "::" + key.ContentDigest
	result, err := m.flight.Do(flightKey, func() (interface{}, error) {
		// Re-check both tiers: a concurrent peer may have populated either
		// while this caller waited for the singleflight claim.
		if m.cfg.MemoryEnabled {
			if c, ok := m.memory.Get(key); ok {
				m.metrics.MemoryHits.Inc()
				return c, nil
			}
		}
		if c, ok := m.tryDisk(ctx, key); ok {
			return c, nil
		}

		raw, err := produce(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "cache manager: produce component bytes")
		}
		m.metrics.Compiles.Inc()

		component, err := m.engine.Compile(ctx, raw)
		if err != nil {
			return nil, errors.Wrap(err, "cache manager: compile component")
		}

		if m.cfg.DiskEnabled && m.disk != nil {
			if serialized, serr := component.Serialize(); serr != nil {
				m.log.Warn("cache manager: component serialization failed, skipping disk tier", zap.Error(serr), zap.String("digest", key.ContentDigest))
			} else {
				meta := NewMetadata(m.engine.Profile(), key.ContentDigest, int64(len(serialized)), time.Now().UnixNano())
				if err := m.disk.WriteAtomic(key, serialized, meta); err != nil {
					m.log.Warn("cache manager: failed to persist artifact to disk", zap.Error(err), zap.String("digest", key.ContentDigest))
				}
			}
		}
		if m.cfg.MemoryEnabled {
			m.memory.Insert(key, component, int64(len(raw)), false)
		}
		return component, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(engine.Component), nil
}

// tryDisk reads and deserializes a disk-tier hit. Deserialize failures
// evict the offending entry and report a miss rather than propagating the
// error: a corrupt or stale artifact should fall through to a fresh
// compile, not fail the caller's request.
func (m *Manager) tryDisk(ctx context.Context, key engine.ArtifactKey) (engine.Component, bool) {
	if !m.cfg.DiskEnabled || m.disk == nil {
		return nil, false
	}
	m.metrics.DiskReads.Inc()
	raw, ok := m.disk.TryRead(key)
	if !ok {
		return nil, false
	}
	component, err := m.engine.Deserialize(ctx, raw)
	if err != nil {
		m.log.Warn("cache manager: disk artifact failed to deserialize, evicting", zap.Error(err), zap.String("digest", key.ContentDigest))
		m.disk.Delete(key)
		return nil, false
	}
	m.metrics.DiskHits.Inc()
	if m.cfg.MemoryEnabled {
		m.memory.Insert(key, component, int64(len(raw)), false)
	}
	return component, true
}

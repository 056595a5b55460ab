package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wasmrunner/host/engine"
)

// countingEngine compiles/deserializes into fakeComponents and counts how
// often each path runs.
type countingEngine struct {
	profile      engine.Profile
	compiles     int64
	deserializes int64
	failDeser    bool
}

func (e *countingEngine) Profile() engine.Profile { return e.profile }

func (e *countingEngine) Compile(_ context.Context, raw []byte) (engine.Component, error) {
	atomic.AddInt64(&e.compiles, 1)
	return &fakeComponent{tag: string(raw)}, nil
}

func (e *countingEngine) Deserialize(_ context.Context, serialized []byte) (engine.Component, error) {
	atomic.AddInt64(&e.deserializes, 1)
	if e.failDeser {
		return nil, errors.New("stale artifact")
	}
	return &fakeComponent{tag: string(serialized)}, nil
}

func newTestManager(t *testing.T, eng engine.Engine, disk *DiskCache) *Manager {
	t.Helper()
	return NewManager(eng, disk, NewMetrics(prometheus.NewRegistry()), zap.NewNop(), ManagerConfig{
		DiskEnabled:    disk != nil,
		MemoryEnabled:  true,
		MemoryMaxBytes: 1 << 20,
		LFUProtectHits: 3,
	})
}

func TestManagerSingleflightCompilesOnce(t *testing.T) {
	eng := &countingEngine{profile: testProfile()}
	mgr := newTestManager(t, eng, nil)
	k := engine.NewArtifactKey(testProfile().ID, "sha256:hot")

	var produced int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := mgr.GetComponent(context.Background(), k, func(context.Context) ([]byte, error) {
				atomic.AddInt64(&produced, 1)
				return []byte("bytes"), nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&produced); got != 1 {
		t.Fatalf("produce_bytes_fn ran %d times, want 1", got)
	}
	if snap := mgr.metrics.Snapshot(); snap.Compiles != 1 {
		t.Fatalf("metrics.compiles = %d, want 1", snap.Compiles)
	}
}

func TestManagerMemoryHitSkipsLowerTiers(t *testing.T) {
	eng := &countingEngine{profile: testProfile()}
	mgr := newTestManager(t, eng, nil)
	k := engine.NewArtifactKey(testProfile().ID, "sha256:warm")

	produce := func(context.Context) ([]byte, error) { return []byte("bytes"), nil }
	if _, err := mgr.GetComponent(context.Background(), k, produce); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.GetComponent(context.Background(), k, produce); err != nil {
		t.Fatal(err)
	}

	snap := mgr.metrics.Snapshot()
	if snap.MemoryHits != 1 || snap.Compiles != 1 {
		t.Fatalf("unexpected metrics after warm call: %+v", snap)
	}
}

func TestManagerDiskHitAvoidsRecompile(t *testing.T) {
	disk := newTestDiskCache(t)
	eng := &countingEngine{profile: testProfile()}
	k := engine.NewArtifactKey(testProfile().ID, "sha256:persisted")

	cold := newTestManager(t, eng, disk)
	if _, err := cold.GetComponent(context.Background(), k, func(context.Context) ([]byte, error) {
		return []byte("bytes"), nil
	}); err != nil {
		t.Fatal(err)
	}

	// A fresh manager has an empty memory tier but shares the disk tier.
	warm := newTestManager(t, eng, disk)
	if _, err := warm.GetComponent(context.Background(), k, func(context.Context) ([]byte, error) {
		t.Fatal("produce ran despite a disk hit")
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	snap := warm.metrics.Snapshot()
	if snap.DiskHits != 1 || snap.Compiles != 0 {
		t.Fatalf("unexpected metrics after disk-tier hit: %+v", snap)
	}
	if atomic.LoadInt64(&eng.deserializes) != 1 {
		t.Fatalf("expected one deserialize, got %d", eng.deserializes)
	}
}

func TestManagerEvictsUndeserializableDiskEntry(t *testing.T) {
	disk := newTestDiskCache(t)
	k := engine.NewArtifactKey(testProfile().ID, "sha256:stale")

	seed := newTestManager(t, &countingEngine{profile: testProfile()}, disk)
	if _, err := seed.GetComponent(context.Background(), k, func(context.Context) ([]byte, error) {
		return []byte("bytes"), nil
	}); err != nil {
		t.Fatal(err)
	}

	// An engine that rejects every deserialize simulates a stale artifact;
	// the manager must evict the disk entry and fall through to compile.
	eng := &countingEngine{profile: testProfile(), failDeser: true}
	mgr := newTestManager(t, eng, disk)
	if _, err := mgr.GetComponent(context.Background(), k, func(context.Context) ([]byte, error) {
		return []byte("fresh-bytes"), nil
	}); err != nil {
		t.Fatal(err)
	}

	if atomic.LoadInt64(&eng.compiles) != 1 {
		t.Fatalf("expected exactly one compile after eviction, got %d", eng.compiles)
	}
	count, err := disk.ArtifactCount()
	if err != nil {
		t.Fatal(err)
	}
	// The stale entry was deleted; the fresh compile re-persisted one.
	if count != 1 {
		t.Fatalf("artifact count = %d, want 1", count)
	}
}

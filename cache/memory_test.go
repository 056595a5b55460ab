package cache

import (
	"context"
	"testing"

	"github.com/wasmrunner/host/engine"
)

type fakeComponent struct{ tag string }

func (f *fakeComponent) Serialize() ([]byte, error) { return []byte(f.tag), nil }
func (f *fakeComponent) Invoke(context.Context, string, string, []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeComponent) Describe(context.Context) ([]byte, bool, error) { return nil, false, nil }

func key(digest string) engine.ArtifactKey {
	return engine.ArtifactKey{EngineProfileID: "profile-1", ContentDigest: digest}
}

func TestMemoryCacheEvictionRespectsBudget(t *testing.T) {
	c := NewMemoryCache(10, 3)
	c.Insert(key("a"), &fakeComponent{"a"}, 4, false)
	c.Insert(key("b"), &fakeComponent{"b"}, 4, false)
	c.Insert(key("c"), &fakeComponent{"c"}, 4, false)

	stats := c.Stats()
	if stats.TotalBytes > 10 {
		t.Fatalf("total_bytes exceeds budget: %+v", stats)
	}
	if stats.Evictions == 0 {
		t.Fatalf("expected at least one eviction, got %+v", stats)
	}
}

func TestMemoryCachePinnedNeverEvicted(t *testing.T) {
	c := NewMemoryCache(5, 3)
	c.Insert(key("pinned"), &fakeComponent{"pinned"}, 5, true)
	c.Insert(key("b"), &fakeComponent{"b"}, 5, false)
	c.Insert(key("c"), &fakeComponent{"c"}, 5, false)

	if _, ok := c.Get(key("pinned")); !ok {
		t.Fatal("pinned entry was evicted")
	}
}

func TestMemoryCacheLFUProtection(t *testing.T) {
	c := NewMemoryCache(8, 2)
	c.Insert(key("hot"), &fakeComponent{"hot"}, 4, false)
	// Drive hit_count up to the protect threshold.
	c.Get(key("hot"))
	c.Get(key("hot"))

	c.Insert(key("b"), &fakeComponent{"b"}, 4, false)
	c.Insert(key("c"), &fakeComponent{"c"}, 4, false)

	if _, ok := c.Get(key("hot")); !ok {
		t.Fatal("LFU-protected entry was evicted by the protected pass")
	}
}

func TestMemoryCacheGetMissIncrementsMisses(t *testing.T) {
	c := NewMemoryCache(100, 3)
	if _, ok := c.Get(key("nope")); ok {
		t.Fatal("expected a miss")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("expected one miss, got %+v", c.Stats())
	}
}

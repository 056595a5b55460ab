package cache

import "testing"

func snapshot(digest, op string) ContractSnapshot {
	return ContractSnapshot{
		ResolvedDigest: digest,
		ComponentID:    "comp",
		OperationID:    op,
		DescribeHash:   "sha256:dh",
		SchemaHash:     "sha256:sh",
		InputSchema:    map[string]interface{}{"type": "object"},
	}
}

func TestContractCacheKeyFormat(t *testing.T) {
	got := ContractCacheKey("sha256:d", "comp", "run", true, false)
	want := "sha256:d::comp::run::validate_output=true::strict=false"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
}

func TestContractCacheHitMissCounters(t *testing.T) {
	c := NewContractCache(DefaultContractCacheMaxBytes)
	k := ContractCacheKey("sha256:d", "comp", "run", true, true)

	if _, ok := c.Get(k); ok {
		t.Fatal("expected a miss on the empty cache")
	}
	c.Insert(k, snapshot("sha256:d", "run"))
	if _, ok := c.Get(k); !ok {
		t.Fatal("expected a hit after insert")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestContractCacheEvictsFromLRUBack(t *testing.T) {
	// A budget small enough that only one snapshot fits.
	c := NewContractCache(200)
	c.Insert("old", snapshot("sha256:old", "run"))
	c.Insert("new", snapshot("sha256:new", "run"))

	if _, ok := c.Get("old"); ok {
		t.Fatal("expected the older entry to be evicted")
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatal("expected the newer entry to survive")
	}
	if c.Stats().Evictions == 0 {
		t.Fatalf("expected an eviction, got %+v", c.Stats())
	}
}

func TestContractCacheReplaceSameKeyKeepsOneEntry(t *testing.T) {
	c := NewContractCache(DefaultContractCacheMaxBytes)
	c.Insert("k", snapshot("sha256:a", "run"))
	c.Insert("k", snapshot("sha256:b", "run"))

	snap, ok := c.Get("k")
	if !ok || snap.ResolvedDigest != "sha256:b" {
		t.Fatalf("expected replacement snapshot, got %+v ok=%v", snap, ok)
	}
	if c.Stats().Entries != 1 {
		t.Fatalf("expected one entry, got %+v", c.Stats())
	}
}

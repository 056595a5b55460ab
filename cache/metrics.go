package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics tracks the cache manager's {memory_hits, disk_hits, disk_reads,
// compiles} counters, backed by real Prometheus counters rather than plain
// atomics, so they are scrapeable alongside the rest of the host's metrics.
type Metrics struct {
	MemoryHits prometheus.Counter
	DiskHits   prometheus.Counter
	DiskReads  prometheus.Counter
	Compiles   prometheus.Counter
}

// NewMetrics registers the cache manager's counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MemoryHits: prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_cache_memory_hits_total", Help: "Artifact cache memory-tier hits."}),
		DiskHits:   prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_cache_disk_hits_total", Help: "Artifact cache disk-tier hits."}),
		DiskReads:  prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_cache_disk_reads_total", Help: "Artifact cache disk-tier read attempts."}),
		Compiles:   prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_cache_compiles_total", Help: "Artifact cache cold compiles."}),
	}
	reg.MustRegister(m.MemoryHits, m.DiskHits, m.DiskReads, m.Compiles)
	return m
}

// Snapshot is a point-in-time read of the counters, used by tests.
type Snapshot struct {
	MemoryHits uint64
	DiskHits   uint64
	DiskReads  uint64
	Compiles   uint64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		MemoryHits: counterValue(m.MemoryHits),
		DiskHits:   counterValue(m.DiskHits),
		DiskReads:  counterValue(m.DiskReads),
		Compiles:   counterValue(m.Compiles),
	}
}

func counterValue(c prometheus.Counter) uint64 {
	var metric dto.Metric
	_ = c.Write(&metric)
	if metric.Counter == nil {
		return 0
	}
	return uint64(metric.Counter.GetValue())
}

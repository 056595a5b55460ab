package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics tracks the invocation pipeline's own counters, distinct from the
// cache manager's {memory_hits, disk_hits, disk_reads, compiles}:
// resolve_attempts/resolve_errors/invoke_attempts/invoke_errors/cbor_decode_errors.
type Metrics struct {
	ResolveAttempts  prometheus.Counter
	ResolveErrors    prometheus.Counter
	InvokeAttempts   prometheus.Counter
	InvokeErrors     prometheus.Counter
	CBORDecodeErrors prometheus.Counter
}

// NewMetrics registers the pipeline's counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResolveAttempts:  prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_operator_resolve_attempts_total", Help: "Operator resolution attempts."}),
		ResolveErrors:    prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_operator_resolve_errors_total", Help: "Operator resolution failures."}),
		InvokeAttempts:   prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_operator_invoke_attempts_total", Help: "Component invocation attempts."}),
		InvokeErrors:     prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_operator_invoke_errors_total", Help: "Component invocation failures."}),
		CBORDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "wasmrunner_operator_cbor_decode_errors_total", Help: "Request payload decode failures."}),
	}
	reg.MustRegister(m.ResolveAttempts, m.ResolveErrors, m.InvokeAttempts, m.InvokeErrors, m.CBORDecodeErrors)
	return m
}

// Snapshot is a point-in-time read of the counters, used by tests.
type Snapshot struct {
	ResolveAttempts  uint64
	ResolveErrors    uint64
	InvokeAttempts   uint64
	InvokeErrors     uint64
	CBORDecodeErrors uint64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ResolveAttempts:  counterValue(m.ResolveAttempts),
		ResolveErrors:    counterValue(m.ResolveErrors),
		InvokeAttempts:   counterValue(m.InvokeAttempts),
		InvokeErrors:     counterValue(m.InvokeErrors),
		CBORDecodeErrors: counterValue(m.CBORDecodeErrors),
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

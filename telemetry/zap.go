// Package telemetry implements the collaborators.Telemetry span boundary
// with zap: a span is a log line pair (start/end) carrying elapsed time,
// not a distributed-tracing span. This is the minimal collaborator the
// pipeline can call without caring what backend eventually consumes the
// spans.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ZapTelemetry emits span entry/exit log lines through an injected logger,
// using .With() for scoped fields rather than a package-level global.
type ZapTelemetry struct {
	log *zap.Logger
}

// NewZapTelemetry wraps log as a Telemetry collaborator.
func NewZapTelemetry(log *zap.Logger) *ZapTelemetry {
	return &ZapTelemetry{log: log}
}

// StartSpan logs span entry and returns a closer that logs exit with the
// elapsed duration.
func (t *ZapTelemetry) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	t.log.Debug("span.enter", zap.String("span", name))
	return ctx, func() {
		t.log.Debug("span.exit", zap.String("span", name), zap.Duration("elapsed", time.Since(start)))
	}
}

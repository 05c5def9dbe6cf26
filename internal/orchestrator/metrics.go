package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("proposer/internal/orchestrator")

type instruments struct {
	runs      metric.Int64Counter
	attempts  metric.Int64Counter
	stageTime metric.Float64Histogram
	aggregate metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     instruments
)

// meters builds instruments on the global meter provider, which forwards to
// whatever provider runtime.SetupTelemetry installs.
func meters() *instruments {
	instOnce.Do(func() {
		m := otel.Meter("proposer/internal/orchestrator")
		inst.runs, _ = m.Int64Counter("proposer_runs_total",
			metric.WithDescription("Finished runs by outcome"))
		inst.attempts, _ = m.Int64Counter("proposer_agent_attempts_total",
			metric.WithDescription("Agent invocations by role and result"))
		inst.stageTime, _ = m.Float64Histogram("proposer_stage_duration_seconds",
			metric.WithDescription("Wall time per stage"), metric.WithUnit("s"))
		inst.aggregate, _ = m.Float64Histogram("proposer_score_aggregate",
			metric.WithDescription("Aggregate evaluation scores"))
	})
	return &inst
}

func (i *instruments) run(ctx context.Context, outcome Outcome) {
	if i.runs != nil {
		i.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
}

func (i *instruments) attempt(ctx context.Context, role string, ok bool) {
	if i.attempts == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	i.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role), attribute.String("result", result)))
}

func (i *instruments) stage(ctx context.Context, stage string, started time.Time) {
	if i.stageTime != nil {
		i.stageTime.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (i *instruments) score(ctx context.Context, v float64) {
	if i.aggregate != nil {
		i.aggregate.Record(ctx, v)
	}
}

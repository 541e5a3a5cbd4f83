package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SchedulerMetrics bundles the counters recorded by the work-stealing
// scheduler. A nil *SchedulerMetrics is a valid no-op receiver so the
// scheduler can run without telemetry wired in.
type SchedulerMetrics struct {
	contextsSpawned   metric.Int64Counter
	contextsCompleted metric.Int64Counter
	stealAttempts     metric.Int64Counter
	stealHits         metric.Int64Counter
	sleeps            metric.Int64Counter
	wakeups           metric.Int64Counter
}

// NewSchedulerMetrics registers the scheduler instruments on the given meter.
func NewSchedulerMetrics(meter metric.Meter) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{}
	var err error
	if m.contextsSpawned, err = meter.Int64Counter("mill_contexts_spawned_total",
		metric.WithDescription("Contexts handed to the scheduler")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.contextsCompleted, err = meter.Int64Counter("mill_contexts_completed_total",
		metric.WithDescription("Contexts run to completion")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.stealAttempts, err = meter.Int64Counter("mill_steal_attempts_total",
		metric.WithDescription("Steal attempts across all engines")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.stealHits, err = meter.Int64Counter("mill_steal_hits_total",
		metric.WithDescription("Steal attempts that found work")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.sleeps, err = meter.Int64Counter("mill_engine_sleeps_total",
		metric.WithDescription("Engine transitions into the sleeping state")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.wakeups, err = meter.Int64Counter("mill_engine_wakeups_total",
		metric.WithDescription("Sleeping engines woken, by notification kind")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	return m, nil
}

func (m *SchedulerMetrics) ContextSpawned(ctx context.Context) {
	if m != nil {
		m.contextsSpawned.Add(ctx, 1)
	}
}

func (m *SchedulerMetrics) ContextCompleted(ctx context.Context) {
	if m != nil {
		m.contextsCompleted.Add(ctx, 1)
	}
}

func (m *SchedulerMetrics) StealAttempt(ctx context.Context) {
	if m != nil {
		m.stealAttempts.Add(ctx, 1)
	}
}

func (m *SchedulerMetrics) StealHit(ctx context.Context) {
	if m != nil {
		m.stealHits.Add(ctx, 1)
	}
}

func (m *SchedulerMetrics) Sleep(ctx context.Context) {
	if m != nil {
		m.sleeps.Add(ctx, 1)
	}
}

// Wakeup records one sleeping engine woken, labelled with the notification
// kind that woke it ("context", "context_advice", "worksteal_advice",
// "shutdown").
func (m *SchedulerMetrics) Wakeup(ctx context.Context, kind string) {
	if m != nil {
		m.wakeups.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// STMMetrics bundles the counters recorded by the STM engine. As with
// SchedulerMetrics, a nil receiver is a valid no-op.
type STMMetrics struct {
	commits   metric.Int64Counter
	conflicts metric.Int64Counter
	waits     metric.Int64Counter
}

// NewSTMMetrics registers the STM instruments on the given meter.
func NewSTMMetrics(meter metric.Meter) (*STMMetrics, error) {
	m := &STMMetrics{}
	var err error
	if m.commits, err = meter.Int64Counter("mill_stm_commits_total",
		metric.WithDescription("Transactions committed")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.conflicts, err = meter.Int64Counter("mill_stm_conflicts_total",
		metric.WithDescription("Validation failures forcing a transaction restart")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.waits, err = meter.Int64Counter("mill_stm_waits_total",
		metric.WithDescription("Transactions blocked on retry")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	return m, nil
}

func (m *STMMetrics) Commit(ctx context.Context) {
	if m != nil {
		m.commits.Add(ctx, 1)
	}
}

func (m *STMMetrics) Conflict(ctx context.Context) {
	if m != nil {
		m.conflicts.Add(ctx, 1)
	}
}

func (m *STMMetrics) Wait(ctx context.Context) {
	if m != nil {
		m.waits.Add(ctx, 1)
	}
}

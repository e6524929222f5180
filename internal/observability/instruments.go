package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every cifleet instrument.
const MeterName = "cifleet"

type instruments struct {
	reminders   metric.Int64Counter
	reclaims    metric.Int64Counter
	transitions metric.Int64Counter
	zombies     metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     instruments
)

// The global meter delegates to the provider installed by InitMetrics, so
// instruments may be created before it runs. Creation errors leave a no-op
// instrument.
func get() *instruments {
	instOnce.Do(func() {
		meter := otel.Meter(MeterName)
		inst.reminders, _ = meter.Int64Counter("cifleet.debug.reminders",
			metric.WithDescription("Debug expiry reminders by threshold and outcome"))
		inst.reclaims, _ = meter.Int64Counter("cifleet.debug.reclaims",
			metric.WithDescription("Debug sessions reclaimed, by trigger and outcome"))
		inst.transitions, _ = meter.Int64Counter("cifleet.node.transitions",
			metric.WithDescription("Node lifecycle transitions by target state"))
		inst.zombies, _ = meter.Int64Counter("cifleet.zombies.cleaned",
			metric.WithDescription("Zombie pods cleaned by the sweeper"))
	})
	return &inst
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "ok")
}

// RecordReminder counts one reminder attempt for a threshold in hours.
func RecordReminder(ctx context.Context, thresholdHours int, err error) {
	if c := get().reminders; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.Int("threshold_hours", thresholdHours), outcome(err)))
	}
}

// RecordReclaim counts one reclaim. trigger is "expired" or "manual".
func RecordReclaim(ctx context.Context, trigger string, err error) {
	if c := get().reclaims; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger), outcome(err)))
	}
}

// RecordNodeTransition counts a node moving to status.
func RecordNodeTransition(ctx context.Context, status string, err error) {
	if c := get().transitions; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status), outcome(err)))
	}
}

// RecordZombies counts pods cleaned by one sweep.
func RecordZombies(ctx context.Context, n int) {
	if c := get().zombies; c != nil && n > 0 {
		c.Add(ctx, int64(n))
	}
}

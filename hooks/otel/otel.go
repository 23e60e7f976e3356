// Package otelhooks records querykit events as OpenTelemetry metrics.
//
// Keys are reduced to their first segment (the resource family) before they
// become attributes, so cardinality stays bounded by the number of toolkits.
package otelhooks

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/querykit"
)

// Hooks implements querykit.Hooks on top of a metric.Meter.
type Hooks struct {
	fetchTotal     metric.Int64Counter
	fetchErrors    metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	inFlight       metric.Int64UpDownCounter
	removed        metric.Int64Counter
	mutationTotal  metric.Int64Counter
	mutationErrors metric.Int64Counter
	mutationDur    metric.Float64Histogram
	selfHeals      metric.Int64Counter
	setRejected    metric.Int64Counter
	genErrors      metric.Int64Counter
}

var _ querykit.Hooks = (*Hooks)(nil)

func New(meter metric.Meter) (*Hooks, error) {
	h := &Hooks{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&h.fetchTotal, "querykit.fetch.total", "Resolver runs", "{call}"},
		{&h.fetchErrors, "querykit.fetch.errors", "Resolver runs that failed after retries", "{error}"},
		{&h.removed, "querykit.query.removed", "Entries removed from the query cache", "{entry}"},
		{&h.mutationTotal, "querykit.mutation.total", "Settled mutations", "{call}"},
		{&h.mutationErrors, "querykit.mutation.errors", "Failed mutations", "{error}"},
		{&h.selfHeals, "querykit.persist.self_heals", "Persisted frames deleted on read", "{entry}"},
		{&h.setRejected, "querykit.persist.set_rejected", "Persisted writes rejected by the provider", "{entry}"},
		{&h.genErrors, "querykit.gen.errors", "Generation store failures", "{error}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("otelhooks: %s: %w", c.name, err)
		}
	}

	h.inFlight, err = meter.Int64UpDownCounter(
		"querykit.fetch.in_flight",
		metric.WithDescription("Resolvers currently running"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}
	h.fetchDuration, err = meter.Float64Histogram(
		"querykit.fetch.duration_ms",
		metric.WithDescription("Fetch duration including retries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	h.mutationDur, err = meter.Float64Histogram(
		"querykit.mutation.duration_ms",
		metric.WithDescription("Mutation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func family(key querykit.Key) attribute.KeyValue {
	if len(key) == 0 {
		return attribute.String("query.family", "")
	}
	return attribute.String("query.family", fmt.Sprint(key[0]))
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (h *Hooks) FetchStarted(key querykit.Key) {
	ctx := context.Background()
	opt := metric.WithAttributes(family(key))
	h.fetchTotal.Add(ctx, 1, opt)
	h.inFlight.Add(ctx, 1, opt)
}

func (h *Hooks) FetchSettled(key querykit.Key, took time.Duration, err error) {
	ctx := context.Background()
	opt := metric.WithAttributes(family(key))
	h.inFlight.Add(ctx, -1, opt)
	if err != nil {
		h.fetchErrors.Add(ctx, 1, opt)
	}
	h.fetchDuration.Record(ctx, ms(took), opt)
}

func (h *Hooks) QueryRemoved(key querykit.Key, reason string) {
	h.removed.Add(context.Background(), 1, metric.WithAttributes(family(key), attribute.String("reason", reason)))
}

func (h *Hooks) MutationSettled(key querykit.Key, took time.Duration, err error) {
	ctx := context.Background()
	opt := metric.WithAttributes(family(key))
	h.mutationTotal.Add(ctx, 1, opt)
	if err != nil {
		h.mutationErrors.Add(ctx, 1, opt)
	}
	h.mutationDur.Record(ctx, ms(took), opt)
}

// Storage keys are hashed already; only the reason is recorded.
func (h *Hooks) PersistSelfHeal(_ string, reason string) {
	h.selfHeals.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (h *Hooks) PersistSetRejected(string) {
	h.setRejected.Add(context.Background(), 1)
}

func (h *Hooks) GenError(op, _ string, _ error) {
	h.genErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

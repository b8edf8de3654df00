package store

import (
	"context"

	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/metrics"
)

// instrumented decorates any Backend with the latency and error counters
// from pkg/metrics, so every implementation (memory, embedded, redis) gets
// the same observability without duplicating timer bookkeeping three times.
type instrumented struct {
	backend Backend
	name    string
}

// Instrument wraps backend so its operations report to
// StoreOperationDuration and StoreOperationErrorsTotal under the given
// backend name (e.g. "memory", "embedded-kv", "redis").
func Instrument(backend Backend, name string) Backend {
	return &instrumented{backend: backend, name: name}
}

func (i *instrumented) observe(op string, err error, timer *metrics.Timer) {
	timer.ObserveDurationVec(metrics.StoreOperationDuration, i.name, op)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(i.name, op).Inc()
	}
}

func (i *instrumented) Save(ctx context.Context, inc *incident.Incident) error {
	timer := metrics.NewTimer()
	err := i.backend.Save(ctx, inc)
	i.observe("save", err, timer)
	return err
}

func (i *instrumented) Get(ctx context.Context, id string) (*incident.Incident, error) {
	timer := metrics.NewTimer()
	inc, err := i.backend.Get(ctx, id)
	i.observe("get", err, timer)
	return inc, err
}

func (i *instrumented) Update(ctx context.Context, inc *incident.Incident) error {
	timer := metrics.NewTimer()
	err := i.backend.Update(ctx, inc)
	i.observe("update", err, timer)
	return err
}

func (i *instrumented) Delete(ctx context.Context, id string) error {
	timer := metrics.NewTimer()
	err := i.backend.Delete(ctx, id)
	i.observe("delete", err, timer)
	return err
}

func (i *instrumented) List(ctx context.Context, filter Filter, page Page) ([]*incident.Incident, error) {
	timer := metrics.NewTimer()
	incidents, err := i.backend.List(ctx, filter, page)
	i.observe("list", err, timer)
	return incidents, err
}

func (i *instrumented) Count(ctx context.Context, filter Filter) (int, error) {
	timer := metrics.NewTimer()
	count, err := i.backend.Count(ctx, filter)
	i.observe("count", err, timer)
	return count, err
}

func (i *instrumented) FindByFingerprint(ctx context.Context, fp incident.Fingerprint) ([]*incident.Incident, error) {
	timer := metrics.NewTimer()
	incidents, err := i.backend.FindByFingerprint(ctx, fp)
	i.observe("find_by_fingerprint", err, timer)
	return incidents, err
}

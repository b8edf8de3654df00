// Package dedup implements the fingerprint deduplication window from
// spec.md §4.3: given an incoming alert, find an active incident sharing
// its fingerprint that was created inside the configured window.
package dedup

import (
	"context"
	"time"

	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/store"
)

// Deduplicator holds no state of its own — every lookup goes straight to
// the Store's fingerprint index, so the window is just a query predicate
// rather than a separately maintained cache.
type Deduplicator struct {
	backend    store.Backend
	windowSecs int
}

func New(backend store.Backend, windowSecs int) *Deduplicator {
	return &Deduplicator{backend: backend, windowSecs: windowSecs}
}

// Match returns the active incident that an alert with the given
// fingerprint should merge into, or nil if none qualifies (spec.md §4.3
// tie-break rules 1-3). now is passed explicitly so tests can simulate
// window expiry without sleeping.
func (d *Deduplicator) Match(ctx context.Context, fp incident.Fingerprint, now time.Time) (*incident.Incident, error) {
	candidates, err := d.backend.FindByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-time.Duration(d.windowSecs) * time.Second)
	var best *incident.Incident
	for _, cand := range candidates {
		if !cand.State.IsActive() {
			continue
		}
		if cand.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil {
			best = cand
			continue
		}
		best = laterOf(best, cand)
	}
	return best, nil
}

// laterOf implements tie-break rules 2-3: most-recent creation wins; ties
// at one-second resolution break by identifier lexical order.
func laterOf(a, b *incident.Incident) *incident.Incident {
	at := a.CreatedAt.Truncate(time.Second)
	bt := b.CreatedAt.Truncate(time.Second)
	if at.After(bt) {
		return a
	}
	if bt.After(at) {
		return b
	}
	if a.ID < b.ID {
		return a
	}
	return b
}

package processor

import (
	"context"
	"testing"
	"time"

	"github.com/sentrygrid/incidentops/pkg/alert"
	"github.com/sentrygrid/incidentops/pkg/broadcaster"
	"github.com/sentrygrid/incidentops/pkg/circuitbreaker"
	"github.com/sentrygrid/incidentops/pkg/correlator"
	"github.com/sentrygrid/incidentops/pkg/dedup"
	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/ratelimit"
	"github.com/sentrygrid/incidentops/pkg/shared/logging"
	"github.com/sentrygrid/incidentops/pkg/store"
)

type recordingPublisher struct {
	events []broadcaster.Event
}

func (p *recordingPublisher) Publish(event broadcaster.Event) {
	p.events = append(p.events, event)
}

type recordingEscalator struct {
	started []string
}

func (e *recordingEscalator) StartByRef(incidentID, policyRef string, now time.Time) {
	e.started = append(e.started, incidentID)
}

func newTestProcessor() (*Processor, store.Backend, *recordingPublisher) {
	backend := store.NewMemory()
	breaker := circuitbreaker.New("storage.primary", circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		TimeoutDuration:     time.Second,
		HalfOpenMaxRequests: 1,
	}, nil)
	limiter := ratelimit.New(ratelimit.Config{Capacity: 100, RefillInterval: time.Second, RefillAmount: 10})
	deduper := dedup.New(backend, 900)
	corr := correlator.New()
	pub := &recordingPublisher{}

	p := New(backend, breaker, limiter, deduper, corr, correlator.DefaultConfig(), pub, nil, logging.NewNop())
	return p, backend, pub
}

func validRequest() alert.Request {
	return alert.Request{
		Source:           "sentinel",
		Title:            "High CPU",
		Description:      "cpu pegged",
		Severity:         "P1",
		Type:             "cpu.high",
		AffectedServices: []string{"api"},
	}
}

func TestProcessAcceptsNewAlert(t *testing.T) {
	p, backend, pub := newTestProcessor()
	ctx := context.Background()
	now := time.Now()

	ack, err := p.Process(ctx, validRequest(), now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if ack.Status != AckAccepted {
		t.Fatalf("expected Accepted, got %s (%s)", ack.Status, ack.Message)
	}
	count, _ := backend.Count(ctx, store.Filter{})
	if count != 1 {
		t.Fatalf("expected 1 incident in store, got %d", count)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
}

func TestProcessRejectsInvalidRequest(t *testing.T) {
	p, _, _ := newTestProcessor()
	req := validRequest()
	req.Source = ""

	ack, err := p.Process(context.Background(), req, time.Now())
	if err != nil {
		t.Fatalf("process should not return a transport error for rejected input: %v", err)
	}
	if ack.Status != AckRejected {
		t.Fatalf("expected Rejected, got %s", ack.Status)
	}
}

func TestProcessDeduplicatesWithinWindow(t *testing.T) {
	p, backend, _ := newTestProcessor()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	first, err := p.Process(ctx, validRequest(), base)
	if err != nil || first.Status != AckAccepted {
		t.Fatalf("expected first alert accepted, got %+v err=%v", first, err)
	}

	second, err := p.Process(ctx, validRequest(), base.Add(600*time.Second))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if second.Status != AckDuplicate {
		t.Fatalf("expected Duplicate, got %s", second.Status)
	}
	if second.IncidentID != first.IncidentID {
		t.Fatalf("expected duplicate to reference the original incident")
	}

	count, _ := backend.Count(ctx, store.Filter{})
	if count != 1 {
		t.Fatalf("expected store.count() == 1 after dedup merge, got %d", count)
	}
}

func TestProcessCreatesSecondIncidentOutsideWindow(t *testing.T) {
	p, backend, _ := newTestProcessor()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	first, _ := p.Process(ctx, validRequest(), base)
	second, err := p.Process(ctx, validRequest(), base.Add(1000*time.Second))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if second.Status != AckAccepted {
		t.Fatalf("expected Accepted outside the dedup window, got %s", second.Status)
	}
	if second.IncidentID == first.IncidentID {
		t.Fatalf("expected a distinct incident id outside the window")
	}

	count, _ := backend.Count(ctx, store.Filter{})
	if count != 2 {
		t.Fatalf("expected store.count() == 2, got %d", count)
	}
}

// TestProcessLeavesExactlyOneFingerprintedIncident verifies spec.md
// invariant 1: for every alert processed successfully, exactly one
// incident exists in the Store afterwards with the alert's fingerprint in
// the Store's fingerprint index.
func TestProcessLeavesExactlyOneFingerprintedIncident(t *testing.T) {
	p, backend, _ := newTestProcessor()
	ctx := context.Background()
	req := validRequest()

	ack, err := p.Process(ctx, req, time.Now())
	if err != nil || ack.Status != AckAccepted {
		t.Fatalf("expected accepted alert, got %+v err=%v", ack, err)
	}

	fp := incident.ComputeFingerprint(req.Source, req.Type, req.Title, req.AffectedServices)
	matches, err := backend.FindByFingerprint(ctx, fp)
	if err != nil {
		t.Fatalf("find by fingerprint: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one incident with the alert's fingerprint, got %d", len(matches))
	}
	if matches[0].ID != ack.IncidentID {
		t.Fatalf("fingerprint index points at %s, expected %s", matches[0].ID, ack.IncidentID)
	}
}

func TestProcessRateLimitsExhaustedSource(t *testing.T) {
	backend := store.NewMemory()
	breaker := circuitbreaker.New("storage.primary", circuitbreaker.Config{
		FailureThreshold: 5, SuccessThreshold: 2, TimeoutDuration: time.Second, HalfOpenMaxRequests: 1,
	}, nil)
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1, RefillInterval: time.Hour, RefillAmount: 1})
	deduper := dedup.New(backend, 900)
	corr := correlator.New()
	p := New(backend, breaker, limiter, deduper, corr, correlator.DefaultConfig(), &recordingPublisher{}, nil, logging.NewNop())

	now := time.Now()
	if _, err := p.Process(context.Background(), validRequest(), now); err != nil {
		t.Fatalf("process: %v", err)
	}
	ack, err := p.Process(context.Background(), validRequest(), now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if ack.Status != AckRateLimited {
		t.Fatalf("expected RateLimited on second call within the same tick, got %s", ack.Status)
	}
}

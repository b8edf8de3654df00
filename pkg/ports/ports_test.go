package ports

import (
	"context"
	"testing"
	"time"

	"github.com/sentrygrid/incidentops/pkg/alert"
	"github.com/sentrygrid/incidentops/pkg/broadcaster"
	"github.com/sentrygrid/incidentops/pkg/circuitbreaker"
	"github.com/sentrygrid/incidentops/pkg/correlator"
	"github.com/sentrygrid/incidentops/pkg/dedup"
	"github.com/sentrygrid/incidentops/pkg/processor"
	"github.com/sentrygrid/incidentops/pkg/ratelimit"
	"github.com/sentrygrid/incidentops/pkg/shared/logging"
	"github.com/sentrygrid/incidentops/pkg/store"
)

func TestProcessorSatisfiesIngressPort(t *testing.T) {
	backend := store.NewMemory()
	breaker := circuitbreaker.New("test", circuitbreaker.Config{
		FailureThreshold: 5, SuccessThreshold: 2, TimeoutDuration: time.Second, HalfOpenMaxRequests: 1,
	}, nil)
	limiter := ratelimit.New(ratelimit.Config{Capacity: 100, RefillInterval: time.Second, RefillAmount: 10})
	bcaster := broadcaster.New(broadcaster.Config{ChannelCapacity: 16, SessionQueueCap: 16})
	defer bcaster.Close()

	var ingress IngressPort = processor.New(
		backend, breaker, limiter, dedup.New(backend, 900), correlator.New(), correlator.DefaultConfig(),
		bcaster, noopEscalator{}, logging.NewNop(),
	)

	ack, err := ingress.Process(context.Background(), alert.Request{
		Source: "sentinel", Type: "cpu.high", Title: "High CPU", Severity: "P2",
	}, time.Now())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if ack.Status == "" {
		t.Fatalf("expected a non-empty ack status")
	}

	var query QueryPort = backend
	if _, err := query.Count(context.Background(), store.Filter{}); err != nil {
		t.Fatalf("count: %v", err)
	}

	var stream EventStream = bcaster
	session := stream.Subscribe(broadcaster.Filter{}, time.Now())
	stream.Heartbeat(session.ID, time.Now())
	stream.Unsubscribe(session.ID)
}

type noopEscalator struct{}

func (noopEscalator) StartByRef(incidentID string, policyRef string, now time.Time) {}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/sentrygrid/incidentops/pkg/incident"
)

func TestInstrumentDelegatesToUnderlyingBackend(t *testing.T) {
	backend := Instrument(NewMemory(), "memory")
	ctx := context.Background()

	inc := incident.New("sentinel", "cpu.high", "High CPU", "desc", incident.P1, []string{"api"}, nil, time.Now())
	if err := backend.Save(ctx, inc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := backend.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != inc.ID {
		t.Fatalf("expected round-tripped incident, got %+v", got)
	}

	count, err := backend.Count(ctx, Filter{})
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d err=%v", count, err)
	}

	if err := backend.Delete(ctx, inc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := backend.Get(ctx, inc.ID); err == nil {
		t.Fatalf("expected error fetching a deleted incident")
	}
}

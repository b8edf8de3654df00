package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/shared/logging"
	"github.com/sentrygrid/incidentops/pkg/store"
)

var errBoom = errors.New("boom")

type stubNotifier struct {
	calls []Level
	err   error
}

func (s *stubNotifier) Notify(incidentID string, level Level) error {
	s.calls = append(s.calls, level)
	return s.err
}

func onCallPolicy() Policy {
	return Policy{
		Ref: "default",
		Levels: []Level{
			{Targets: []string{"oncall@x"}, Delay: 5 * time.Minute},
			{Targets: []string{"manager@x"}, Delay: 10 * time.Minute},
		},
	}
}

// seedIncident saves a minimal incident under id so tests can exercise the
// engine's timeline-append side effect.
func seedIncident(t *testing.T, backend store.Backend, id string, now time.Time) {
	t.Helper()
	inc := incident.New("sentinel", "cpu.high", "High CPU", "desc", incident.P1, []string{"api"}, nil, now)
	inc.ID = id
	if err := backend.Save(context.Background(), inc); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
}

func TestScenarioEEscalationAcknowledged(t *testing.T) {
	notifier := &stubNotifier{}
	backend := store.NewMemory()
	base := time.Unix(0, 0)
	seedIncident(t, backend, "inc-1", base)
	engine := New(notifier, backend, logging.NewNop())
	engine.RegisterPolicy(onCallPolicy())

	engine.StartByRef("inc-1", "default", base)

	engine.Tick(base)
	state, ok := engine.Snapshot("inc-1")
	if !ok {
		t.Fatalf("expected tracked state")
	}
	if state.CurrentLevel != 1 {
		t.Fatalf("expected advance to level 1 after first tick, got %d", state.CurrentLevel)
	}
	if !state.HasNextEscalation || !state.NextEscalationAt.Equal(base.Add(5*time.Minute)) {
		t.Fatalf("expected next escalation at t+5min, got %+v", state)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected level 0 notified once, got %d", len(notifier.calls))
	}

	stored, err := backend.Get(context.Background(), "inc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Timeline) != 2 || stored.Timeline[1].Kind != incident.EventEscalated {
		t.Fatalf("expected a second Escalated timeline entry, got %+v", stored.Timeline)
	}

	ackAt := base.Add(2 * time.Minute)
	engine.Acknowledge("inc-1", "oncall@x", ackAt)

	state, _ = engine.Snapshot("inc-1")
	if state.Status != StatusAcknowledged || !state.Acknowledged {
		t.Fatalf("expected Acknowledged status, got %+v", state)
	}
	if state.HasNextEscalation {
		t.Fatalf("expected next_escalation_at cleared after acknowledgement")
	}

	engine.Tick(base.Add(10 * time.Minute))
	if len(notifier.calls) != 1 {
		t.Fatalf("expected no further escalation after acknowledgement, got %d calls", len(notifier.calls))
	}
}

func TestConcurrentAcknowledgementsCollapseToOne(t *testing.T) {
	notifier := &stubNotifier{}
	backend := store.NewMemory()
	base := time.Unix(0, 0)
	seedIncident(t, backend, "inc-2", base)
	engine := New(notifier, backend, logging.NewNop())
	engine.RegisterPolicy(onCallPolicy())
	engine.StartByRef("inc-2", "default", base)

	first := base.Add(time.Minute)
	second := base.Add(2 * time.Minute)
	engine.Acknowledge("inc-2", "first@x", first)
	engine.Acknowledge("inc-2", "second@x", second)

	state, _ := engine.Snapshot("inc-2")
	if state.AcknowledgedBy != "first@x" {
		t.Fatalf("expected the first acknowledgement to win, got %q", state.AcknowledgedBy)
	}
}

func TestRepeatResetsToLevelZero(t *testing.T) {
	notifier := &stubNotifier{}
	backend := store.NewMemory()
	base := time.Unix(0, 0)
	seedIncident(t, backend, "inc-3", base)
	engine := New(notifier, backend, logging.NewNop())
	policy := Policy{
		Ref: "repeat",
		Levels: []Level{
			{Targets: []string{"oncall@x"}, Delay: time.Minute},
		},
		RepeatEnabled: true,
		MaxRepeats:    2,
	}
	engine.RegisterPolicy(policy)
	engine.StartByRef("inc-3", "repeat", base)

	engine.Tick(base)
	state, _ := engine.Snapshot("inc-3")
	if state.CurrentLevel != 0 || state.RepeatCount != 1 {
		t.Fatalf("expected repeat to reset to level 0 with repeat_count=1, got %+v", state)
	}

	engine.Tick(base.Add(time.Minute))
	state, _ = engine.Snapshot("inc-3")
	if state.RepeatCount != 2 {
		t.Fatalf("expected repeat_count=2, got %d", state.RepeatCount)
	}

	engine.Tick(base.Add(2 * time.Minute))
	state, _ = engine.Snapshot("inc-3")
	if state.Status != StatusCompleted {
		t.Fatalf("expected Completed after max_repeats exhausted, got %s", state.Status)
	}
}

func TestNotificationFailureRecordedButAdvances(t *testing.T) {
	notifier := &stubNotifier{err: errBoom}
	backend := store.NewMemory()
	base := time.Unix(0, 0)
	seedIncident(t, backend, "inc-4", base)
	engine := New(notifier, backend, logging.NewNop())
	engine.RegisterPolicy(onCallPolicy())
	engine.StartByRef("inc-4", "default", base)

	engine.Tick(base)
	state, _ := engine.Snapshot("inc-4")
	if len(state.History) != 1 || state.History[0].Success {
		t.Fatalf("expected one failed notification record, got %+v", state.History)
	}
	if state.CurrentLevel != 1 {
		t.Fatalf("expected escalation to advance despite notification failure, got level %d", state.CurrentLevel)
	}
}

func TestCancelStopsFurtherTicks(t *testing.T) {
	notifier := &stubNotifier{}
	backend := store.NewMemory()
	base := time.Unix(0, 0)
	seedIncident(t, backend, "inc-5", base)
	engine := New(notifier, backend, logging.NewNop())
	engine.RegisterPolicy(onCallPolicy())
	engine.StartByRef("inc-5", "default", base)

	engine.Cancel("inc-5", base.Add(time.Minute))
	state, ok := engine.Snapshot("inc-5")
	if !ok {
		t.Fatalf("expected tracked state")
	}
	if state.Status != StatusCancelled || state.HasNextEscalation {
		t.Fatalf("expected Cancelled status with no further escalation, got %+v", state)
	}

	engine.Tick(base.Add(10 * time.Minute))
	if len(notifier.calls) != 0 {
		t.Fatalf("expected no notifications after cancellation, got %d", len(notifier.calls))
	}
}

package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

func testConfig() Config {
	return Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		TimeoutDuration:       20 * time.Millisecond,
		HalfOpenMaxRequests:   2,
		CountTimeoutAsFailure: true,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("downstream-a", testConfig(), nil)
	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 5; i++ {
		_, _ = b.Call(failing)
	}

	snap := b.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected Open after 5 consecutive failures, got %s", snap.State)
	}
	if snap.ConsecutiveFailures != 5 {
		t.Fatalf("expected the trip to be reported as 5 consecutive failures, got %d", snap.ConsecutiveFailures)
	}

	_, err := b.Call(func() (interface{}, error) { return "unreachable", nil })
	if !apperrors.IsType(err, apperrors.ErrorTypeCircuitOpen) {
		t.Fatalf("expected CircuitOpen fast-fail, got %v", err)
	}
}

func TestBreakerHalfOpensThenCloses(t *testing.T) {
	b := New("downstream-b", testConfig(), nil)
	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	succeeding := func() (interface{}, error) { return "ok", nil }

	for i := 0; i < 5; i++ {
		_, _ = b.Call(failing)
	}
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected Open before timeout elapses")
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := b.Call(succeeding); err != nil {
		t.Fatalf("expected first half-open probe to run, got %v", err)
	}
	if b.Snapshot().State != StateHalfOpen {
		t.Fatalf("expected HalfOpen after one success, got %s", b.Snapshot().State)
	}

	if _, err := b.Call(succeeding); err != nil {
		t.Fatalf("expected second half-open probe to run, got %v", err)
	}
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected Closed after success_threshold probes succeed, got %s", b.Snapshot().State)
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := New("downstream-c", testConfig(), nil)
	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 5; i++ {
		_, _ = b.Call(failing)
	}
	time.Sleep(30 * time.Millisecond)

	_, _ = b.Call(failing)
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected a failed half-open probe to reopen the breaker, got %s", b.Snapshot().State)
	}
}

func TestBreakerTimeoutNotCountedWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.CountTimeoutAsFailure = false
	b := New("downstream-d", cfg, nil)

	timingOut := func() (interface{}, error) {
		return nil, apperrors.NewTimeoutError("downstream-d")
	}
	for i := 0; i < 10; i++ {
		_, _ = b.Call(timingOut)
	}
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected timeouts to be excluded from trip counting, got %s", b.Snapshot().State)
	}
}

func TestRegistryFirstWriterWins(t *testing.T) {
	reg := NewRegistry(nil)
	first := reg.GetOrCreate("svc", Config{FailureThreshold: 5, SuccessThreshold: 2, TimeoutDuration: time.Second, HalfOpenMaxRequests: 1})
	second := reg.GetOrCreate("svc", Config{FailureThreshold: 1, SuccessThreshold: 1, TimeoutDuration: time.Hour, HalfOpenMaxRequests: 1})

	if first != second {
		t.Fatalf("expected the same breaker instance for repeated names")
	}
}

func TestCallWithFallbackGeneric(t *testing.T) {
	b := New("downstream-e", testConfig(), nil)
	for i := 0; i < 5; i++ {
		_, _ = Call(b, func() (string, error) { return "", errors.New("boom") })
	}

	result := CallWithFallback(b, func() (string, error) {
		return "primary", nil
	}, func() string {
		return "fallback"
	})
	if result != "fallback" {
		t.Fatalf("expected fallback value while circuit is open, got %q", result)
	}
}

func TestTransitionCallbackFires(t *testing.T) {
	var transitions []Transition
	b := New("downstream-f", testConfig(), func(tr Transition) {
		transitions = append(transitions, tr)
	})
	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 5; i++ {
		_, _ = b.Call(failing)
	}

	if len(transitions) != 1 || transitions[0].To != StateOpen {
		t.Fatalf("expected one Closed->Open transition recorded, got %+v", transitions)
	}
}

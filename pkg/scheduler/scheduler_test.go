package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentrygrid/incidentops/pkg/shared/logging"
)

func TestRegisterDisabledJobIsTrackedButNeverRuns(t *testing.T) {
	s := New(logging.NewNop())
	var ran atomic.Bool
	err := s.Register(Job{
		Name:     "cleanup",
		Schedule: "*/1 * * * * *",
		Enabled:  false,
		Run: func(ctx context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := s.Record("cleanup"); !ok {
		t.Fatalf("expected disabled job to still have a tracked record")
	}

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop(context.Background())
	if ran.Load() {
		t.Fatalf("expected disabled job to never run")
	}
}

func TestRunJobRecordsSuccessAndFailure(t *testing.T) {
	s := New(logging.NewNop())
	var calls int32
	job := Job{
		Name:     "stale-detection",
		Schedule: "@every 1h",
		Enabled:  true,
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return errors.New("boom")
			}
			return nil
		},
	}
	if err := s.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runJob(job)
	rec, _ := s.Record("stale-detection")
	if rec.RunCount != 1 || rec.FailureCount != 1 || rec.SuccessCount != 0 {
		t.Fatalf("expected 1 failed run, got %+v", rec)
	}

	s.runJob(job)
	rec, _ = s.Record("stale-detection")
	if rec.RunCount != 2 || rec.SuccessCount != 1 {
		t.Fatalf("expected second run to succeed, got %+v", rec)
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := New(logging.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})
	var runCount int32

	job := Job{
		Name:     "long-job",
		Schedule: "@every 1h",
		Enabled:  true,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runCount, 1)
			close(started)
			<-release
			return nil
		},
	}
	_ = s.Register(job)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runJob(job)
	}()

	<-started
	s.runJob(job) // overlapping call should be skipped, not queued
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&runCount) != 1 {
		t.Fatalf("expected overlapping run to be skipped, got %d runs", runCount)
	}
}

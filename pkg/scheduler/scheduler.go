// Package scheduler runs the cron-driven periodic jobs from spec.md §4.8:
// cleanup, stale-active detection, correlation-rule refresh, external sync,
// model refresh, and report rollup. It wraps robfig/cron/v3, the scheduler
// library the rest of the retrieved pack reaches for.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/go-logr/logr"

	"github.com/sentrygrid/incidentops/pkg/metrics"
)

// Job is one named, schedulable unit of work. When Timeout is positive,
// Run receives a context with that deadline; otherwise it has none.
type Job struct {
	Name     string
	Schedule string
	Enabled  bool
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Record tracks per-job execution bookkeeping (spec.md §4.8).
type Record struct {
	RunCount     int
	SuccessCount int
	FailureCount int
	LastRun      time.Time
	LastError    string
	AvgDuration  time.Duration
	running      bool
}

// Scheduler owns one cron.Cron instance and the per-job run records.
// Overlap policy: if the previous run of a job has not completed when the
// next trigger fires, the new run is skipped rather than queued.
type Scheduler struct {
	cron *cron.Cron
	log  logr.Logger

	mu      sync.Mutex
	records map[string]*Record
}

func New(log logr.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log,
		records: make(map[string]*Record),
	}
}

// Register adds a job to the cron schedule. Disabled jobs are recorded but
// never scheduled.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	s.records[job.Name] = &Record{}
	s.mu.Unlock()

	if !job.Enabled {
		return nil
	}

	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.runJob(job)
	})
	return err
}

func (s *Scheduler) runJob(job Job) {
	s.mu.Lock()
	rec := s.records[job.Name]
	if rec.running {
		s.mu.Unlock()
		metrics.SchedulerJobSkippedTotal.WithLabelValues(job.Name).Inc()
		s.log.Info("skipping overlapping run", "job", job.Name)
		return
	}
	rec.running = true
	s.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)
	metrics.SchedulerJobDuration.WithLabelValues(job.Name).Observe(duration.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.running = false
	rec.RunCount++
	rec.LastRun = start
	if rec.RunCount == 1 {
		rec.AvgDuration = duration
	} else {
		rec.AvgDuration = (rec.AvgDuration*time.Duration(rec.RunCount-1) + duration) / time.Duration(rec.RunCount)
	}
	if err != nil {
		rec.FailureCount++
		rec.LastError = err.Error()
		metrics.SchedulerJobRunsTotal.WithLabelValues(job.Name, "failure").Inc()
		s.log.Error(err, "scheduled job failed", "job", job.Name)
	} else {
		rec.SuccessCount++
		rec.LastError = ""
		metrics.SchedulerJobRunsTotal.WithLabelValues(job.Name, "success").Inc()
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop drains in-flight jobs' scheduling (cron.Stop returns a context
// cancelled when the last-triggered job's execution goroutine exits).
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Record returns a copy of a job's run bookkeeping.
func (s *Scheduler) Record(name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

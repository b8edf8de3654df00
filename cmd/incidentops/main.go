// Command incidentops is the incident-management daemon: it wires ingestion,
// deduplication, correlation, lifecycle, escalation, the cron-driven
// scheduler, and the event broadcaster into one process. The HTTP surface
// is deliberately minimal (health/readiness/metrics only, SPEC_FULL.md §6)
// since front-end protocols stay interface-only in this module.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/sentrygrid/incidentops/internal/config"
	"github.com/sentrygrid/incidentops/internal/jobs"
	"github.com/sentrygrid/incidentops/pkg/broadcaster"
	"github.com/sentrygrid/incidentops/pkg/circuitbreaker"
	"github.com/sentrygrid/incidentops/pkg/correlator"
	"github.com/sentrygrid/incidentops/pkg/dedup"
	"github.com/sentrygrid/incidentops/pkg/escalation"
	"github.com/sentrygrid/incidentops/pkg/messaging"
	"github.com/sentrygrid/incidentops/pkg/metrics"
	"github.com/sentrygrid/incidentops/pkg/processor"
	"github.com/sentrygrid/incidentops/pkg/ratelimit"
	"github.com/sentrygrid/incidentops/pkg/scheduler"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
	"github.com/sentrygrid/incidentops/pkg/shared/logging"
	"github.com/sentrygrid/incidentops/pkg/store"
)

const (
	exitOK                 = 0
	exitConfigInvalid      = 1
	exitBackendUnreachable = 2
	exitFatal              = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigInvalid
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return exitConfigInvalid
	}

	backend, closeBackend, err := buildBackend(cfg.Storage)
	if err != nil {
		log.Error(err, "backend unreachable")
		return exitBackendUnreachable
	}
	defer closeBackend()
	instrumented := store.Instrument(backend, cfg.Storage.Backend)

	breakerRegistry := circuitbreaker.NewRegistry(func(t circuitbreaker.Transition) {
		metrics.CircuitBreakerTransitionsTotal.WithLabelValues(t.Name, string(t.From), string(t.To)).Inc()
		metrics.CircuitBreakerState.WithLabelValues(t.Name).Set(metrics.BreakerStateValue(string(t.To)))
	})
	storageBreaker := breakerRegistry.GetOrCreate("storage.primary", circuitbreaker.Config{
		FailureThreshold:        cfg.Breaker.FailureThreshold,
		SuccessThreshold:        cfg.Breaker.SuccessThreshold,
		TimeoutDuration:         cfg.Breaker.TimeoutDuration,
		HalfOpenMaxRequests:     cfg.Breaker.HalfOpenMaxRequests,
		CountTimeoutAsFailure:   cfg.Breaker.CountTimeoutAsFailure,
		MinimumRequestThreshold: cfg.Breaker.MinimumRequestThreshold,
	})

	deduper := dedup.New(instrumented, cfg.Dedup.WindowSecs)
	corr := correlator.New()
	correlationCfg := correlator.DefaultConfig()

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:       cfg.RateLimit.Capacity,
		RefillInterval: cfg.RateLimit.RefillInterval,
		RefillAmount:   cfg.RateLimit.RefillAmount,
	})

	bcaster := broadcaster.New(broadcaster.Config{
		SessionTimeout:  time.Duration(cfg.Broadcaster.SessionTimeoutSecs) * time.Second,
		HeartbeatPeriod: time.Duration(cfg.Broadcaster.HeartbeatSecs) * time.Second,
		ChannelCapacity: cfg.Broadcaster.ChannelCapacity,
		SessionQueueCap: cfg.Broadcaster.SessionQueueSize,
	})
	defer bcaster.Close()

	escalationLog := logging.WithComponent(log, "escalation")
	escalator := escalation.New(escalation.NewLogNotifier(escalationLog), instrumented, escalationLog)
	if cfg.Escalation.PolicyPath != "" {
		policies, err := escalation.LoadPolicies(cfg.Escalation.PolicyPath)
		if err != nil {
			log.Error(err, "failed to load escalation policies")
			return exitConfigInvalid
		}
		for _, p := range policies {
			escalator.RegisterPolicy(p)
		}
	}
	escalationDone := make(chan struct{})
	go escalator.Run(escalationDone, cfg.Escalation.PollInterval, time.Now)
	defer close(escalationDone)

	proc := processor.New(instrumented, storageBreaker, limiter, deduper, corr, correlationCfg, bcaster, escalator, logging.WithComponent(log, "processor"))

	bus, closeBus, err := buildMessaging(cfg.Messaging, logging.WithComponent(log, "messaging"))
	if err != nil {
		log.Error(err, "messaging backend unreachable")
		return exitBackendUnreachable
	}
	defer closeBus()

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	go relayBroadcastToBus(relayCtx, bcaster, bus, cfg.Messaging.Topic, logging.WithComponent(log, "relay"))

	sched := scheduler.New(logging.WithComponent(log, "scheduler"))
	registerJobs(sched, cfg.Scheduler, instrumented, correlationCfg, log)
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	router := buildRouter(proc)
	httpServer := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := exitOK
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error(err, "http server error")
		exitCode = exitFatal
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "http server shutdown error")
	}

	log.Info("shutdown complete")
	return exitCode
}

// buildBackend constructs the configured store.Backend and a matching
// close function (spec.md §6 storage.backend: memory | embedded-kv |
// redis | redis-cluster).
func buildBackend(cfg config.StorageConfig) (store.Backend, func(), error) {
	switch cfg.Backend {
	case "embedded-kv":
		db, err := store.OpenEmbedded(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.URL})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, apperrors.NewBackendUnavailableError("redis", err)
		}
		return store.NewRedis(client), func() { _ = client.Close() }, nil
	case "redis-cluster":
		client := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{cfg.URL}})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, apperrors.NewBackendUnavailableError("redis-cluster", err)
		}
		return store.NewRedis(client), func() { _ = client.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}

// buildMessaging constructs the configured messaging.Bus.
func buildMessaging(cfg config.MessagingConfig, log logr.Logger) (messaging.Bus, func(), error) {
	if cfg.Backend != "kafka" {
		bus := messaging.NewNoop()
		return bus, func() { _ = bus.Close() }, nil
	}
	bus, err := messaging.NewKafka(messaging.KafkaConfig{Brokers: cfg.Brokers, ClientID: "incidentops"}, log)
	if err != nil {
		return nil, nil, err
	}
	return bus, func() { _ = bus.Close() }, nil
}

// relayBroadcastToBus republishes every broadcaster event onto the
// messaging bus as an optional durable sink (SPEC_FULL.md §4.10). This
// sink runs alongside live sessions and its failures are logged, never
// block fan-out (same failure semantics as CorrelationFailure).
func relayBroadcastToBus(ctx context.Context, b *broadcaster.Broadcaster, bus messaging.Bus, topic string, log logr.Logger) {
	if topic == "" {
		topic = "incidentops.events"
	}
	now := time.Now()
	session := b.Subscribe(broadcaster.Filter{}, now)
	defer b.Unsubscribe(session.ID)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-heartbeat.C:
			b.Heartbeat(session.ID, t)
		case <-ticker.C:
			for {
				event, ok := session.Deliver()
				if !ok {
					break
				}
				payload, err := json.Marshal(event)
				if err != nil {
					log.Error(err, "failed to marshal event for relay")
					continue
				}
				if err := bus.Publish(ctx, topic, event.IncidentID, payload, nil); err != nil {
					log.Error(err, "failed to publish event to bus")
				}
			}
		}
	}
}

// registerJobs registers the six named scheduler jobs from spec.md §4.8.
func registerJobs(sched *scheduler.Scheduler, cfg config.SchedulerConfig, backend store.Backend, correlationCfg correlator.Config, log logr.Logger) {
	schedule := func(name string) config.SchedulerJobConfig {
		if j, ok := cfg.Jobs[name]; ok {
			return j
		}
		return config.SchedulerJobConfig{Enabled: false}
	}

	retention := 30 * 24 * time.Hour
	if j, ok := cfg.Jobs["cleanup"]; ok {
		if v, ok := j.Config["retention_hours"].(int); ok {
			retention = time.Duration(v) * time.Hour
		}
	}
	staleAfter := 24 * time.Hour
	if j, ok := cfg.Jobs["stale_active_detection"]; ok {
		if v, ok := j.Config["stale_after_hours"].(int); ok {
			staleAfter = time.Duration(v) * time.Hour
		}
	}

	register := func(name string, fn func(context.Context) error) {
		jc := schedule(name)
		_ = sched.Register(scheduler.Job{
			Name:     name,
			Schedule: jc.Schedule,
			Enabled:  jc.Enabled,
			Timeout:  jc.Timeout,
			Run:      fn,
		})
	}

	register("cleanup", jobs.Cleanup(backend, retention, logging.WithComponent(log, "jobs.cleanup")))
	register("stale_active_detection", jobs.StaleActiveDetection(backend, staleAfter, logging.WithComponent(log, "jobs.stale_active_detection")))
	register("correlation_rule_refresh", jobs.CorrelationRuleRefresh(correlationCfg, logging.WithComponent(log, "jobs.correlation_rule_refresh")))
	register("external_system_sync", jobs.ExternalSystemSync(logging.WithComponent(log, "jobs.external_system_sync")))
	register("model_refresh", jobs.ModelRefresh(logging.WithComponent(log, "jobs.model_refresh")))
	register("daily_report_rollup", jobs.DailyReportRollup(backend, logging.WithComponent(log, "jobs.daily_report_rollup")))
}

// buildRouter builds the minimal chi router from SPEC_FULL.md §6:
// /healthz, /readyz, /metrics — no business endpoints.
func buildRouter(proc *processor.Processor) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if proc == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}

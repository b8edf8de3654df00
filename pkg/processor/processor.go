// Package processor implements the IncidentProcessor orchestration
// pipeline from spec.md §4.6: validate -> rate-limit -> fingerprint ->
// dedup -> persist -> publish -> async correlate/escalate.
package processor

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/sentrygrid/incidentops/pkg/alert"
	"github.com/sentrygrid/incidentops/pkg/broadcaster"
	"github.com/sentrygrid/incidentops/pkg/circuitbreaker"
	"github.com/sentrygrid/incidentops/pkg/correlator"
	"github.com/sentrygrid/incidentops/pkg/dedup"
	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/metrics"
	"github.com/sentrygrid/incidentops/pkg/ratelimit"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
	"github.com/sentrygrid/incidentops/pkg/store"
)

// EventPublisher is the capability the processor needs from the
// broadcaster: a non-blocking, best-effort publish (spec.md §4.9).
type EventPublisher interface {
	Publish(event broadcaster.Event)
}

// Escalator is the capability the processor needs from the escalation
// engine to start tracking a freshly created incident.
type Escalator interface {
	StartByRef(incidentID string, policyRef string, now time.Time)
}

// Processor wires every synchronous and asynchronous stage of the
// ingestion pipeline together.
type Processor struct {
	backend     store.Backend
	breaker     *circuitbreaker.Breaker
	limiter     *ratelimit.Limiter
	deduper     *dedup.Deduplicator
	correlator  *correlator.Correlator
	correlation correlator.Config
	publisher   EventPublisher
	escalator   Escalator
	log         logr.Logger
}

func New(
	backend store.Backend,
	breaker *circuitbreaker.Breaker,
	limiter *ratelimit.Limiter,
	deduper *dedup.Deduplicator,
	corr *correlator.Correlator,
	correlationCfg correlator.Config,
	publisher EventPublisher,
	escalator Escalator,
	log logr.Logger,
) *Processor {
	return &Processor{
		backend:     backend,
		breaker:     breaker,
		limiter:     limiter,
		deduper:     deduper,
		correlator:  corr,
		correlation: correlationCfg,
		publisher:   publisher,
		escalator:   escalator,
		log:         log,
	}
}

// Ack is returned to the alert submission caller; it reuses alert.Ack's
// shape so the processor and the ingress validation layer agree on one
// acknowledgement contract (spec.md §6).
type Ack = alert.Ack

const (
	AckAccepted    = alert.AckAccepted
	AckDuplicate   = alert.AckDuplicate
	AckRateLimited = alert.AckRateLimited
	AckRejected    = alert.AckRejected
)

const eventKindIncidentCreated = "IncidentCreated"

// Process runs one alert through the full pipeline. now is the reception
// time, passed explicitly so callers (and tests) control it rather than
// relying on wall-clock time inside the pipeline.
func (p *Processor) Process(ctx context.Context, req alert.Request, now time.Time) (Ack, error) {
	timer := metrics.NewTimer()
	ack, err := p.process(ctx, req, now)
	metrics.AlertsReceivedTotal.WithLabelValues(req.Source, string(ack.Status)).Inc()
	timer.ObserveDurationVec(metrics.AlertProcessingDuration, string(ack.Status))
	return ack, err
}

func (p *Processor) process(ctx context.Context, req alert.Request, now time.Time) (Ack, error) {
	if err := alert.ValidateRequest(req); err != nil {
		return Ack{Status: AckRejected, Message: apperrors.SafeErrorMessage(err), ReceivedAt: now}, nil
	}

	if !p.limiter.Allow(req.Source, now) {
		metrics.RateLimitedTotal.WithLabelValues(req.Source).Inc()
		return Ack{Status: AckRateLimited, Message: "rate limit exceeded", ReceivedAt: now}, nil
	}

	severity, _ := incident.ParseSeverity(req.Severity)

	a := alert.NewAlert(now)
	a.ExternalID = req.ExternalID
	a.Source = req.Source
	a.GeneratedAt = now
	a.Severity = severity
	a.Type = req.Type
	a.Title = req.Title
	a.Description = req.Description
	a.Labels = req.Labels
	a.AffectedServices = req.AffectedServices
	a.RunbookURL = req.RunbookURL
	a.Annotations = req.Annotations

	if err := alert.ValidateAlert(a); err != nil {
		return Ack{AlertID: a.ID, Status: AckRejected, Message: apperrors.SafeErrorMessage(err), ReceivedAt: now}, nil
	}

	fp := incident.ComputeFingerprint(a.Source, a.Type, a.Title, a.AffectedServices)

	if match, err := p.deduper.Match(ctx, fp, now); err == nil && match != nil {
		return p.mergeDuplicate(ctx, a, match, now)
	}

	inc := incident.New(a.Source, a.Type, a.Title, a.Description, a.Severity, a.AffectedServices, a.Labels, now)
	inc.Fingerprint = fp
	inc.HasFingerprint = true

	_, err := circuitbreaker.Call(p.breaker, func() (struct{}, error) {
		return struct{}{}, p.backend.Save(ctx, inc)
	})
	if err != nil {
		return Ack{AlertID: a.ID, Status: AckRejected, Message: apperrors.SafeErrorMessage(err), ReceivedAt: now}, err
	}

	a.IncidentID = inc.ID
	if p.publisher != nil {
		p.publisher.Publish(broadcaster.Event{
			PublishedAt: now,
			Kind:        eventKindIncidentCreated,
			Priority:    broadcaster.SeverityPriority(inc.Severity),
			IncidentID:  inc.ID,
			Severity:    inc.Severity,
			HasSeverity: true,
			State:       inc.State,
			HasState:    true,
			Source:      inc.Source,
			Resources:   inc.AffectedResources,
			Labels:      inc.Labels,
			Payload:     inc.Clone(),
		})
	}

	go p.correlateAsync(inc, now)
	if p.escalator != nil {
		go p.escalator.StartByRef(inc.ID, "", now)
	}

	return Ack{
		AlertID:    a.ID,
		IncidentID: inc.ID,
		Status:     AckAccepted,
		Message:    "incident created",
		ReceivedAt: now,
	}, nil
}

func (p *Processor) mergeDuplicate(ctx context.Context, a *alert.Alert, match *incident.Incident, now time.Time) (Ack, error) {
	metrics.DeduplicationMatchesTotal.WithLabelValues(a.Source).Inc()
	a.MarkDeduplicated(match.ID)

	match.Lock()
	match.Append(incident.TimelineEntry{
		Timestamp:   now,
		Kind:        incident.EventActionExecuted,
		Actor:       "system",
		Description: "duplicate alert merged",
		Metadata:    map[string]string{"alert_id": a.ID},
	})
	match.Unlock()

	_, err := circuitbreaker.Call(p.breaker, func() (struct{}, error) {
		return struct{}{}, p.backend.Update(ctx, match)
	})
	if err != nil {
		return Ack{AlertID: a.ID, IncidentID: match.ID, Status: AckRejected, Message: apperrors.SafeErrorMessage(err), ReceivedAt: now}, err
	}

	return Ack{
		AlertID:    a.ID,
		IncidentID: match.ID,
		Status:     AckDuplicate,
		Message:    "merged into existing incident",
		ReceivedAt: now,
	}, nil
}

// correlateAsync runs correlation off the synchronous ack path. Correlation
// failures are advisory (spec.md §4.4) — they are logged, never returned.
func (p *Processor) correlateAsync(inc *incident.Incident, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error(nil, "correlation panic recovered", "incident_id", inc.ID, "panic", r)
		}
	}()

	ctx := context.Background()
	pool, err := circuitbreaker.Call(p.breaker, func() ([]*incident.Incident, error) {
		return p.backend.List(ctx, store.Filter{ActiveOnly: true}, store.Page{Size: store.MaxPageSize})
	})
	if err != nil {
		p.log.Error(err, "correlation lookup failed", "incident_id", inc.ID)
		return
	}

	result := p.correlator.Correlate(inc, pool, p.correlation)
	if result.GroupID == "" {
		return
	}
	if result.Created {
		metrics.CorrelationGroupsTotal.Inc()
	} else {
		metrics.CorrelationJoinsTotal.Inc()
	}

	inc.Lock()
	inc.CorrelationGroupID = result.GroupID
	inc.CorrelationScore = result.Score
	inc.HasCorrelation = true
	inc.Unlock()

	if _, err := circuitbreaker.Call(p.breaker, func() (struct{}, error) {
		return struct{}{}, p.backend.Update(ctx, inc)
	}); err != nil {
		p.log.Error(err, "failed to persist correlation result", "incident_id", inc.ID)
	}
}

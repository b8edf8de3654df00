// Package escalation implements the EscalationEngine from spec.md §4.7:
// per-incident escalation timers driven by a policy of notification
// levels, with acknowledgement, repeat, and sharded-lock concurrency
// semantics.
package escalation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/metrics"
	"github.com/sentrygrid/incidentops/pkg/store"
)

// Status is the EscalationState status enum from spec.md §3.
type Status string

const (
	StatusActive       Status = "Active"
	StatusAcknowledged Status = "Acknowledged"
	StatusCompleted    Status = "Completed"
	StatusResolved     Status = "Resolved"
	StatusCancelled    Status = "Cancelled"
)

// Level is one rung of a Policy: notify these targets, then wait Delay
// before the next level fires.
type Level struct {
	Targets []string
	Delay   time.Duration
}

// Policy is an ordered list of levels, optionally repeating once exhausted
// (spec.md §4.7's "repeat configuration").
type Policy struct {
	Ref           string
	Levels        []Level
	RepeatEnabled bool
	MaxRepeats    int // 0 means unlimited when RepeatEnabled is true
}

// NotificationRecord is one entry in a state's notification history.
type NotificationRecord struct {
	Level     int
	Targets   []string
	At        time.Time
	Success   bool
	Error     string
}

// State is the per-incident EscalationState from spec.md §3.
//
// Open question resolution (DESIGN.md): RepeatCount never resets for the
// lifetime of one State value — a new alert on the same incident does not
// reset it, since the processor's merge path never calls into the engine
// and Start ignores an incident that is already tracked.
type State struct {
	IncidentID        string
	Policy            Policy
	CurrentLevel      int
	StartedAt         time.Time
	LevelReachedAt    time.Time
	NextEscalationAt  time.Time
	HasNextEscalation bool
	Acknowledged      bool
	AcknowledgedBy    string
	AcknowledgedAt    time.Time
	RepeatCount       int
	Status            Status
	History           []NotificationRecord
}

func (s *State) shouldEscalate(now time.Time) bool {
	return s.Status == StatusActive && !s.Acknowledged && s.HasNextEscalation && !now.Before(s.NextEscalationAt)
}

// Notifier is the capability the engine needs to deliver a level's
// targets; failures are recorded in history but never block advancement
// (spec.md §4.7, §7 EscalationNotificationFailure).
type Notifier interface {
	Notify(incidentID string, level Level) error
}

const shardCount = 64

// Engine drives every tracked incident's escalation timer on a polling
// loop. Per-incident state access is serialized by an identifier-sharded
// lock pool (spec.md §9 Design Notes) so two concurrent acknowledgements
// for the same incident collapse to one state change.
type Engine struct {
	notifier Notifier
	backend  store.Backend
	log      logr.Logger

	shards [shardCount]sync.Mutex
	mu     sync.RWMutex
	states map[string]*State

	policyMu         sync.RWMutex
	policies         map[string]Policy
	defaultPolicyRef string
}

// New builds an Engine. backend is used to append the kind=Escalated
// timeline entry the spec requires on every tick (spec.md §4.7); it may be
// nil in tests that only exercise escalation-state transitions.
func New(notifier Notifier, backend store.Backend, log logr.Logger) *Engine {
	return &Engine{
		notifier: notifier,
		backend:  backend,
		log:      log,
		states:   make(map[string]*State),
		policies: make(map[string]Policy),
	}
}

// RegisterPolicy makes a named policy resolvable by StartByRef. The first
// registered policy also becomes the default used when a caller passes an
// unknown or empty ref.
func (e *Engine) RegisterPolicy(policy Policy) {
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	e.policies[policy.Ref] = policy
	if e.defaultPolicyRef == "" {
		e.defaultPolicyRef = policy.Ref
	}
}

// StartByRef resolves policyRef through the registered policy set and
// starts tracking the incident. This is the method the IncidentProcessor
// calls (spec.md §4.6 step 8) without needing to know policy internals.
func (e *Engine) StartByRef(incidentID, policyRef string, now time.Time) {
	e.policyMu.RLock()
	policy, ok := e.policies[policyRef]
	if !ok {
		policy = e.policies[e.defaultPolicyRef]
	}
	e.policyMu.RUnlock()
	e.Start(incidentID, policy, now)
}

// Run polls every tracked incident's escalation state at the given
// interval until done is closed (spec.md §4.7 "polling interval <= shortest
// level delay").
func (e *Engine) Run(done <-chan struct{}, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			if now != nil {
				e.Tick(now())
			} else {
				e.Tick(t)
			}
		case <-done:
			return
		}
	}
}

func shardFor(id string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return h % shardCount
}

func (e *Engine) lockFor(incidentID string) *sync.Mutex {
	return &e.shards[shardFor(incidentID)]
}

// Start begins tracking an incident under the given policy, arming the
// first level immediately (spec.md §4.7's t=0 level-0 firing).
func (e *Engine) Start(incidentID string, policy Policy, now time.Time) {
	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if _, exists := e.states[incidentID]; exists {
		e.mu.Unlock()
		return
	}
	state := &State{
		IncidentID:       incidentID,
		Policy:           policy,
		CurrentLevel:     0,
		StartedAt:        now,
		LevelReachedAt:   now,
		NextEscalationAt: now,
		HasNextEscalation: len(policy.Levels) > 0,
		Status:           StatusActive,
	}
	e.states[incidentID] = state
	e.mu.Unlock()
}

// Acknowledge transitions an incident's escalation to Acknowledged. A
// second concurrent acknowledgement observes the already-acknowledged
// state and is a no-op (spec.md §4.7 concurrency guarantee).
func (e *Engine) Acknowledge(incidentID, by string, now time.Time) {
	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	state, ok := e.states[incidentID]
	e.mu.RUnlock()
	if !ok || state.Acknowledged {
		return
	}

	state.Acknowledged = true
	state.AcknowledgedBy = by
	state.AcknowledgedAt = now
	state.Status = StatusAcknowledged
	state.HasNextEscalation = false
}

// Resolve transitions an incident's escalation to Resolved, stopping
// further ticks.
func (e *Engine) Resolve(incidentID string, now time.Time) {
	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	state, ok := e.states[incidentID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	state.Status = StatusResolved
	state.HasNextEscalation = false
}

// Cancel transitions an incident's escalation to Cancelled, stopping
// further ticks. Mirrors Resolve; used when an incident is withdrawn
// without being resolved through the normal lifecycle (spec.md §2/§4.7
// "cancel semantics").
func (e *Engine) Cancel(incidentID string, now time.Time) {
	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	state, ok := e.states[incidentID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	state.Status = StatusCancelled
	state.HasNextEscalation = false
}

// Snapshot returns a copy of an incident's escalation state, if tracked.
func (e *Engine) Snapshot(incidentID string) (State, bool) {
	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	state, ok := e.states[incidentID]
	e.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Tick evaluates every tracked active state against now, firing levels
// whose next_escalation_at has passed.
func (e *Engine) Tick(now time.Time) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.states))
	for id := range e.states {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		e.tickOne(id, now)
	}
}

func (e *Engine) tickOne(incidentID string, now time.Time) {
	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	state, ok := e.states[incidentID]
	e.mu.RUnlock()
	if !ok || !state.shouldEscalate(now) {
		return
	}

	level := state.Policy.Levels[state.CurrentLevel]
	err := e.notifier.Notify(incidentID, level)
	record := NotificationRecord{Level: state.CurrentLevel, Targets: level.Targets, At: now, Success: err == nil}
	levelLabel := strconv.Itoa(state.CurrentLevel)
	if err != nil {
		record.Error = err.Error()
		metrics.EscalationTicksTotal.WithLabelValues(levelLabel, "failure").Inc()
		if e.log.GetSink() != nil {
			e.log.Error(err, "escalation notification failed", "incident_id", incidentID, "level", state.CurrentLevel)
		}
	} else {
		metrics.EscalationTicksTotal.WithLabelValues(levelLabel, "success").Inc()
	}
	state.History = append(state.History, record)
	e.appendEscalatedEntry(incidentID, state.CurrentLevel, now)

	state.LevelReachedAt = now
	nextLevel := state.CurrentLevel + 1
	if nextLevel < len(state.Policy.Levels) {
		state.CurrentLevel = nextLevel
		state.NextEscalationAt = now.Add(level.Delay)
		state.HasNextEscalation = true
		return
	}

	// No successor level. Repeat from level 0 if the policy allows.
	if state.Policy.RepeatEnabled && (state.Policy.MaxRepeats == 0 || state.RepeatCount < state.Policy.MaxRepeats) {
		state.RepeatCount++
		state.CurrentLevel = 0
		state.NextEscalationAt = now.Add(level.Delay)
		state.HasNextEscalation = true
		return
	}

	state.Status = StatusCompleted
	state.HasNextEscalation = false
}

// appendEscalatedEntry records the tick on the incident's own timeline
// (spec.md §4.7 "append a timeline entry with kind=Escalated"). Persistence
// failures are advisory here, same as correlateAsync: the escalation
// engine's own history already recorded the tick, so a store hiccup must
// not stall the next tick.
func (e *Engine) appendEscalatedEntry(incidentID string, level int, now time.Time) {
	if e.backend == nil {
		return
	}
	ctx := context.Background()
	inc, err := e.backend.Get(ctx, incidentID)
	if err != nil {
		e.log.Error(err, "failed to load incident for escalation timeline entry", "incident_id", incidentID)
		return
	}

	inc.Lock()
	inc.Append(incident.TimelineEntry{
		Timestamp:   now,
		Kind:        incident.EventEscalated,
		Actor:       "escalation",
		Description: "escalation level " + strconv.Itoa(level) + " fired",
		Metadata:    map[string]string{"level": strconv.Itoa(level)},
	})
	inc.Unlock()

	if err := e.backend.Update(ctx, inc); err != nil {
		e.log.Error(err, "failed to persist escalation timeline entry", "incident_id", incidentID)
	}
}

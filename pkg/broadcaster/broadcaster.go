// Package broadcaster fans events out to live subscribers with
// filter-matching, per-session bounded priority queues, drop-oldest
// backpressure, and a heartbeat/session-timeout reaper (spec.md §4.9).
package broadcaster

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/metrics"
)

// Priority ranks delivery order within a session's queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Event is the envelope published to every matching session (spec.md §6
// outbound event stream).
type Event struct {
	ID          string
	PublishedAt time.Time
	Kind        string
	Priority    Priority
	IncidentID  string
	Severity    incident.Severity
	HasSeverity bool
	State       incident.State
	HasState    bool
	Source      string
	Resources   []string
	Labels      map[string]string
	Payload     interface{}
}

// SeverityPriority derives the default priority for an IncidentCreated-
// style event from its severity (spec.md §4.9 example: P0 = Critical).
func SeverityPriority(sev incident.Severity) Priority {
	switch sev {
	case incident.P0:
		return PriorityCritical
	case incident.P1:
		return PriorityHigh
	case incident.P2:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Filter is a session's subscription predicate. Filter-match is the
// conjunction over non-empty dimensions (spec.md §4.9): an empty
// dimension matches anything.
type Filter struct {
	Kinds          []string
	Severities     []incident.Severity
	States         []incident.State
	Sources        []string
	ResourceGlobs  []string
	LabelPredicate map[string]string
	IncidentIDs    []string
}

func (f Filter) Matches(e Event) bool {
	if len(f.Kinds) > 0 && !containsString(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Severities) > 0 {
		if !e.HasSeverity || !containsSeverity(f.Severities, e.Severity) {
			return false
		}
	}
	if len(f.States) > 0 {
		if !e.HasState || !containsState(f.States, e.State) {
			return false
		}
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Source) {
		return false
	}
	if len(f.ResourceGlobs) > 0 && !anyGlobMatches(f.ResourceGlobs, e.Resources) {
		return false
	}
	if len(f.IncidentIDs) > 0 && !containsString(f.IncidentIDs, e.IncidentID) {
		return false
	}
	if len(f.LabelPredicate) > 0 {
		for k, v := range f.LabelPredicate {
			if e.Labels[k] != v {
				return false
			}
		}
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsSeverity(set []incident.Severity, v incident.Severity) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsState(set []incident.State, v incident.State) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// anyGlobMatches implements a small subset of shell globbing (a single
// trailing "*") sufficient for "affected-resource globs" — spec.md does
// not specify a full glob grammar.
func anyGlobMatches(globs, resources []string) bool {
	for _, g := range globs {
		for _, r := range resources {
			if globMatch(g, r) {
				return true
			}
		}
	}
	return false
}

func globMatch(pattern, value string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// Session is a subscriber context (spec.md §3 Session/Subscription).
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Filter       Filter
	MessageCount uint64
	DroppedCount uint64

	queue *sessionQueue
}

// Deliver returns the next queued event for this session, if any.
func (s *Session) Deliver() (Event, bool) {
	return s.queue.pop()
}

// Config tunes the broadcaster (spec.md §6 configuration surface).
type Config struct {
	SessionTimeout  time.Duration
	HeartbeatPeriod time.Duration
	ChannelCapacity int
	SessionQueueCap int
}

// Broadcaster owns the subscription registry and fan-out dispatch.
type Broadcaster struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	fanIn chan Event
	stop  chan struct{}
}

func New(cfg Config) *Broadcaster {
	b := &Broadcaster{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		fanIn:    make(chan Event, cfg.ChannelCapacity),
		stop:     make(chan struct{}),
	}
	go b.dispatchLoop()
	if cfg.HeartbeatPeriod > 0 {
		go b.reapLoop()
	}
	return b
}

// reapLoop periodically evicts sessions that have gone silent past
// SessionTimeout. It runs on real wall-clock time since it is a background
// maintenance loop, not something tests need to drive deterministically —
// Reap itself takes an explicit now for that purpose.
func (b *Broadcaster) reapLoop() {
	ticker := time.NewTicker(b.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			b.Reap(t)
		case <-b.stop:
			return
		}
	}
}

// Subscribe registers a new session with the given filter.
func (b *Broadcaster) Subscribe(filter Filter, now time.Time) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActiveAt: now,
		Filter:       filter,
		queue:        newSessionQueue(b.cfg.SessionQueueCap),
	}
	b.mu.Lock()
	b.sessions[s.ID] = s
	b.mu.Unlock()
	metrics.BroadcastSessionsActive.Inc()
	return s
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	_, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if ok {
		metrics.BroadcastSessionsActive.Dec()
	}
}

func (b *Broadcaster) Session(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Publish sends event into the fan-out channel. The publisher is never
// blocked by a slow consumer (spec.md §5): if the shared fan-in channel
// itself is full — a pathological case under normal per-session
// backpressure — the event is dropped rather than blocking the caller.
func (b *Broadcaster) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	select {
	case b.fanIn <- event:
	default:
	}
}

func (b *Broadcaster) dispatchLoop() {
	for {
		select {
		case event := <-b.fanIn:
			b.dispatch(event)
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) dispatch(event Event) {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	for _, s := range sessions {
		if !s.Filter.Matches(event) {
			continue
		}
		s.MessageCount++
		metrics.BroadcastMessagesTotal.Inc()
		if s.queue.push(event) {
			s.DroppedCount++
			metrics.BroadcastDroppedTotal.Inc()
		}
	}
}

// Heartbeat marks a session active, preventing reaping.
func (b *Broadcaster) Heartbeat(id string, now time.Time) {
	b.mu.RLock()
	s, ok := b.sessions[id]
	b.mu.RUnlock()
	if ok {
		s.LastActiveAt = now
	}
}

// Reap removes sessions whose last-active time exceeds the configured
// session timeout.
func (b *Broadcaster) Reap(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var reaped []string
	for id, s := range b.sessions {
		if now.Sub(s.LastActiveAt) > b.cfg.SessionTimeout {
			delete(b.sessions, id)
			reaped = append(reaped, id)
		}
	}
	if len(reaped) > 0 {
		metrics.BroadcastSessionsActive.Sub(float64(len(reaped)))
	}
	return reaped
}

// Close stops the dispatch loop.
func (b *Broadcaster) Close() {
	close(b.stop)
}

// Package incident defines the Incident aggregate: its fields, lifecycle
// state, append-only timeline, and the fingerprint used to recognize
// repeated firings of the same underlying condition (spec.md §3).
package incident

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity is the closed P0..P4 enum from spec.md §3.
type Severity int

const (
	P0 Severity = iota // Critical
	P1                 // High
	P2                 // Medium
	P3                 // Low
	P4                 // Informational
)

func (s Severity) String() string {
	switch s {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	case P4:
		return "P4"
	default:
		return "UNKNOWN"
	}
}

func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "P0":
		return P0, true
	case "P1":
		return P1, true
	case "P2":
		return P2, true
	case "P3":
		return P3, true
	case "P4":
		return P4, true
	default:
		return 0, false
	}
}

// State is the lifecycle state from spec.md §4.5.
type State string

const (
	StateDetected      State = "Detected"
	StateTriaged       State = "Triaged"
	StateInvestigating State = "Investigating"
	StateRemediating   State = "Remediating"
	StateResolved      State = "Resolved"
	StateClosed        State = "Closed"
)

// ActiveStates are the states that qualify an incident as a deduplication
// and correlation candidate (spec.md §4.3 tie-break rule 1).
var ActiveStates = map[State]bool{
	StateDetected:      true,
	StateTriaged:       true,
	StateInvestigating: true,
	StateRemediating:   true,
}

func (s State) IsActive() bool {
	return ActiveStates[s]
}

// EventKind enumerates the timeline entry kinds from spec.md §3.
type EventKind string

const (
	EventCreated            EventKind = "Created"
	EventStateChanged       EventKind = "StateChanged"
	EventActionExecuted     EventKind = "ActionExecuted"
	EventNotificationSent   EventKind = "NotificationSent"
	EventAssignmentChanged  EventKind = "AssignmentChanged"
	EventCommentAdded       EventKind = "CommentAdded"
	EventPlaybookStarted    EventKind = "PlaybookStarted"
	EventPlaybookCompleted  EventKind = "PlaybookCompleted"
	EventEscalated          EventKind = "Escalated"
	EventResolved           EventKind = "Resolved"
)

// TimelineEntry is an immutable append-only record on an Incident.
type TimelineEntry struct {
	Timestamp   time.Time
	Kind        EventKind
	Actor       string
	Description string
	Metadata    map[string]string
}

// Resolution is populated exactly once, when an incident transitions to
// Resolved, and is immutable thereafter (spec.md I2).
type Resolution struct {
	ResolvedAt time.Time
	ResolvedBy string
	Summary    string
	RootCause  string
}

// Incident is the primary entity, identified by a stable opaque ID.
//
// Concurrency: callers MUST hold Lock (or go through a component that does,
// such as lifecycle.Transition or the IncidentProcessor) before mutating a shared
// Incident; the Store itself treats each save/update as occurring under the
// caller's lock and does not re-validate append-only timeline ordering
// beyond rejecting a shrinking timeline (spec.md §4.1).
type Incident struct {
	ID                string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	State             State
	Severity          Severity
	Type              string
	Source            string
	Title             string
	Description       string
	AffectedResources []string
	Labels            map[string]string
	RelatedIncidents  []string
	PlaybookRef       string
	Resolution        *Resolution
	Timeline          []TimelineEntry
	Assignees         []string
	Fingerprint        Fingerprint
	HasFingerprint     bool
	CorrelationScore   float64
	HasCorrelation     bool
	CorrelationGroupID string

	mu sync.Mutex
}

// New constructs a new Detected-state incident with a single Created
// timeline entry, satisfying I1 (created_at <= updated_at) and I4 (every
// mutation appends a timeline entry) from the start.
func New(source, typ, title, description string, severity Severity, affected []string, labels map[string]string, now time.Time) *Incident {
	inc := &Incident{
		ID:                uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
		State:             StateDetected,
		Severity:          severity,
		Type:              typ,
		Source:            source,
		Title:             title,
		Description:       description,
		AffectedResources: append([]string(nil), affected...),
		Labels:            cloneLabels(labels),
	}
	inc.Timeline = append(inc.Timeline, TimelineEntry{
		Timestamp:   now,
		Kind:        EventCreated,
		Actor:       "system",
		Description: "incident created from alert " + source,
	})
	return inc
}

func cloneLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Lock/Unlock expose the incident's own mutex to components (lifecycle FSM,
// processor merge path) that need to serialize a read-modify-write sequence
// without a separate lock-pool lookup. The per-identifier sharded lock pool
// (Design Notes §9) is still what the processor and escalation engine use
// to avoid holding this mutex across a Store round trip; this mutex guards
// only the in-process struct fields for callers that already hold the
// incident exclusively (e.g. immediately after Store.Get).
func (i *Incident) Lock()   { i.mu.Lock() }
func (i *Incident) Unlock() { i.mu.Unlock() }

// Append adds a timeline entry and bumps UpdatedAt. Callers must already
// hold the incident's lock (or an equivalent external lock) — Append itself
// performs no additional synchronization so it can be called as part of a
// larger atomic state change (spec.md I4).
func (i *Incident) Append(entry TimelineEntry) {
	i.Timeline = append(i.Timeline, entry)
	if entry.Timestamp.After(i.UpdatedAt) {
		i.UpdatedAt = entry.Timestamp
	}
}

// Clone returns a deep copy safe for a caller to read or mutate without
// affecting the original — the "snapshot" semantics every non-Store
// component receives per the Ownership rules in spec.md §3.
func (i *Incident) Clone() *Incident {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := &Incident{
		ID:                 i.ID,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
		State:              i.State,
		Severity:           i.Severity,
		Type:               i.Type,
		Source:             i.Source,
		Title:              i.Title,
		Description:        i.Description,
		AffectedResources:  append([]string(nil), i.AffectedResources...),
		Labels:             cloneLabels(i.Labels),
		RelatedIncidents:   append([]string(nil), i.RelatedIncidents...),
		PlaybookRef:        i.PlaybookRef,
		Timeline:           append([]TimelineEntry(nil), i.Timeline...),
		Assignees:          append([]string(nil), i.Assignees...),
		Fingerprint:        i.Fingerprint,
		HasFingerprint:     i.HasFingerprint,
		CorrelationScore:   i.CorrelationScore,
		HasCorrelation:     i.HasCorrelation,
		CorrelationGroupID: i.CorrelationGroupID,
	}
	if i.Resolution != nil {
		r := *i.Resolution
		out.Resolution = &r
	}
	return out
}

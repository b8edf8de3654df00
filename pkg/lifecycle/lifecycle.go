// Package lifecycle implements the incident state machine from spec.md
// §4.5: the linear Detected→Triaged→Investigating→Remediating→Resolved→
// Closed progression, plus fast-resolve from any active state.
package lifecycle

import (
	"time"

	"github.com/sentrygrid/incidentops/pkg/incident"
	"github.com/sentrygrid/incidentops/pkg/metrics"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

// transitions maps a current state to the set of states it may move to.
// Resolved is reachable from every active state (fast-resolve); Closed is
// reachable only from Resolved; Closed has no outgoing transitions.
var transitions = map[incident.State]map[incident.State]bool{
	incident.StateDetected: {
		incident.StateTriaged:  true,
		incident.StateResolved: true,
	},
	incident.StateTriaged: {
		incident.StateInvestigating: true,
		incident.StateResolved:      true,
	},
	incident.StateInvestigating: {
		incident.StateRemediating: true,
		incident.StateResolved:    true,
	},
	incident.StateRemediating: {
		incident.StateResolved: true,
	},
	incident.StateResolved: {
		incident.StateClosed: true,
	},
	incident.StateClosed: {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to incident.State) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition advances inc from its current state to to, appending the
// required timeline entry atomically with the state write (spec.md I4).
// Transitioning into Resolved populates the resolution record; the
// incident is not mutated when the transition is illegal.
func Transition(inc *incident.Incident, to incident.State, actor string, resolution *incident.Resolution, now time.Time) error {
	inc.Lock()
	defer inc.Unlock()

	from := inc.State
	if !CanTransition(from, to) {
		return apperrors.NewInvalidStateTransitionError(string(from), string(to))
	}

	inc.State = to
	if to == incident.StateResolved {
		if resolution == nil {
			resolution = &incident.Resolution{ResolvedAt: now}
		} else if resolution.ResolvedAt.IsZero() {
			resolution.ResolvedAt = now
		}
		inc.Resolution = resolution
	}

	inc.Timeline = append(inc.Timeline, incident.TimelineEntry{
		Timestamp:   now,
		Kind:        incident.EventStateChanged,
		Actor:       actor,
		Description: "state changed from " + string(from) + " to " + string(to),
		Metadata: map[string]string{
			"old_state": string(from),
			"new_state": string(to),
		},
	})
	inc.UpdatedAt = now
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// FastResolve transitions inc directly to Resolved from any active state.
func FastResolve(inc *incident.Incident, actor string, resolution incident.Resolution, now time.Time) error {
	return Transition(inc, incident.StateResolved, actor, &resolution, now)
}

// Close transitions a Resolved incident to Closed.
func Close(inc *incident.Incident, actor string, now time.Time) error {
	return Transition(inc, incident.StateClosed, actor, nil, now)
}

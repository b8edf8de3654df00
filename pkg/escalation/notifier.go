package escalation

import "github.com/go-logr/logr"

// LogNotifier is the out-of-scope NotificationTarget collaborator from
// spec.md §6, stood in as a log-only implementation so the engine's
// timing/history machinery can run end to end without a real paging
// integration wired behind it.
type LogNotifier struct {
	log logr.Logger
}

func NewLogNotifier(log logr.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(incidentID string, level Level) error {
	n.log.Info("escalation notification", "incident_id", incidentID, "targets", level.Targets)
	return nil
}

// Package alert defines the external signal ingested at the pipeline's
// ingress port (spec.md §3, §6) and its validation rules.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentrygrid/incidentops/pkg/incident"
)

// Alert is the raw external signal from an upstream monitor.
type Alert struct {
	ID               string `validate:"required"`
	ExternalID       string
	Source           string            `validate:"required"`
	GeneratedAt      time.Time         `validate:"required"`
	ReceivedAt       time.Time         `validate:"required"`
	Severity         incident.Severity
	Type             string `validate:"required"`
	Title            string `validate:"required,min=1,max=500"`
	Description      string
	Labels           map[string]string
	AffectedServices []string
	RunbookURL       string
	Annotations      map[string]string

	IncidentID     string
	Deduplicated   bool
	ParentAlertID  string
}

// NewAlert assigns an ID and reception time, leaving every other field to
// the caller — mirroring the teacher's convention of keeping constructors
// thin and pushing validation into a dedicated function.
func NewAlert(now time.Time) *Alert {
	return &Alert{
		ID:         uuid.NewString(),
		ReceivedAt: now,
	}
}

// MarkDeduplicated enforces the invariant from spec.md §3: once
// deduplicated is true, parent_alert_id must be set.
func (a *Alert) MarkDeduplicated(parentIncidentID string) {
	a.Deduplicated = true
	a.ParentAlertID = parentIncidentID
	a.IncidentID = parentIncidentID
}

// Request is the wire-level shape accepted at ingress (spec.md §6): a raw
// payload before Severity/Type have been resolved into the incident enums.
type Request struct {
	ExternalID       string
	Source           string
	Title            string
	Description      string
	Severity         string
	Type             string
	Labels           map[string]string
	AffectedServices []string
	RunbookURL       string
	Annotations      map[string]string
}

// AckStatus is the acknowledgement status returned to the ingress caller.
type AckStatus string

const (
	AckAccepted    AckStatus = "Accepted"
	AckDuplicate   AckStatus = "Duplicate"
	AckRateLimited AckStatus = "RateLimited"
	AckRejected    AckStatus = "Rejected"
)

// Ack is the acknowledgement returned by the IncidentProcessor (spec.md §4.6).
type Ack struct {
	AlertID     string
	IncidentID  string
	Status      AckStatus
	Message     string
	ReceivedAt  time.Time
}

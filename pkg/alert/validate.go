package alert

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sentrygrid/incidentops/pkg/incident"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

var validSeverities = map[string]bool{"P0": true, "P1": true, "P2": true, "P3": true, "P4": true}

var structValidator = validator.New()

// ValidateRequest checks the raw ingress payload against spec.md §6: source
// non-empty, title 1..500, severity in {P0..P4}, type tag present.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.Source) == "" {
		return apperrors.NewValidationError("source is required")
	}
	if l := len(req.Title); l < 1 || l > 500 {
		return apperrors.NewValidationError("title must be between 1 and 500 characters")
	}
	if !validSeverities[req.Severity] {
		return apperrors.Newf(apperrors.ErrorTypeValidation, "severity must be one of P0..P4, got %q", req.Severity)
	}
	if strings.TrimSpace(req.Type) == "" {
		return apperrors.NewValidationError("type is required")
	}
	return nil
}

// ValidateAlert validates a fully-constructed Alert using struct tags for
// the mechanical field checks (via validator/v10, the library the teacher
// depends on) plus the cross-field invariant from spec.md §3 that no struct
// tag can express: deduplicated implies parent_alert_id is set.
func ValidateAlert(a *Alert) error {
	if err := structValidator.Struct(a); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "alert failed field validation")
	}
	if a.Deduplicated && a.ParentAlertID == "" {
		return apperrors.NewValidationError("deduplicated alert must carry a parent_alert_id")
	}
	if _, ok := incident.ParseSeverity(a.Severity.String()); !ok {
		return apperrors.NewValidationError("alert severity is not a recognized value")
	}
	return nil
}

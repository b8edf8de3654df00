// Package store defines the incident persistence capability set (spec.md
// §4.1, Design Notes §9) and its backend implementations. Every operation
// may fail with a *errors.AppError of type ErrorTypeBackendUnavailable; the
// caller (pkg/processor) is responsible for wrapping calls in the
// "storage.primary" circuit breaker.
package store

import (
	"context"
	"sort"

	"github.com/sentrygrid/incidentops/pkg/incident"
)

// Filter selects incidents for List/Count (spec.md §4.1).
type Filter struct {
	States           []incident.State
	Severities       []incident.Severity
	SourceSubstrings []string
	ActiveOnly       bool
}

func (f Filter) matches(inc *incident.Incident) bool {
	if f.ActiveOnly && !inc.State.IsActive() {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if inc.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if inc.Severity == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.SourceSubstrings) > 0 {
		found := false
		for _, sub := range f.SourceSubstrings {
			if containsFold(inc.Source, sub) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	if len(n) == 0 {
		return true
	}
	toLower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	h, n = toLower(h), toLower(n)
	for i := 0; i+len(n) <= len(h); i++ {
		if string(h[i:i+len(n)]) == string(n) {
			return true
		}
	}
	return false
}

// MaxPageSize is the hard cap from spec.md §4.1.
const MaxPageSize = 100

// Page requests an offset/size-bounded slice of List results.
type Page struct {
	Offset int
	Size   int
}

func (p Page) normalize() Page {
	if p.Size <= 0 || p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Backend is the storage capability set every implementation must satisfy.
type Backend interface {
	Save(ctx context.Context, inc *incident.Incident) error
	Get(ctx context.Context, id string) (*incident.Incident, error)
	Update(ctx context.Context, inc *incident.Incident) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter, page Page) ([]*incident.Incident, error)
	Count(ctx context.Context, filter Filter) (int, error)
	FindByFingerprint(ctx context.Context, fp incident.Fingerprint) ([]*incident.Incident, error)
}

// sortByCreatedDesc orders incidents by creation time descending, with
// identifier lexical order as the deterministic tie-break (spec.md §4.3
// rule 3, reused here for List's documented ordering).
func sortByCreatedDesc(incidents []*incident.Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		if incidents[i].CreatedAt.Equal(incidents[j].CreatedAt) {
			return incidents[i].ID < incidents[j].ID
		}
		return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
	})
}

// clampPage applies the offset/size window after filtering+sorting.
func clampPage(incidents []*incident.Incident, page Page) []*incident.Incident {
	page = page.normalize()
	if page.Offset >= len(incidents) {
		return []*incident.Incident{}
	}
	end := page.Offset + page.Size
	if end > len(incidents) {
		end = len(incidents)
	}
	return incidents[page.Offset:end]
}

// Package correlator groups related incidents using the five OR-combined
// strategies from spec.md §4.4: temporal proximity, shared source, label
// pattern similarity, shared fingerprint, and shared affected resources.
//
// Open question resolution (DESIGN.md): correlation groups are monotonic
// and never re-open once closed — a closed group is a dead end, and a
// later incident that would otherwise match one of its members instead
// starts (or joins) a fresh group.
package correlator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentrygrid/incidentops/pkg/incident"
)

// Strategy weights (DESIGN.md open-question resolution: fixed additive
// weights, not a pluggable precedence order). They sum to 1.0 so a
// fingerprint-plus-topology match alone cannot exceed a full score.
const (
	weightTemporal    = 0.15
	weightSource      = 0.15
	weightPattern     = 0.25
	weightFingerprint = 0.30
	weightTopology    = 0.15
)

// Config tunes the strategies. Threshold is the minimum additive score
// for two incidents to be considered correlated.
type Config struct {
	TemporalWindow   time.Duration
	PatternThreshold float64
	Threshold        float64
}

func DefaultConfig() Config {
	return Config{
		TemporalWindow:   15 * time.Minute,
		PatternThreshold: 0.5,
		Threshold:        0.4,
	}
}

// Group is a correlation-group record (spec.md §4.4).
type Group struct {
	ID         string
	MemberIDs  []string
	Score      float64
	Closed     bool
	CreatedAt  time.Time
}

// Result is returned from Correlate: GroupID is empty when no strategy
// produced a score above the configured threshold.
type Result struct {
	GroupID string
	Score   float64
	Created bool // true when candidate caused a brand-new group rather than joining one
}

// Correlator holds the process-wide group registry. It is advisory state:
// losing it on restart only means previously-grouped incidents start
// fresh groups, which spec.md §4.4 explicitly tolerates ("correlation is
// advisory").
type Correlator struct {
	mu            sync.Mutex
	groups        map[string]*Group
	incidentGroup map[string]string
}

func New() *Correlator {
	return &Correlator{
		groups:        make(map[string]*Group),
		incidentGroup: make(map[string]string),
	}
}

// Correlate scores candidate against every incident in pool and, if the
// best match clears cfg.Threshold, joins candidate to that incident's
// group (creating one if needed). pool should exclude candidate itself.
func (c *Correlator) Correlate(candidate *incident.Incident, pool []*incident.Incident, cfg Config) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *incident.Incident
	var bestScore float64
	for _, other := range pool {
		if other.ID == candidate.ID {
			continue
		}
		if groupID, ok := c.incidentGroup[other.ID]; ok {
			if g := c.groups[groupID]; g != nil && g.Closed {
				continue
			}
		}
		s := score(candidate, other, cfg)
		if s > bestScore {
			bestScore = s
			best = other
		}
	}

	if best == nil || bestScore < cfg.Threshold {
		return Result{Score: bestScore}
	}

	groupID, existed := c.incidentGroup[best.ID]
	if !existed {
		groupID = uuid.NewString()
		c.groups[groupID] = &Group{
			ID:        groupID,
			MemberIDs: []string{best.ID},
			CreatedAt: time.Now(),
		}
		c.incidentGroup[best.ID] = groupID
	}

	group := c.groups[groupID]
	group.MemberIDs = appendUniqueMember(group.MemberIDs, candidate.ID)
	if bestScore > group.Score {
		group.Score = bestScore
	}
	c.incidentGroup[candidate.ID] = groupID

	return Result{GroupID: groupID, Score: bestScore, Created: !existed}
}

// CloseGroup marks a group closed. Per the monotonic-group resolution, a
// closed group can never accept new members again.
func (c *Correlator) CloseGroup(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[groupID]; ok {
		g.Closed = true
	}
}

func (c *Correlator) Group(groupID string) (*Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	return g, ok
}

func appendUniqueMember(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func score(a, b *incident.Incident, cfg Config) float64 {
	var total float64
	if temporalMatch(a, b, cfg.TemporalWindow) {
		total += weightTemporal
	}
	if a.Source != "" && a.Source == b.Source {
		total += weightSource
	}
	if jaccard(a.Labels, b.Labels) >= cfg.PatternThreshold {
		total += weightPattern
	}
	if a.HasFingerprint && b.HasFingerprint && a.Fingerprint == b.Fingerprint {
		total += weightFingerprint
	}
	if sharedTopology(a.AffectedResources, b.AffectedResources) {
		total += weightTopology
	}
	if total > 1 {
		total = 1
	}
	return total
}

func temporalMatch(a, b *incident.Incident, window time.Duration) bool {
	diff := a.CreatedAt.Sub(b.CreatedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

// jaccard computes |A ∩ B| / |A ∪ B| over label key=value pairs.
func jaccard(a, b map[string]string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for k, v := range a {
		setA[k+"="+v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for k, v := range b {
		setB[k+"="+v] = struct{}{}
	}

	union := make(map[string]struct{}, len(setA)+len(setB))
	intersection := 0
	for p := range setA {
		union[p] = struct{}{}
		if _, ok := setB[p]; ok {
			intersection++
		}
	}
	for p := range setB {
		union[p] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func sharedTopology(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, r := range a {
		set[r] = struct{}{}
	}
	for _, r := range b {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

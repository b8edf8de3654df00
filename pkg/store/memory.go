package store

import (
	"context"
	"sync"

	"github.com/sentrygrid/incidentops/pkg/incident"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

// Memory is the reference Backend implementation: a mutex-guarded map plus
// a fingerprint index. Its tests are the only Backend tests in this
// module; the embedded-kv and redis backends have none of their own.
type Memory struct {
	mu          sync.RWMutex
	incidents   map[string]*incident.Incident
	fingerprint map[string][]string // hex fingerprint -> incident IDs
}

func NewMemory() *Memory {
	return &Memory{
		incidents:   make(map[string]*incident.Incident),
		fingerprint: make(map[string][]string),
	}
}

func (m *Memory) Save(_ context.Context, inc *incident.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.incidents[inc.ID] = inc.Clone()
	if inc.HasFingerprint {
		hex := inc.Fingerprint.Hex()
		m.fingerprint[hex] = appendUnique(m.fingerprint[hex], inc.ID)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("incident")
	}
	return inc.Clone(), nil
}

func (m *Memory) Update(_ context.Context, inc *incident.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.incidents[inc.ID]
	if !ok {
		return apperrors.NewNotFoundError("incident")
	}
	if len(inc.Timeline) < len(existing.Timeline) {
		return apperrors.NewValidationError("update would shrink the append-only timeline")
	}

	if inc.HasFingerprint {
		hex := inc.Fingerprint.Hex()
		m.fingerprint[hex] = appendUnique(m.fingerprint[hex], inc.ID)
	}
	m.incidents[inc.ID] = inc.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return apperrors.NewNotFoundError("incident")
	}
	delete(m.incidents, id)
	if inc.HasFingerprint {
		hex := inc.Fingerprint.Hex()
		m.fingerprint[hex] = removeID(m.fingerprint[hex], id)
	}
	return nil
}

func (m *Memory) List(_ context.Context, filter Filter, page Page) ([]*incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*incident.Incident
	for _, inc := range m.incidents {
		if filter.matches(inc) {
			matched = append(matched, inc.Clone())
		}
	}
	sortByCreatedDesc(matched)
	return clampPage(matched, page), nil
}

func (m *Memory) Count(_ context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, inc := range m.incidents {
		if filter.matches(inc) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) FindByFingerprint(_ context.Context, fp incident.Fingerprint) ([]*incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.fingerprint[fp.Hex()]
	out := make([]*incident.Incident, 0, len(ids))
	for _, id := range ids {
		if inc, ok := m.incidents[id]; ok {
			out = append(out, inc.Clone())
		}
	}
	return out, nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

package escalation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape described in SPEC_FULL.md §4.7:
// {policies: [{name, levels: [{delay, targets}], repeat: {max, enabled}}]}.
type policyFile struct {
	Policies []struct {
		Name   string `yaml:"name"`
		Levels []struct {
			Delay   string   `yaml:"delay"`
			Targets []string `yaml:"targets"`
		} `yaml:"levels"`
		Repeat struct {
			Max     int  `yaml:"max"`
			Enabled bool `yaml:"enabled"`
		} `yaml:"repeat"`
	} `yaml:"policies"`
}

// LoadPolicies reads escalation policies from a YAML file at path, keyed by
// their Ref (the "name" field). The engine only cares about delay and
// targets per level; notification delivery itself is the out-of-scope
// NotificationTarget collaborator.
func LoadPolicies(path string) (map[string]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escalation policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse escalation policy file: %w", err)
	}

	out := make(map[string]Policy, len(pf.Policies))
	for _, p := range pf.Policies {
		policy := Policy{
			Ref:           p.Name,
			RepeatEnabled: p.Repeat.Enabled,
			MaxRepeats:    p.Repeat.Max,
		}
		for _, lvl := range p.Levels {
			delay, err := time.ParseDuration(lvl.Delay)
			if err != nil {
				return nil, fmt.Errorf("policy %q: invalid delay %q: %w", p.Name, lvl.Delay, err)
			}
			policy.Levels = append(policy.Levels, Level{Targets: lvl.Targets, Delay: delay})
		}
		out[p.Name] = policy
	}
	return out, nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"controlroom/internal/classify"
	"controlroom/internal/snapshot"
)

// SuiteProjects are the producers known when no policy file names any.
var SuiteProjects = []string{
	"anomaly-radar-control",
	"decision-intelligence-live",
	"executive-report-factory",
	"ops-cell-lite",
}

// Policy is the operator-tuned part of the configuration.
type Policy struct {
	KnownProjects []string
	AssumeUTC     bool
	StatusAliases map[string]snapshot.Status
	Staleness     StalenessPolicy
	Thresholds    classify.Policy
}

type StalenessPolicy struct {
	Default  time.Duration
	Projects map[string]time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		KnownProjects: append([]string(nil), SuiteProjects...),
		StatusAliases: map[string]snapshot.Status{},
		Staleness:     StalenessPolicy{Projects: map[string]time.Duration{}},
		Thresholds:    classify.Policy{Global: classify.Thresholds{}, Projects: map[string]classify.Thresholds{}},
	}
}

type policyFile struct {
	KnownProjects []string          `yaml:"known_projects"`
	AssumeUTC     bool              `yaml:"assume_utc"`
	StatusAliases map[string]string `yaml:"status_aliases"`
	Staleness     struct {
		Default  string            `yaml:"default"`
		Projects map[string]string `yaml:"projects"`
	} `yaml:"staleness"`
	Thresholds classify.Thresholds `yaml:"thresholds"`
	Projects   map[string]struct {
		Staleness  string              `yaml:"staleness"`
		Thresholds classify.Thresholds `yaml:"thresholds"`
	} `yaml:"projects"`
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	p, err := ParsePolicy(raw)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes and validates a YAML policy. Unknown keys are rejected
// so a typo cannot silently disable a threshold.
func ParsePolicy(raw []byte) (Policy, error) {
	var f policyFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("decode yaml: %w", err)
	}

	p := DefaultPolicy()
	if f.KnownProjects != nil {
		p.KnownProjects = dedupe(f.KnownProjects)
	}
	p.AssumeUTC = f.AssumeUTC

	for word, target := range f.StatusAliases {
		st, ok := snapshot.ParseStatus(target)
		if !ok {
			return Policy{}, fmt.Errorf("status alias %q: unknown status %q", word, target)
		}
		p.StatusAliases[strings.ToLower(strings.TrimSpace(word))] = st
	}

	if f.Staleness.Default != "" {
		d, err := positiveDuration(f.Staleness.Default)
		if err != nil {
			return Policy{}, fmt.Errorf("staleness.default: %w", err)
		}
		p.Staleness.Default = d
	}
	for project, raw := range f.Staleness.Projects {
		d, err := positiveDuration(raw)
		if err != nil {
			return Policy{}, fmt.Errorf("staleness.projects.%s: %w", project, err)
		}
		p.Staleness.Projects[project] = d
	}

	if f.Thresholds != nil {
		p.Thresholds.Global = f.Thresholds
	}
	for project, override := range f.Projects {
		if override.Staleness != "" {
			d, err := positiveDuration(override.Staleness)
			if err != nil {
				return Policy{}, fmt.Errorf("projects.%s.staleness: %w", project, err)
			}
			p.Staleness.Projects[project] = d
		}
		if len(override.Thresholds) > 0 {
			p.Thresholds.Projects[project] = override.Thresholds
		}
	}

	if err := p.Thresholds.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func positiveDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
